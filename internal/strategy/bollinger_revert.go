package strategy

import (
	"math"

	"github.com/goccy/go-json"

	"bandbot/internal/indicators"
	"bandbot/internal/market"
)

func init() {
	Register("bollinger_revert", func(params json.RawMessage) (Strategy, error) {
		p := BollingerRevertParams{Period: 20, Mult: 2, ATRPeriod: 14}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return &BollingerRevert{params: p}, nil
	})
}

// BollingerRevertParams tunes the band width and the ATR used for context.
type BollingerRevertParams struct {
	Period    int     `json:"period" validate:"gt=1"`
	Mult      float64 `json:"mult" validate:"gt=0"`
	ATRPeriod int     `json:"atr_period" validate:"gt=0"`
}

// BollingerRevert fades band breaks: long on a close below the lower band,
// short on a close above the upper band, flat once price reverts to the
// middle band. ATR at entry is recorded for the event log.
type BollingerRevert struct {
	params BollingerRevertParams
	side   SignalKind
}

func (s *BollingerRevert) Name() string { return "bollinger_revert" }

func (s *BollingerRevert) Warmup() int {
	w := s.params.Period + 1
	if p := s.params.ATRPeriod + 1; p > w {
		w = p
	}
	return w
}

func (s *BollingerRevert) Analyze(snap *Snapshot) ([]Signal, error) {
	candles := snap.Candles
	closes := market.Closes(candles)
	middle, upper, lower, err := indicators.Bollinger(closes, s.params.Period, s.params.Mult)
	if err != nil {
		return nil, err
	}

	i := len(closes) - 1
	if math.IsNaN(middle[i]) {
		return []Signal{Hold("bollinger warm-up")}, nil
	}
	price := closes[i]
	ind := map[string]float64{"bb_upper": upper[i], "bb_middle": middle[i], "bb_lower": lower[i]}

	// Revert to flat at the middle band.
	if s.side == SignalLong && price >= middle[i] {
		s.side = ""
		return []Signal{{Kind: SignalCloseLong, Strength: 1, Reason: "price reverted to middle band", Indicators: ind}}, nil
	}
	if s.side == SignalShort && price <= middle[i] {
		s.side = ""
		return []Signal{{Kind: SignalCloseShort, Strength: 1, Reason: "price reverted to middle band", Indicators: ind}}, nil
	}
	if s.side != "" {
		return []Signal{Hold("holding for reversion")}, nil
	}

	switch {
	case price < lower[i]:
		if err := s.attachATR(candles, ind); err != nil {
			return nil, err
		}
		s.side = SignalLong
		return []Signal{{Kind: SignalLong, Strength: 1, Confidence: bandConfidence(price, lower[i], middle[i]), Reason: "close below lower band", Indicators: ind}}, nil
	case price > upper[i]:
		if err := s.attachATR(candles, ind); err != nil {
			return nil, err
		}
		s.side = SignalShort
		return []Signal{{Kind: SignalShort, Strength: 1, Confidence: bandConfidence(price, upper[i], middle[i]), Reason: "close above upper band", Indicators: ind}}, nil
	}
	return []Signal{Hold("inside bands")}, nil
}

func (s *BollingerRevert) attachATR(candles []market.Candle, ind map[string]float64) error {
	high, low := make([]float64, len(candles)), make([]float64, len(candles))
	for j, c := range candles {
		high[j], low[j] = c.High, c.Low
	}
	atr, err := indicators.ATR(high, low, market.Closes(candles), s.params.ATRPeriod)
	if err != nil {
		return err
	}
	if v := atr[len(atr)-1]; !math.IsNaN(v) {
		ind["atr"] = v
	}
	return nil
}

// bandConfidence scales with how far past the band the close is, relative to
// the band half-width, capped at 1.
func bandConfidence(price, band, middle float64) float64 {
	halfWidth := math.Abs(middle - band)
	if halfWidth == 0 {
		return 0
	}
	c := math.Abs(price-band) / halfWidth
	if c > 1 {
		c = 1
	}
	return c
}
