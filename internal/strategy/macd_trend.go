package strategy

import (
	"math"

	"github.com/goccy/go-json"

	"bandbot/internal/indicators"
	"bandbot/internal/market"
)

func init() {
	Register("macd_trend", func(params json.RawMessage) (Strategy, error) {
		p := MACDTrendParams{Fast: 12, Slow: 26, Signal: 9}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return &MACDTrend{params: p}, nil
	})
}

// MACDTrendParams tunes the MACD periods and the optional entry filters.
// MinADX > 0 requires a minimum trend strength before entering; RSIPeriod > 0
// blocks longs above 70 and shorts below 30 on the filter's RSI.
type MACDTrendParams struct {
	Fast      int     `json:"fast" validate:"gt=0"`
	Slow      int     `json:"slow" validate:"gt=0,gtfield=Fast"`
	Signal    int     `json:"signal" validate:"gt=0"`
	MinADX    float64 `json:"min_adx" validate:"gte=0"`
	ADXPeriod int     `json:"adx_period" validate:"gte=0"`
	RSIPeriod int     `json:"rsi_period" validate:"gte=0"`
}

// MACDTrend follows histogram sign flips: long on a flip above zero, short
// on a flip below.
type MACDTrend struct {
	params MACDTrendParams
	side   SignalKind
}

func (s *MACDTrend) Name() string { return "macd_trend" }

func (s *MACDTrend) Warmup() int {
	w := s.params.Slow + s.params.Signal + 2
	if p := 2*s.params.ADXPeriod + 1; s.params.MinADX > 0 && p > w {
		w = p
	}
	if p := s.params.RSIPeriod + 1; p > w {
		w = p
	}
	return w
}

func (s *MACDTrend) Analyze(snap *Snapshot) ([]Signal, error) {
	closes := market.Closes(snap.Candles)
	macd, signal, hist, err := indicators.MACD(closes, s.params.Fast, s.params.Slow, s.params.Signal)
	if err != nil {
		return nil, err
	}

	i := len(closes) - 1
	if math.IsNaN(hist[i]) || math.IsNaN(hist[i-1]) {
		return []Signal{Hold("macd warm-up")}, nil
	}
	ind := map[string]float64{"macd": macd[i], "macd_signal": signal[i], "macd_hist": hist[i]}

	flippedUp := hist[i-1] <= 0 && hist[i] > 0
	flippedDown := hist[i-1] >= 0 && hist[i] < 0

	if flippedUp || flippedDown {
		blocked, err := s.entryBlocked(snap, flippedUp, ind)
		if err != nil {
			return nil, err
		}
		if blocked != "" {
			// The filter vetoes the new entry only; a flip against held
			// exposure still closes it.
			if flippedUp && s.side == SignalShort {
				s.side = ""
				return []Signal{{Kind: SignalCloseShort, Strength: 1, Reason: "macd histogram flipped positive, entry vetoed: " + blocked, Indicators: ind}}, nil
			}
			if flippedDown && s.side == SignalLong {
				s.side = ""
				return []Signal{{Kind: SignalCloseLong, Strength: 1, Reason: "macd histogram flipped negative, entry vetoed: " + blocked, Indicators: ind}}, nil
			}
			return []Signal{Hold(blocked)}, nil
		}
	}

	switch {
	case flippedUp && s.side != SignalLong:
		var legs []Signal
		if s.side == SignalShort {
			legs = append(legs, Signal{Kind: SignalCloseShort, Strength: 1, Reason: "macd histogram flipped positive", Indicators: ind})
		}
		legs = append(legs, Signal{Kind: SignalLong, Strength: 1, Reason: "macd histogram flipped positive", Indicators: ind})
		s.side = SignalLong
		return legs, nil
	case flippedDown && s.side != SignalShort:
		var legs []Signal
		if s.side == SignalLong {
			legs = append(legs, Signal{Kind: SignalCloseLong, Strength: 1, Reason: "macd histogram flipped negative", Indicators: ind})
		}
		legs = append(legs, Signal{Kind: SignalShort, Strength: 1, Reason: "macd histogram flipped negative", Indicators: ind})
		s.side = SignalShort
		return legs, nil
	}
	return []Signal{Hold("no histogram flip")}, nil
}

// entryBlocked applies the ADX and RSI filters to a would-be entry. It
// returns a hold reason when the filter vetoes, or "" to let the flip
// through. Filter values are added to ind for the event log either way.
func (s *MACDTrend) entryBlocked(snap *Snapshot, long bool, ind map[string]float64) (string, error) {
	i := len(snap.Candles) - 1

	if s.params.MinADX > 0 {
		period := s.params.ADXPeriod
		if period == 0 {
			period = 14
		}
		high, low := make([]float64, len(snap.Candles)), make([]float64, len(snap.Candles))
		for j, c := range snap.Candles {
			high[j], low[j] = c.High, c.Low
		}
		adx, err := indicators.ADX(high, low, market.Closes(snap.Candles), period)
		if err != nil {
			return "", err
		}
		if math.IsNaN(adx[i]) {
			return "adx warm-up", nil
		}
		ind["adx"] = adx[i]
		if adx[i] < s.params.MinADX {
			return "adx below threshold", nil
		}
	}

	if s.params.RSIPeriod > 0 {
		rsi, err := indicators.RSI(market.Closes(snap.Candles), s.params.RSIPeriod)
		if err != nil {
			return "", err
		}
		if math.IsNaN(rsi[i]) {
			return "rsi warm-up", nil
		}
		ind["rsi"] = rsi[i]
		if long && rsi[i] > 70 {
			return "rsi overbought", nil
		}
		if !long && rsi[i] < 30 {
			return "rsi oversold", nil
		}
	}
	return "", nil
}
