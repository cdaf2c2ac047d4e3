package strategy

import (
	"github.com/goccy/go-json"

	"bandbot/internal/indicators"
	"bandbot/internal/market"
)

func init() {
	Register("ema_cross", func(params json.RawMessage) (Strategy, error) {
		p := EMACrossParams{Fast: 12, Slow: 26}
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return &EMACross{params: p}, nil
	})
}

// EMACrossParams tunes the fast/slow crossover.
type EMACrossParams struct {
	Fast int `json:"fast" validate:"gt=0"`
	Slow int `json:"slow" validate:"gt=0,gtfield=Fast"`
}

// EMACross goes long when the fast EMA crosses above the slow EMA and short
// on the opposite cross, closing any exposure on the losing side first.
type EMACross struct {
	params EMACrossParams
	side   SignalKind // current exposure: SignalLong, SignalShort or ""
}

func (s *EMACross) Name() string { return "ema_cross" }

func (s *EMACross) Warmup() int { return s.params.Slow + 2 }

func (s *EMACross) Analyze(snap *Snapshot) ([]Signal, error) {
	closes := market.Closes(snap.Candles)
	fast, err := indicators.EMA(closes, s.params.Fast)
	if err != nil {
		return nil, err
	}
	slow, err := indicators.EMA(closes, s.params.Slow)
	if err != nil {
		return nil, err
	}

	i := len(closes) - 1
	ind := map[string]float64{"ema_fast": fast[i], "ema_slow": slow[i]}

	crossedUp := fast[i-1] <= slow[i-1] && fast[i] > slow[i]
	crossedDown := fast[i-1] >= slow[i-1] && fast[i] < slow[i]

	switch {
	case crossedUp && s.side != SignalLong:
		var legs []Signal
		if s.side == SignalShort {
			legs = append(legs, Signal{Kind: SignalCloseShort, Strength: 1, Confidence: crossConfidence(fast[i], slow[i]), Reason: "ema fast crossed above slow", Indicators: ind})
		}
		legs = append(legs, Signal{Kind: SignalLong, Strength: 1, Confidence: crossConfidence(fast[i], slow[i]), Reason: "ema fast crossed above slow", Indicators: ind})
		s.side = SignalLong
		return legs, nil
	case crossedDown && s.side != SignalShort:
		var legs []Signal
		if s.side == SignalLong {
			legs = append(legs, Signal{Kind: SignalCloseLong, Strength: 1, Confidence: crossConfidence(fast[i], slow[i]), Reason: "ema fast crossed below slow", Indicators: ind})
		}
		legs = append(legs, Signal{Kind: SignalShort, Strength: 1, Confidence: crossConfidence(fast[i], slow[i]), Reason: "ema fast crossed below slow", Indicators: ind})
		s.side = SignalShort
		return legs, nil
	}
	return []Signal{Hold("no crossover")}, nil
}

// crossConfidence scales with the relative EMA separation, capped at 1.
func crossConfidence(fast, slow float64) float64 {
	if slow == 0 {
		return 0
	}
	sep := (fast - slow) / slow
	if sep < 0 {
		sep = -sep
	}
	c := sep * 100
	if c > 1 {
		c = 1
	}
	return c
}
