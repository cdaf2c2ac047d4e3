package strategy

import (
	"fmt"
	"math"

	"github.com/goccy/go-json"
)

func init() {
	Register("band_limited_hedging", func(params json.RawMessage) (Strategy, error) {
		p := DefaultBandHedgeParams()
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
		return NewBandHedge(p), nil
	})
}

// HedgeMode is the state of the band-limited hedging machine.
type HedgeMode string

const (
	ModeActive HedgeMode = "active"
	ModePause  HedgeMode = "pause"
	ModeExit   HedgeMode = "exit"
)

// BandHedgeParams configures the band-limited hedging strategy. All
// thresholds are relative (fractions), not absolute prices.
type BandHedgeParams struct {
	// MES is the minimum relative price deviation from the reference price
	// required to trigger a rebalance.
	MES float64 `json:"mes" validate:"gt=0"`
	// Alpha is the fraction of realized rebalance profit migrated into
	// reducing the losing side.
	Alpha float64 `json:"alpha" validate:"gt=0,lt=1"`
	// EMax caps capital at risk (adverse excursion of open exposure, in
	// quote currency); breaching it starts the staged exit.
	EMax float64 `json:"e_max" validate:"gt=0"`
	// Eta is the per-step de-risking fraction in exit mode.
	Eta float64 `json:"eta" validate:"gt=0,lt=1"`
	// K and M define the low-volatility exit trigger:
	// sigma_eff^2 < K*MES^2 sustained for M consecutive candles.
	K float64 `json:"k" validate:"gt=0"`
	M int     `json:"m" validate:"gt=0"`
	// Epsilon is the exit-completion tolerance on total quantity.
	Epsilon float64 `json:"epsilon" validate:"gt=0"`
	// Lambda is the EWMA decay for the realized-volatility proxy.
	Lambda float64 `json:"lambda" validate:"gt=0,lt=1"`
	// StructureFrac sizes the initial symmetric structure: notional per side
	// as a fraction of current equity.
	StructureFrac float64 `json:"structure_frac" validate:"gt=0,lte=1"`
	// MinTradeQty / MinTradeNotional discard micro trades; dust sides are
	// zeroed instead of carried.
	MinTradeQty      float64 `json:"min_trade_qty" validate:"gte=0"`
	MinTradeNotional float64 `json:"min_trade_notional" validate:"gte=0"`
}

// DefaultBandHedgeParams mirrors the documented defaults. MES defaults to
// six times a 0.1% taker fee; EMax must usually be set per session.
func DefaultBandHedgeParams() BandHedgeParams {
	return BandHedgeParams{
		MES:              0.006,
		Alpha:            0.5,
		EMax:             1000,
		Eta:              0.25,
		K:                0.01,
		M:                10,
		Epsilon:          1e-4,
		Lambda:           0.94,
		StructureFrac:    0.25,
		MinTradeQty:      1e-6,
		MinTradeNotional: 1,
	}
}

// BandHedge holds simultaneous long and short exposure, rebalancing only
// when price leaves the band around the reference price, and de-risking in
// staged steps when volatility or capital-at-risk degrades.
type BandHedge struct {
	p BandHedgeParams

	initialized bool
	terminal    bool
	mode        HedgeMode

	pRef   float64
	qL, pL float64 // long quantity / average entry
	qS, pS float64 // short quantity / average entry

	sigma2      float64 // EWMA of d^2
	eT          float64 // current capital at risk
	lowVolRun   int
	rebalanced  bool
	exitInitial float64 // qL+qS when exit began, for diagnostics
}

// NewBandHedge builds the strategy in Active mode with an empty book.
func NewBandHedge(p BandHedgeParams) *BandHedge {
	return &BandHedge{p: p, mode: ModeActive}
}

func (s *BandHedge) Name() string { return "band_limited_hedging" }

func (s *BandHedge) Warmup() int { return 1 }

// Mode exposes the current state for event logging and tests.
func (s *BandHedge) Mode() HedgeMode { return s.mode }

// Book returns the strategy's internal two-sided book.
func (s *BandHedge) Book() (qL, pL, qS, pS, pRef float64) {
	return s.qL, s.pL, s.qS, s.pS, s.pRef
}

func (s *BandHedge) Analyze(snap *Snapshot) ([]Signal, error) {
	price := snap.Last().Close
	if price <= 0 {
		return nil, fmt.Errorf("non-positive price %f", price)
	}
	if s.terminal {
		return []Signal{Hold("exit complete")}, nil
	}

	if !s.initialized {
		return s.openStructure(snap.Equity, price)
	}

	d := math.Abs(price-s.pRef) / s.pRef
	s.sigma2 = s.p.Lambda*s.sigma2 + (1-s.p.Lambda)*d*d
	s.eT = s.qL*math.Max(s.pL-price, 0) + s.qS*math.Max(price-s.pS, 0)

	if s.mode == ModeExit {
		return s.exitStep(price), nil
	}

	// Hard risk trigger: capital at risk breached the cap.
	if s.eT > s.p.EMax {
		s.mode = ModeExit
		s.exitInitial = s.qL + s.qS
		return s.exitStep(price), nil
	}

	// Low-volatility trigger: the opportunity structure has degraded.
	if s.sigma2 < s.p.K*s.p.MES*s.p.MES {
		s.lowVolRun++
		if s.lowVolRun >= s.p.M {
			if s.rebalanced {
				s.mode = ModeExit
				s.exitInitial = s.qL + s.qS
				return s.exitStep(price), nil
			}
			// Exit needs a prior rebalance; freeze instead.
			s.mode = ModePause
		}
	} else {
		s.lowVolRun = 0
		if s.mode == ModePause {
			s.mode = ModeActive
		}
	}

	if s.mode == ModePause {
		return []Signal{Hold("paused: ambiguous volatility")}, nil
	}

	if d < s.p.MES {
		return []Signal{Hold("inside band")}, nil
	}
	return s.rebalance(price, d), nil
}

// openStructure places the initial symmetric long/short structure and sets
// the reference price.
func (s *BandHedge) openStructure(equity, price float64) ([]Signal, error) {
	qty := equity * s.p.StructureFrac / price
	if !s.tradeable(qty, price) {
		return []Signal{Hold("equity too small for structure")}, nil
	}
	s.qL, s.pL = qty, price
	s.qS, s.pS = qty, price
	s.pRef = price
	s.initialized = true

	ind := s.indicators(price, 0)
	return []Signal{
		{Kind: SignalLong, Qty: qty, Strength: 1, Reason: "open symmetric structure", Indicators: ind},
		{Kind: SignalShort, Qty: qty, Strength: 1, Reason: "open symmetric structure", Indicators: ind},
	}, nil
}

// rebalance closes the winning side's gain, migrates alpha of it into
// reducing the losing side, rebuilds the symmetric structure around the new
// reference, and moves the reference price.
func (s *BandHedge) rebalance(price, d float64) []Signal {
	var legs []Signal
	ind := s.indicators(price, d)
	strength := math.Min(d/s.p.MES, 1)

	longWinning := price > s.pRef

	if longWinning {
		gain := s.qL * (price - s.pL)
		legs = append(legs, s.closeLeg(SignalCloseLong, s.qL, price, "rebalance: harvest long gain", ind, strength))
		s.qL = 0
		if gain < 0 {
			gain = 0
		}

		// Cost-basis repair: burn alpha of the gain closing underwater short.
		if s.qS > 0 && price > s.pS {
			lossPerUnit := price - s.pS
			repair := math.Min(s.qS, s.p.Alpha*gain/lossPerUnit)
			if s.tradeable(repair, price) {
				legs = append(legs, s.closeLeg(SignalCloseShort, repair, price, "rebalance: repair short basis", ind, strength))
				s.qS -= repair
			}
		}

		// Rebuild both sides to the symmetric target around the new reference.
		target := s.qS + (1-s.p.Alpha)*gain/(2*price)
		if openLong := target; s.tradeable(openLong, price) {
			legs = append(legs, Signal{Kind: SignalLong, Qty: openLong, Strength: strength, Reason: "rebalance: rebuild structure", Indicators: ind})
			s.qL, s.pL = openLong, price
		}
		if addShort := target - s.qS; s.tradeable(addShort, price) {
			legs = append(legs, Signal{Kind: SignalShort, Qty: addShort, Strength: strength, Reason: "rebalance: rebuild structure", Indicators: ind})
			s.pS = weightedAvg(s.pS, s.qS, price, addShort)
			s.qS += addShort
		}
	} else {
		gain := s.qS * (s.pS - price)
		legs = append(legs, s.closeLeg(SignalCloseShort, s.qS, price, "rebalance: harvest short gain", ind, strength))
		s.qS = 0
		if gain < 0 {
			gain = 0
		}

		if s.qL > 0 && price < s.pL {
			lossPerUnit := s.pL - price
			repair := math.Min(s.qL, s.p.Alpha*gain/lossPerUnit)
			if s.tradeable(repair, price) {
				legs = append(legs, s.closeLeg(SignalCloseLong, repair, price, "rebalance: repair long basis", ind, strength))
				s.qL -= repair
			}
		}

		target := s.qL + (1-s.p.Alpha)*gain/(2*price)
		if openShort := target; s.tradeable(openShort, price) {
			legs = append(legs, Signal{Kind: SignalShort, Qty: openShort, Strength: strength, Reason: "rebalance: rebuild structure", Indicators: ind})
			s.qS, s.pS = openShort, price
		}
		if addLong := target - s.qL; s.tradeable(addLong, price) {
			legs = append(legs, Signal{Kind: SignalLong, Qty: addLong, Strength: strength, Reason: "rebalance: rebuild structure", Indicators: ind})
			s.pL = weightedAvg(s.pL, s.qL, price, addLong)
			s.qL += addLong
		}
	}

	legs = append(legs, s.sweepDust(price, ind)...)
	s.pRef = price
	s.rebalanced = true
	s.lowVolRun = 0
	return legs
}

// exitStep reduces both sides by eta, closing the remainder once total
// quantity falls inside the completion tolerance. No increasing trades.
func (s *BandHedge) exitStep(price float64) []Signal {
	ind := s.indicators(price, 0)

	if s.qL+s.qS < s.p.Epsilon {
		legs := s.closeAll(price, ind, "exit: final sweep")
		s.terminal = true
		if len(legs) == 0 {
			return []Signal{Hold("exit complete")}
		}
		return legs
	}

	var legs []Signal
	if s.qL > 0 {
		step := s.p.Eta * s.qL
		if s.qL-step < s.p.Epsilon || !s.tradeable(step, price) {
			step = s.qL
		}
		legs = append(legs, s.closeLeg(SignalCloseLong, step, price, "exit: staged de-risking", ind, 1))
		s.qL -= step
	}
	if s.qS > 0 {
		step := s.p.Eta * s.qS
		if s.qS-step < s.p.Epsilon || !s.tradeable(step, price) {
			step = s.qS
		}
		legs = append(legs, s.closeLeg(SignalCloseShort, step, price, "exit: staged de-risking", ind, 1))
		s.qS -= step
	}
	if s.qL+s.qS < s.p.Epsilon {
		s.terminal = true
		s.qL, s.qS = 0, 0
	}
	if len(legs) == 0 {
		s.terminal = true
		return []Signal{Hold("exit complete")}
	}
	return legs
}

// closeAll emits full closes for any remaining exposure.
func (s *BandHedge) closeAll(price float64, ind map[string]float64, reason string) []Signal {
	var legs []Signal
	if s.qL > 0 {
		legs = append(legs, s.closeLeg(SignalCloseLong, s.qL, price, reason, ind, 1))
		s.qL = 0
	}
	if s.qS > 0 {
		legs = append(legs, s.closeLeg(SignalCloseShort, s.qS, price, reason, ind, 1))
		s.qS = 0
	}
	return legs
}

// sweepDust zeroes any side left below the minimum tradeable size by closing
// it outright instead of carrying it.
func (s *BandHedge) sweepDust(price float64, ind map[string]float64) []Signal {
	var legs []Signal
	if s.qL > 0 && !s.tradeable(s.qL, price) {
		legs = append(legs, s.closeLeg(SignalCloseLong, s.qL, price, "micro-position cleanup", ind, 0))
		s.qL = 0
	}
	if s.qS > 0 && !s.tradeable(s.qS, price) {
		legs = append(legs, s.closeLeg(SignalCloseShort, s.qS, price, "micro-position cleanup", ind, 0))
		s.qS = 0
	}
	return legs
}

func (s *BandHedge) closeLeg(kind SignalKind, qty, price float64, reason string, ind map[string]float64, strength float64) Signal {
	return Signal{Kind: kind, Qty: qty, Strength: strength, Confidence: 1, Reason: reason, Indicators: ind}
}

func (s *BandHedge) tradeable(qty, price float64) bool {
	return qty >= s.p.MinTradeQty && qty*price >= s.p.MinTradeNotional
}

func (s *BandHedge) indicators(price, d float64) map[string]float64 {
	return map[string]float64{
		"p_ref":     s.pRef,
		"deviation": d,
		"sigma_eff": math.Sqrt(s.sigma2),
		"e_t":       s.eT,
		"q_long":    s.qL,
		"q_short":   s.qS,
	}
}

func weightedAvg(p1, q1, p2, q2 float64) float64 {
	if q1+q2 == 0 {
		return 0
	}
	return (p1*q1 + p2*q2) / (q1 + q2)
}
