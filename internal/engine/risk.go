package engine

import "fmt"

// RiskConfig is the hard risk floor applied independently of strategy logic.
// Zero values disable the corresponding rule.
type RiskConfig struct {
	StopLossPct   float64 `json:"stop_loss_pct" validate:"gte=0"`
	TakeProfitPct float64 `json:"take_profit_pct" validate:"gte=0"`
	// TrailingStopPct trails the best favorable price seen since entry.
	TrailingStopPct float64 `json:"trailing_stop_pct" validate:"gte=0"`
	// Trailing take-profit: arms once net-of-fee profit exceeds ArmPct, then
	// fires when price retraces past the moving window average by FallbackPct.
	TrailingTPArmPct      float64 `json:"trailing_tp_arm_pct" validate:"gte=0"`
	TrailingTPWindow      int     `json:"trailing_tp_window" validate:"gte=0"`
	TrailingTPFallbackPct float64 `json:"trailing_tp_fallback_pct" validate:"gte=0"`
}

// StopEvent names the side to liquidate and why.
type StopEvent struct {
	Side   Side
	Reason string
}

type sideState struct {
	bestPrice float64 // most favorable price since entry
	armed     bool
}

// RiskManager evaluates stop rules against open positions and keeps the
// running trade counters used for reporting and adaptive thresholds. Stops
// are checked before strategy signals on every candle.
type RiskManager struct {
	cfg     RiskConfig
	feeRate float64

	state  map[Side]*sideState
	window []float64

	Wins              int
	Losses            int
	ConsecutiveLosses int
	PeakEquity        float64
	CurrentDrawdown   float64

	winSum, lossSum float64
}

func NewRiskManager(cfg RiskConfig, feeRate float64) *RiskManager {
	if cfg.TrailingTPWindow == 0 {
		cfg.TrailingTPWindow = 5
	}
	return &RiskManager{
		cfg:     cfg,
		feeRate: feeRate,
		state:   map[Side]*sideState{},
	}
}

// CheckStops evaluates all configured rules for both sides at the current
// price. At most one event per side is returned, long first.
func (r *RiskManager) CheckStops(ledger *Ledger, price float64) []StopEvent {
	r.pushPrice(price)

	var events []StopEvent
	for _, side := range ledger.OpenSides() {
		pos := ledger.Position(side)
		if ev := r.checkSide(pos, price); ev != nil {
			events = append(events, *ev)
		}
	}
	return events
}

func (r *RiskManager) checkSide(pos *Position, price float64) *StopEvent {
	if pos.EntryPrice <= 0 {
		return nil
	}
	st := r.state[pos.Side]
	if st == nil {
		st = &sideState{bestPrice: pos.EntryPrice}
		r.state[pos.Side] = st
	}

	dir := pos.direction()
	movePct := dir * (price - pos.EntryPrice) / pos.EntryPrice

	if r.cfg.StopLossPct > 0 && movePct <= -r.cfg.StopLossPct {
		return &StopEvent{Side: pos.Side, Reason: fmt.Sprintf("stop loss: %.4f%% adverse", movePct*100)}
	}
	if r.cfg.TakeProfitPct > 0 && movePct >= r.cfg.TakeProfitPct {
		return &StopEvent{Side: pos.Side, Reason: fmt.Sprintf("take profit: %.4f%% favorable", movePct*100)}
	}

	// Track the most favorable price since entry.
	if dir*(price-st.bestPrice) > 0 {
		st.bestPrice = price
	}

	if r.cfg.TrailingStopPct > 0 {
		retrace := dir * (st.bestPrice - price) / st.bestPrice
		if retrace >= r.cfg.TrailingStopPct {
			return &StopEvent{Side: pos.Side, Reason: "trailing stop"}
		}
	}

	if r.cfg.TrailingTPArmPct > 0 {
		netPct := movePct - 2*r.feeRate
		if !st.armed && netPct >= r.cfg.TrailingTPArmPct {
			st.armed = true
		}
		if st.armed && len(r.window) == r.cfg.TrailingTPWindow {
			avg := r.windowAvg()
			if dir*(avg-price)/avg >= r.cfg.TrailingTPFallbackPct {
				return &StopEvent{Side: pos.Side, Reason: "trailing take profit"}
			}
		}
	}
	return nil
}

// ResetSide clears trailing state after the side goes flat.
func (r *RiskManager) ResetSide(side Side) {
	delete(r.state, side)
}

// RecordTradeResult updates win/loss counters from a closed trade's pnl.
// Break-even closes touch neither counter.
func (r *RiskManager) RecordTradeResult(pnl float64) {
	switch {
	case pnl > 0:
		r.Wins++
		r.winSum += pnl
		r.ConsecutiveLosses = 0
	case pnl < 0:
		r.Losses++
		r.lossSum += -pnl
		r.ConsecutiveLosses++
	}
}

// KellyFraction estimates the Kelly criterion f = W - (1-W)/R from the
// running counters, where W is the win rate and R the avg-win/avg-loss
// ratio. Returns 0 until both a win and a loss have been recorded.
func (r *RiskManager) KellyFraction() float64 {
	if r.Wins == 0 || r.Losses == 0 {
		return 0
	}
	w := float64(r.Wins) / float64(r.Wins+r.Losses)
	avgWin := r.winSum / float64(r.Wins)
	avgLoss := r.lossSum / float64(r.Losses)
	if avgLoss == 0 {
		return 0
	}
	ratio := avgWin / avgLoss
	return w - (1-w)/ratio
}

// ObserveEquity maintains the running peak and drawdown.
func (r *RiskManager) ObserveEquity(equity float64) {
	if equity > r.PeakEquity {
		r.PeakEquity = equity
	}
	if r.PeakEquity > 0 {
		r.CurrentDrawdown = (r.PeakEquity - equity) / r.PeakEquity
	}
}

func (r *RiskManager) pushPrice(price float64) {
	r.window = append(r.window, price)
	if len(r.window) > r.cfg.TrailingTPWindow {
		r.window = r.window[1:]
	}
}

func (r *RiskManager) windowAvg() float64 {
	sum := 0.0
	for _, p := range r.window {
		sum += p
	}
	return sum / float64(len(r.window))
}
