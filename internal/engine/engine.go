package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"bandbot/internal/market"
	"bandbot/internal/strategy"
)

// Config drives a single replay. One config, one engine, one session.
type Config struct {
	Symbol         string
	InitialCapital float64
	FeeRate        float64
	SlippageBps    float64
	Leverage       float64
	// PositionFrac sizes fills for signals without an explicit quantity:
	// notional = equity * PositionFrac * Leverage.
	PositionFrac float64
	Risk         RiskConfig
	// ProgressEvery emits a progress callback every N candles (0 disables).
	ProgressEvery int
}

// Trade is one executed fill, append-only. Pnl/PnlPct are set on closes only.
type Trade struct {
	ID           int64
	Timestamp    int64
	Symbol       string
	Side         Side
	Action       Action
	Qty          float64
	Price        float64
	Fee          float64
	Pnl          float64
	PnlPct       float64
	StrategyName string
	Reason       string
	OpenTradeID  int64
}

// Event is the audit-trail record for signals, fills, stops and per-candle
// errors.
type Event struct {
	Timestamp    int64
	Type         string
	Side         Side
	Price        float64
	StrategyName string
	Reason       string
	Confidence   float64
	Indicators   map[string]float64
}

// Event types.
const (
	EventSignal = "signal"
	EventFill   = "fill"
	EventStop   = "stop"
	EventError  = "error"
)

// EquityPoint is one per processed candle.
type EquityPoint struct {
	Timestamp  int64
	Equity     float64
	Balance    float64
	Drawdown   float64
	PeakEquity float64
}

// Hooks stream records out during replay (batched persistence). A hook error
// aborts the run: a persisted-fill/failed-write mismatch must surface, never
// be dropped.
type Hooks struct {
	OnTrade  func(Trade) error
	OnEvent  func(Event) error
	OnEquity func(EquityPoint) error
	Progress func(done, total int)
}

// Result carries the full audit trail of a replay, including partial results
// of aborted or cancelled runs.
type Result struct {
	Trades      []Trade
	Events      []Event
	EquityCurve []EquityPoint
	Metrics     Metrics
	Candles     int
}

// Engine replays one ordered candle series against one strategy,
// single-threaded by design: the strategy must see every candle exactly once
// in order.
type Engine struct {
	cfg    Config
	strat  strategy.Strategy
	ledger *Ledger
	risk   *RiskManager
	log    *zap.Logger
	hooks  Hooks

	nextTradeID int64
	balance     float64
	peakEquity  float64
}

// New validates the config and builds an engine.
func New(cfg Config, strat strategy.Strategy, logger *zap.Logger, hooks Hooks) (*Engine, error) {
	if cfg.InitialCapital <= 0 {
		return nil, configErrf("initial capital must be positive, got %f", cfg.InitialCapital)
	}
	if cfg.FeeRate < 0 {
		return nil, configErrf("fee rate must be non-negative, got %f", cfg.FeeRate)
	}
	if cfg.SlippageBps < 0 {
		return nil, configErrf("slippage must be non-negative, got %f", cfg.SlippageBps)
	}
	if cfg.Leverage <= 0 {
		cfg.Leverage = 1
	}
	if cfg.PositionFrac <= 0 || cfg.PositionFrac > 1 {
		cfg.PositionFrac = 0.95
	}
	if strat == nil {
		return nil, configErrf("strategy is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		strat:      strat,
		ledger:     NewLedger(cfg.Symbol),
		risk:       NewRiskManager(cfg.Risk, cfg.FeeRate),
		log:        logger,
		hooks:      hooks,
		balance:    cfg.InitialCapital,
		peakEquity: cfg.InitialCapital,
	}, nil
}

// Run replays the series. On DataIntegrityError or cancellation the partial
// result is returned alongside the error; callers persist it either way.
func (e *Engine) Run(ctx context.Context, candles []market.Candle) (*Result, error) {
	res := &Result{}
	if len(candles) == 0 {
		return res, configErrf("no candles to replay")
	}

	warmup := e.strat.Warmup()
	for i, candle := range candles {
		if err := ctx.Err(); err != nil {
			e.finish(res)
			return res, ErrCancelled
		}
		if err := candle.Validate(); err != nil {
			e.finish(res)
			return res, &DataIntegrityError{Index: i, Msg: err.Error()}
		}
		if i > 0 && candle.Timestamp <= candles[i-1].Timestamp {
			e.finish(res)
			return res, &DataIntegrityError{Index: i, Msg: "non-monotonic timestamp"}
		}

		// Hard risk floor first: stops run before the strategy may open new
		// exposure on this candle.
		if err := e.applyStops(res, candle); err != nil {
			return res, err
		}

		if i+1 >= warmup {
			if err := e.applyStrategy(res, candles[:i+1], candle); err != nil {
				return res, err
			}
		}

		if err := e.markEquity(res, candle); err != nil {
			return res, err
		}
		res.Candles++

		if e.hooks.Progress != nil && e.cfg.ProgressEvery > 0 && (i+1)%e.cfg.ProgressEvery == 0 {
			e.hooks.Progress(i+1, len(candles))
		}
	}

	// Liquidate remaining exposure at the last close so the session's pnl is
	// fully realized.
	last := candles[len(candles)-1]
	if err := e.closeAll(res, last, "end of data"); err != nil {
		return res, err
	}
	if err := e.markEquity(res, last); err != nil {
		return res, err
	}

	res.Metrics = ComputeMetrics(res.Trades, res.EquityCurve, e.cfg.InitialCapital)
	return res, nil
}

// applyStops liquidates sides flagged by the risk manager.
func (e *Engine) applyStops(res *Result, candle market.Candle) error {
	for _, ev := range e.risk.CheckStops(e.ledger, candle.Close) {
		pos := e.ledger.Position(ev.Side)
		if pos == nil {
			continue
		}
		if err := e.execute(res, candle, ev.Side, ActionClose, pos.Quantity, "risk", ev.Reason); err != nil {
			return err
		}
		if err := e.emitEvent(res, Event{
			Timestamp:    candle.Timestamp,
			Type:         EventStop,
			Side:         ev.Side,
			Price:        candle.Close,
			StrategyName: e.strat.Name(),
			Reason:       ev.Reason,
		}); err != nil {
			return err
		}
	}
	return nil
}

// applyStrategy runs the strategy on the window ending at the current candle
// and executes resulting signals. Per-candle strategy errors degrade to hold.
func (e *Engine) applyStrategy(res *Result, window []market.Candle, candle market.Candle) error {
	snap := &strategy.Snapshot{
		Symbol:  e.cfg.Symbol,
		Candles: window,
		Equity:  e.equity(),
		Capital: e.cfg.InitialCapital,
	}
	signals, err := e.strat.Analyze(snap)
	if err != nil {
		e.log.Warn("strategy error, holding",
			zap.String("strategy", e.strat.Name()),
			zap.Int64("ts", candle.Timestamp),
			zap.Error(err))
		return e.emitEvent(res, Event{
			Timestamp:    candle.Timestamp,
			Type:         EventError,
			Price:        candle.Close,
			StrategyName: e.strat.Name(),
			Reason:       err.Error(),
		})
	}

	for _, sig := range signals {
		if sig.Kind == strategy.SignalHold {
			continue
		}
		if err := e.emitEvent(res, Event{
			Timestamp:    candle.Timestamp,
			Type:         EventSignal,
			Side:         signalSide(sig.Kind),
			Price:        candle.Close,
			StrategyName: e.strat.Name(),
			Reason:       sig.Reason,
			Confidence:   sig.Confidence,
			Indicators:   sig.Indicators,
		}); err != nil {
			return err
		}

		side, action := signalSide(sig.Kind), signalAction(sig.Kind)
		qty := sig.Qty
		if qty == 0 {
			qty = e.sizeFill(side, action, candle.Close)
		}
		if qty <= 0 {
			continue
		}
		if err := e.execute(res, candle, side, action, qty, e.strat.Name(), sig.Reason); err != nil {
			return err
		}
	}
	return nil
}

// execute fills one leg: slippage-adjusted price, fee, ledger update, trade
// record.
func (e *Engine) execute(res *Result, candle market.Candle, side Side, action Action, qty float64, strategyName, reason string) error {
	fill := e.fillPrice(candle.Close, side, action)
	fee := fill * qty * e.cfg.FeeRate

	openTradeID := e.nextTradeID + 1
	entryPrice := 0.0
	if action == ActionClose {
		if pos := e.ledger.Position(side); pos != nil {
			openTradeID = pos.OpenTradeID
			entryPrice = pos.EntryPrice
			if qty > pos.Quantity {
				qty = pos.Quantity
			}
		}
		fee = fill * qty * e.cfg.FeeRate
	}

	realized, err := e.ledger.ApplyFill(side, action, qty, fill, fee, candle.Timestamp, openTradeID)
	if err != nil {
		e.log.Warn("fill rejected",
			zap.String("side", string(side)),
			zap.String("action", string(action)),
			zap.Error(err))
		return nil
	}

	e.nextTradeID++
	trade := Trade{
		ID:           e.nextTradeID,
		Timestamp:    candle.Timestamp,
		Symbol:       e.cfg.Symbol,
		Side:         side,
		Action:       action,
		Qty:          qty,
		Price:        fill,
		Fee:          fee,
		StrategyName: strategyName,
		Reason:       reason,
	}
	if action == ActionClose {
		trade.OpenTradeID = openTradeID
		trade.Pnl = realized
		trade.PnlPct = pnlPct(realized, entryPrice, qty)

		e.balance += realized
		e.risk.RecordTradeResult(realized)
		if e.ledger.Position(side) == nil {
			e.risk.ResetSide(side)
		}
	}

	res.Trades = append(res.Trades, trade)
	if e.hooks.OnTrade != nil {
		if err := e.hooks.OnTrade(trade); err != nil {
			return fmt.Errorf("persist trade %d: %w", trade.ID, err)
		}
	}
	return e.emitEvent(res, Event{
		Timestamp:    candle.Timestamp,
		Type:         EventFill,
		Side:         side,
		Price:        fill,
		StrategyName: strategyName,
		Reason:       reason,
	})
}

// fillPrice applies slippage: buys (open long, close short) slip up from the
// candle close, sells slip down. Both directions raise effective cost.
func (e *Engine) fillPrice(close float64, side Side, action Action) float64 {
	slip := e.cfg.SlippageBps / 10000
	buying := (side == SideLong && action == ActionOpen) || (side == SideShort && action == ActionClose)
	if buying {
		return close * (1 + slip)
	}
	return close * (1 - slip)
}

// sizeFill derives quantity for signals without an explicit one.
func (e *Engine) sizeFill(side Side, action Action, price float64) float64 {
	if action == ActionClose {
		if pos := e.ledger.Position(side); pos != nil {
			return pos.Quantity
		}
		return 0
	}
	notional := e.equity() * e.cfg.PositionFrac * e.cfg.Leverage
	if price <= 0 || notional <= 0 {
		return 0
	}
	return notional / price
}

func (e *Engine) closeAll(res *Result, candle market.Candle, reason string) error {
	for _, side := range e.ledger.OpenSides() {
		pos := e.ledger.Position(side)
		if err := e.execute(res, candle, side, ActionClose, pos.Quantity, e.strat.Name(), reason); err != nil {
			return err
		}
	}
	return nil
}

// markEquity marks positions to the candle close and appends one equity
// point. peak_equity is the running maximum; drawdown its relative gap.
func (e *Engine) markEquity(res *Result, candle market.Candle) error {
	e.ledger.Mark(candle.Close)
	equity := e.equity()
	if equity > e.peakEquity {
		e.peakEquity = equity
	}
	drawdown := 0.0
	if e.peakEquity > 0 {
		drawdown = (e.peakEquity - equity) / e.peakEquity
	}
	e.risk.ObserveEquity(equity)

	point := EquityPoint{
		Timestamp:  candle.Timestamp,
		Equity:     equity,
		Balance:    e.balance,
		Drawdown:   drawdown,
		PeakEquity: e.peakEquity,
	}
	res.EquityCurve = append(res.EquityCurve, point)
	if e.hooks.OnEquity != nil {
		if err := e.hooks.OnEquity(point); err != nil {
			return fmt.Errorf("persist equity point: %w", err)
		}
	}
	return nil
}

// finish computes metrics for aborted runs so partial results stay
// inspectable.
func (e *Engine) finish(res *Result) {
	res.Metrics = ComputeMetrics(res.Trades, res.EquityCurve, e.cfg.InitialCapital)
}

func (e *Engine) equity() float64 {
	return e.balance + e.ledger.UnrealizedTotal()
}

func (e *Engine) emitEvent(res *Result, ev Event) error {
	res.Events = append(res.Events, ev)
	if e.hooks.OnEvent != nil {
		if err := e.hooks.OnEvent(ev); err != nil {
			return fmt.Errorf("persist event: %w", err)
		}
	}
	return nil
}

// pnlPct is pnl relative to the entry value of the quantity being reduced;
// zero-entry-value positions report 0 rather than dividing by zero.
func pnlPct(pnl, entryPrice, qty float64) float64 {
	entryValue := entryPrice * qty
	if entryValue == 0 {
		return 0
	}
	return pnl / entryValue
}

func signalSide(kind strategy.SignalKind) Side {
	switch kind {
	case strategy.SignalShort, strategy.SignalCloseShort:
		return SideShort
	default:
		return SideLong
	}
}

func signalAction(kind strategy.SignalKind) Action {
	switch kind {
	case strategy.SignalCloseLong, strategy.SignalCloseShort:
		return ActionClose
	default:
		return ActionOpen
	}
}

