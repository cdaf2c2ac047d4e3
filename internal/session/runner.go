// Package session orchestrates backtest runs: lifecycle rows, candle loading,
// engine execution with batched persistence, and fan-out across sessions.
// Each session replays on a single goroutine; parallelism exists only across
// sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bandbot/internal/engine"
	"bandbot/internal/monitoring"
	"bandbot/internal/store"
	"bandbot/internal/strategy"
)

// defaultBatchSize is the flush threshold for trade/event/equity writes.
const defaultBatchSize = 500

// Request describes a session to create. StrategyParams is passed through to
// the strategy factory untouched.
type Request struct {
	Symbol         string            `json:"symbol" validate:"required"`
	Timeframe      string            `json:"timeframe"`
	StartTs        int64             `json:"start_ts" validate:"gte=0"`
	EndTs          int64             `json:"end_ts" validate:"gte=0"`
	InitialCapital float64           `json:"initial_capital" validate:"gt=0"`
	FeeRate        float64           `json:"fee_rate" validate:"gte=0"`
	SlippageBps    float64           `json:"slippage_bps" validate:"gte=0"`
	Leverage       float64           `json:"leverage" validate:"gte=0"`
	StrategyName   string            `json:"strategy_name" validate:"required"`
	StrategyParams json.RawMessage   `json:"strategy_params"`
	Risk           engine.RiskConfig `json:"risk"`
	Notes          string            `json:"notes"`
}

// Notifier publishes session completion. Nil notifier disables publishing.
type Notifier interface {
	SessionFinished(ctx context.Context, sess *store.Session, metrics *store.MetricsRecord) error
}

// Runner owns session lifecycle from creation through terminal status.
type Runner struct {
	store     store.Store
	klines    store.KlineStore
	notifier  Notifier
	log       *zap.Logger
	batchSize int
}

// Option configures a Runner.
type Option func(*Runner)

// WithKlineSource overrides the candle source; by default candles are read
// from the primary store's backtest_klines table.
func WithKlineSource(k store.KlineStore) Option {
	return func(r *Runner) { r.klines = k }
}

func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

func WithBatchSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func NewRunner(st store.Store, logger *zap.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		store:     st,
		klines:    st,
		log:       logger,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create validates the request, instantiates the strategy once to surface
// parameter errors up front, and persists a created session row.
func (r *Runner) Create(ctx context.Context, req Request) (*store.Session, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	// Fail now, not mid-run, on unknown strategies or bad params.
	if _, err := strategy.New(req.StrategyName, []byte(req.StrategyParams)); err != nil {
		return nil, &engine.ConfigurationError{Msg: err.Error()}
	}

	now := time.Now().UTC()
	params := string(req.StrategyParams)
	if params == "" {
		params = "{}"
	}
	riskJSON, err := json.Marshal(req.Risk)
	if err != nil {
		return nil, &engine.ConfigurationError{Msg: "risk config not serializable: " + err.Error()}
	}
	sess := &store.Session{
		ID:             uuid.NewString(),
		CreatedAt:      now,
		UpdatedAt:      now,
		Status:         store.StatusCreated,
		Symbol:         strings.ToUpper(req.Symbol),
		Timeframe:      req.Timeframe,
		StartTs:        req.StartTs,
		EndTs:          req.EndTs,
		InitialCapital: req.InitialCapital,
		FeeRate:        req.FeeRate,
		SlippageBps:    req.SlippageBps,
		Leverage:       req.Leverage,
		StrategyName:   req.StrategyName,
		StrategyParams: params,
		RiskParams:     string(riskJSON),
		Notes:          req.Notes,
	}
	if err := r.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	r.log.Info("session created",
		zap.String("session_id", sess.ID),
		zap.String("symbol", sess.Symbol),
		zap.String("strategy", sess.StrategyName))
	return sess, nil
}

// Start executes a created session to a terminal status. The returned error
// reflects infrastructure failures only; strategy-level and data-level
// failures land in the session row as status=failed.
func (r *Runner) Start(ctx context.Context, sessionID string) error {
	sess, err := r.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != store.StatusCreated {
		return &engine.ConfigurationError{Msg: fmt.Sprintf("session %s is %s, not created", sessionID, sess.Status)}
	}
	if err := r.store.UpdateSessionStatus(ctx, sessionID, store.StatusRunning, ""); err != nil {
		return err
	}
	monitoring.SessionsStarted.Inc()
	started := time.Now()

	status, runErr := r.run(ctx, sess)
	monitoring.SessionDuration.Observe(time.Since(started).Seconds())
	monitoring.SessionsFinished.WithLabelValues(status).Inc()

	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	if err := r.store.UpdateSessionStatus(ctx, sessionID, status, msg); err != nil {
		return fmt.Errorf("finalize session %s: %w", sessionID, err)
	}
	r.log.Info("session finished",
		zap.String("session_id", sessionID),
		zap.String("status", status),
		zap.Duration("elapsed", time.Since(started)))

	if r.notifier != nil && status == store.StatusCompleted {
		metrics, err := r.store.GetMetrics(ctx, sessionID)
		if err == nil {
			sess.Status = status
			if err := r.notifier.SessionFinished(ctx, sess, metrics); err != nil {
				r.log.Warn("completion publish failed", zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}
	if status == store.StatusFailed {
		return runErr
	}
	return nil
}

// run replays the session and streams its output. Partial results of aborted
// and cancelled runs are flushed before the status is decided.
func (r *Runner) run(ctx context.Context, sess *store.Session) (string, error) {
	strat, err := strategy.New(sess.StrategyName, []byte(sess.StrategyParams))
	if err != nil {
		return store.StatusFailed, err
	}

	candles, err := r.klines.LoadKlines(ctx, sess.ID, sess.Symbol, sess.StartTs, sess.EndTs)
	if err != nil {
		return store.StatusFailed, fmt.Errorf("load klines: %w", err)
	}
	if len(candles) == 0 {
		return store.StatusFailed, &engine.ConfigurationError{Msg: "no klines in range"}
	}

	sink := newBatchSink(ctx, r.store, sess, r.batchSize)
	eng, err := engine.New(engine.Config{
		Symbol:         sess.Symbol,
		InitialCapital: sess.InitialCapital,
		FeeRate:        sess.FeeRate,
		SlippageBps:    sess.SlippageBps,
		Leverage:       sess.Leverage,
		Risk:           riskFromSession(sess),
		ProgressEvery:  1000,
	}, strat, r.log.With(zap.String("session_id", sess.ID)), engine.Hooks{
		OnTrade:  sink.trade,
		OnEvent:  sink.event,
		OnEquity: sink.equityPoint,
		Progress: func(done, total int) {
			r.log.Debug("replay progress",
				zap.String("session_id", sess.ID),
				zap.Int("done", done),
				zap.Int("total", total))
		},
	})
	if err != nil {
		return store.StatusFailed, err
	}

	result, runErr := eng.Run(ctx, candles)
	if flushErr := sink.flush(); flushErr != nil {
		return store.StatusFailed, fmt.Errorf("flush session output: %w", flushErr)
	}
	if err := r.persistMetrics(ctx, sess, result); err != nil {
		return store.StatusFailed, err
	}
	monitoring.TradesRecorded.Add(float64(len(result.Trades)))

	switch {
	case runErr == nil:
		return store.StatusCompleted, nil
	case errors.Is(runErr, engine.ErrCancelled):
		return store.StatusCancelled, runErr
	default:
		return store.StatusFailed, runErr
	}
}

func (r *Runner) persistMetrics(ctx context.Context, sess *store.Session, result *engine.Result) error {
	m := result.Metrics
	rec := &store.MetricsRecord{
		SessionID:    sess.ID,
		TotalTrades:  m.TotalTrades,
		WinRate:      m.WinRate,
		TotalPnl:     m.TotalPnl,
		TotalReturn:  m.TotalReturn,
		MaxDrawdown:  m.MaxDrawdown,
		Sharpe:       m.Sharpe,
		ProfitFactor: m.ProfitFactor,
		Expectancy:   m.Expectancy,
		AvgWin:       m.AvgWin,
		AvgLoss:      m.AvgLoss,
		StartTs:      sess.StartTs,
		EndTs:        sess.EndTs,
	}
	if n := len(result.EquityCurve); n > 0 {
		rec.StartTs = result.EquityCurve[0].Timestamp
		rec.EndTs = result.EquityCurve[n-1].Timestamp
	}
	if err := r.store.UpsertMetrics(ctx, rec); err != nil {
		return fmt.Errorf("persist metrics: %w", err)
	}
	return nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Symbol) == "" {
		return &engine.ConfigurationError{Msg: "symbol is required"}
	}
	if req.InitialCapital <= 0 {
		return &engine.ConfigurationError{Msg: fmt.Sprintf("initial capital must be positive, got %f", req.InitialCapital)}
	}
	if req.FeeRate < 0 {
		return &engine.ConfigurationError{Msg: "fee rate must be non-negative"}
	}
	if req.SlippageBps < 0 {
		return &engine.ConfigurationError{Msg: "slippage must be non-negative"}
	}
	if req.Leverage < 0 {
		return &engine.ConfigurationError{Msg: "leverage must be non-negative"}
	}
	if req.EndTs > 0 && req.StartTs > req.EndTs {
		return &engine.ConfigurationError{Msg: "start_ts after end_ts"}
	}
	if strings.TrimSpace(req.StrategyName) == "" {
		return &engine.ConfigurationError{Msg: "strategy_name is required"}
	}
	return nil
}

func riskFromSession(sess *store.Session) engine.RiskConfig {
	var risk engine.RiskConfig
	if sess.RiskParams != "" {
		// Best effort: a malformed row degrades to no risk rules rather than
		// blocking the run.
		_ = json.Unmarshal([]byte(sess.RiskParams), &risk)
	}
	return risk
}
