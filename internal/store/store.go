// Package store holds the persistence boundary: write-only sinks for session
// output and a read-only source for historical klines. The engine never
// touches a database directly; the session runner streams records here in
// batches.
package store

import (
	"context"
	"time"

	"bandbot/internal/market"
)

// Session statuses.
const (
	StatusCreated   = "created"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Session is one backtest run. StrategyParams is the raw JSON the session was
// created with so a run can be reproduced byte-for-byte.
type Session struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Status         string    `json:"status"`
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	StartTs        int64     `json:"start_ts"`
	EndTs          int64     `json:"end_ts"`
	InitialCapital float64   `json:"initial_capital"`
	FeeRate        float64   `json:"fee_rate"`
	SlippageBps    float64   `json:"slippage_bps"`
	Leverage       float64   `json:"leverage"`
	StrategyName   string    `json:"strategy_name"`
	StrategyParams string    `json:"strategy_params"`
	RiskParams     string    `json:"risk_params,omitempty"`
	Notes          string    `json:"notes,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
}

// TradeRecord is one persisted fill row.
type TradeRecord struct {
	ID           int64   `json:"id"`
	SessionID    string  `json:"session_id"`
	Ts           int64   `json:"ts"`
	Symbol       string  `json:"symbol"`
	Side         string  `json:"side"`
	Action       string  `json:"action"`
	Qty          float64 `json:"qty"`
	Price        float64 `json:"price"`
	Fee          float64 `json:"fee"`
	Pnl          float64 `json:"pnl"`
	PnlPct       float64 `json:"pnl_pct"`
	StrategyName string  `json:"strategy_name"`
	Reason       string  `json:"reason"`
	OpenTradeID  int64   `json:"open_trade_id"`
}

// EventRecord is one audit-trail row. IndicatorsJSON and RawPayloadJSON carry
// pre-serialized JSON so the sink stays schema-agnostic about strategy
// internals.
type EventRecord struct {
	ID             int64   `json:"id"`
	SessionID      string  `json:"session_id"`
	Ts             int64   `json:"ts"`
	EventType      string  `json:"event_type"`
	Side           string  `json:"side"`
	Price          float64 `json:"price"`
	StrategyName   string  `json:"strategy_name"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
	IndicatorsJSON string  `json:"indicators_json"`
	RawPayloadJSON string  `json:"raw_payload_json"`
}

// EquityRecord is one equity-curve row.
type EquityRecord struct {
	ID         int64   `json:"id"`
	SessionID  string  `json:"session_id"`
	Ts         int64   `json:"ts"`
	Equity     float64 `json:"equity"`
	Balance    float64 `json:"balance"`
	Drawdown   float64 `json:"drawdown"`
	PeakEquity float64 `json:"peak_equity"`
}

// MetricsRecord is the one-row session summary.
type MetricsRecord struct {
	SessionID    string  `json:"session_id"`
	TotalTrades  int     `json:"total_trades"`
	WinRate      float64 `json:"win_rate"`
	TotalPnl     float64 `json:"total_pnl"`
	TotalReturn  float64 `json:"total_return"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Sharpe       float64 `json:"sharpe"`
	ProfitFactor float64 `json:"profit_factor"`
	Expectancy   float64 `json:"expectancy"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	StartTs      int64   `json:"start_ts"`
	EndTs        int64   `json:"end_ts"`
}

// SessionStore manages session lifecycle rows.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	UpdateSessionStatus(ctx context.Context, id, status, errorMessage string) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, limit int) ([]*Session, error)
}

// TradeStore appends fill rows; writes arrive in batches during replay.
type TradeStore interface {
	InsertTrades(ctx context.Context, sessionID string, trades []TradeRecord) error
	ListTrades(ctx context.Context, sessionID string) ([]TradeRecord, error)
}

// EventStore appends audit-trail rows.
type EventStore interface {
	InsertEvents(ctx context.Context, sessionID string, events []EventRecord) error
	ListEvents(ctx context.Context, sessionID string) ([]EventRecord, error)
}

// EquityStore appends equity-curve rows.
type EquityStore interface {
	InsertEquity(ctx context.Context, sessionID string, points []EquityRecord) error
	ListEquity(ctx context.Context, sessionID string) ([]EquityRecord, error)
}

// MetricsStore holds the one-row summary per session.
type MetricsStore interface {
	UpsertMetrics(ctx context.Context, m *MetricsRecord) error
	GetMetrics(ctx context.Context, sessionID string) (*MetricsRecord, error)
}

// KlineStore is the read-only candle source. Implementations must return
// candles ordered by timestamp ascending.
type KlineStore interface {
	LoadKlines(ctx context.Context, sessionID, symbol string, startTs, endTs int64) ([]market.Candle, error)
	InsertKlines(ctx context.Context, sessionID string, candles []market.Candle) error
}

// Store is the full persistence surface a session runner needs.
type Store interface {
	SessionStore
	TradeStore
	EventStore
	EquityStore
	MetricsStore
	KlineStore
	Close() error
}
