package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"bandbot/internal/market"
)

// ClickHouseConfig connects the native protocol client.
type ClickHouseConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Database string `json:"database" mapstructure:"database"`
	User     string `json:"user" mapstructure:"user"`
	Password string `json:"password" mapstructure:"password"`
}

// ClickHouseStore persists session output in ClickHouse. Append-heavy tables
// use ReplacingMergeTree keyed so that re-running a flush after a partial
// failure deduplicates instead of double-counting.
type ClickHouseStore struct {
	conn clickhouse.Conn
	db   string
	log  *zap.Logger
}

func NewClickHouseStore(ctx context.Context, cfg ClickHouseConfig, logger *zap.Logger) (*ClickHouseStore, error) {
	if cfg.Database == "" {
		cfg.Database = "backtest"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	s := &ClickHouseStore{conn: conn, db: cfg.Database, log: logger}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ClickHouseStore) ensureSchema(ctx context.Context) error {
	if err := s.conn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", s.db)); err != nil {
		return fmt.Errorf("create database: %w", err)
	}
	ddls := []string{
		`CREATE TABLE IF NOT EXISTS %s.backtest_sessions (
			id String,
			created_at DateTime64(3),
			updated_at DateTime64(3),
			status LowCardinality(String),
			symbol String,
			timeframe LowCardinality(String),
			start_ts Int64,
			end_ts Int64,
			initial_capital Float64,
			fee_rate Float64,
			slippage_bps Float64,
			leverage Float64,
			strategy_name LowCardinality(String),
			strategy_params String,
			risk_params String,
			notes String,
			error_message String
		)
		ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (id)`,
		`CREATE TABLE IF NOT EXISTS %s.backtest_trades (
			id Int64,
			session_id String,
			ts Int64,
			symbol String,
			side LowCardinality(String),
			action LowCardinality(String),
			qty Float64,
			price Float64,
			fee Float64,
			pnl Float64,
			pnl_pct Float64,
			strategy_name LowCardinality(String),
			reason String,
			open_trade_id Int64
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (session_id, id)`,
		`CREATE TABLE IF NOT EXISTS %s.backtest_events (
			id Int64,
			session_id String,
			ts Int64,
			event_type LowCardinality(String),
			side LowCardinality(String),
			price Float64,
			strategy_name LowCardinality(String),
			reason String,
			confidence Float64,
			indicators_json String,
			raw_payload_json String
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (session_id, id)`,
		`CREATE TABLE IF NOT EXISTS %s.backtest_equity_curve (
			id Int64,
			session_id String,
			ts Int64,
			equity Float64,
			balance Float64,
			drawdown Float64,
			peak_equity Float64
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (session_id, ts)`,
		`CREATE TABLE IF NOT EXISTS %s.backtest_metrics (
			session_id String,
			total_trades Int64,
			win_rate Float64,
			total_pnl Float64,
			total_return Float64,
			max_drawdown Float64,
			sharpe Float64,
			profit_factor Float64,
			expectancy Float64,
			avg_win Float64,
			avg_loss Float64,
			start_ts Int64,
			end_ts Int64,
			written_at DateTime64(3)
		)
		ENGINE = ReplacingMergeTree(written_at)
		ORDER BY (session_id)`,
		`CREATE TABLE IF NOT EXISTS %s.backtest_klines (
			session_id String,
			ts Int64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64
		)
		ENGINE = ReplacingMergeTree
		ORDER BY (session_id, ts)`,
	}
	for _, ddl := range ddls {
		if err := s.conn.Exec(ctx, fmt.Sprintf(ddl, s.db)); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) CreateSession(ctx context.Context, sess *Session) error {
	return s.writeSession(ctx, sess)
}

func (s *ClickHouseStore) UpdateSessionStatus(ctx context.Context, id, status, errorMessage string) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.Status = status
	sess.ErrorMessage = errorMessage
	sess.UpdatedAt = time.Now().UTC()
	return s.writeSession(ctx, sess)
}

// writeSession inserts a full row; ReplacingMergeTree(updated_at) keeps the
// latest version per id.
func (s *ClickHouseStore) writeSession(ctx context.Context, sess *Session) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.backtest_sessions", s.db))
	if err != nil {
		return fmt.Errorf("prepare session batch: %w", err)
	}
	if err := batch.Append(
		sess.ID, sess.CreatedAt, sess.UpdatedAt, sess.Status, sess.Symbol,
		sess.Timeframe, sess.StartTs, sess.EndTs, sess.InitialCapital,
		sess.FeeRate, sess.SlippageBps, sess.Leverage, sess.StrategyName,
		sess.StrategyParams, sess.RiskParams, sess.Notes, sess.ErrorMessage,
	); err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return batch.Send()
}

func (s *ClickHouseStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, created_at, updated_at, status, symbol, timeframe, start_ts,
		       end_ts, initial_capital, fee_rate, slippage_bps, leverage,
		       strategy_name, strategy_params, risk_params, notes, error_message
		FROM %s.backtest_sessions FINAL
		WHERE id = ?`, s.db), id)
	var sess Session
	if err := row.Scan(
		&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &sess.Status, &sess.Symbol,
		&sess.Timeframe, &sess.StartTs, &sess.EndTs, &sess.InitialCapital,
		&sess.FeeRate, &sess.SlippageBps, &sess.Leverage, &sess.StrategyName,
		&sess.StrategyParams, &sess.RiskParams, &sess.Notes, &sess.ErrorMessage,
	); err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *ClickHouseStore) ListSessions(ctx context.Context, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, created_at, updated_at, status, symbol, timeframe, start_ts,
		       end_ts, initial_capital, fee_rate, slippage_bps, leverage,
		       strategy_name, strategy_params, risk_params, notes, error_message
		FROM %s.backtest_sessions FINAL
		ORDER BY created_at DESC
		LIMIT ?`, s.db), limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(
			&sess.ID, &sess.CreatedAt, &sess.UpdatedAt, &sess.Status, &sess.Symbol,
			&sess.Timeframe, &sess.StartTs, &sess.EndTs, &sess.InitialCapital,
			&sess.FeeRate, &sess.SlippageBps, &sess.Leverage, &sess.StrategyName,
			&sess.StrategyParams, &sess.RiskParams, &sess.Notes, &sess.ErrorMessage,
		); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) InsertTrades(ctx context.Context, sessionID string, trades []TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.backtest_trades", s.db))
	if err != nil {
		return fmt.Errorf("prepare trades batch: %w", err)
	}
	for _, t := range trades {
		if err := batch.Append(
			t.ID, sessionID, t.Ts, t.Symbol, t.Side, t.Action, t.Qty, t.Price,
			t.Fee, t.Pnl, t.PnlPct, t.StrategyName, t.Reason, t.OpenTradeID,
		); err != nil {
			return fmt.Errorf("append trade: %w", err)
		}
	}
	return batch.Send()
}

func (s *ClickHouseStore) ListTrades(ctx context.Context, sessionID string) ([]TradeRecord, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, session_id, ts, symbol, side, action, qty, price, fee, pnl,
		       pnl_pct, strategy_name, reason, open_trade_id
		FROM %s.backtest_trades FINAL
		WHERE session_id = ?
		ORDER BY id ASC`, s.db), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(
			&t.ID, &t.SessionID, &t.Ts, &t.Symbol, &t.Side, &t.Action, &t.Qty,
			&t.Price, &t.Fee, &t.Pnl, &t.PnlPct, &t.StrategyName, &t.Reason,
			&t.OpenTradeID,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) InsertEvents(ctx context.Context, sessionID string, events []EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.backtest_events", s.db))
	if err != nil {
		return fmt.Errorf("prepare events batch: %w", err)
	}
	for _, e := range events {
		if err := batch.Append(
			e.ID, sessionID, e.Ts, e.EventType, e.Side, e.Price, e.StrategyName,
			e.Reason, e.Confidence, e.IndicatorsJSON, e.RawPayloadJSON,
		); err != nil {
			return fmt.Errorf("append event: %w", err)
		}
	}
	return batch.Send()
}

func (s *ClickHouseStore) ListEvents(ctx context.Context, sessionID string) ([]EventRecord, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, session_id, ts, event_type, side, price, strategy_name,
		       reason, confidence, indicators_json, raw_payload_json
		FROM %s.backtest_events FINAL
		WHERE session_id = ?
		ORDER BY id ASC`, s.db), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var e EventRecord
		if err := rows.Scan(
			&e.ID, &e.SessionID, &e.Ts, &e.EventType, &e.Side, &e.Price,
			&e.StrategyName, &e.Reason, &e.Confidence, &e.IndicatorsJSON,
			&e.RawPayloadJSON,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) InsertEquity(ctx context.Context, sessionID string, points []EquityRecord) error {
	if len(points) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.backtest_equity_curve", s.db))
	if err != nil {
		return fmt.Errorf("prepare equity batch: %w", err)
	}
	for _, p := range points {
		if err := batch.Append(
			p.ID, sessionID, p.Ts, p.Equity, p.Balance, p.Drawdown, p.PeakEquity,
		); err != nil {
			return fmt.Errorf("append equity: %w", err)
		}
	}
	return batch.Send()
}

func (s *ClickHouseStore) ListEquity(ctx context.Context, sessionID string) ([]EquityRecord, error) {
	rows, err := s.conn.Query(ctx, fmt.Sprintf(`
		SELECT id, session_id, ts, equity, balance, drawdown, peak_equity
		FROM %s.backtest_equity_curve FINAL
		WHERE session_id = ?
		ORDER BY ts ASC`, s.db), sessionID)
	if err != nil {
		return nil, fmt.Errorf("list equity: %w", err)
	}
	defer rows.Close()

	var out []EquityRecord
	for rows.Next() {
		var p EquityRecord
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Ts, &p.Equity, &p.Balance, &p.Drawdown, &p.PeakEquity); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) UpsertMetrics(ctx context.Context, m *MetricsRecord) error {
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.backtest_metrics", s.db))
	if err != nil {
		return fmt.Errorf("prepare metrics batch: %w", err)
	}
	if err := batch.Append(
		m.SessionID, int64(m.TotalTrades), m.WinRate, m.TotalPnl, m.TotalReturn,
		m.MaxDrawdown, m.Sharpe, m.ProfitFactor, m.Expectancy, m.AvgWin,
		m.AvgLoss, m.StartTs, m.EndTs, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("append metrics: %w", err)
	}
	return batch.Send()
}

func (s *ClickHouseStore) GetMetrics(ctx context.Context, sessionID string) (*MetricsRecord, error) {
	row := s.conn.QueryRow(ctx, fmt.Sprintf(`
		SELECT session_id, total_trades, win_rate, total_pnl, total_return,
		       max_drawdown, sharpe, profit_factor, expectancy, avg_win,
		       avg_loss, start_ts, end_ts
		FROM %s.backtest_metrics FINAL
		WHERE session_id = ?`, s.db), sessionID)
	var m MetricsRecord
	var totalTrades int64
	if err := row.Scan(
		&m.SessionID, &totalTrades, &m.WinRate, &m.TotalPnl, &m.TotalReturn,
		&m.MaxDrawdown, &m.Sharpe, &m.ProfitFactor, &m.Expectancy, &m.AvgWin,
		&m.AvgLoss, &m.StartTs, &m.EndTs,
	); err != nil {
		return nil, fmt.Errorf("get metrics %s: %w", sessionID, err)
	}
	m.TotalTrades = int(totalTrades)
	return &m, nil
}

func (s *ClickHouseStore) InsertKlines(ctx context.Context, sessionID string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s.backtest_klines SETTINGS insert_deduplicate=1", s.db))
	if err != nil {
		return fmt.Errorf("prepare klines batch: %w", err)
	}
	for _, c := range candles {
		if err := batch.Append(sessionID, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("append kline: %w", err)
		}
	}
	return batch.Send()
}

func (s *ClickHouseStore) LoadKlines(ctx context.Context, sessionID, _ string, startTs, endTs int64) ([]market.Candle, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `
		SELECT ts, open, high, low, close, volume
		FROM %s.backtest_klines FINAL
		WHERE session_id = ?`, s.db)
	args := []any{sessionID}
	if startTs > 0 {
		sb.WriteString(" AND ts >= ?")
		args = append(args, startTs)
	}
	if endTs > 0 {
		sb.WriteString(" AND ts <= ?")
		args = append(args, endTs)
	}
	sb.WriteString(" ORDER BY ts ASC")

	rows, err := s.conn.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("load klines: %w", err)
	}
	defer rows.Close()

	var out []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) Close() error { return s.conn.Close() }
