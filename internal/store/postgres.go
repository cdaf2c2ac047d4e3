package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"bandbot/internal/market"
)

// PostgresKlines reads historical candles from an external Postgres/Timescale
// market-data warehouse. It is a candle source only; session output always
// goes to the primary store.
type PostgresKlines struct {
	pool *pgxpool.Pool
}

func NewPostgresKlines(ctx context.Context, dsn string) (*PostgresKlines, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostgresKlines{pool: pool}, nil
}

// LoadKlines returns candles for a symbol ordered by timestamp ascending.
// The warehouse is keyed by symbol, not session, so sessionID is unused here.
func (p *PostgresKlines) LoadKlines(ctx context.Context, _ string, symbol string, startTs, endTs int64) ([]market.Candle, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM market_klines
		WHERE symbol = $1 AND ts >= $2 AND ts <= $3
		ORDER BY ts ASC`,
		symbol, startTs, endTs)
	if err != nil {
		return nil, fmt.Errorf("query klines: %w", err)
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

// InsertKlines bulk-loads candles into the warehouse, ignoring duplicates on
// (symbol, ts).
func (p *PostgresKlines) InsertKlines(ctx context.Context, symbol string, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(`
			INSERT INTO market_klines (symbol, ts, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, ts) DO NOTHING`,
			symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	}
	res := p.pool.SendBatch(ctx, batch)
	defer res.Close()
	for range candles {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("insert kline: %w", err)
		}
	}
	return nil
}

func (p *PostgresKlines) Close() error {
	p.pool.Close()
	return nil
}
