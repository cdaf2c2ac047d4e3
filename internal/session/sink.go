package session

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"bandbot/internal/engine"
	"bandbot/internal/store"
)

// batchSink buffers engine output and flushes in fixed-size batches. Sink
// errors propagate back into the engine through its hooks and abort the run;
// a fill the store refused must never be silently dropped.
type batchSink struct {
	ctx       context.Context
	store     store.Store
	sess      *store.Session
	batchSize int

	trades      []store.TradeRecord
	events      []store.EventRecord
	equity      []store.EquityRecord
	nextEventID int64
	nextPointID int64
}

func newBatchSink(ctx context.Context, st store.Store, sess *store.Session, batchSize int) *batchSink {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	// Writes must survive run cancellation: partial results of a cancelled
	// session are still persisted.
	return &batchSink{ctx: context.WithoutCancel(ctx), store: st, sess: sess, batchSize: batchSize}
}

func (b *batchSink) trade(t engine.Trade) error {
	b.trades = append(b.trades, store.TradeRecord{
		ID:           t.ID,
		SessionID:    b.sess.ID,
		Ts:           t.Timestamp,
		Symbol:       t.Symbol,
		Side:         string(t.Side),
		Action:       string(t.Action),
		Qty:          t.Qty,
		Price:        t.Price,
		Fee:          t.Fee,
		Pnl:          t.Pnl,
		PnlPct:       t.PnlPct,
		StrategyName: t.StrategyName,
		Reason:       t.Reason,
		OpenTradeID:  t.OpenTradeID,
	})
	if len(b.trades) >= b.batchSize {
		return b.flushTrades()
	}
	return nil
}

func (b *batchSink) event(ev engine.Event) error {
	b.nextEventID++
	rec := store.EventRecord{
		ID:           b.nextEventID,
		SessionID:    b.sess.ID,
		Ts:           ev.Timestamp,
		EventType:    ev.Type,
		Side:         string(ev.Side),
		Price:        ev.Price,
		StrategyName: ev.StrategyName,
		Reason:       ev.Reason,
		Confidence:   ev.Confidence,
	}
	if len(ev.Indicators) > 0 {
		if raw, err := json.Marshal(ev.Indicators); err == nil {
			rec.IndicatorsJSON = string(raw)
		}
	}
	if raw, err := json.Marshal(ev); err == nil {
		rec.RawPayloadJSON = string(raw)
	}
	b.events = append(b.events, rec)
	if len(b.events) >= b.batchSize {
		return b.flushEvents()
	}
	return nil
}

func (b *batchSink) equityPoint(p engine.EquityPoint) error {
	b.nextPointID++
	b.equity = append(b.equity, store.EquityRecord{
		ID:         b.nextPointID,
		SessionID:  b.sess.ID,
		Ts:         p.Timestamp,
		Equity:     p.Equity,
		Balance:    p.Balance,
		Drawdown:   p.Drawdown,
		PeakEquity: p.PeakEquity,
	})
	if len(b.equity) >= b.batchSize {
		return b.flushEquity()
	}
	return nil
}

// flush drains every buffer. Called once after the replay ends, successful or
// not.
func (b *batchSink) flush() error {
	if err := b.flushTrades(); err != nil {
		return err
	}
	if err := b.flushEvents(); err != nil {
		return err
	}
	return b.flushEquity()
}

func (b *batchSink) flushTrades() error {
	if len(b.trades) == 0 {
		return nil
	}
	if err := b.store.InsertTrades(b.ctx, b.sess.ID, b.trades); err != nil {
		return fmt.Errorf("insert trades: %w", err)
	}
	b.trades = b.trades[:0]
	return nil
}

func (b *batchSink) flushEvents() error {
	if len(b.events) == 0 {
		return nil
	}
	if err := b.store.InsertEvents(b.ctx, b.sess.ID, b.events); err != nil {
		return fmt.Errorf("insert events: %w", err)
	}
	b.events = b.events[:0]
	return nil
}

func (b *batchSink) flushEquity() error {
	if len(b.equity) == 0 {
		return nil
	}
	if err := b.store.InsertEquity(b.ctx, b.sess.ID, b.equity); err != nil {
		return fmt.Errorf("insert equity: %w", err)
	}
	b.equity = b.equity[:0]
	return nil
}
