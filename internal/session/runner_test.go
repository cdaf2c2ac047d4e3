package session

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bandbot/internal/engine"
	"bandbot/internal/market"
	"bandbot/internal/store"
)

func newTestRunner(t *testing.T, opts ...Option) (*Runner, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewRunner(st, zap.NewNop(), opts...), st
}

func createWithCandles(t *testing.T, r *Runner, st *store.MemoryStore, candles []market.Candle) *store.Session {
	t.Helper()
	sess, err := r.Create(context.Background(), Request{
		Symbol:         "btcusdt",
		InitialCapital: 10000,
		FeeRate:        0.001,
		StrategyName:   "ema_cross",
	})
	require.NoError(t, err)
	require.NoError(t, st.InsertKlines(context.Background(), sess.ID, candles))
	return sess
}

func TestSessionLifecycleCompleted(t *testing.T) {
	r, st := newTestRunner(t)
	candles := market.FlatThenTrend(1700000000000, 300000, 50000, 50, 50, 0.002)
	sess := createWithCandles(t, r, st, candles)

	require.Equal(t, store.StatusCreated, sess.Status)
	require.Equal(t, "BTCUSDT", sess.Symbol, "symbol is normalized to upper case")

	require.NoError(t, r.Start(context.Background(), sess.ID))

	final, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCompleted, final.Status)
	require.Empty(t, final.ErrorMessage)

	trades, err := st.ListTrades(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, trades)

	closes := 0
	for _, tr := range trades {
		if tr.Action == string(engine.ActionClose) {
			closes++
			require.NotZero(t, tr.OpenTradeID)
		}
	}
	require.Positive(t, closes)

	metrics, err := st.GetMetrics(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, closes, metrics.TotalTrades, "total_trades counts close rows exactly")

	equity, err := st.ListEquity(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, equity, len(candles)+1, "one point per candle plus the final liquidation mark")
}

func TestCreateRejectsBadRequests(t *testing.T) {
	r, _ := newTestRunner(t)
	ctx := context.Background()

	cases := []Request{
		{Symbol: "", InitialCapital: 10000, StrategyName: "ema_cross"},
		{Symbol: "BTCUSDT", InitialCapital: 0, StrategyName: "ema_cross"},
		{Symbol: "BTCUSDT", InitialCapital: 10000, FeeRate: -1, StrategyName: "ema_cross"},
		{Symbol: "BTCUSDT", InitialCapital: 10000, StrategyName: "nope"},
		{Symbol: "BTCUSDT", InitialCapital: 10000, StrategyName: "ema_cross", StartTs: 10, EndTs: 5},
		{Symbol: "BTCUSDT", InitialCapital: 10000, StrategyName: "ema_cross",
			StrategyParams: json.RawMessage(`{"fast": 26, "slow": 12}`)},
	}
	for i, req := range cases {
		_, err := r.Create(ctx, req)
		require.Error(t, err, "case %d", i)
		var cfgErr *engine.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "case %d", i)
	}
}

func TestStartRequiresCreatedStatus(t *testing.T) {
	r, st := newTestRunner(t)
	candles := market.FlatThenTrend(1700000000000, 300000, 50000, 10, 10, 0.002)
	sess := createWithCandles(t, r, st, candles)

	require.NoError(t, r.Start(context.Background(), sess.ID))
	err := r.Start(context.Background(), sess.ID)
	require.Error(t, err, "completed sessions cannot restart")
}

func TestNoKlinesFailsSession(t *testing.T) {
	r, st := newTestRunner(t)
	sess, err := r.Create(context.Background(), Request{
		Symbol: "BTCUSDT", InitialCapital: 10000, StrategyName: "ema_cross",
	})
	require.NoError(t, err)

	require.Error(t, r.Start(context.Background(), sess.ID))
	final, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "no klines")
}

func TestDataIntegrityFailureFlushesPartials(t *testing.T) {
	r, st := newTestRunner(t, WithBatchSize(7))
	candles := market.FlatThenTrend(1700000000000, 300000, 50000, 50, 50, 0.002)
	candles[40].Close = -5
	sess := createWithCandles(t, r, st, candles)

	require.Error(t, r.Start(context.Background(), sess.ID))

	final, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusFailed, final.Status)
	require.Contains(t, final.ErrorMessage, "data integrity")

	// Everything up to the poisoned bar is persisted.
	equity, err := st.ListEquity(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, equity, 40)

	metrics, err := st.GetMetrics(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, metrics)
}

func TestCancelledSessionStatus(t *testing.T) {
	r, st := newTestRunner(t)
	candles := market.FlatThenTrend(1700000000000, 300000, 50000, 10, 10, 0.002)
	sess := createWithCandles(t, r, st, candles)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Start(ctx, sess.ID), "cancellation is not an infrastructure failure")

	final, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusCancelled, final.Status)
}

func TestBatchedWritesMatchUnbatched(t *testing.T) {
	candles := market.FlatThenTrend(1700000000000, 300000, 50000, 50, 50, 0.002)

	small, stSmall := newTestRunner(t, WithBatchSize(3))
	big, stBig := newTestRunner(t, WithBatchSize(10000))

	s1 := createWithCandles(t, small, stSmall, candles)
	s2 := createWithCandles(t, big, stBig, candles)

	require.NoError(t, small.Start(context.Background(), s1.ID))
	require.NoError(t, big.Start(context.Background(), s2.ID))

	t1, _ := stSmall.ListTrades(context.Background(), s1.ID)
	t2, _ := stBig.ListTrades(context.Background(), s2.ID)
	require.Equal(t, len(t2), len(t1), "flush size must not change what is persisted")

	e1, _ := stSmall.ListEquity(context.Background(), s1.ID)
	e2, _ := stBig.ListEquity(context.Background(), s2.ID)
	require.Equal(t, len(e2), len(e1))
}

func TestRiskConfigRoundTripsThroughSession(t *testing.T) {
	r, st := newTestRunner(t)
	sess, err := r.Create(context.Background(), Request{
		Symbol:         "BTCUSDT",
		InitialCapital: 10000,
		StrategyName:   "ema_cross",
		Risk:           engine.RiskConfig{StopLossPct: 0.05, TakeProfitPct: 0.1},
	})
	require.NoError(t, err)

	stored, err := st.GetSession(context.Background(), sess.ID)
	require.NoError(t, err)
	risk := riskFromSession(stored)
	require.Equal(t, 0.05, risk.StopLossPct)
	require.Equal(t, 0.1, risk.TakeProfitPct)
}

func TestPoolRunsSubmittedSessions(t *testing.T) {
	r, st := newTestRunner(t)
	candles := market.FlatThenTrend(1700000000000, 300000, 50000, 20, 20, 0.002)

	var ids []string
	for i := 0; i < 5; i++ {
		sess := createWithCandles(t, r, st, candles)
		ids = append(ids, sess.ID)
	}

	pool := NewPool(context.Background(), r, 2, 16, zap.NewNop())
	for _, id := range ids {
		require.NoError(t, pool.Submit(id))
	}
	pool.Shutdown()

	for _, id := range ids {
		sess, err := st.GetSession(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, store.StatusCompleted, sess.Status)
	}

	require.ErrorIs(t, pool.Submit("late"), ErrPoolClosed)
}
