// Local backtest runner: replay a CSV (or a synthetic series) against a
// registered strategy and print the session report. Everything stays in
// memory; no database required.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"bandbot/internal/engine"
	"bandbot/internal/market"
	"bandbot/internal/report"
	"bandbot/internal/session"
	"bandbot/internal/store"
	"bandbot/internal/strategy"
)

func main() {
	csvPath := flag.String("csv", "", "Path to candle CSV (ts,open,high,low,close,volume); synthetic series if empty")
	dsn := flag.String("dsn", "", "Postgres warehouse DSN; read candles for -symbol instead of CSV")
	startTs := flag.Int64("start", 0, "First candle timestamp ms (warehouse mode)")
	endTs := flag.Int64("end", 0, "Last candle timestamp ms (warehouse mode)")
	symbol := flag.String("symbol", "BTCUSDT", "Trading symbol")
	strategyName := flag.String("strategy", "ema_cross", "Registered strategy name")
	paramsJSON := flag.String("params", "{}", "Strategy params as JSON")
	capital := flag.Float64("capital", 10000, "Initial capital")
	feeRate := flag.Float64("fee", 0.001, "Fee rate per fill")
	slippageBps := flag.Float64("slippage", 0, "Slippage in basis points")
	leverage := flag.Float64("leverage", 1, "Leverage")
	stopLoss := flag.Float64("stop-loss", 0, "Stop loss pct (0 disables)")
	takeProfit := flag.Float64("take-profit", 0, "Take profit pct (0 disables)")
	outCSV := flag.String("out", "", "Write trades CSV to this path")
	listStrategies := flag.Bool("list", false, "List registered strategies and exit")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	if *listStrategies {
		for _, name := range strategy.Names() {
			fmt.Println(name)
		}
		return
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		logger, err = zap.NewDevelopment()
		if err != nil {
			fatalf("init logger: %v", err)
		}
		defer logger.Sync()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.NewMemoryStore()
	var opts []session.Option

	var candles []market.Candle
	switch {
	case *dsn != "":
		warehouse, err := store.NewPostgresKlines(ctx, *dsn)
		if err != nil {
			fatalf("connect warehouse: %v", err)
		}
		defer warehouse.Close()
		opts = append(opts, session.WithKlineSource(warehouse))
	case *csvPath != "":
		var err error
		candles, err = market.LoadCSV(*csvPath)
		if err != nil {
			fatalf("load csv: %v", err)
		}
	default:
		candles = market.FlatThenTrend(1700000000000, 300000, 50000, 50, 50, 0.002)
		fmt.Fprintln(os.Stderr, "no -csv or -dsn given, using a synthetic 100-candle series")
	}

	runner := session.NewRunner(st, logger, opts...)

	sess, err := runner.Create(ctx, session.Request{
		Symbol:         *symbol,
		StartTs:        *startTs,
		EndTs:          *endTs,
		InitialCapital: *capital,
		FeeRate:        *feeRate,
		SlippageBps:    *slippageBps,
		Leverage:       *leverage,
		StrategyName:   *strategyName,
		StrategyParams: json.RawMessage(*paramsJSON),
		Risk: engine.RiskConfig{
			StopLossPct:   *stopLoss,
			TakeProfitPct: *takeProfit,
		},
	})
	if err != nil {
		fatalf("create session: %v", err)
	}
	if len(candles) > 0 {
		if err := st.InsertKlines(ctx, sess.ID, candles); err != nil {
			fatalf("stage candles: %v", err)
		}
	}

	if err := runner.Start(ctx, sess.ID); err != nil {
		fatalf("run session: %v", err)
	}

	final, err := st.GetSession(ctx, sess.ID)
	if err != nil {
		fatalf("read session: %v", err)
	}
	metrics, err := st.GetMetrics(ctx, sess.ID)
	if err != nil {
		metrics = nil
	}
	fmt.Print(report.Summary(final, metrics))

	if *outCSV != "" {
		trades, err := st.ListTrades(ctx, sess.ID)
		if err != nil {
			fatalf("read trades: %v", err)
		}
		f, err := os.Create(*outCSV)
		if err != nil {
			fatalf("create %s: %v", *outCSV, err)
		}
		defer f.Close()
		if err := report.WriteTradesCSV(f, trades); err != nil {
			fatalf("write trades csv: %v", err)
		}
		fmt.Fprintf(os.Stderr, "trades written to %s\n", *outCSV)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
