// Bulk-load Binance monthly kline archives into the Postgres market-data
// warehouse that the server reads candles from. One zip per symbol/month;
// duplicate (symbol, ts) rows are ignored on insert, so reruns are safe.
package main

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bandbot/internal/market"
	"bandbot/internal/store"
)

const defaultBaseURL = "https://data.binance.vision"

func main() {
	dsn := flag.String("dsn", os.Getenv("POSTGRES_DSN"), "Postgres DSN (defaults to POSTGRES_DSN env)")
	symbols := flag.String("symbols", "BTCUSDT", "Comma-separated symbols")
	timeframe := flag.String("timeframe", "1m", "Binance kline interval to download")
	startYM := flag.String("start", "", "First month, YYYY-MM")
	endYM := flag.String("end", "", "Last month, YYYY-MM (inclusive)")
	baseURL := flag.String("base-url", defaultBaseURL, "Binance data mirror")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *dsn == "" {
		logger.Fatal("missing -dsn / POSTGRES_DSN")
	}
	if *startYM == "" || *endYM == "" {
		logger.Fatal("missing -start / -end (YYYY-MM)")
	}
	months, err := monthRange(*startYM, *endYM)
	if err != nil {
		logger.Fatal("bad month range", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	warehouse, err := store.NewPostgresKlines(ctx, *dsn)
	if err != nil {
		logger.Fatal("connect warehouse", zap.Error(err))
	}
	defer warehouse.Close()

	client := &http.Client{Timeout: 3 * time.Minute}
	for _, raw := range strings.Split(*symbols, ",") {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		for _, m := range months {
			if ctx.Err() != nil {
				logger.Warn("interrupted, stopping")
				return
			}
			n, err := loadMonth(ctx, client, warehouse, *baseURL, symbol, *timeframe, m)
			if err != nil {
				// Missing months are common near listing dates; keep going.
				logger.Warn("month skipped",
					zap.String("symbol", symbol),
					zap.String("month", m.Format("2006-01")),
					zap.Error(err))
				continue
			}
			logger.Info("month loaded",
				zap.String("symbol", symbol),
				zap.String("month", m.Format("2006-01")),
				zap.Int("candles", n))
		}
	}
}

func monthRange(startYM, endYM string) ([]time.Time, error) {
	start, err := time.Parse("2006-01", startYM)
	if err != nil {
		return nil, fmt.Errorf("parse start: %w", err)
	}
	end, err := time.Parse("2006-01", endYM)
	if err != nil {
		return nil, fmt.Errorf("parse end: %w", err)
	}
	if end.Before(start) {
		return nil, errors.New("end before start")
	}
	var out []time.Time
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 1, 0) {
		out = append(out, cur)
	}
	return out, nil
}

func loadMonth(ctx context.Context, client *http.Client, warehouse *store.PostgresKlines, baseURL, symbol, timeframe string, month time.Time) (int, error) {
	url := fmt.Sprintf("%s/data/futures/um/monthly/klines/%s/%s/%s-%s-%s.zip",
		baseURL, symbol, timeframe, symbol, timeframe, month.Format("2006-01"))

	candles, err := fetchArchive(ctx, client, url)
	if err != nil {
		return 0, err
	}
	if len(candles) == 0 {
		return 0, errors.New("archive empty")
	}
	if err := warehouse.InsertKlines(ctx, symbol, candles); err != nil {
		return 0, err
	}
	return len(candles), nil
}

func fetchArchive(ctx context.Context, client *http.Client, url string) ([]market.Candle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	for _, f := range zr.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return parseBinanceCSV(rc)
		}
	}
	return nil, errors.New("no csv entry in zip")
}

// parseBinanceCSV reads the Binance kline layout: open_time_ms, open, high,
// low, close, volume, then six more columns we do not keep. Some archives
// carry a header row.
func parseBinanceCSV(r io.Reader) ([]market.Candle, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var candles []market.Candle
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read: %w", err)
		}
		if len(rec) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			continue // header row
		}
		var vals [5]float64
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		candles = append(candles, market.Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return candles, nil
}
