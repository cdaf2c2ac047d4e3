// Resample a candle CSV into a coarser timeframe, e.g. 1m source bars into
// 5m bars for a faster backtest pass.
package main

import (
	"flag"
	"fmt"
	"os"

	"bandbot/internal/market"
)

func main() {
	in := flag.String("in", "", "Source candle CSV (ts,open,high,low,close,volume)")
	out := flag.String("out", "", "Destination CSV; stdout if empty")
	src := flag.String("src", "1m", "Source timeframe, e.g. 1m")
	dst := flag.String("dst", "5m", "Destination timeframe, e.g. 5m or 15m")
	flag.Parse()

	if *in == "" {
		fatalf("missing -in")
	}

	srcMs, err := market.ParseTimeframe(*src)
	if err != nil {
		fatalf("parse -src: %v", err)
	}
	dstMs, err := market.ParseTimeframe(*dst)
	if err != nil {
		fatalf("parse -dst: %v", err)
	}
	if dstMs < srcMs || dstMs%srcMs != 0 {
		fatalf("-dst %s must be a multiple of -src %s", *dst, *src)
	}

	candles, err := market.LoadCSV(*in)
	if err != nil {
		fatalf("load %s: %v", *in, err)
	}
	if err := market.ValidateSeries(candles); err != nil {
		fatalf("validate %s: %v", *in, err)
	}

	resampled, err := market.Resample(candles, dstMs)
	if err != nil {
		fatalf("resample: %v", err)
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			fatalf("create %s: %v", *out, err)
		}
		defer f.Close()
		w = f
	}
	if err := market.WriteCSV(w, resampled); err != nil {
		fatalf("write csv: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d %s bars -> %d %s bars\n", len(candles), *src, len(resampled), *dst)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
