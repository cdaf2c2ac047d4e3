package market

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LoadCSV reads candles from a CSV file with columns
// timestamp,open,high,low,close,volume. A header row is detected and skipped.
// Timestamps may be in milliseconds or seconds; seconds are promoted to ms.
func LoadCSV(filename string) ([]Candle, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(bufio.NewReader(file))
	reader.FieldsPerRecord = -1

	var candles []Candle
	line := 0
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv read line %d: %w", line, err)
		}
		line++
		if len(rec) < 6 {
			continue
		}
		if line == 1 && !isNumeric(rec[0]) {
			continue // header
		}

		ts, err := strconv.ParseInt(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("csv line %d: bad timestamp %q", line, rec[0])
		}
		if ts < 1e12 {
			ts *= 1000 // seconds -> ms
		}

		vals := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("csv line %d column %d: %w", line, i+1, err)
			}
			vals[i] = v
		}

		candles = append(candles, Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}

	sort.Slice(candles, func(i, j int) bool { return candles[i].Timestamp < candles[j].Timestamp })
	return candles, nil
}

// WriteCSV emits candles with a header row in the same column layout LoadCSV
// reads back.
func WriteCSV(w io.Writer, candles []Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	for _, c := range candles {
		rec := []string{
			strconv.FormatInt(c.Timestamp, 10),
			strconv.FormatFloat(c.Open, 'f', -1, 64),
			strconv.FormatFloat(c.High, 'f', -1, 64),
			strconv.FormatFloat(c.Low, 'f', -1, 64),
			strconv.FormatFloat(c.Close, 'f', -1, 64),
			strconv.FormatFloat(c.Volume, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func isNumeric(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}
