package market

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParseTimeframe converts a timeframe label ("5m", "15min", "30") to
// milliseconds. Plain numbers mean minutes.
func ParseTimeframe(s string) (int64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "in") // "5min" -> "5m"
	s = strings.TrimSuffix(s, "m")
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe: %q", s)
	}
	return int64(n) * 60 * 1000, nil
}

// Resample aggregates candles into buckets of bucketMs aligned to the epoch.
// Open is the first bar's open, close the last bar's close, high/low the
// extremes, volume the sum. Input need not be sorted; output is.
func Resample(candles []Candle, bucketMs int64) ([]Candle, error) {
	if bucketMs <= 0 {
		return nil, fmt.Errorf("bucket must be positive, got %d", bucketMs)
	}

	type bucket struct {
		c       Candle
		firstTs int64
		lastTs  int64
	}
	buckets := make(map[int64]*bucket)
	var order []int64

	for _, c := range candles {
		key := (c.Timestamp / bucketMs) * bucketMs
		b, ok := buckets[key]
		if !ok {
			buckets[key] = &bucket{
				c:       Candle{Timestamp: key, Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: c.Volume},
				firstTs: c.Timestamp,
				lastTs:  c.Timestamp,
			}
			order = append(order, key)
			continue
		}
		if c.Timestamp < b.firstTs {
			b.c.Open = c.Open
			b.firstTs = c.Timestamp
		}
		if c.Timestamp > b.lastTs {
			b.c.Close = c.Close
			b.lastTs = c.Timestamp
		}
		if c.High > b.c.High {
			b.c.High = c.High
		}
		if c.Low < b.c.Low {
			b.c.Low = c.Low
		}
		b.c.Volume += c.Volume
	}

	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]Candle, 0, len(order))
	for _, key := range order {
		out = append(out, buckets[key].c)
	}
	return out, nil
}
