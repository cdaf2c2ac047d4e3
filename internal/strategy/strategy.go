package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"bandbot/internal/market"
)

// SignalKind is the directional intent of a strategy signal.
type SignalKind string

const (
	SignalLong       SignalKind = "long"
	SignalShort      SignalKind = "short"
	SignalCloseLong  SignalKind = "close_long"
	SignalCloseShort SignalKind = "close_short"
	SignalHold       SignalKind = "hold"
)

// Signal is the per-candle output of a strategy. Qty == 0 means the engine
// sizes the fill from the session's position sizing; a non-zero Qty is an
// explicit quantity (used by the hedging strategy, which manages its own
// two-sided book).
type Signal struct {
	Kind       SignalKind
	Qty        float64
	Strength   float64
	Confidence float64
	Reason     string
	Indicators map[string]float64
}

// Hold is the no-op signal.
func Hold(reason string) Signal {
	return Signal{Kind: SignalHold, Reason: reason}
}

// Snapshot is the state handed to a strategy on each candle: the candle
// window up to and including the current bar, plus account context for
// sizing. Strategies must not read beyond the last candle.
type Snapshot struct {
	Symbol  string
	Candles []market.Candle
	Equity  float64
	Capital float64
}

// Last returns the current candle.
func (s *Snapshot) Last() market.Candle {
	return s.Candles[len(s.Candles)-1]
}

// Strategy produces trade signals from a candle window. Stateful strategies
// keep their own internal book; one instance serves exactly one session.
type Strategy interface {
	Name() string
	// Warmup is the number of candles to consume before Analyze is called.
	Warmup() int
	Analyze(snap *Snapshot) ([]Signal, error)
}

// Factory builds a strategy from raw JSON parameters.
type Factory func(params json.RawMessage) (Strategy, error)

var (
	mu       sync.RWMutex
	registry = map[string]Factory{}
	validate = validator.New()
)

// Register adds a strategy factory under a unique name. Strategies register
// themselves from init; duplicate names panic at startup.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("strategy %q registered twice", name))
	}
	registry[name] = f
}

// New instantiates a registered strategy. Parameter validation errors are
// returned before any candle is processed.
func New(name string, params json.RawMessage) (Strategy, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
	return f(params)
}

// Names lists registered strategies, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// decodeParams unmarshals raw JSON into dst and runs struct validation.
// A nil/empty payload leaves dst at its defaults.
func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode params: %w", err)
		}
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
