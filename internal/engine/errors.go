package engine

import (
	"errors"
	"fmt"
)

// ConfigurationError rejects a session before any candle is processed.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Msg }

// DataIntegrityError aborts a running replay; partial results up to the
// failure point remain valid and must still be persisted.
type DataIntegrityError struct {
	Index int
	Msg   string
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("data integrity at candle %d: %s", e.Index, e.Msg)
}

// ErrCancelled marks a cooperative cancellation between candle steps. Not a
// failure: partial results are flushed with a cancelled status.
var ErrCancelled = errors.New("backtest cancelled")

func configErrf(format string, args ...any) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}
