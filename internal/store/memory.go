package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bandbot/internal/market"
)

// MemoryStore keeps everything in maps behind one mutex. Used by the CLI
// runner and the test suite; the server wires ClickHouse instead.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	trades   map[string][]TradeRecord
	events   map[string][]EventRecord
	equity   map[string][]EquityRecord
	metrics  map[string]*MetricsRecord
	klines   map[string][]market.Candle
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*Session{},
		trades:   map[string][]TradeRecord{},
		events:   map[string][]EventRecord{},
		equity:   map[string][]EquityRecord{},
		metrics:  map[string]*MetricsRecord{},
		klines:   map[string][]market.Candle{},
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) UpdateSessionStatus(_ context.Context, id, status, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("session %s not found", id)
	}
	sess.Status = status
	sess.ErrorMessage = errorMessage
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, limit int) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertTrades(_ context.Context, sessionID string, trades []TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades[sessionID] = append(s.trades[sessionID], trades...)
	return nil
}

func (s *MemoryStore) ListTrades(_ context.Context, sessionID string) ([]TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TradeRecord, len(s.trades[sessionID]))
	copy(out, s.trades[sessionID])
	return out, nil
}

func (s *MemoryStore) InsertEvents(_ context.Context, sessionID string, events []EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[sessionID] = append(s.events[sessionID], events...)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, sessionID string) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EventRecord, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	return out, nil
}

func (s *MemoryStore) InsertEquity(_ context.Context, sessionID string, points []EquityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equity[sessionID] = append(s.equity[sessionID], points...)
	return nil
}

func (s *MemoryStore) ListEquity(_ context.Context, sessionID string) ([]EquityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EquityRecord, len(s.equity[sessionID]))
	copy(out, s.equity[sessionID])
	return out, nil
}

func (s *MemoryStore) UpsertMetrics(_ context.Context, m *MetricsRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.metrics[m.SessionID] = &cp
	return nil
}

func (s *MemoryStore) GetMetrics(_ context.Context, sessionID string) (*MetricsRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[sessionID]
	if !ok {
		return nil, fmt.Errorf("metrics for session %s not found", sessionID)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) InsertKlines(_ context.Context, sessionID string, candles []market.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.klines[sessionID] = append(s.klines[sessionID], candles...)
	sort.Slice(s.klines[sessionID], func(i, j int) bool {
		return s.klines[sessionID][i].Timestamp < s.klines[sessionID][j].Timestamp
	})
	return nil
}

func (s *MemoryStore) LoadKlines(_ context.Context, sessionID, _ string, startTs, endTs int64) ([]market.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []market.Candle
	for _, c := range s.klines[sessionID] {
		if startTs > 0 && c.Timestamp < startTs {
			continue
		}
		if endTs > 0 && c.Timestamp > endTs {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
