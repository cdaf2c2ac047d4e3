// Package notify publishes session lifecycle events over NATS JetStream so
// downstream consumers (dashboards, alerting) see completions without polling
// the database.
package notify

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"bandbot/internal/store"
)

const (
	streamName     = "BACKTEST"
	subjectPattern = "backtest.session.*"
)

// CompletionMessage is the published payload.
type CompletionMessage struct {
	SessionID    string               `json:"session_id"`
	Symbol       string               `json:"symbol"`
	StrategyName string               `json:"strategy_name"`
	Status       string               `json:"status"`
	Metrics      *store.MetricsRecord `json:"metrics,omitempty"`
}

// NATSNotifier publishes to backtest.session.<status>.
type NATSNotifier struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

func NewNATSNotifier(url string, logger *zap.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPattern},
	})
	if err != nil {
		_, err = js.UpdateStream(&nats.StreamConfig{
			Name:     streamName,
			Subjects: []string{subjectPattern},
		})
		if err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}
	return &NATSNotifier{nc: nc, js: js, log: logger}, nil
}

func (n *NATSNotifier) SessionFinished(ctx context.Context, sess *store.Session, metrics *store.MetricsRecord) error {
	msg := CompletionMessage{
		SessionID:    sess.ID,
		Symbol:       sess.Symbol,
		StrategyName: sess.StrategyName,
		Status:       sess.Status,
		Metrics:      metrics,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	subject := fmt.Sprintf("backtest.session.%s", sess.Status)
	if _, err := n.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	n.log.Debug("session completion published",
		zap.String("subject", subject),
		zap.String("session_id", sess.ID))
	return nil
}

func (n *NATSNotifier) Close() {
	n.nc.Close()
}
