package session

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"bandbot/internal/monitoring"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("session pool closed")

// ErrQueueFull is returned when the submission queue is at capacity.
var ErrQueueFull = errors.New("session queue full")

// Pool fans session executions out over a bounded set of workers. Sessions
// never share state, so cross-session parallelism is safe; each individual
// replay stays single-threaded inside the engine.
type Pool struct {
	runner *Runner
	log    *zap.Logger
	jobs   chan string
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines consuming the queue. Worker contexts
// derive from ctx so shutting down the parent cancels in-flight replays.
func NewPool(ctx context.Context, runner *Runner, workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		runner: runner,
		log:    logger,
		jobs:   make(chan string, queueSize),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for sessionID := range p.jobs {
		monitoring.QueueDepth.Dec()
		if err := p.runner.Start(ctx, sessionID); err != nil {
			p.log.Error("session run failed",
				zap.Int("worker", id),
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
	}
}

// Submit enqueues a created session for execution. Non-blocking: a full
// queue is an error the caller reports upstream, not a stall.
func (p *Pool) Submit(sessionID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- sessionID:
		monitoring.QueueDepth.Inc()
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for in-flight sessions to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
