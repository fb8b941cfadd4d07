// Package dispatch moves document ids from the API to analysis workers.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/telemetry"
)

var (
	ErrQueueFull = errors.New("analysis queue is full")
	ErrClosed    = errors.New("analysis queue is closed")
)

// Handler processes one document id.
type Handler func(ctx context.Context, documentID string) error

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

type job struct {
	documentID string
	requestID  string
}

// Pool is a bounded worker pool fed through a buffered channel. Ids already
// waiting in the queue are coalesced.
type Pool struct {
	cfg     PoolConfig
	handler Handler
	queue   chan job
	done    chan struct{}

	mu      sync.Mutex
	queued  map[string]struct{}
	closed  bool
	started bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPool constructs a Pool. Call Start before enqueueing.
func NewPool(cfg PoolConfig, handler Handler) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	return &Pool{
		cfg:     cfg,
		handler: handler,
		queue:   make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
		queued:  make(map[string]struct{}),
		cancel:  func() {},
	}
}

// Start launches the workers. Jobs run on a context that outlives ctx's
// cancellation until Shutdown gives up waiting.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(workerCtx)
	}
	telemetry.Info("worker.started", map[string]any{
		"workers":    p.cfg.Workers,
		"queue_size": p.cfg.QueueSize,
	})
}

// Enqueue queues documentID without blocking.
func (p *Pool) Enqueue(ctx context.Context, documentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		metrics.IncDispatchRejected("closed")
		return ErrClosed
	}
	if _, ok := p.queued[documentID]; ok {
		return nil
	}
	select {
	case p.queue <- job{documentID: documentID, requestID: telemetry.RequestID(ctx)}:
		p.queued[documentID] = struct{}{}
		metrics.SetQueueDepth(len(p.queue))
		return nil
	default:
		metrics.IncDispatchRejected("queue_full")
		return ErrQueueFull
	}
}

// EnqueueWait queues documentID, waiting for capacity until ctx is done or
// the pool shuts down.
func (p *Pool) EnqueueWait(ctx context.Context, documentID string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	if _, ok := p.queued[documentID]; ok {
		p.mu.Unlock()
		return nil
	}
	p.queued[documentID] = struct{}{}
	p.mu.Unlock()

	j := job{documentID: documentID, requestID: telemetry.RequestID(ctx)}
	select {
	case p.queue <- j:
		metrics.SetQueueDepth(len(p.queue))
		return nil
	case <-ctx.Done():
		p.forget(documentID)
		return ctx.Err()
	case <-p.done:
		p.forget(documentID)
		return ErrClosed
	}
}

// Len reports the number of queued ids.
func (p *Pool) Len() int {
	return len(p.queue)
}

// Shutdown stops intake, lets workers drain the queue and waits for them.
// When ctx ends first, running jobs are cancelled and ctx.Err is returned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	p.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"queued": len(p.queue)})
		return ctx.Err()
	}
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case j := <-p.queue:
			p.process(ctx, j)
		case <-p.done:
			for {
				select {
				case j := <-p.queue:
					p.process(ctx, j)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, j job) {
	p.forget(j.documentID)
	metrics.SetQueueDepth(len(p.queue))

	defer func() {
		if r := recover(); r != nil {
			telemetry.Error("worker.panic", map[string]any{
				"document_id": j.documentID,
				"request_id":  j.requestID,
				"panic":       r,
			})
		}
	}()

	if err := p.handler(telemetry.WithRequestID(ctx, j.requestID), j.documentID); err != nil {
		telemetry.Warn("worker.job_failed", map[string]any{
			"document_id": j.documentID,
			"request_id":  j.requestID,
			"error":       err,
		})
	}
}

func (p *Pool) forget(documentID string) {
	p.mu.Lock()
	delete(p.queued, documentID)
	p.mu.Unlock()
}
