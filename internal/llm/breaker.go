package llm

import (
	"context"
	"errors"

	"document-backend/internal/shared/metrics"
	"document-backend/internal/shared/resilience"
)

// Breaker guards a Client with a circuit breaker and records call outcomes.
// It never retries.
type Breaker struct {
	next     Client
	provider string
	exec     *resilience.Executor
}

// NewBreaker wraps next. exec should be configured for a single attempt.
func NewBreaker(next Client, provider string, exec *resilience.Executor) *Breaker {
	return &Breaker{next: next, provider: provider, exec: exec}
}

func (b *Breaker) Summarize(ctx context.Context, text string) (Result, error) {
	var res Result
	err := b.exec.Execute(ctx, "llm."+b.provider, func(ctx context.Context) error {
		var err error
		res, err = b.next.Summarize(ctx, text)
		return err
	}, classify)

	switch {
	case err == nil:
		metrics.IncProviderCall(b.provider, "ok")
		return res, nil
	case resilience.IsCircuitOpen(err):
		metrics.IncProviderCall(b.provider, "circuit_open")
		return Result{}, &ClientError{Provider: b.provider, Err: errors.Join(ErrCircuitOpen, err)}
	case errors.Is(err, ErrTimeout):
		metrics.IncProviderCall(b.provider, "timeout")
	default:
		metrics.IncProviderCall(b.provider, "error")
	}
	return Result{}, NewClientError(b.provider, err)
}

// classify counts provider outages against the breaker but not bad replies,
// missing keys or caller cancellation.
func classify(err error) resilience.Class {
	switch {
	case errors.Is(err, ErrMalformedResponse), errors.Is(err, ErrNotConfigured), errors.Is(err, context.Canceled):
		return resilience.Class{}
	default:
		return resilience.Class{RecordFailure: true}
	}
}
