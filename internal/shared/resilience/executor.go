package resilience

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"document-backend/internal/shared/telemetry"
)

// Class tells the executor how to treat an error returned by an operation.
type Class struct {
	Retryable     bool
	RecordFailure bool
}

// Classifier maps an operation error to a Class.
type Classifier func(err error) Class

// Config bounds attempts and configures the per-operation circuit breakers.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	BreakerEnabled      bool
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
	BreakerHalfOpenMax  uint32
}

// DefaultConfig runs each operation once behind a breaker.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         1,
		InitialBackoff:      100 * time.Millisecond,
		MaxBackoff:          time.Second,
		Multiplier:          2,
		BreakerEnabled:      true,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.6,
		BreakerOpenTimeout:  30 * time.Second,
		BreakerHalfOpenMax:  1,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	if c.BreakerMinRequests == 0 {
		c.BreakerMinRequests = def.BreakerMinRequests
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		c.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if c.BreakerHalfOpenMax == 0 {
		c.BreakerHalfOpenMax = def.BreakerHalfOpenMax
	}
	return c
}

// Executor runs named operations through a circuit breaker per name.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
}

// NewExecutor constructs an Executor.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}]),
	}
}

// Execute runs fn under the breaker registered for operation.
func (e *Executor) Execute(ctx context.Context, operation string, fn func(context.Context) error, classify Classifier) error {
	if fn == nil {
		return errors.New("resilience: nil operation")
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	if classify == nil {
		classify = RecordAll
	}
	if !e.cfg.BreakerEnabled {
		return e.attempt(ctx, op, fn, classify)
	}
	cb := e.breaker(op, classify)
	_, err := cb.Execute(func() (struct{}, error) {
		return struct{}{}, e.attempt(ctx, op, fn, classify)
	})
	return err
}

func (e *Executor) attempt(ctx context.Context, op string, fn func(context.Context) error, classify Classifier) error {
	backoff := e.cfg.InitialBackoff
	var err error
	for n := 1; n <= e.cfg.MaxAttempts; n++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !classify(err).Retryable || n == e.cfg.MaxAttempts {
			return err
		}
		wait := min(backoff, e.cfg.MaxBackoff)
		telemetry.Warn("resilience.retry", map[string]any{
			"operation":  op,
			"attempt":    n,
			"backoff_ms": wait.Milliseconds(),
			"error":      err.Error(),
		})
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * e.cfg.Multiplier)
	}
	return err
}

func (e *Executor) breaker(op string, classify Classifier) *gobreaker.CircuitBreaker[struct{}] {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[op]; ok {
		return cb
	}
	cfg := e.cfg
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        op,
		MaxRequests: cfg.BreakerHalfOpenMax,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.BreakerMinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !classify(err).RecordFailure
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			telemetry.Warn("resilience.breaker_state", map[string]any{
				"operation": name,
				"from":      from.String(),
				"to":        to.String(),
			})
		},
	})
	e.breakers[op] = cb
	return cb
}

// IsCircuitOpen reports whether err came from an open or saturated breaker.
func IsCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// RecordAll counts every error against the breaker and never retries.
func RecordAll(error) Class {
	return Class{RecordFailure: true}
}

// IgnoreContext does not count caller cancellation as a dependency failure.
func IgnoreContext(err error) Class {
	if errors.Is(err, context.Canceled) {
		return Class{}
	}
	return Class{RecordFailure: true}
}

func (c Class) String() string {
	return fmt.Sprintf("retryable=%t record=%t", c.Retryable, c.RecordFailure)
}
