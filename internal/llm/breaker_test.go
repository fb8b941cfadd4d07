package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"document-backend/internal/shared/resilience"
)

type stubClient struct {
	calls int
	res   Result
	err   error
}

func (s *stubClient) Summarize(context.Context, string) (Result, error) {
	s.calls++
	return s.res, s.err
}

func newTestExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		MaxAttempts:         1,
		BreakerEnabled:      true,
		BreakerMinRequests:  2,
		BreakerFailureRatio: 0.5,
		BreakerOpenTimeout:  time.Minute,
	})
}

func TestBreakerPassesResultThrough(t *testing.T) {
	stub := &stubClient{res: Result{Summary: "ok", KeyPhrases: []string{"a"}, Sentiment: "neutral"}}
	b := NewBreaker(stub, "openai", newTestExecutor())

	res, err := b.Summarize(context.Background(), "text")
	require.NoError(t, err)
	require.Equal(t, "ok", res.Summary)
	require.Equal(t, 1, stub.calls)
}

func TestBreakerOpensOnOutagesWithoutRetrying(t *testing.T) {
	stub := &stubClient{err: errors.New("connection refused")}
	b := NewBreaker(stub, "openai", newTestExecutor())

	for i := 0; i < 2; i++ {
		_, err := b.Summarize(context.Background(), "text")
		var ce *ClientError
		require.ErrorAs(t, err, &ce)
	}
	require.Equal(t, 2, stub.calls)

	_, err := b.Summarize(context.Background(), "text")
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 2, stub.calls, "open breaker must not reach the provider")
}

func TestBreakerIgnoresMalformedReplies(t *testing.T) {
	stub := &stubClient{err: &ClientError{Provider: "openai", Err: ErrMalformedResponse}}
	b := NewBreaker(stub, "openai", newTestExecutor())

	for i := 0; i < 4; i++ {
		_, err := b.Summarize(context.Background(), "text")
		require.ErrorIs(t, err, ErrMalformedResponse)
	}
	require.Equal(t, 4, stub.calls)
}
