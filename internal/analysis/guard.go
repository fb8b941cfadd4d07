package analysis

import (
	"context"
	"errors"
	"sync"
)

// ErrInFlight is returned when another run already holds a document.
var ErrInFlight = errors.New("analysis already in flight")

// Guard admits at most one analysis run per document id.
type Guard interface {
	// Acquire returns a release func, or ErrInFlight when the id is held.
	Acquire(ctx context.Context, documentID string) (release func(), err error)
}

// MemoryGuard is a process-local Guard.
type MemoryGuard struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{held: make(map[string]struct{})}
}

func (g *MemoryGuard) Acquire(ctx context.Context, documentID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.held[documentID]; ok {
		return nil, ErrInFlight
	}
	g.held[documentID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.held, documentID)
			g.mu.Unlock()
		})
	}, nil
}

// Held reports whether documentID is currently held.
func (g *MemoryGuard) Held(documentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.held[documentID]
	return ok
}
