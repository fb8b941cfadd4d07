package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Checker probes one dependency and returns nil when it is reachable.
type Checker func(ctx context.Context) error

// Service runs the registered dependency checks behind /health.
type Service struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	timeout time.Duration
}

// NewService constructs a health service with no checks registered.
func NewService() *Service {
	return &Service{checks: make(map[string]Checker), timeout: defaultCheckTimeout}
}

// Register adds a named check. A later registration under the same name wins.
func (s *Service) Register(name string, check Checker) {
	if check == nil {
		return
	}
	s.mu.Lock()
	s.checks[name] = check
	s.mu.Unlock()
}

// Status runs every check concurrently. ok is false when any check fails;
// failures maps the failing check names to their errors.
func (s *Service) Status(ctx context.Context) (ok bool, failures map[string]string) {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]Checker, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	errs := make([]error, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Checker) {
			defer wg.Done()
			errs[i] = check(ctx)
		}(i, check)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if failures == nil {
			failures = make(map[string]string)
		}
		failures[names[i]] = err.Error()
	}
	return len(failures) == 0, failures
}
