package completion

import (
	"context"
	"errors"
	"sync"
)

// Stub is a deterministic in-process Client for tests and local runs.
// Responses are returned in order; Fn, when set, takes precedence.
type Stub struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Fn        func(req Request) (string, error)

	calls []Request
	idx   int
}

func (s *Stub) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if s.Fn != nil {
		return s.Fn(req)
	}
	if s.Err != nil {
		return "", s.Err
	}
	if s.idx >= len(s.Responses) {
		return "", errors.New("stub: no response left")
	}
	out := s.Responses[s.idx]
	s.idx++
	return out, nil
}

// Calls returns a copy of every request seen so far.
func (s *Stub) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}
