package llm

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a Client that replays canned responses in order.
// It records every request it receives, for assertions in tests.
type Scripted struct {
	mu        sync.Mutex
	Responses []Response
	Err       error
	Requests  []Request
	next      int
}

// Complete returns the next scripted response, or Err if set.
// Once the script is exhausted the last response is repeated.
func (s *Scripted) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)
	if s.Err != nil {
		return nil, s.Err
	}
	if len(s.Responses) == 0 {
		return nil, fmt.Errorf("scripted client has no responses")
	}

	idx := s.next
	if idx >= len(s.Responses) {
		idx = len(s.Responses) - 1
	}
	s.next++
	resp := s.Responses[idx]
	return &resp, nil
}

// CallCount returns the number of Complete invocations so far.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

var _ Client = (*Scripted)(nil)
