package verifier

import (
	"context"
	"sync"
)

// MockAdapter implements Adapter for tests, replaying queued results in
// order like llm.MockAdapter.
type MockAdapter struct {
	mu      sync.Mutex
	results []*Result
	calls   []Request
	err     error
}

// NewMockAdapter creates a MockAdapter that replays results in order.
func NewMockAdapter(results ...*Result) *MockAdapter {
	return &MockAdapter{results: results}
}

// SetErr makes every subsequent Verify call fail with err.
func (m *MockAdapter) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockAdapter) Verify(_ context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return &Result{Status: StatusPassed}, nil
	}
	next := m.results[0]
	m.results = m.results[1:]
	return next, nil
}

// Calls returns every Request passed to Verify so far, oldest first.
func (m *MockAdapter) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.calls...)
}
