package llm

import (
	"context"
	"sync"
)

// MockAdapter implements Adapter for testing without a live provider.
type MockAdapter struct {
	mu        sync.Mutex
	responses []*Result
	calls     []Message
	err       error
}

// NewMockAdapter creates a MockAdapter that replays responses in order.
func NewMockAdapter(responses ...*Result) *MockAdapter {
	return &MockAdapter{responses: responses}
}

// SetErr makes every subsequent Complete call fail with err.
func (m *MockAdapter) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MockAdapter) Complete(_ context.Context, _ string, messages []Message, _ int, _ string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(messages) > 0 {
		m.calls = append(m.calls, messages[len(messages)-1])
	}
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &Result{Text: "{}"}, nil
	}
	next := m.responses[0]
	m.responses = m.responses[1:]
	return next, nil
}

// Calls returns the last message of each Complete invocation, oldest first.
func (m *MockAdapter) Calls() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.calls...)
}
