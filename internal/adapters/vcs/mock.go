package vcs

import (
	"context"
	"fmt"
	"sync"
)

// MockAdapter implements Adapter in memory for tests, mirroring the llm
// package's MockAdapter shape.
type MockAdapter struct {
	mu       sync.Mutex
	prURLs   []string
	nextSeq  int
	cloneErr error
	prErr    error
}

// NewMockAdapter creates an empty MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// SetCloneErr makes every subsequent Clone call fail with err.
func (m *MockAdapter) SetCloneErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cloneErr = err
}

// SetOpenPRErr makes every subsequent OpenPR call fail with err.
func (m *MockAdapter) SetOpenPRErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prErr = err
}

func (m *MockAdapter) Clone(_ context.Context, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cloneErr
}

func (m *MockAdapter) Branch(_ context.Context, _, _ string) error { return nil }

func (m *MockAdapter) Commit(_ context.Context, _, _ string) error { return nil }

func (m *MockAdapter) Push(_ context.Context, _, _ string) error { return nil }

func (m *MockAdapter) OpenPR(_ context.Context, owner, repo, _, _, head, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prErr != nil {
		return "", m.prErr
	}
	m.nextSeq++
	url := fmt.Sprintf("https://mock.forge/%s/%s/pulls/%d", owner, repo, m.nextSeq)
	m.prURLs = append(m.prURLs, url)
	_ = head
	return url, nil
}

// PRURLs returns every PR URL returned so far, oldest first.
func (m *MockAdapter) PRURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prURLs...)
}
