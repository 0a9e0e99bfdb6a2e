package provider

import (
	"context"
	"fmt"
	"sync"
)

// MockBackend implements Backend in memory for Dispatcher tests (no K8s
// cluster required).
type MockBackend struct {
	mu        sync.Mutex
	instances map[string]*Instance
	health    map[string]Health
	spawnErr  error
	nextSeq   int
}

// NewMockBackend creates an empty MockBackend; every spawned instance
// defaults to HealthReady until SetHealth overrides it.
func NewMockBackend() *MockBackend {
	return &MockBackend{
		instances: make(map[string]*Instance),
		health:    make(map[string]Health),
	}
}

// SetSpawnErr makes the next Spawn calls fail with err until cleared.
func (m *MockBackend) SetSpawnErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawnErr = err
}

// SetHealth overrides the Health result for a given vm id.
func (m *MockBackend) SetHealth(vmID string, h Health) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health[vmID] = h
}

func (m *MockBackend) Spawn(_ context.Context, job JobContext) (*Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.spawnErr != nil {
		return nil, m.spawnErr
	}
	m.nextSeq++
	id := fmt.Sprintf("mock-vm-%d", m.nextSeq)
	inst := &Instance{VMID: id, Endpoint: "http://" + id + ".mock:8080", TeardownHandle: id}
	m.instances[id] = inst
	m.health[id] = Health{Status: HealthReady}
	return inst, nil
}

func (m *MockBackend) Teardown(_ context.Context, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[handle]; !ok {
		return fmt.Errorf("mock backend: unknown handle %q", handle)
	}
	delete(m.instances, handle)
	delete(m.health, handle)
	return nil
}

func (m *MockBackend) Health(_ context.Context, vmID string) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[vmID]
	if !ok {
		return Health{Status: HealthUnreachable, Error: "vm not found"}, nil
	}
	return h, nil
}
