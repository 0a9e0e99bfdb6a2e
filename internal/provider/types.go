package provider

import "time"

// VMStatus is the lifecycle phase of a microVM as reported by the cluster.
type VMStatus string

const (
	VMStatusUnknown     VMStatus = "unknown"
	VMStatusCreating    VMStatus = "creating"
	VMStatusRunning     VMStatus = "running"
	VMStatusStopping    VMStatus = "stopping"
	VMStatusStopped     VMStatus = "stopped"
	VMStatusDeleting    VMStatus = "deleting"
	VMStatusMigrating   VMStatus = "migrating"
	VMStatusPaused      VMStatus = "paused"
	VMStatusFailed      VMStatus = "failed"
)

// VMSpec describes the microVM to create for one ticket attempt. It is the
// provider's own request shape, not a core domain type: the VM backend is
// an external collaborator the core only addresses by id (spec.md §1, §4.H).
type VMSpec struct {
	Name          string
	CPU           int
	MemoryMB      int
	DiskGB        int
	Image         string
	Labels        map[string]string
	SpecOverrides map[string]interface{}
}

// VM is the provider's view of a running or transitioning microVM.
type VM struct {
	Name      string
	Namespace string
	Cluster   string
	Status    VMStatus
	Spec      VMSpec
	CreatedAt time.Time
}

