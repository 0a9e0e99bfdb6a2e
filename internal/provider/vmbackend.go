package provider

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/pkg/logger"
)

// JobContext is what the Dispatcher hands the VM backend when spawning a
// ticket's microVM (spec.md §4.E step 3, §4.H): the ticket id, acceptance
// criteria, a repository reference, and credentials addressed by name, never
// by value.
type JobContext struct {
	TicketID           string
	Cluster            string
	Namespace          string
	Image              string
	CPU                int
	MemoryMB           int
	DiskGB             int
	AcceptanceCriteria []string
	RepoRef            string
	CredentialNames    []string
}

// Instance is what Spawn returns: an address the agent-runner can be reached
// at, and an opaque handle Teardown accepts later.
type Instance struct {
	VMID           string
	Endpoint       string
	TeardownHandle string
}

// HealthStatus is the outcome of a Health probe.
type HealthStatus string

const (
	HealthReady      HealthStatus = "ready"
	HealthProvisioning HealthStatus = "provisioning"
	HealthUnreachable  HealthStatus = "unreachable"
)

// Health is the result of a Health probe against a spawned instance.
type Health struct {
	Status HealthStatus
	Error  string
}

// Backend is the narrow VM-backend collaborator the Dispatcher invokes
// (spec.md §4.H): spawn(job_context) -> {vm_id, endpoint, teardown_handle},
// teardown(handle), health(vm_id). Implemented here on top of the KubeVirt
// client/mapper Anti-Corruption Layer; a separate MockBackend backs tests.
type Backend interface {
	Spawn(ctx context.Context, job JobContext) (*Instance, error)
	Teardown(ctx context.Context, handle string) error
	Health(ctx context.Context, vmID string) (Health, error)
}

// vmID is a composite identifier (cluster/namespace/name) so Teardown and
// Health can address a microVM without the core holding a pointer graph
// (spec.md §9 "cyclic references... are id-only lookups").
func encodeVMID(cluster, namespace, name string) string {
	return cluster + "/" + namespace + "/" + name
}

func decodeVMID(id string) (cluster, namespace, name string, err error) {
	parts := strings.SplitN(id, "/", 3)
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("malformed vm id %q", id)
	}
	return parts[0], parts[1], parts[2], nil
}

// KubeVirtBackend adapts KubeVirtProviderImpl to the Backend contract the
// Dispatcher uses, naming the job's microVM after its ticket.
type KubeVirtBackend struct {
	provider *KubeVirtProviderImpl
}

// NewKubeVirtBackend wraps an already-constructed KubeVirtProviderImpl.
func NewKubeVirtBackend(provider *KubeVirtProviderImpl) *KubeVirtBackend {
	return &KubeVirtBackend{provider: provider}
}

// Spawn creates a microVM for one ticket attempt and returns its address.
// The ticket id, repo reference, and credential names travel in as pod
// labels / spec overrides so the agent inside the VM can self-configure
// without the core ever holding a credential value (spec.md §4.E step 3).
func (b *KubeVirtBackend) Spawn(ctx context.Context, job JobContext) (*Instance, error) {
	name := vmNameForTicket(job.TicketID)
	labels := map[string]string{
		"swarm.io/ticket-id": job.TicketID,
	}
	overrides := map[string]interface{}{
		"spec.template.metadata.annotations": map[string]interface{}{
			"swarm.io/repo-ref":         job.RepoRef,
			"swarm.io/credential-names": strings.Join(job.CredentialNames, ","),
		},
	}

	vm, err := b.provider.CreateVM(ctx, job.Cluster, job.Namespace, &VMSpec{
		Name:          name,
		CPU:           job.CPU,
		MemoryMB:      job.MemoryMB,
		DiskGB:        job.DiskGB,
		Image:         job.Image,
		Labels:        labels,
		SpecOverrides: overrides,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn vm for ticket %s: %w", job.TicketID, err)
	}

	id := encodeVMID(job.Cluster, job.Namespace, vm.Name)
	logger.Info("vm spawned",
		zap.String("ticket_id", job.TicketID),
		zap.String("vm_id", id),
	)
	return &Instance{
		VMID:           id,
		Endpoint:       fmt.Sprintf("http://%s.%s.svc:8080", vm.Name, job.Namespace),
		TeardownHandle: id,
	}, nil
}

// Teardown deletes the microVM addressed by handle. It is called when a
// freshly spawned VM fails its health check and on ticket cancellation
// (spec.md §4.E "Cancellation"); normal completion does not tear down the VM.
func (b *KubeVirtBackend) Teardown(ctx context.Context, handle string) error {
	cluster, namespace, name, err := decodeVMID(handle)
	if err != nil {
		return err
	}
	if err := b.provider.DeleteVM(ctx, cluster, namespace, name); err != nil {
		return fmt.Errorf("teardown vm %s: %w", handle, err)
	}
	return nil
}

// Health probes the microVM's current status. The Dispatcher calls this
// after Spawn to decide when to move the ticket to in_progress.
func (b *KubeVirtBackend) Health(ctx context.Context, vmID string) (Health, error) {
	cluster, namespace, name, err := decodeVMID(vmID)
	if err != nil {
		return Health{}, err
	}
	vm, err := b.provider.GetVM(ctx, cluster, namespace, name)
	if err != nil {
		return Health{Status: HealthUnreachable, Error: err.Error()}, nil
	}
	switch vm.Status {
	case VMStatusRunning:
		return Health{Status: HealthReady}, nil
	case VMStatusFailed:
		return Health{Status: HealthUnreachable, Error: "vm reported failed status"}, nil
	default:
		return Health{Status: HealthProvisioning}, nil
	}
}

func vmNameForTicket(ticketID string) string {
	id := strings.ToLower(ticketID)
	id = strings.ReplaceAll(id, "_", "-")
	return "swarm-job-" + id
}
