package provider

import (
	"fmt"

	kubevirtv1 "kubevirt.io/api/core/v1"
)

// KubeVirtMapper maps between KubeVirt K8s types and domain types.
// Anti-Corruption Layer: isolates domain logic from K8s API changes.
type KubeVirtMapper struct{}

// NewKubeVirtMapper creates a new KubeVirtMapper.
func NewKubeVirtMapper() *KubeVirtMapper {
	return &KubeVirtMapper{}
}

// MapVM maps a KubeVirt VirtualMachine (and optional VMI) to a domain VM.
// Defensive programming: all pointer fields must check nil.
func (m *KubeVirtMapper) MapVM(vm *kubevirtv1.VirtualMachine, vmi *kubevirtv1.VirtualMachineInstance) (*VM, error) {
	if vm == nil {
		return nil, fmt.Errorf("mapper: vm is nil")
	}
	if vm.Name == "" || vm.Namespace == "" {
		return nil, fmt.Errorf("mapper: vm name or namespace is empty")
	}

	status := mapVMStatus(vm, vmi)
	spec := mapVMSpec(vm)

	result := &VM{
		Name:      vm.Name,
		Namespace: vm.Namespace,
		Status:    status,
		Spec:      spec,
	}

	// Extract creation timestamp
	if !vm.CreationTimestamp.IsZero() {
		result.CreatedAt = vm.CreationTimestamp.Time
	}

	// Extract cluster from labels (VMs created by Spawn do not carry this label)
	if vm.Labels != nil {
		if cluster, ok := vm.Labels["kubevirt-shepherd.io/cluster"]; ok {
			result.Cluster = cluster
		}
	}

	return result, nil
}

// mapVMStatus extracts VM status from K8s objects.
func mapVMStatus(vm *kubevirtv1.VirtualMachine, vmi *kubevirtv1.VirtualMachineInstance) VMStatus {
	if vm.Status.PrintableStatus != "" {
		switch vm.Status.PrintableStatus {
		case kubevirtv1.VirtualMachineStatusRunning:
			return VMStatusRunning
		case kubevirtv1.VirtualMachineStatusStopped:
			return VMStatusStopped
		case kubevirtv1.VirtualMachineStatusStopping:
			return VMStatusStopping
		case kubevirtv1.VirtualMachineStatusProvisioning:
			return VMStatusCreating
		case kubevirtv1.VirtualMachineStatusTerminating:
			return VMStatusDeleting
		case kubevirtv1.VirtualMachineStatusMigrating:
			return VMStatusMigrating
		case kubevirtv1.VirtualMachineStatusPaused:
			return VMStatusPaused
		}
	}

	// Fallback: check VMI phase
	if vmi != nil {
		switch vmi.Status.Phase {
		case kubevirtv1.Running:
			return VMStatusRunning
		case kubevirtv1.Scheduling, kubevirtv1.Scheduled, kubevirtv1.Pending:
			return VMStatusCreating
		case kubevirtv1.Failed:
			return VMStatusFailed
		}
	}

	// Check if VM is stopped (running=false)
	if vm.Spec.Running != nil && !*vm.Spec.Running {
		return VMStatusStopped
	}

	return VMStatusUnknown
}

// mapVMSpec extracts resource spec from VM.
func mapVMSpec(vm *kubevirtv1.VirtualMachine) VMSpec {
	spec := VMSpec{}

	if vm.Spec.Template == nil {
		return spec
	}

	domainRes := vm.Spec.Template.Spec.Domain.Resources

	// CPU
	if req, ok := domainRes.Requests["cpu"]; ok {
		spec.CPU = int(req.Value())
	}

	// Memory
	if req, ok := domainRes.Requests["memory"]; ok {
		spec.MemoryMB = int(req.Value() / (1024 * 1024))
	}

	// Labels
	if vm.Spec.Template.ObjectMeta.Labels != nil {
		spec.Labels = vm.Spec.Template.ObjectMeta.Labels
	}

	return spec
}
