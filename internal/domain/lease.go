package domain

import "time"

// Lease is a derived view of (ticket_id, vm_id, expires_at, last_heartbeat)
// for in-flight work. It is never persisted on its own — it is always
// projected from a Ticket row (spec.md §3).
type Lease struct {
	TicketID      string
	VMID          string
	ExpiresAt     time.Time
	LastHeartbeat time.Time
}

// LeaseFromTicket projects a Lease from a Ticket currently holding a VM.
// Returns false if the ticket does not currently hold a lease.
func LeaseFromTicket(t *Ticket) (Lease, bool) {
	if t.VMID == "" || t.LeaseExpiry == nil {
		return Lease{}, false
	}
	lease := Lease{
		TicketID:  t.ID,
		VMID:      t.VMID,
		ExpiresAt: *t.LeaseExpiry,
	}
	if t.LastHeartbeat != nil {
		lease.LastHeartbeat = *t.LastHeartbeat
	}
	return lease, true
}

// Expired reports whether the lease deadline has passed as of now.
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}
