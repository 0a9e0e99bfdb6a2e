package domain

import "time"

// ApprovalKind is the category of human decision recorded against a Session.
type ApprovalKind string

const (
	ApprovalSpecApproval    ApprovalKind = "spec_approval"
	ApprovalBuildStart      ApprovalKind = "build_start"
	ApprovalRevisionRequest ApprovalKind = "revision_request"
)

// Approval is a recorded human decision against a Session.
type Approval struct {
	ID        string
	SessionID string
	Kind      ApprovalKind
	Approver  string
	IP        string
	UserAgent string
	Data      map[string]interface{}
	CreatedAt time.Time
}
