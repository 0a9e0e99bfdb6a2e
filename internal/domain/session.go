package domain

import "time"

// SessionState is the state of a Session's lifecycle.
type SessionState string

const (
	SessionInput         SessionState = "input"
	SessionClarifying    SessionState = "clarifying"
	SessionReadyForDocs  SessionState = "ready_for_docs"
	SessionReviewing     SessionState = "reviewing"
	SessionApproved      SessionState = "approved"
	SessionBuilding      SessionState = "building"
	SessionCompleted     SessionState = "completed"
	SessionFailed        SessionState = "failed"
	SessionCancelled     SessionState = "cancelled"
)

func (s SessionState) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled:
		return true
	default:
		return false
	}
}

// SessionSourceType is how a session was initiated.
type SessionSourceType string

const (
	SourceDirect  SessionSourceType = "direct"
	SourceBacklog SessionSourceType = "backlog"
	SourceAPI     SessionSourceType = "api"
)

// Actor is who triggered a session or ticket transition.
type Actor string

const (
	ActorUser   Actor = "user"
	ActorSystem Actor = "system"
	ActorAI     Actor = "ai"
)

// SessionTransition is one row of the table in spec.md §4.C.
type SessionTransition struct {
	From    SessionState
	To      SessionState
	Trigger string
	Actor   Actor
}

// SessionTransitions is the allowed-transition table for Session.State.
// "any non-terminal -> cancelled" is handled separately by CanTransitionSession.
var SessionTransitions = map[SessionState][]SessionState{
	SessionInput:        {SessionClarifying},
	SessionClarifying:   {SessionClarifying, SessionReadyForDocs},
	SessionReadyForDocs: {SessionReviewing},
	SessionReviewing:    {SessionReviewing, SessionApproved},
	SessionApproved:     {SessionBuilding},
	SessionBuilding:     {SessionCompleted, SessionFailed},
}

// CanTransitionSession reports whether a session may move from `from` to
// `to`, including the blanket "any non-terminal -> cancelled" rule.
func CanTransitionSession(from, to SessionState) bool {
	if to == SessionCancelled {
		return !from.Terminal()
	}
	for _, allowed := range SessionTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CategoryWeights maps each clarification category to its scoring weight,
// per spec.md §4.C.
var CategoryWeights = map[string]int{
	"project_type": 20,
	"tech_stack":   25,
	"scale":        15,
	"features":     25,
	"constraints":  15,
}

// Session is a human-approved unit of work producing a DAG of Tickets.
type Session struct {
	ID           string
	TenantID     string
	ProjectID    string
	State        SessionState
	ProjectName  string
	Description  string
	Gathered     map[string]interface{}
	DraftSpec    map[string]interface{}
	FinalSpec    map[string]interface{}
	Progress     int
	SourceType   SessionSourceType
	RepoURL      string
	Analysis     map[string]interface{}
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GeneratedSpec is the structured blob produced by spec generation,
// spec.md §4.C.
type GeneratedSpec struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Goals      []string `json:"goals"`
	Features   []string `json:"features"`
	NonGoals   []string `json:"non_goals"`
	Risks      []string `json:"risks"`
	Acceptance []string `json:"acceptance"`
}
