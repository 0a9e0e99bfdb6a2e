package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Ticket holds the schema definition for the Ticket entity: the unit of
// agent work dispatched against an isolated microVM.
type Ticket struct {
	ent.Schema
}

func (Ticket) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
	}
}

func (Ticket) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			NotEmpty().
			Immutable(),
		field.String("session_id").
			NotEmpty().
			Immutable(),
		field.String("project_id").
			Optional(),
		field.String("title").
			NotEmpty(),
		field.String("description").
			Optional(),
		field.String("parent_id").
			Optional(),
		field.Int("priority").
			Default(100).
			Comment("lower value = earlier tie-break tier"),
		field.Enum("state").
			Values("draft", "ready", "claimed", "in_progress", "review", "blocked", "hold", "completed", "failed", "cancelled").
			Default("draft"),
		field.Enum("assignee_kind").
			Values("agent", "human").
			Optional(),
		field.String("assignee_identity").
			Optional(),
		field.String("vm_id").
			Optional(),
		field.Time("lease_expiry").
			Optional().
			Nillable(),
		field.Time("last_heartbeat").
			Optional().
			Nillable(),
		field.JSON("dependencies", []string{}).
			Optional().
			Comment("set of ticket ids this ticket depends on"),
		field.String("branch_name").
			Optional(),
		field.String("pr_url").
			Optional(),
		field.JSON("acceptance_criteria", []AcceptanceCriterion{}).
			Optional(),
		field.Int("attempt").
			Default(0),
		field.Enum("verification_status").
			Values("pending", "passed", "failed", "skipped").
			Default("pending"),
		field.Int("rejection_count").
			Default(0),
		field.JSON("outputs", map[string]interface{}{}).
			Optional(),
		field.String("error_message").
			Optional(),
		field.Time("started_at").
			Optional().
			Nillable(),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

func (Ticket) Indexes() []ent.Index {
	return []ent.Index{
		// Backs claim_next_ready's row-level "skip locked" scan (spec.md §5:
		// "(state, priority, created_at) scoped by tenant").
		index.Fields("tenant_id", "state", "priority", "created_at"),
		index.Fields("session_id"),
		index.Fields("vm_id"),
		index.Fields("state", "last_heartbeat"),
	}
}

// AcceptanceCriterion is the JSON shape stored in Ticket.acceptance_criteria.
type AcceptanceCriterion struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Status string `json:"status"` // satisfied | partial | blocked
}
