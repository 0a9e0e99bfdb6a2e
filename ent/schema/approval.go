package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Approval holds the schema definition for a recorded human decision
// against a Session (spec approval, build start confirmation, or a
// revision request).
type Approval struct {
	ent.Schema
}

func (Approval) Mixin() []ent.Mixin {
	return []ent.Mixin{
		AuditMixin{},
	}
}

func (Approval) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("session_id").
			NotEmpty().
			Immutable(),
		field.Enum("kind").
			Values("spec_approval", "build_start", "revision_request").
			Immutable(),
		field.String("approver").
			NotEmpty().
			Immutable(),
		field.String("ip").
			Optional().
			Immutable(),
		field.String("user_agent").
			Optional().
			Immutable(),
		field.JSON("data", map[string]interface{}{}).
			Optional().
			Immutable(),
	}
}

func (Approval) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "kind"),
	}
}
