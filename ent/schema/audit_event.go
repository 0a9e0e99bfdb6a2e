package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AuditEvent holds the schema definition for the append-only audit record
// named `Event` in the system's data model. Named AuditEvent in code to
// avoid colliding with the Go stdlib/ent "Event" vocabulary elsewhere in
// this package.
type AuditEvent struct {
	ent.Schema
}

func (AuditEvent) Mixin() []ent.Mixin {
	return []ent.Mixin{
		AuditMixin{},
	}
}

func (AuditEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("session_id").
			Optional().
			Immutable(),
		field.String("ticket_id").
			Optional().
			Immutable(),
		field.String("from_state").
			Optional().
			Immutable(),
		field.String("to_state").
			Optional().
			Immutable(),
		field.String("action").
			NotEmpty().
			Immutable(),
		field.Enum("actor").
			Values("user", "system", "ai").
			Immutable(),
		field.String("actor_id").
			Optional().
			Immutable(),
		field.JSON("metadata", map[string]interface{}{}).
			Optional().
			Immutable(),
	}
}

func (AuditEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "created_at"),
		index.Fields("ticket_id", "created_at"),
	}
}
