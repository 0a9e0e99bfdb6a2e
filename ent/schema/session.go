package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Session holds the schema definition for the Session entity: a
// human-approved unit of work that produces a DAG of Tickets.
type Session struct {
	ent.Schema
}

func (Session) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
	}
}

func (Session) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			NotEmpty().
			Immutable(),
		field.String("project_id").
			Optional().
			Comment("nullable until build starts"),
		field.Enum("state").
			Values("input", "clarifying", "ready_for_docs", "reviewing", "approved", "building", "completed", "failed", "cancelled").
			Default("input"),
		field.String("project_name").
			Optional(),
		field.String("description").
			NotEmpty(),
		field.JSON("gathered", map[string]interface{}{}).
			Optional().
			Comment("per-category clarification context, deep-merged turn by turn"),
		field.JSON("draft_spec", map[string]interface{}{}).
			Optional(),
		field.JSON("final_spec", map[string]interface{}{}).
			Optional(),
		field.Int("progress").
			Default(0).
			Comment("weighted coverage percent, 0-100"),
		field.Enum("source_type").
			Values("direct", "backlog", "api").
			Default("direct"),
		field.String("repo_url").
			Optional(),
		field.JSON("analysis", map[string]interface{}{}).
			Optional(),
	}
}

func (Session) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tenant_id", "state"),
		index.Fields("project_id"),
	}
}
