package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Project holds the schema definition for the Project entity referenced
// by project_id on both Session and Ticket: enough identity to resolve a
// VCS repository reference and to group tenant-scoped concurrency.
type Project struct {
	ent.Schema
}

func (Project) Mixin() []ent.Mixin {
	return []ent.Mixin{
		TimeMixin{},
	}
}

func (Project) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			Unique().
			Immutable(),
		field.String("tenant_id").
			NotEmpty().
			Immutable(),
		field.String("name").
			NotEmpty(),
		field.String("repo_url").
			Optional(),
	}
}

func (Project) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("tenant_id"),
	}
}
