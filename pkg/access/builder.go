package access

import "github.com/ekaya-inc/ekaya-gallery/pkg/models"

// Extension contributes an additional way to grant access. The returned clause
// is OR'ed into the built predicate; return nil to contribute nothing. Because
// the clause is built from the same node types, every backend applies it the
// same way.
type Extension interface {
	Clause(p Principal, intent Intent) Expr
}

// ExtensionFunc adapts a function to Extension.
type ExtensionFunc func(p Principal, intent Intent) Expr

// Clause implements Extension.
func (f ExtensionFunc) Clause(p Principal, intent Intent) Expr { return f(p, intent) }

// Builder turns principals into permission predicates.
type Builder struct {
	extensions []Extension
}

// NewBuilder creates a Builder with optional organization-specific extensions.
func NewBuilder(extensions ...Extension) *Builder {
	return &Builder{extensions: extensions}
}

// Build returns the simplified predicate for the principal and intent.
//
// Read: public OR owned by the user OR owned by one of the read groups OR
// shared with the user OR admin override. Edit drops the public clause and
// uses the edit groups.
func (b *Builder) Build(p Principal, intent Intent) Expr {
	var clauses Or
	if intent == IntentRead {
		clauses = append(clauses, IsPublic{})
	}
	if p.UserID != "" {
		clauses = append(clauses,
			OwnedBy{Kind: models.OwnerUser, IDs: []string{p.UserID}},
			SharedWith{UserID: p.UserID},
		)
	}
	if groups := p.groups(intent); len(groups) > 0 {
		clauses = append(clauses, OwnedBy{Kind: models.OwnerGroup, IDs: groups})
	}
	for _, ext := range b.extensions {
		if c := ext.Clause(p, intent); c != nil {
			clauses = append(clauses, c)
		}
	}
	if p.UseAdmin && p.IsAdmin {
		clauses = append(clauses, Const(true))
	}
	return Simplify(clauses)
}

// Relational renders the predicate as a SQL condition over the notebooks
// table aliased as alias, numbering placeholders from startArg.
func (b *Builder) Relational(p Principal, intent Intent, alias string, startArg int) (string, []any) {
	return RenderSQL(b.Build(p, intent), alias, startArg)
}

// Index renders the predicate as a search index filter.
func (b *Builder) Index(p Principal, intent Intent) IndexFilter {
	return RenderIndex(b.Build(p, intent))
}
