package access

import (
	"fmt"
	"strings"
)

// RenderSQL renders e as a PostgreSQL boolean condition over the notebooks
// table aliased as alias. Values are always bound as $n placeholders numbered
// from startArg; alias must be a trusted identifier.
func RenderSQL(e Expr, alias string, startArg int) (string, []any) {
	r := &sqlRenderer{alias: alias, next: startArg}
	var sb strings.Builder
	r.render(&sb, e)
	return sb.String(), r.args
}

type sqlRenderer struct {
	alias string
	next  int
	args  []any
}

func (r *sqlRenderer) bind(v any) string {
	r.args = append(r.args, v)
	p := fmt.Sprintf("$%d", r.next)
	r.next++
	return p
}

func (r *sqlRenderer) render(sb *strings.Builder, e Expr) {
	switch x := e.(type) {
	case Const:
		if x {
			sb.WriteString("TRUE")
		} else {
			sb.WriteString("FALSE")
		}
	case And:
		r.join(sb, []Expr(x), " AND ", "TRUE")
	case Or:
		r.join(sb, []Expr(x), " OR ", "FALSE")
	case Not:
		sb.WriteString("(NOT ")
		r.render(sb, x.X)
		sb.WriteString(")")
	case IsPublic:
		fmt.Fprintf(sb, "%s.public", r.alias)
	case OwnedBy:
		if len(x.IDs) == 0 {
			sb.WriteString("FALSE")
			return
		}
		kind := r.bind(string(x.Kind))
		ids := r.bind(x.IDs)
		fmt.Fprintf(sb, "(%s.owner_type = %s AND %s.owner_id = ANY(%s))", r.alias, kind, r.alias, ids)
	case SharedWith:
		fmt.Fprintf(sb,
			"EXISTS (SELECT 1 FROM notebook_shares sh WHERE sh.notebook_id = %s.id AND sh.user_id = %s)",
			r.alias, r.bind(x.UserID))
	case HasTag:
		fmt.Fprintf(sb,
			"EXISTS (SELECT 1 FROM notebook_tags tg WHERE tg.notebook_id = %s.id AND tg.tag = %s)",
			r.alias, r.bind(x.Tag))
	default:
		// Unknown nodes deny rather than widen access.
		sb.WriteString("FALSE")
	}
}

func (r *sqlRenderer) join(sb *strings.Builder, children []Expr, sep, empty string) {
	if len(children) == 0 {
		sb.WriteString(empty)
		return
	}
	sb.WriteString("(")
	for i, c := range children {
		if i > 0 {
			sb.WriteString(sep)
		}
		r.render(sb, c)
	}
	sb.WriteString(")")
}
