package search

import (
	"strings"

	"github.com/ekaya-inc/ekaya-gallery/pkg/access"
)

// renderFilter translates an index filter into an SQLite condition over the
// doc_access table for the document whose rowid is docExpr. Terms are bound
// as ? placeholders.
func renderFilter(f access.IndexFilter, docExpr string) (string, []any) {
	var sb strings.Builder
	var args []any
	writeFilter(&sb, &args, f, docExpr)
	return sb.String(), args
}

func writeFilter(sb *strings.Builder, args *[]any, f access.IndexFilter, docExpr string) {
	if terms, ok := f.IsTermSet(); ok {
		sb.WriteString("EXISTS (SELECT 1 FROM doc_access a WHERE a.notebook_id = ")
		sb.WriteString(docExpr)
		if len(terms) == 1 {
			sb.WriteString(" AND a.term = ?)")
		} else {
			sb.WriteString(" AND a.term IN (")
			sb.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(terms)), ", "))
			sb.WriteString("))")
		}
		for _, t := range terms {
			*args = append(*args, t)
		}
		return
	}

	switch f.Op {
	case access.OpAll:
		sb.WriteString("1")
	case access.OpMust:
		writeJoined(sb, args, f.Clauses, " AND ", "1", docExpr)
	case access.OpShould:
		writeJoined(sb, args, f.Clauses, " OR ", "0", docExpr)
	case access.OpMustNot:
		sb.WriteString("(NOT ")
		writeJoined(sb, args, f.Clauses, " OR ", "0", docExpr)
		sb.WriteString(")")
	default:
		sb.WriteString("0")
	}
}

func writeJoined(sb *strings.Builder, args *[]any, clauses []access.IndexFilter, sep, empty, docExpr string) {
	if len(clauses) == 0 {
		sb.WriteString(empty)
		return
	}
	sb.WriteString("(")
	for i, c := range clauses {
		if i > 0 {
			sb.WriteString(sep)
		}
		writeFilter(sb, args, c, docExpr)
	}
	sb.WriteString(")")
}
