package access

import (
	"strconv"

	"github.com/ekaya-inc/ekaya-gallery/pkg/models"
)

// FilterOp is the operator of an IndexFilter node.
type FilterOp string

const (
	OpTerm    FilterOp = "term"
	OpAll     FilterOp = "all"
	OpNone    FilterOp = "none"
	OpMust    FilterOp = "must"     // every clause matches
	OpShould  FilterOp = "should"   // at least one clause matches
	OpMustNot FilterOp = "must_not" // no clause matches
)

// IndexFilter is a boolean filter over the access terms the search index
// stores for each document.
type IndexFilter struct {
	Op      FilterOp      `json:"op"`
	Term    string        `json:"term,omitempty"`
	Clauses []IndexFilter `json:"clauses,omitempty"`
}

// Access term constructors. The indexer stores these per document and the
// index filter matches on them.
const TermPublic = "public"

func OwnerTerm(kind models.OwnerKind, id string) string { return "owner:" + string(kind) + ":" + id }
func ShareTerm(userID string) string                   { return "share:" + userID }
func TagTerm(tag string) string                        { return "tag:" + tag }
func IDTerm(id int64) string                           { return "id:" + strconv.FormatInt(id, 10) }

// Term returns a filter matching documents that carry the term.
func Term(t string) IndexFilter { return IndexFilter{Op: OpTerm, Term: t} }

// MatchAll returns a filter that matches every document.
func MatchAll() IndexFilter { return IndexFilter{Op: OpAll} }

// MatchNone returns a filter that matches no document.
func MatchNone() IndexFilter { return IndexFilter{Op: OpNone} }

// RenderIndex translates a predicate into an index filter.
func RenderIndex(e Expr) IndexFilter {
	switch x := e.(type) {
	case Const:
		if x {
			return MatchAll()
		}
		return MatchNone()
	case And:
		return IndexFilter{Op: OpMust, Clauses: renderAll(x)}
	case Or:
		return IndexFilter{Op: OpShould, Clauses: renderAll(x)}
	case Not:
		return IndexFilter{Op: OpMustNot, Clauses: []IndexFilter{RenderIndex(x.X)}}
	case IsPublic:
		return Term(TermPublic)
	case OwnedBy:
		if len(x.IDs) == 0 {
			return MatchNone()
		}
		if len(x.IDs) == 1 {
			return Term(OwnerTerm(x.Kind, x.IDs[0]))
		}
		clauses := make([]IndexFilter, len(x.IDs))
		for i, id := range x.IDs {
			clauses[i] = Term(OwnerTerm(x.Kind, id))
		}
		return IndexFilter{Op: OpShould, Clauses: clauses}
	case SharedWith:
		return Term(ShareTerm(x.UserID))
	case HasTag:
		return Term(TagTerm(x.Tag))
	}
	return MatchNone()
}

func renderAll(children []Expr) []IndexFilter {
	out := make([]IndexFilter, len(children))
	for i, c := range children {
		out[i] = RenderIndex(c)
	}
	return out
}

// Matches evaluates the filter against a document's access terms.
func (f IndexFilter) Matches(terms map[string]struct{}) bool {
	switch f.Op {
	case OpAll:
		return true
	case OpNone:
		return false
	case OpTerm:
		_, ok := terms[f.Term]
		return ok
	case OpMust:
		for _, c := range f.Clauses {
			if !c.Matches(terms) {
				return false
			}
		}
		return true
	case OpShould:
		for _, c := range f.Clauses {
			if c.Matches(terms) {
				return true
			}
		}
		return false
	case OpMustNot:
		for _, c := range f.Clauses {
			if c.Matches(terms) {
				return false
			}
		}
		return true
	}
	return false
}

// IsTermSet reports whether f is a flat OR of terms (or a single term) and
// returns those terms. Backends use it to collapse the common case into one
// set-membership test.
func (f IndexFilter) IsTermSet() ([]string, bool) {
	switch f.Op {
	case OpTerm:
		return []string{f.Term}, true
	case OpShould:
		terms := make([]string, 0, len(f.Clauses))
		for _, c := range f.Clauses {
			if c.Op != OpTerm {
				return nil, false
			}
			terms = append(terms, c.Term)
		}
		return terms, len(terms) > 0
	}
	return nil, false
}
