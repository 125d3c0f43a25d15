package access

import "github.com/ekaya-inc/ekaya-gallery/pkg/models"

// AccessRow is the slice of a notebook that permission checks look at.
type AccessRow struct {
	ID         int64
	Public     bool
	Owner      models.Owner
	SharedWith []string
	Tags       []string
}

// RowOf extracts the access-relevant fields of a notebook.
func RowOf(nb *models.Notebook, sharedWith []string) AccessRow {
	return AccessRow{
		ID:         nb.ID,
		Public:     nb.Public,
		Owner:      nb.Owner,
		SharedWith: sharedWith,
		Tags:       nb.Tags,
	}
}

// Eval evaluates e against a row with the same semantics as the SQL rendering.
func Eval(e Expr, row AccessRow) bool {
	switch x := e.(type) {
	case Const:
		return bool(x)
	case And:
		for _, c := range x {
			if !Eval(c, row) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range x {
			if Eval(c, row) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(x.X, row)
	case IsPublic:
		return row.Public
	case OwnedBy:
		if row.Owner.Kind != x.Kind {
			return false
		}
		return contains(x.IDs, row.Owner.ID)
	case SharedWith:
		return contains(row.SharedWith, x.UserID)
	case HasTag:
		return contains(row.Tags, x.Tag)
	}
	return false
}

// AccessTerms denormalizes a row into the terms the search index stores.
func AccessTerms(row AccessRow) []string {
	terms := make([]string, 0, 3+len(row.SharedWith)+len(row.Tags))
	terms = append(terms, IDTerm(row.ID))
	if row.Public {
		terms = append(terms, TermPublic)
	}
	if row.Owner.Kind.Valid() && row.Owner.ID != "" {
		terms = append(terms, OwnerTerm(row.Owner.Kind, row.Owner.ID))
	}
	for _, u := range row.SharedWith {
		terms = append(terms, ShareTerm(u))
	}
	for _, t := range row.Tags {
		terms = append(terms, TagTerm(t))
	}
	return terms
}

// TermSet converts a term list into a lookup set.
func TermSet(terms []string) map[string]struct{} {
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
