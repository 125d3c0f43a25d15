// Package access builds notebook permission predicates and renders them for
// the relational store and for the search index.
package access

import "github.com/ekaya-inc/ekaya-gallery/pkg/models"

// Expr is a node of a permission predicate tree.
type Expr interface {
	isExpr()
}

// And matches when every child matches. An empty And matches everything.
type And []Expr

// Or matches when any child matches. An empty Or matches nothing.
type Or []Expr

// Not inverts its child.
type Not struct{ X Expr }

// Const is a literal true or false.
type Const bool

// IsPublic matches public notebooks.
type IsPublic struct{}

// OwnedBy matches notebooks whose owner has the given kind and one of the ids.
type OwnedBy struct {
	Kind models.OwnerKind
	IDs  []string
}

// SharedWith matches notebooks shared with the user.
type SharedWith struct{ UserID string }

// HasTag matches notebooks carrying the tag.
type HasTag struct{ Tag string }

func (And) isExpr()        {}
func (Or) isExpr()         {}
func (Not) isExpr()        {}
func (Const) isExpr()      {}
func (IsPublic) isExpr()   {}
func (OwnedBy) isExpr()    {}
func (SharedWith) isExpr() {}
func (HasTag) isExpr()     {}

// Simplify flattens nested And/Or nodes and folds constants.
func Simplify(e Expr) Expr {
	switch x := e.(type) {
	case And:
		out := make(And, 0, len(x))
		for _, c := range x {
			c = Simplify(c)
			switch cv := c.(type) {
			case Const:
				if !cv {
					return Const(false)
				}
				continue
			case And:
				out = append(out, cv...)
				continue
			}
			out = append(out, c)
		}
		switch len(out) {
		case 0:
			return Const(true)
		case 1:
			return out[0]
		}
		return out
	case Or:
		out := make(Or, 0, len(x))
		for _, c := range x {
			c = Simplify(c)
			switch cv := c.(type) {
			case Const:
				if cv {
					return Const(true)
				}
				continue
			case Or:
				out = append(out, cv...)
				continue
			}
			out = append(out, c)
		}
		switch len(out) {
		case 0:
			return Const(false)
		case 1:
			return out[0]
		}
		return out
	case Not:
		inner := Simplify(x.X)
		if c, ok := inner.(Const); ok {
			return Const(!c)
		}
		if n, ok := inner.(Not); ok {
			return n.X
		}
		return Not{X: inner}
	case OwnedBy:
		if len(x.IDs) == 0 {
			return Const(false)
		}
		return x
	}
	return e
}
