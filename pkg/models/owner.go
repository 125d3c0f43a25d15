package models

import "fmt"

// OwnerKind tags which variant an Owner holds.
type OwnerKind string

const (
	OwnerUser  OwnerKind = "user"
	OwnerGroup OwnerKind = "group"
)

// Valid reports whether k is a known owner kind.
func (k OwnerKind) Valid() bool {
	return k == OwnerUser || k == OwnerGroup
}

// Ownable is the capability shared by every kind of notebook owner.
type Ownable interface {
	OwnerKind() OwnerKind
	OwnerID() string
	DisplayName() string
	EmailAddresses() []string
}

var (
	_ Ownable = (*User)(nil)
	_ Ownable = (*Group)(nil)
)

// Owner is the stored form of a notebook owner: a kind tag plus the owner's
// identity and the fields the search index denormalizes.
type Owner struct {
	Kind        OwnerKind `json:"kind"`
	ID          string    `json:"id"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Emails      []string  `json:"emails,omitempty"`
}

// OwnerOf captures an Ownable as an Owner value.
func OwnerOf(o Ownable) Owner {
	owner := Owner{
		Kind:   o.OwnerKind(),
		ID:     o.OwnerID(),
		Name:   o.DisplayName(),
		Emails: o.EmailAddresses(),
	}
	if g, ok := o.(*Group); ok {
		owner.Description = g.Description
	}
	return owner
}

// String returns "kind:id", the form used in access terms and logs.
func (o Owner) String() string {
	return fmt.Sprintf("%s:%s", o.Kind, o.ID)
}
