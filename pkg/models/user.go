package models

import "strings"

// User is a person who can own, share and star notebooks.
type User struct {
	ID        string `json:"id"`
	UserName  string `json:"user_name"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Email     string `json:"email,omitempty"`
	Admin     bool   `json:"admin"`
}

func (u *User) OwnerKind() OwnerKind { return OwnerUser }
func (u *User) OwnerID() string      { return u.ID }

// DisplayName is "First Last", falling back to the user name and then the ID.
func (u *User) DisplayName() string {
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	if u.UserName != "" {
		return u.UserName
	}
	return u.ID
}

func (u *User) EmailAddresses() []string {
	if u.Email == "" {
		return nil
	}
	return []string{u.Email}
}

// Group is a named set of users. Groups own notebooks and grant read or
// edit access through a principal's group lists.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (g *Group) OwnerKind() OwnerKind { return OwnerGroup }
func (g *Group) OwnerID() string      { return g.ID }

// DisplayName falls back to the ID for unnamed groups.
func (g *Group) DisplayName() string {
	if g.Name != "" {
		return g.Name
	}
	return g.ID
}

// EmailAddresses is empty; groups have no mailbox of their own.
func (g *Group) EmailAddresses() []string { return nil }
