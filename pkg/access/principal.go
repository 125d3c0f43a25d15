package access

// Intent is the kind of access being checked.
type Intent string

const (
	IntentRead Intent = "read"
	IntentEdit Intent = "edit"
)

// Principal is the acting identity together with its group memberships.
// An empty UserID is an anonymous principal that can only read public notebooks.
type Principal struct {
	UserID     string   `json:"user_id"`
	ReadGroups []string `json:"read_groups,omitempty"`
	EditGroups []string `json:"edit_groups,omitempty"`
	IsAdmin    bool     `json:"is_admin"`
	// UseAdmin opts an admin into seeing everything. Admins browse as regular
	// users unless they ask for the override.
	UseAdmin bool `json:"use_admin"`
}

// Anonymous returns a principal with no identity.
func Anonymous() Principal {
	return Principal{}
}

func (p Principal) groups(intent Intent) []string {
	if intent == IntentEdit {
		return p.EditGroups
	}
	return p.ReadGroups
}
