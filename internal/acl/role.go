package acl

import (
	"fmt"
	"strings"
)

// Role represents a user's access level for a diagram.
type Role int

const (
	// Viewer can watch the diagram and its collaborators.
	Viewer Role = iota
	// Editor can also mutate nodes and edges.
	Editor
	// Owner can also manage memberships and invitations.
	Owner
)

// String returns the wire representation of the role.
func (r Role) String() string {
	switch r {
	case Viewer:
		return "VIEWER"
	case Editor:
		return "EDITOR"
	case Owner:
		return "OWNER"
	default:
		return "UNKNOWN"
	}
}

// ParseRole accepts the wire representation of a role, case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "VIEWER":
		return Viewer, nil
	case "EDITOR":
		return Editor, nil
	case "OWNER":
		return Owner, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}

	*r = parsed

	return nil
}

// Capabilities returns what the role allows.
func (r Role) Capabilities() Capabilities {
	return Capabilities{
		View:          r >= Viewer && r <= Owner,
		Edit:          r >= Editor && r <= Owner,
		ManageMembers: r == Owner,
	}
}

// Capability names a single permission.
type Capability int

const (
	CapView Capability = iota
	CapEdit
	CapManageMembers
)

func (c Capability) String() string {
	switch c {
	case CapView:
		return "view"
	case CapEdit:
		return "edit"
	case CapManageMembers:
		return "manage-members"
	default:
		return "unknown"
	}
}

// Capabilities is the derived permission set of a user on a diagram.
type Capabilities struct {
	View          bool `json:"view"`
	Edit          bool `json:"edit"`
	ManageMembers bool `json:"manageMembers"`
}

// Has reports whether c grants the given capability.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapView:
		return c.View
	case CapEdit:
		return c.Edit
	case CapManageMembers:
		return c.ManageMembers
	default:
		return false
	}
}

// Membership is an explicit role grant on a diagram.
type Membership struct {
	DocumentID string `json:"documentId"`
	UserID     string `json:"userId"`
	Role       Role   `json:"role"`
}
