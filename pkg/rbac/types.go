package rbac

import (
	"sort"
	"time"
)

// PermissionSet maps permission ids to grants. Missing ids read as false.
type PermissionSet map[string]bool

// Clone returns an independent copy
func (p PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Granted returns the ids set to true, sorted
func (p PermissionSet) Granted() []string {
	ids := make([]string, 0, len(p))
	for id, on := range p {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count returns how many ids are granted
func (p PermissionSet) Count() int {
	n := 0
	for _, on := range p {
		if on {
			n++
		}
	}
	return n
}

// Equal compares grants, treating missing ids as false
func (p PermissionSet) Equal(other PermissionSet) bool {
	for id, on := range p {
		if other[id] != on {
			return false
		}
	}
	for id, on := range other {
		if p[id] != on {
			return false
		}
	}
	return true
}

// LastModified records who last changed a role and when
type LastModified struct {
	By string    `json:"by"`
	At time.Time `json:"at"`
}

// Role is a named permission set
type Role struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Description  string        `json:"description"`
	Color        string        `json:"color,omitempty"`
	IsSystem     bool          `json:"is_system"`
	Permissions  PermissionSet `json:"permissions"`
	UserCount    int           `json:"user_count"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"created_at"`
	LastModified LastModified  `json:"last_modified"`
}

// Clone returns a deep copy of the role
func (r Role) Clone() Role {
	r.Permissions = r.Permissions.Clone()
	return r
}

// PermissionChange is one differing id between the committed and working sets
type PermissionChange struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	From  bool   `json:"from"`
	To    bool   `json:"to"`
}

// ImpactPreview describes what committing a draft would do. Advisory only.
type ImpactPreview struct {
	RoleID        string             `json:"role_id"`
	RoleName      string             `json:"role_name"`
	Changes       []PermissionChange `json:"changes"`
	Granted       []string           `json:"granted"`
	Revoked       []string           `json:"revoked"`
	AssignedUsers int                `json:"assigned_users"`
	Summary       string             `json:"summary"`
}

// RoleInput carries the fields of a create or update request
type RoleInput struct {
	Name        string
	Description string
	Color       string
	Permissions PermissionSet

	// CloneFrom copies permissions from an existing role when Permissions is empty (create only)
	CloneFrom string
}
