package assignment

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Record is a single (user, role) assignment
type Record struct {
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// Index stores role assignments
type Index interface {
	// Assign adds users to a role and returns the ids that were not already assigned
	Assign(ctx context.Context, roleID string, userIDs []string, at time.Time) ([]string, error)

	// Unassign removes users from a role. Unknown pairs are ignored.
	Unassign(ctx context.Context, roleID string, userIDs []string) error

	// UsersForRole returns the role's assignments ordered by user id
	UsersForRole(ctx context.Context, roleID string) ([]Record, error)

	// RolesForUser returns the ids of every role held by the user, sorted
	RolesForUser(ctx context.Context, userID string) ([]string, error)

	// Count returns the number of users assigned to a role
	Count(ctx context.Context, roleID string) (int, error)

	// Counts returns user counts for every role with at least one assignment
	Counts(ctx context.Context) (map[string]int, error)

	// Reassign moves every assignment of from onto to and returns how many
	// users were moved. Users already holding to keep their original record.
	Reassign(ctx context.Context, from, to string) (int, error)

	// RemoveRole drops every assignment of the role
	RemoveRole(ctx context.Context, roleID string) error
}

// normalizeUsers trims, drops blanks and de-duplicates user ids, keeping first-seen order
func normalizeUsers(userIDs []string) []string {
	seen := make(map[string]bool, len(userIDs))
	out := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].UserID < records[j].UserID })
}
