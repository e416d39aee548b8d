package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/rolekeeper/pkg/catalog"
)

// Fixed ids of the seeded roles
const (
	AdministratorRoleID = "administrator"
	ViewerRoleID        = "viewer"
	EditorRoleID        = "editor"
)

// SystemActor is recorded as the modifier of seeded roles
const SystemActor = "system"

// BuiltInRoles returns the roles seeded into an empty repository:
//   - Administrator (system): every permission
//   - Viewer (system): every "*.read" permission
//   - Editor (custom): the Content group plus users.read
//
// Permission sets are closed under prerequisites. A role whose set would be
// empty under the given catalog is left out.
func BuiltInRoles(resolver *Resolver, now time.Time) []Role {
	cat := resolver.Catalog()

	all := resolver.Empty()
	reads := resolver.Empty()
	for _, id := range cat.IDs() {
		all[id] = true
		if strings.HasSuffix(id, ".read") {
			reads[id] = true
		}
	}

	editor := resolver.Empty()
	if content, ok := cat.Group(catalog.GroupContent); ok {
		for _, id := range content.IDs() {
			editor[id] = true
		}
	}
	if cat.Has("users.read") {
		editor["users.read"] = true
	}

	candidates := []Role{
		{
			ID:          AdministratorRoleID,
			Name:        "Administrator",
			Description: "Full access to every permission",
			Color:       "red",
			IsSystem:    true,
			Permissions: all,
		},
		{
			ID:          ViewerRoleID,
			Name:        "Viewer",
			Description: "Read-only access",
			Color:       "gray",
			IsSystem:    true,
			Permissions: reads,
		},
		{
			ID:          EditorRoleID,
			Name:        "Editor",
			Description: "Creates and publishes content",
			Color:       "blue",
			Permissions: editor,
		},
	}

	roles := make([]Role, 0, len(candidates))
	for i, role := range candidates {
		set, err := resolver.Normalize(role.Permissions)
		if err != nil || set.Count() == 0 {
			continue
		}
		role.Permissions = set
		role.Version = 1
		// Keep seeded roles in declaration order when listed by creation time
		role.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		role.LastModified = LastModified{By: SystemActor, At: role.CreatedAt}
		roles = append(roles, role)
	}
	return roles
}

// SeedBuiltInRoles writes the built-in roles when repo holds no roles. It
// returns the roles written, or nil when repo was not empty.
func SeedBuiltInRoles(ctx context.Context, repo Repository, resolver *Resolver, now time.Time) ([]Role, error) {
	existing, err := repo.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	if len(existing) > 0 {
		return nil, nil
	}

	roles := BuiltInRoles(resolver, now)
	if err := repo.SaveRoles(ctx, roles); err != nil {
		return nil, fmt.Errorf("failed to seed built-in roles: %w", err)
	}
	return roles, nil
}
