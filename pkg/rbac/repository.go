package rbac

import (
	"context"
	"sort"
	"sync"
)

// Repository persists roles. Implementations do not enforce lifecycle rules;
// the Engine does.
type Repository interface {
	// ListRoles returns every role ordered by creation time, then id
	ListRoles(ctx context.Context) ([]Role, error)

	// GetRole returns the role or an error wrapping ErrNotFound
	GetRole(ctx context.Context, id string) (Role, error)

	// SaveRole inserts or replaces a role by id
	SaveRole(ctx context.Context, role Role) error

	// SaveRoles inserts or replaces several roles in one atomic step
	SaveRoles(ctx context.Context, roles []Role) error

	// DeleteRole removes a role or returns an error wrapping ErrNotFound
	DeleteRole(ctx context.Context, id string) error
}

// MemoryRepository keeps roles in process memory
type MemoryRepository struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewMemoryRepository creates a repository holding copies of roles
func NewMemoryRepository(roles ...Role) *MemoryRepository {
	r := &MemoryRepository{roles: make(map[string]Role, len(roles))}
	for _, role := range roles {
		r.roles[role.ID] = role.Clone()
	}
	return r
}

func (r *MemoryRepository) ListRoles(ctx context.Context) ([]Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role.Clone())
	}
	sortRoles(out)
	return out, nil
}

func (r *MemoryRepository) GetRole(ctx context.Context, id string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	role, ok := r.roles[id]
	if !ok {
		return Role{}, newError(ErrNotFound, id, "role does not exist")
	}
	return role.Clone(), nil
}

func (r *MemoryRepository) SaveRole(ctx context.Context, role Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[role.ID] = role.Clone()
	return nil
}

func (r *MemoryRepository) SaveRoles(ctx context.Context, roles []Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, role := range roles {
		r.roles[role.ID] = role.Clone()
	}
	return nil
}

func (r *MemoryRepository) DeleteRole(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.roles[id]; !ok {
		return newError(ErrNotFound, id, "role does not exist")
	}
	delete(r.roles, id)
	return nil
}

func sortRoles(roles []Role) {
	sort.SliceStable(roles, func(i, j int) bool {
		if !roles[i].CreatedAt.Equal(roles[j].CreatedAt) {
			return roles[i].CreatedAt.Before(roles[j].CreatedAt)
		}
		return roles[i].ID < roles[j].ID
	})
}
