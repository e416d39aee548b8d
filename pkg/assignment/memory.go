package assignment

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryIndex keeps assignments in process memory
type MemoryIndex struct {
	mu     sync.RWMutex
	byRole map[string]map[string]time.Time
}

// NewMemoryIndex creates an empty index
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{byRole: make(map[string]map[string]time.Time)}
}

func (m *MemoryIndex) Assign(ctx context.Context, roleID string, userIDs []string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := m.byRole[roleID]
	if users == nil {
		users = make(map[string]time.Time)
		m.byRole[roleID] = users
	}

	added := make([]string, 0)
	for _, id := range normalizeUsers(userIDs) {
		if _, ok := users[id]; ok {
			continue
		}
		users[id] = at.UTC()
		added = append(added, id)
	}
	if len(users) == 0 {
		delete(m.byRole, roleID)
	}
	return added, nil
}

func (m *MemoryIndex) Unassign(ctx context.Context, roleID string, userIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := m.byRole[roleID]
	for _, id := range normalizeUsers(userIDs) {
		delete(users, id)
	}
	if len(users) == 0 {
		delete(m.byRole, roleID)
	}
	return nil
}

func (m *MemoryIndex) UsersForRole(ctx context.Context, roleID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.byRole[roleID]))
	for user, at := range m.byRole[roleID] {
		records = append(records, Record{UserID: user, RoleID: roleID, AssignedAt: at})
	}
	sortRecords(records)
	return records, nil
}

func (m *MemoryIndex) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roles := make([]string, 0)
	for roleID, users := range m.byRole {
		if _, ok := users[userID]; ok {
			roles = append(roles, roleID)
		}
	}
	sort.Strings(roles)
	return roles, nil
}

func (m *MemoryIndex) Count(ctx context.Context, roleID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byRole[roleID]), nil
}

func (m *MemoryIndex) Counts(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int, len(m.byRole))
	for roleID, users := range m.byRole {
		counts[roleID] = len(users)
	}
	return counts, nil
}

func (m *MemoryIndex) Reassign(ctx context.Context, from, to string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	source := m.byRole[from]
	if from == to || len(source) == 0 {
		return 0, nil
	}

	target := m.byRole[to]
	if target == nil {
		target = make(map[string]time.Time, len(source))
		m.byRole[to] = target
	}
	for user, at := range source {
		if _, ok := target[user]; !ok {
			target[user] = at
		}
	}
	delete(m.byRole, from)
	return len(source), nil
}

func (m *MemoryIndex) RemoveRole(ctx context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byRole, roleID)
	return nil
}
