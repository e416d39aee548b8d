package rbac

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/rolekeeper/pkg/assignment"
	"github.com/platinummonkey/rolekeeper/pkg/audit"
	"github.com/platinummonkey/rolekeeper/pkg/observability"
)

// CheckerConfig configures the effective permission cache
type CheckerConfig struct {
	// CacheSize is the number of users kept; zero uses the default
	CacheSize int

	// CacheTTL bounds how long a user's permissions are served from cache.
	// Zero or negative disables caching.
	CacheTTL time.Duration
}

// DefaultCheckerConfig returns the default cache settings
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		CacheSize: 1024,
		CacheTTL:  5 * time.Minute,
	}
}

// PermissionChecker answers whether a user holds a permission through any
// of their assigned roles. Results are cached per user and dropped whenever
// the engine reports a change; register OnChange with WithChangeHook.
type PermissionChecker struct {
	resolver *Resolver
	repo     Repository
	index    assignment.Index
	metrics  *observability.Metrics

	cache      *lru.LRU[string, PermissionSet]
	group      singleflight.Group
	generation atomic.Uint64
}

// NewPermissionChecker creates a checker reading roles from repo and
// assignments from index
func NewPermissionChecker(resolver *Resolver, repo Repository, index assignment.Index, metrics *observability.Metrics, cfg CheckerConfig) *PermissionChecker {
	pc := &PermissionChecker{
		resolver: resolver,
		repo:     repo,
		index:    index,
		metrics:  metrics,
	}
	if cfg.CacheTTL > 0 {
		size := cfg.CacheSize
		if size <= 0 {
			size = DefaultCheckerConfig().CacheSize
		}
		pc.cache = lru.NewLRU[string, PermissionSet](size, nil, cfg.CacheTTL)
	}
	return pc
}

// HasPermission reports whether any role assigned to userID grants permissionID
func (pc *PermissionChecker) HasPermission(ctx context.Context, userID, permissionID string) (bool, error) {
	if !pc.resolver.Catalog().Has(permissionID) {
		return false, newError(ErrUnknownPermission, "", "%q", permissionID)
	}
	set, err := pc.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return set[permissionID], nil
}

// EffectivePermissions returns the union of the grants of every role
// assigned to userID. The result is total over the catalog.
func (pc *PermissionChecker) EffectivePermissions(ctx context.Context, userID string) (PermissionSet, error) {
	if userID == "" {
		return nil, newError(ErrInvalidInput, "", "user id is required")
	}

	if pc.cache != nil {
		if set, ok := pc.cache.Get(userID); ok {
			pc.metrics.RecordCacheLookup(true)
			return set.Clone(), nil
		}
		pc.metrics.RecordCacheLookup(false)
	}

	v, err, _ := pc.group.Do(userID, func() (interface{}, error) {
		gen := pc.generation.Load()
		set, err := pc.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		// Skip caching a result that raced with an invalidation
		if pc.cache != nil && pc.generation.Load() == gen {
			pc.cache.Add(userID, set)
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(PermissionSet).Clone(), nil
}

func (pc *PermissionChecker) load(ctx context.Context, userID string) (PermissionSet, error) {
	roleIDs, err := pc.index.RolesForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}

	set := pc.resolver.Empty()
	for _, roleID := range roleIDs {
		role, err := pc.repo.GetRole(ctx, roleID)
		if err != nil {
			if KindOf(err) == ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("failed to get role %s: %w", roleID, err)
		}
		for id, on := range role.Permissions {
			if on && pc.resolver.Catalog().Has(id) {
				set[id] = true
			}
		}
	}
	return set, nil
}

// Invalidate drops every cached result
func (pc *PermissionChecker) Invalidate() {
	pc.generation.Add(1)
	if pc.cache != nil {
		pc.cache.Purge()
	}
}

// OnChange is a ChangeHook that invalidates the cache
func (pc *PermissionChecker) OnChange(ctx context.Context, action audit.Action, roleID string) {
	pc.Invalidate()
}
