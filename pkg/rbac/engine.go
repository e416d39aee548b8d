package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/rolekeeper/pkg/assignment"
	"github.com/platinummonkey/rolekeeper/pkg/audit"
	"github.com/platinummonkey/rolekeeper/pkg/catalog"
	"github.com/platinummonkey/rolekeeper/pkg/observability"
)

// ChangeHook is called after a successful mutation with the role it touched
type ChangeHook func(ctx context.Context, action audit.Action, roleID string)

// Engine owns the role lifecycle. Every mutation holds one mutex from its
// first read to its last write, so name uniqueness and the administrative
// floor are checked against the state that is actually written.
type Engine struct {
	mu sync.RWMutex

	resolver *Resolver
	repo     Repository
	activity audit.Logger
	index    assignment.Index

	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
	hooks   []ChangeHook
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the structured logger
func WithLogger(logger *observability.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = metrics }
}

// WithTracer overrides the tracer taken from the global provider
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

// WithClock sets the time source used for timestamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator sets the generator for new role ids
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// WithChangeHook registers a hook called after every successful mutation
func WithChangeHook(hook ChangeHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, hook) }
}

func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func newRoleID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewEngine creates an engine over cat. Nil repo, activity log or index fall
// back to in-memory implementations. An empty repository is seeded with the
// built-in roles.
func NewEngine(ctx context.Context, cat *catalog.Catalog, repo Repository, activity audit.Logger, index assignment.Index, opts ...Option) (*Engine, error) {
	if cat == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrCatalog)
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if activity == nil {
		activity = audit.NewMemoryLogger()
	}
	if index == nil {
		index = assignment.NewMemoryIndex()
	}

	e := &Engine{
		resolver: NewResolver(cat),
		repo:     repo,
		activity: activity,
		index:    index,
		now:      defaultClock,
		newID:    newRoleID,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = observability.NewNopLogger()
	}
	if e.tracer == nil {
		e.tracer = observability.Tracer()
	}

	seeded, err := SeedBuiltInRoles(ctx, e.repo, e.resolver, e.now())
	if err != nil {
		return nil, err
	}
	for _, role := range seeded {
		e.logger.WithField("role_id", role.ID).WithField("system", role.IsSystem).Infof("Seeded built-in role %s", role.Name)
	}

	return e, nil
}

// Catalog returns the permission catalog
func (e *Engine) Catalog() *catalog.Catalog {
	return e.resolver.Catalog()
}

// Resolver returns the dependency resolver over the engine's catalog
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// begin starts a span for op. The returned func records the outcome and
// must be deferred with a pointer to the operation's error result.
func (e *Engine) begin(ctx context.Context, op string, fields map[string]interface{}) (context.Context, func(*error)) {
	attrs := make([]attribute.KeyValue, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
	}
	ctx, span := e.tracer.Start(ctx, "rbac."+op, trace.WithAttributes(attrs...))
	start := time.Now()

	return ctx, func(errp *error) {
		defer span.End()

		err := *errp
		if err == nil {
			e.metrics.RecordOperation(op, observability.ResultSuccess, time.Since(start))
			return
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log := e.logger.WithTraceContext(ctx).WithFields(fields).WithField("operation", op).WithError(err)

		if kind := KindOf(err); kind != nil {
			e.metrics.RecordOperation(op, observability.ResultRejected, time.Since(start))
			e.metrics.RecordRejection(kindName(kind))
			log.WithField("kind", kindName(kind)).Warn("Operation rejected")
			return
		}
		e.metrics.RecordOperation(op, observability.ResultError, time.Since(start))
		log.Error("Operation failed")
	}
}

func (e *Engine) notify(ctx context.Context, action audit.Action, roleID string) {
	for _, hook := range e.hooks {
		hook(ctx, action, roleID)
	}
}

func (e *Engine) record(ctx context.Context, entry *audit.Entry) error {
	if err := e.activity.Log(ctx, entry); err != nil {
		return fmt.Errorf("failed to append activity log: %w", err)
	}
	e.metrics.RecordAuditEntry(string(entry.Action))
	e.logger.WithTraceContext(ctx).WithFields(map[string]interface{}{
		"role_id": entry.RoleID,
		"actor":   entry.PerformedBy,
		"action":  string(entry.Action),
	}).Info(entry.Details)
	return nil
}

// save strips derived fields before handing the role to the repository
func (e *Engine) save(ctx context.Context, role Role) error {
	role.UserCount = 0
	return e.repo.SaveRole(ctx, role)
}

// restore undoes a write after a later step failed. A failed restore is
// logged; the original error is what the caller sees.
func (e *Engine) restore(ctx context.Context, what string, undo func() error) {
	if err := undo(); err != nil {
		e.logger.WithTraceContext(ctx).WithError(err).Errorf("Failed to roll back %s", what)
	}
}

func (e *Engine) loadRoles(ctx context.Context) ([]Role, error) {
	roles, err := e.repo.ListRoles(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := e.index.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}

	total := 0
	for i := range roles {
		roles[i].UserCount = counts[roles[i].ID]
		total += roles[i].UserCount
	}
	e.metrics.SetRoleCounts(len(roles), total)
	return roles, nil
}

func (e *Engine) loadRole(ctx context.Context, id string) (Role, error) {
	role, err := e.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	role.UserCount, err = e.index.Count(ctx, id)
	if err != nil {
		return Role{}, fmt.Errorf("failed to count assignments: %w", err)
	}
	return role, nil
}

func requireActor(actor string) error {
	if strings.TrimSpace(actor) == "" {
		return newError(ErrInvalidInput, "", "actor is required")
	}
	return nil
}

// checkName rejects blank names and names that collide case-insensitively
// with any role other than excludeID.
func checkName(roles []Role, name, excludeID string) error {
	key := nameKey(name)
	if key == "" {
		return newError(ErrInvalidInput, excludeID, "role name is required")
	}
	for _, role := range roles {
		if role.ID != excludeID && nameKey(role.Name) == key {
			return newError(ErrDuplicateName, excludeID, "a role named %q already exists", role.Name)
		}
	}
	return nil
}

// otherAdministrative counts administrative roles other than exceptID
func (e *Engine) otherAdministrative(roles []Role, exceptID string) int {
	n := 0
	for _, role := range roles {
		if role.ID != exceptID && e.resolver.IsAdministrative(role.Permissions) {
			n++
		}
	}
	return n
}

// checkFloor rejects a change that turns the last administrative role into
// a non-administrative one.
func (e *Engine) checkFloor(roles []Role, current Role, next PermissionSet) error {
	if !e.resolver.IsAdministrative(current.Permissions) || e.resolver.IsAdministrative(next) {
		return nil
	}
	if e.otherAdministrative(roles, current.ID) == 0 {
		return newError(ErrLastAdministrativeRole, current.ID, "%q is the only administrative role", current.Name)
	}
	return nil
}

// normalizeGrants applies create/update rules to a requested permission set
func (e *Engine) normalizeGrants(roleID string, perms PermissionSet) (PermissionSet, error) {
	set, err := e.resolver.Normalize(perms)
	if err != nil {
		var domainErr *Error
		if errors.As(err, &domainErr) {
			domainErr.RoleID = roleID
		}
		return nil, err
	}
	if set.Count() == 0 {
		return nil, newError(ErrEmptyPermissionSet, roleID, "a role must grant at least one permission")
	}
	return set, nil
}

// ListRoles returns every role with its current user count
func (e *Engine) ListRoles(ctx context.Context) ([]Role, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadRoles(ctx)
}

// GetRole returns one role with its current user count
func (e *Engine) GetRole(ctx context.Context, id string) (Role, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.loadRole(ctx, id)
}

// OpenDraft starts an editing session on a role's committed permissions
func (e *Engine) OpenDraft(ctx context.Context, roleID string) (*Draft, error) {
	role, err := e.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	return newDraft(e.resolver, role), nil
}

// CommitOption configures Commit
type CommitOption func(*commitOptions)

type commitOptions struct {
	expectedVersion *int64
}

// WithExpectedVersion makes Commit compare the stored version against v
// instead of the version the draft was opened at.
func WithExpectedVersion(v int64) CommitOption {
	return func(o *commitOptions) { o.expectedVersion = &v }
}

// Commit writes the draft's working set back to its role and records a
// permission_updated entry. An unchanged draft is a no-op that writes
// nothing and returns the committed role.
func (e *Engine) Commit(ctx context.Context, d *Draft, actor string, opts ...CommitOption) (role Role, err error) {
	if d == nil {
		return Role{}, newError(ErrInvalidInput, "", "draft is required")
	}
	ctx, done := e.begin(ctx, "commit", map[string]interface{}{"role_id": d.RoleID(), "actor": actor})
	defer done(&err)

	if err := d.guardPending(); err != nil {
		return Role{}, err
	}
	if err := requireActor(actor); err != nil {
		return Role{}, err
	}

	changes := d.Diff()
	if len(changes) == 0 {
		return d.Role(), nil
	}

	options := commitOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	expected := d.BaseVersion()
	if options.expectedVersion != nil {
		expected = *options.expectedVersion
	}

	working := d.working
	if working.Count() == 0 {
		return Role{}, newError(ErrEmptyPermissionSet, d.RoleID(), "a role must grant at least one permission")
	}
	if violations := e.resolver.Violations(working); len(violations) > 0 {
		return Role{}, &Error{Kind: ErrDependencyViolation, RoleID: d.RoleID(), Violations: violations}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	roles, err := e.loadRoles(ctx)
	if err != nil {
		return Role{}, err
	}
	current, ok := findRole(roles, d.RoleID())
	if !ok {
		return Role{}, newError(ErrNotFound, d.RoleID(), "role does not exist")
	}
	if current.Version != expected {
		return Role{}, newError(ErrConcurrentModification, current.ID,
			"role is at version %d, draft expected %d", current.Version, expected)
	}
	if current.IsSystem {
		return Role{}, newError(ErrSystemRoleImmutable, current.ID, "%q is a system role", current.Name)
	}
	if err := e.checkFloor(roles, current, working); err != nil {
		return Role{}, err
	}

	now := e.now()
	updated := current.Clone()
	updated.Permissions = working.Clone()
	updated.Version++
	updated.LastModified = LastModified{By: actor, At: now}

	if err := e.save(ctx, updated); err != nil {
		return Role{}, err
	}

	granted, revoked := splitChanges(changes)
	entry := &audit.Entry{
		Action:      audit.ActionPermissionUpdated,
		RoleID:      updated.ID,
		RoleName:    updated.Name,
		PerformedBy: actor,
		Timestamp:   now,
		Details:     describeChanges(changes),
		Metadata: map[string]interface{}{
			"granted": granted,
			"revoked": revoked,
			"version": updated.Version,
		},
	}
	if err := e.record(ctx, entry); err != nil {
		e.restore(ctx, "role "+current.ID, func() error { return e.save(ctx, current) })
		return Role{}, err
	}

	d.rebase(updated)
	e.notify(ctx, audit.ActionPermissionUpdated, updated.ID)
	return updated, nil
}

// Preview describes the impact of committing d without writing anything
func (e *Engine) Preview(ctx context.Context, d *Draft) (ImpactPreview, error) {
	if d == nil {
		return ImpactPreview{}, newError(ErrInvalidInput, "", "draft is required")
	}

	changes := d.Diff()
	granted, revoked := splitChanges(changes)
	preview := ImpactPreview{
		RoleID:   d.RoleID(),
		RoleName: d.role.Name,
		Changes:  changes,
		Granted:  granted,
		Revoked:  revoked,
	}
	if len(changes) == 0 {
		preview.Summary = "No changes"
		return preview, nil
	}

	e.mu.RLock()
	users, err := e.index.Count(ctx, d.RoleID())
	e.mu.RUnlock()
	if err != nil {
		return ImpactPreview{}, fmt.Errorf("failed to count assignments: %w", err)
	}
	preview.AssignedUsers = users

	var parts []string
	if len(revoked) > 0 {
		parts = append(parts, fmt.Sprintf("%s will lose access to %s",
			plural(users, "user", "users"), plural(len(revoked), "permission", "permissions")))
	}
	if len(granted) > 0 {
		parts = append(parts, fmt.Sprintf("%s will gain access to %s",
			plural(users, "user", "users"), plural(len(granted), "permission", "permissions")))
	}
	preview.Summary = strings.Join(parts, "; ")
	return preview, nil
}

// CreateRole adds a custom role. When in.Permissions is empty and
// in.CloneFrom names a role, that role's permissions are copied.
func (e *Engine) CreateRole(ctx context.Context, in RoleInput, actor string) (role Role, err error) {
	ctx, done := e.begin(ctx, "create_role", map[string]interface{}{"role_name": in.Name, "actor": actor})
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return Role{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	roles, err := e.loadRoles(ctx)
	if err != nil {
		return Role{}, err
	}
	if err := checkName(roles, in.Name, ""); err != nil {
		return Role{}, err
	}

	perms := in.Permissions
	if len(perms) == 0 && in.CloneFrom != "" {
		source, ok := findRole(roles, in.CloneFrom)
		if !ok {
			return Role{}, newError(ErrNotFound, in.CloneFrom, "clone source does not exist")
		}
		perms = source.Permissions
	}

	id := e.newID()
	set, err := e.normalizeGrants(id, perms)
	if err != nil {
		return Role{}, err
	}

	now := e.now()
	role = Role{
		ID:           id,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		Color:        in.Color,
		Permissions:  set,
		Version:      1,
		CreatedAt:    now,
		LastModified: LastModified{By: actor, At: now},
	}
	if err := e.save(ctx, role); err != nil {
		return Role{}, err
	}

	metadata := map[string]interface{}{"permissions": e.resolver.Ordered(set.Granted())}
	if in.CloneFrom != "" {
		metadata["cloned_from"] = in.CloneFrom
	}
	entry := &audit.Entry{
		Action:      audit.ActionRoleCreated,
		RoleID:      role.ID,
		RoleName:    role.Name,
		PerformedBy: actor,
		Timestamp:   now,
		Details:     fmt.Sprintf("Created role %q with %s", role.Name, plural(set.Count(), "permission", "permissions")),
		Metadata:    metadata,
	}
	if err := e.record(ctx, entry); err != nil {
		e.restore(ctx, "role "+role.ID, func() error { return e.repo.DeleteRole(ctx, role.ID) })
		return Role{}, err
	}

	e.notify(ctx, audit.ActionRoleCreated, role.ID)
	return role, nil
}

// UpdateRole replaces a custom role's name, description, color and
// permissions. A nil in.Permissions keeps the current permissions. An
// update that changes nothing writes nothing.
func (e *Engine) UpdateRole(ctx context.Context, id string, in RoleInput, actor string) (role Role, err error) {
	ctx, done := e.begin(ctx, "update_role", map[string]interface{}{"role_id": id, "actor": actor})
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return Role{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	roles, err := e.loadRoles(ctx)
	if err != nil {
		return Role{}, err
	}
	current, ok := findRole(roles, id)
	if !ok {
		return Role{}, newError(ErrNotFound, id, "role does not exist")
	}
	if current.IsSystem {
		return Role{}, newError(ErrSystemRoleImmutable, id, "%q is a system role", current.Name)
	}
	if err := checkName(roles, in.Name, id); err != nil {
		return Role{}, err
	}

	set := e.resolver.total(current.Permissions)
	if in.Permissions != nil {
		if set, err = e.normalizeGrants(id, in.Permissions); err != nil {
			return Role{}, err
		}
	}
	if err := e.checkFloor(roles, current, set); err != nil {
		return Role{}, err
	}

	updated := current.Clone()
	updated.Name = strings.TrimSpace(in.Name)
	updated.Description = in.Description
	updated.Color = in.Color
	updated.Permissions = set

	var fields []string
	if updated.Name != current.Name {
		fields = append(fields, fmt.Sprintf("name %q -> %q", current.Name, updated.Name))
	}
	if updated.Description != current.Description {
		fields = append(fields, "description")
	}
	if updated.Color != current.Color {
		fields = append(fields, "color")
	}
	changes := e.resolver.Diff(e.resolver.total(current.Permissions), set)
	if len(changes) > 0 {
		fields = append(fields, describeChanges(changes))
	}
	if len(fields) == 0 {
		return current, nil
	}

	now := e.now()
	updated.Version++
	updated.LastModified = LastModified{By: actor, At: now}
	if err := e.save(ctx, updated); err != nil {
		return Role{}, err
	}

	granted, revoked := splitChanges(changes)
	entry := &audit.Entry{
		Action:      audit.ActionRoleUpdated,
		RoleID:      updated.ID,
		RoleName:    updated.Name,
		PerformedBy: actor,
		Timestamp:   now,
		Details:     "Updated " + strings.Join(fields, "; "),
		Metadata: map[string]interface{}{
			"granted":       granted,
			"revoked":       revoked,
			"previous_name": current.Name,
			"version":       updated.Version,
		},
	}
	if err := e.record(ctx, entry); err != nil {
		e.restore(ctx, "role "+id, func() error { return e.save(ctx, current) })
		return Role{}, err
	}

	e.notify(ctx, audit.ActionRoleUpdated, id)
	return updated, nil
}

// DuplicateRole copies a role's permissions into a new custom role named
// "<Name> (Copy)", numbering further copies.
func (e *Engine) DuplicateRole(ctx context.Context, id, actor string) (role Role, err error) {
	ctx, done := e.begin(ctx, "duplicate_role", map[string]interface{}{"role_id": id, "actor": actor})
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return Role{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	roles, err := e.loadRoles(ctx)
	if err != nil {
		return Role{}, err
	}
	source, ok := findRole(roles, id)
	if !ok {
		return Role{}, newError(ErrNotFound, id, "role does not exist")
	}

	now := e.now()
	role = Role{
		ID:           e.newID(),
		Name:         copyName(roles, source.Name),
		Description:  source.Description,
		Color:        source.Color,
		Permissions:  e.resolver.total(source.Permissions),
		Version:      1,
		CreatedAt:    now,
		LastModified: LastModified{By: actor, At: now},
	}
	if err := e.save(ctx, role); err != nil {
		return Role{}, err
	}

	entry := &audit.Entry{
		Action:      audit.ActionRoleDuplicated,
		RoleID:      role.ID,
		RoleName:    role.Name,
		PerformedBy: actor,
		Timestamp:   now,
		Details:     fmt.Sprintf("Duplicated %q as %q", source.Name, role.Name),
		Metadata:    map[string]interface{}{"source_role_id": source.ID},
	}
	if err := e.record(ctx, entry); err != nil {
		e.restore(ctx, "role "+role.ID, func() error { return e.repo.DeleteRole(ctx, role.ID) })
		return Role{}, err
	}

	e.notify(ctx, audit.ActionRoleDuplicated, role.ID)
	return role, nil
}

// DeleteRole removes a custom role. A role with assigned users needs a
// different, existing replacement role; its users are moved there. It
// returns the number of users moved.
func (e *Engine) DeleteRole(ctx context.Context, id, replacementID, actor string) (moved int, err error) {
	ctx, done := e.begin(ctx, "delete_role", map[string]interface{}{
		"role_id": id, "replacement_role_id": replacementID, "actor": actor,
	})
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	roles, err := e.loadRoles(ctx)
	if err != nil {
		return 0, err
	}
	role, ok := findRole(roles, id)
	if !ok {
		return 0, newError(ErrNotFound, id, "role does not exist")
	}
	if role.IsSystem {
		return 0, newError(ErrSystemRoleImmutable, id, "%q is a system role", role.Name)
	}
	if e.resolver.IsAdministrative(role.Permissions) && e.otherAdministrative(roles, id) == 0 {
		return 0, newError(ErrLastAdministrativeRole, id, "%q is the only administrative role", role.Name)
	}

	undo := func() error { return nil }
	if role.UserCount > 0 {
		replacement, ok := findRole(roles, replacementID)
		if replacementID == "" || replacementID == id || !ok {
			return 0, newError(ErrReplacementRequired, id,
				"%s must be moved to another existing role", plural(role.UserCount, "user", "users"))
		}
		if undo, moved, err = e.reassign(ctx, id, replacement.ID); err != nil {
			return 0, err
		}
	}

	if err := e.repo.DeleteRole(ctx, id); err != nil {
		e.restore(ctx, "assignments of "+id, undo)
		return 0, err
	}

	now := e.now()
	metadata := map[string]interface{}{"reassigned_users": moved}
	details := fmt.Sprintf("Deleted role %q", role.Name)
	if moved > 0 {
		metadata["replacement_role_id"] = replacementID
		details += fmt.Sprintf(" and moved %s to %s", plural(moved, "user", "users"), replacementID)
	}
	entry := &audit.Entry{
		Action:      audit.ActionRoleDeleted,
		RoleID:      id,
		RoleName:    role.Name,
		PerformedBy: actor,
		Timestamp:   now,
		Details:     details,
		Metadata:    metadata,
	}
	if err := e.record(ctx, entry); err != nil {
		e.restore(ctx, "role "+id, func() error {
			if err := e.save(ctx, role); err != nil {
				return err
			}
			return undo()
		})
		return 0, err
	}

	e.notify(ctx, audit.ActionRoleDeleted, id)
	if moved > 0 {
		e.notify(ctx, audit.ActionUsersAssigned, replacementID)
	}
	return moved, nil
}

// reassign moves every user of from onto to and returns a func that puts
// the assignments back as they were.
func (e *Engine) reassign(ctx context.Context, from, to string) (func() error, int, error) {
	original, err := e.index.UsersForRole(ctx, from)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read assignments: %w", err)
	}
	existing, err := e.index.UsersForRole(ctx, to)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read assignments: %w", err)
	}
	held := make(map[string]bool, len(existing))
	for _, r := range existing {
		held[r.UserID] = true
	}

	moved, err := e.index.Reassign(ctx, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reassign users: %w", err)
	}

	undo := func() error {
		var added []string
		for _, r := range original {
			if !held[r.UserID] {
				added = append(added, r.UserID)
			}
		}
		if err := e.index.Unassign(ctx, to, added); err != nil {
			return err
		}
		for _, r := range original {
			if _, err := e.index.Assign(ctx, from, []string{r.UserID}, r.AssignedAt); err != nil {
				return err
			}
		}
		return nil
	}
	return undo, moved, nil
}

// AssignUsers assigns users to a role and returns the ids that were newly
// assigned. Users who already hold the role are left as they are.
func (e *Engine) AssignUsers(ctx context.Context, roleID string, userIDs []string, actor string) (added []string, err error) {
	ctx, done := e.begin(ctx, "assign_users", map[string]interface{}{"role_id": roleID, "actor": actor})
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return nil, err
	}
	hasUser := false
	for _, u := range userIDs {
		if strings.TrimSpace(u) != "" {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return nil, newError(ErrInvalidInput, roleID, "at least one user id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	role, err := e.repo.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	added, err = e.index.Assign(ctx, roleID, userIDs, now)
	if err != nil {
		return nil, fmt.Errorf("failed to assign users: %w", err)
	}
	if len(added) == 0 {
		return added, nil
	}

	entry := &audit.Entry{
		Action:      audit.ActionUsersAssigned,
		RoleID:      roleID,
		RoleName:    role.Name,
		PerformedBy: actor,
		Timestamp:   now,
		Details:     fmt.Sprintf("Assigned %s to %q", plural(len(added), "user", "users"), role.Name),
		Metadata:    map[string]interface{}{"users": added},
	}
	if err := e.record(ctx, entry); err != nil {
		e.restore(ctx, "assignments of "+roleID, func() error { return e.index.Unassign(ctx, roleID, added) })
		return nil, err
	}

	e.notify(ctx, audit.ActionUsersAssigned, roleID)
	return added, nil
}

// ListLogs returns the activity log newest first. An empty roleID lists
// every entry.
func (e *Engine) ListLogs(ctx context.Context, roleID string) ([]*audit.Entry, error) {
	return e.SearchLogs(ctx, audit.SearchFilter{RoleID: roleID})
}

// SearchLogs returns the entries matching filter, newest first
func (e *Engine) SearchLogs(ctx context.Context, filter audit.SearchFilter) ([]*audit.Entry, error) {
	entries, err := e.activity.Search(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search activity log: %w", err)
	}
	return entries, nil
}

func findRole(roles []Role, id string) (Role, bool) {
	for _, role := range roles {
		if role.ID == id {
			return role, true
		}
	}
	return Role{}, false
}

// copyName returns "<name> (Copy)", or "<name> (Copy N)" with the smallest
// N >= 2 that is free.
func copyName(roles []Role, name string) string {
	taken := make(map[string]bool, len(roles))
	for _, role := range roles {
		taken[nameKey(role.Name)] = true
	}

	candidate := name + " (Copy)"
	for n := 2; taken[nameKey(candidate)]; n++ {
		candidate = fmt.Sprintf("%s (Copy %d)", name, n)
	}
	return candidate
}

func splitChanges(changes []PermissionChange) (granted, revoked []string) {
	granted = make([]string, 0)
	revoked = make([]string, 0)
	for _, c := range changes {
		if c.To {
			granted = append(granted, c.ID)
		} else {
			revoked = append(revoked, c.ID)
		}
	}
	return granted, revoked
}

// describeChanges renders a diff as "Granted: A, B; Revoked: C" using labels
func describeChanges(changes []PermissionChange) string {
	var granted, revoked []string
	for _, c := range changes {
		if c.To {
			granted = append(granted, c.Label)
		} else {
			revoked = append(revoked, c.Label)
		}
	}

	var parts []string
	if len(granted) > 0 {
		parts = append(parts, "Granted: "+strings.Join(granted, ", "))
	}
	if len(revoked) > 0 {
		parts = append(parts, "Revoked: "+strings.Join(revoked, ", "))
	}
	return strings.Join(parts, "; ")
}

func plural(n int, one, many string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, one)
	}
	return fmt.Sprintf("%d %s", n, many)
}
