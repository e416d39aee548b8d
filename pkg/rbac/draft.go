package rbac

// Confirmation describes a critical disable waiting for the caller's decision
type Confirmation struct {
	PermissionID string `json:"permission_id"`
	Label        string `json:"label"`

	// Dependents that the confirmed disable will also turn off
	Dependents []string `json:"dependents,omitempty"`
}

// ToggleResult is the outcome of Draft.Toggle. When Pending is set the
// working set was not changed.
type ToggleResult struct {
	Working PermissionSet
	Pending *Confirmation
}

// Draft is a working copy of one role's permissions. It never touches the
// committed role; Engine.Commit writes it back. A Draft is not safe for
// concurrent use.
type Draft struct {
	resolver    *Resolver
	role        Role
	working     PermissionSet
	baseVersion int64
	pending     *Confirmation
}

func newDraft(resolver *Resolver, role Role) *Draft {
	committed := resolver.total(role.Permissions)
	role.Permissions = committed
	return &Draft{
		resolver:    resolver,
		role:        role,
		working:     committed.Clone(),
		baseVersion: role.Version,
	}
}

// RoleID is the id of the role being edited
func (d *Draft) RoleID() string { return d.role.ID }

// Role returns the committed role the draft was opened from
func (d *Draft) Role() Role { return d.role.Clone() }

// BaseVersion is the role version captured when the draft was opened or last committed
func (d *Draft) BaseVersion() int64 { return d.baseVersion }

// Working returns a copy of the working set
func (d *Draft) Working() PermissionSet { return d.working.Clone() }

// Committed returns a copy of the committed set
func (d *Draft) Committed() PermissionSet { return d.role.Permissions.Clone() }

// Pending returns the confirmation awaiting a decision, or nil
func (d *Draft) Pending() *Confirmation {
	if d.pending == nil {
		return nil
	}
	c := *d.pending
	c.Dependents = append([]string(nil), d.pending.Dependents...)
	return &c
}

// IsDirty reports whether the working set differs from the committed set
func (d *Draft) IsDirty() bool {
	return !d.working.Equal(d.role.Permissions)
}

func (d *Draft) guardPending() error {
	if d.pending != nil {
		return newError(ErrConfirmationPending, d.role.ID, "%s awaits confirmation", d.pending.PermissionID)
	}
	return nil
}

// Toggle flips one permission. Disabling a granted critical permission does
// not change anything: it returns a pending Confirmation instead.
func (d *Draft) Toggle(id string) (ToggleResult, error) {
	if err := d.guardPending(); err != nil {
		return ToggleResult{}, err
	}
	cat := d.resolver.Catalog()
	if !cat.Has(id) {
		return ToggleResult{}, newError(ErrUnknownPermission, d.role.ID, "%q", id)
	}

	if d.working[id] && cat.IsCritical(id) {
		var dependents []string
		for _, dep := range cat.Dependents(id) {
			if d.working[dep] {
				dependents = append(dependents, dep)
			}
		}
		d.pending = &Confirmation{PermissionID: id, Label: cat.Label(id), Dependents: dependents}
		return ToggleResult{Working: d.Working(), Pending: d.Pending()}, nil
	}

	next, err := d.resolver.Toggle(d.working, id)
	if err != nil {
		return ToggleResult{}, err
	}
	d.working = next
	return ToggleResult{Working: d.Working()}, nil
}

// ToggleGroup applies group semantics to every permission of the named group.
// Critical permissions in the group are not gated.
func (d *Draft) ToggleGroup(name string) (PermissionSet, error) {
	if err := d.guardPending(); err != nil {
		return nil, err
	}
	group, ok := d.resolver.Catalog().Group(name)
	if !ok {
		return nil, newError(ErrInvalidInput, d.role.ID, "unknown permission group %q", name)
	}
	next, err := d.resolver.ToggleGroup(d.working, group.IDs())
	if err != nil {
		return nil, err
	}
	d.working = next
	return d.Working(), nil
}

// ConfirmCritical applies the pending disable with its dependents
func (d *Draft) ConfirmCritical() (PermissionSet, error) {
	if d.pending == nil {
		return nil, newError(ErrNoPendingConfirmation, d.role.ID, "nothing to confirm")
	}
	next, err := d.resolver.Disable(d.working, d.pending.PermissionID)
	if err != nil {
		return nil, err
	}
	d.working = next
	d.pending = nil
	return d.Working(), nil
}

// CancelCritical drops the pending disable and leaves the working set as is
func (d *Draft) CancelCritical() error {
	if d.pending == nil {
		return newError(ErrNoPendingConfirmation, d.role.ID, "nothing to cancel")
	}
	d.pending = nil
	return nil
}

// Diff lists every permission whose working value differs from the committed one
func (d *Draft) Diff() []PermissionChange {
	return d.resolver.Diff(d.role.Permissions, d.working)
}

// Discard resets the working set to the committed set and drops any pending confirmation
func (d *Draft) Discard() {
	d.working = d.role.Permissions.Clone()
	d.pending = nil
}

// rebase makes role the new committed state after a successful commit
func (d *Draft) rebase(role Role) {
	role.Permissions = d.resolver.total(role.Permissions)
	d.role = role
	d.working = role.Permissions.Clone()
	d.baseVersion = role.Version
	d.pending = nil
}
