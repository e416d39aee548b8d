package rbac

import (
	"fmt"
	"sort"

	"github.com/platinummonkey/rolekeeper/pkg/catalog"
)

// Resolver computes cascaded permission sets over a catalog's dependency
// closures. Every result is total over the catalog. Resolver is stateless and
// safe for concurrent use.
type Resolver struct {
	cat *catalog.Catalog
}

// NewResolver creates a resolver for cat
func NewResolver(cat *catalog.Catalog) *Resolver {
	return &Resolver{cat: cat}
}

// Catalog returns the catalog the resolver works over
func (r *Resolver) Catalog() *catalog.Catalog {
	return r.cat
}

// Empty returns the all-false set
func (r *Resolver) Empty() PermissionSet {
	set := make(PermissionSet, r.cat.Len())
	for _, id := range r.cat.IDs() {
		set[id] = false
	}
	return set
}

// total copies the catalog ids of current into a full set
func (r *Resolver) total(current PermissionSet) PermissionSet {
	set := r.Empty()
	for id := range set {
		set[id] = current[id]
	}
	return set
}

func (r *Resolver) enable(set PermissionSet, id string) {
	set[id] = true
	for _, p := range r.cat.Prerequisites(id) {
		set[p] = true
	}
}

func (r *Resolver) disable(set PermissionSet, id string) {
	set[id] = false
	for _, d := range r.cat.Dependents(id) {
		set[d] = false
	}
}

// Toggle flips id. Enabling forces every prerequisite on; disabling forces
// every dependent off.
func (r *Resolver) Toggle(current PermissionSet, id string) (PermissionSet, error) {
	if !r.cat.Has(id) {
		return nil, newError(ErrUnknownPermission, "", "%q", id)
	}
	set := r.total(current)
	if set[id] {
		r.disable(set, id)
	} else {
		r.enable(set, id)
	}
	return set, nil
}

// Disable turns id off with its dependents regardless of its current value
func (r *Resolver) Disable(current PermissionSet, id string) (PermissionSet, error) {
	if !r.cat.Has(id) {
		return nil, newError(ErrUnknownPermission, "", "%q", id)
	}
	set := r.total(current)
	r.disable(set, id)
	return set, nil
}

// ToggleGroup enables every item (with prerequisites) when any item is off,
// otherwise disables every item (with dependents).
func (r *Resolver) ToggleGroup(current PermissionSet, items []string) (PermissionSet, error) {
	for _, id := range items {
		if !r.cat.Has(id) {
			return nil, newError(ErrUnknownPermission, "", "%q", id)
		}
	}

	set := r.total(current)
	allOn := true
	for _, id := range items {
		if !set[id] {
			allOn = false
			break
		}
	}

	for _, id := range items {
		if allOn {
			r.disable(set, id)
		} else {
			r.enable(set, id)
		}
	}
	return set, nil
}

// Normalize rejects unknown ids, fills missing ids with false and applies the
// enabling closure so the result satisfies every dependency.
func (r *Resolver) Normalize(in PermissionSet) (PermissionSet, error) {
	if unknown := r.Unknown(in); len(unknown) > 0 {
		return nil, &Error{Kind: ErrUnknownPermission, Violations: unknown}
	}
	set := r.total(in)
	for _, id := range r.cat.IDs() {
		if in[id] {
			r.enable(set, id)
		}
	}
	return set, nil
}

// Unknown returns the ids of in that the catalog does not define, sorted
func (r *Resolver) Unknown(in PermissionSet) []string {
	var unknown []string
	for id := range in {
		if !r.cat.Has(id) {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// Violations lists every granted permission whose prerequisite is not granted
func (r *Resolver) Violations(set PermissionSet) []string {
	var out []string
	for _, d := range r.cat.Dependencies() {
		if set[d.Permission] && !set[d.Requires] {
			out = append(out, fmt.Sprintf("%s requires %s", d.Permission, d.Requires))
		}
	}
	return out
}

// Diff returns the ids whose grant differs between from and to, in catalog order
func (r *Resolver) Diff(from, to PermissionSet) []PermissionChange {
	changes := make([]PermissionChange, 0)
	for _, id := range r.cat.IDs() {
		if from[id] != to[id] {
			changes = append(changes, PermissionChange{
				ID:    id,
				Label: r.cat.Label(id),
				From:  from[id],
				To:    to[id],
			})
		}
	}
	return changes
}

// IsAdministrative reports whether set grants the whole administrative set.
// An empty administrative set never matches.
func (r *Resolver) IsAdministrative(set PermissionSet) bool {
	admin := r.cat.AdministrativeIDs()
	if len(admin) == 0 {
		return false
	}
	for _, id := range admin {
		if !set[id] {
			return false
		}
	}
	return true
}

// Ordered sorts ids by catalog position
func (r *Resolver) Ordered(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.SliceStable(out, func(i, j int) bool { return r.cat.Less(out[i], out[j]) })
	return out
}
