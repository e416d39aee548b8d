package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// AdminGroupName is the group whose permissions make up the administrative
// set when no permission is explicitly flagged as administrative.
const AdminGroupName = "System Control"

// Definition describes a single grantable permission
type Definition struct {
	ID             string `json:"id" yaml:"id"`
	Label          string `json:"label" yaml:"label"`
	Description    string `json:"description,omitempty" yaml:"description,omitempty"`
	Critical       bool   `json:"critical" yaml:"critical,omitempty"`
	Administrative bool   `json:"administrative" yaml:"administrative,omitempty"`
	Group          string `json:"group" yaml:"-"`
}

// Group is an ordered, named set of permissions. Icon is presentation only.
type Group struct {
	Name        string       `json:"name" yaml:"name"`
	Icon        string       `json:"icon,omitempty" yaml:"icon,omitempty"`
	Permissions []Definition `json:"permissions" yaml:"permissions"`
}

// IDs returns the permission ids of the group in declaration order
func (g Group) IDs() []string {
	ids := make([]string, len(g.Permissions))
	for i, p := range g.Permissions {
		ids[i] = p.ID
	}
	return ids
}

// Dependency states that Permission cannot be granted unless Requires is granted.
type Dependency struct {
	Permission string `json:"permission" yaml:"permission"`
	Requires   string `json:"requires" yaml:"requires"`
	Message    string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Catalog is the immutable, validated permission catalog.
type Catalog struct {
	groups     []Group
	deps       []Dependency
	byID       map[string]Definition
	position   map[string]int
	order      []string
	groupIndex map[string]int

	requires      map[string][]string
	prerequisites map[string][]string
	dependents    map[string][]string
	adminSet      []string
}

// New validates groups and dependencies and builds a catalog.
// Every problem found is reported in a single *ValidationError.
func New(groups []Group, deps []Dependency) (*Catalog, error) {
	c := &Catalog{
		byID:          make(map[string]Definition),
		position:      make(map[string]int),
		groupIndex:    make(map[string]int),
		requires:      make(map[string][]string),
		prerequisites: make(map[string][]string),
		dependents:    make(map[string][]string),
	}

	var problems []string

	for _, g := range groups {
		name := strings.TrimSpace(g.Name)
		if name == "" {
			problems = append(problems, "group with empty name")
			continue
		}
		if _, dup := c.groupIndex[name]; dup {
			problems = append(problems, fmt.Sprintf("duplicate group %q", name))
			continue
		}

		group := Group{Name: name, Icon: g.Icon, Permissions: make([]Definition, 0, len(g.Permissions))}
		for _, p := range g.Permissions {
			id := strings.TrimSpace(p.ID)
			if id == "" {
				problems = append(problems, fmt.Sprintf("permission with empty id in group %q", name))
				continue
			}
			if existing, dup := c.byID[id]; dup {
				problems = append(problems, fmt.Sprintf("duplicate permission id %q (groups %q and %q)", id, existing.Group, name))
				continue
			}
			p.ID = id
			p.Group = name
			if p.Label == "" {
				p.Label = id
			}
			c.byID[id] = p
			c.position[id] = len(c.order)
			c.order = append(c.order, id)
			group.Permissions = append(group.Permissions, p)
		}

		c.groupIndex[name] = len(c.groups)
		c.groups = append(c.groups, group)
	}

	if len(c.order) == 0 {
		problems = append(problems, "catalog defines no permissions")
	}

	seen := make(map[[2]string]bool)
	for _, d := range deps {
		switch {
		case !c.Has(d.Permission):
			problems = append(problems, fmt.Sprintf("dependency references unknown permission %q", d.Permission))
			continue
		case !c.Has(d.Requires):
			problems = append(problems, fmt.Sprintf("dependency of %q requires unknown permission %q", d.Permission, d.Requires))
			continue
		case d.Permission == d.Requires:
			problems = append(problems, fmt.Sprintf("permission %q requires itself", d.Permission))
			continue
		}
		key := [2]string{d.Permission, d.Requires}
		if seen[key] {
			continue
		}
		seen[key] = true
		c.deps = append(c.deps, d)
		c.requires[d.Permission] = append(c.requires[d.Permission], d.Requires)
	}

	if cycle := c.findCycle(); cycle != nil {
		problems = append(problems, "dependency cycle: "+strings.Join(cycle, " -> "))
	}

	// Every catalog must yield an administrative set
	c.computeAdminSet()
	if len(c.order) > 0 && len(c.adminSet) == 0 {
		problems = append(problems, "no administrative permission set")
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	c.computeClosures()
	return c, nil
}

// MustNew is like New but panics on an invalid catalog. Intended for
// catalogs compiled into the binary.
func MustNew(groups []Group, deps []Dependency) *Catalog {
	c, err := New(groups, deps)
	if err != nil {
		panic(err)
	}
	return c
}

// findCycle runs a colored DFS over the requires edges and returns the first
// cycle found as a path that starts and ends on the same permission.
func (c *Catalog) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(c.order))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, next := range c.requires[id] {
			switch color[next] {
			case grey:
				for i, s := range stack {
					if s == next {
						cycle = append(append([]string{}, stack[i:]...), next)
						break
					}
				}
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range c.order {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

func (c *Catalog) computeClosures() {
	for _, id := range c.order {
		reached := make(map[string]bool)
		pending := append([]string{}, c.requires[id]...)
		for len(pending) > 0 {
			next := pending[len(pending)-1]
			pending = pending[:len(pending)-1]
			if reached[next] {
				continue
			}
			reached[next] = true
			pending = append(pending, c.requires[next]...)
		}
		prereqs := c.sorted(reached)
		c.prerequisites[id] = prereqs
		for _, p := range prereqs {
			c.dependents[p] = append(c.dependents[p], id)
		}
	}
	for id, deps := range c.dependents {
		c.dependents[id] = c.sortedSlice(deps)
	}
}

func (c *Catalog) computeAdminSet() {
	for _, id := range c.order {
		if c.byID[id].Administrative {
			c.adminSet = append(c.adminSet, id)
		}
	}
	if len(c.adminSet) > 0 {
		return
	}
	if g, ok := c.Group(AdminGroupName); ok {
		c.adminSet = g.IDs()
	}
}

func (c *Catalog) sorted(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return c.sortedSlice(out)
}

func (c *Catalog) sortedSlice(ids []string) []string {
	sort.Slice(ids, func(i, j int) bool { return c.position[ids[i]] < c.position[ids[j]] })
	return ids
}

// Groups returns the groups in declaration order.
func (c *Catalog) Groups() []Group {
	out := make([]Group, len(c.groups))
	for i, g := range c.groups {
		g.Permissions = append([]Definition(nil), g.Permissions...)
		out[i] = g
	}
	return out
}

// Group looks up a group by name.
func (c *Catalog) Group(name string) (Group, bool) {
	i, ok := c.groupIndex[name]
	if !ok {
		return Group{}, false
	}
	g := c.groups[i]
	g.Permissions = append([]Definition(nil), g.Permissions...)
	return g, true
}

// Dependencies returns every dependency edge.
func (c *Catalog) Dependencies() []Dependency {
	return append([]Dependency(nil), c.deps...)
}

// DirectDependencies returns the edges whose dependent is id.
func (c *Catalog) DirectDependencies(id string) []Dependency {
	var out []Dependency
	for _, d := range c.deps {
		if d.Permission == id {
			out = append(out, d)
		}
	}
	return out
}

// Definition looks up a permission by id.
func (c *Catalog) Definition(id string) (Definition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Has reports whether id is a known permission.
func (c *Catalog) Has(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Label returns the human label for id, or id itself when unknown.
func (c *Catalog) Label(id string) string {
	if d, ok := c.byID[id]; ok {
		return d.Label
	}
	return id
}

// IsCritical reports whether disabling id requires confirmation.
func (c *Catalog) IsCritical(id string) bool {
	return c.byID[id].Critical
}

// IDs returns every permission id in catalog order.
func (c *Catalog) IDs() []string {
	return append([]string(nil), c.order...)
}

// Len is the number of permissions.
func (c *Catalog) Len() int {
	return len(c.order)
}

// Prerequisites returns every permission id must have granted, directly or transitively.
func (c *Catalog) Prerequisites(id string) []string {
	return append([]string(nil), c.prerequisites[id]...)
}

// Dependents returns every permission that directly or transitively requires id.
func (c *Catalog) Dependents(id string) []string {
	return append([]string(nil), c.dependents[id]...)
}

// AdministrativeIDs is the permission set that makes a role administrative.
// Flagged permissions take precedence over the AdminGroupName group; New
// rejects a catalog that has neither.
func (c *Catalog) AdministrativeIDs() []string {
	return append([]string(nil), c.adminSet...)
}

// Less orders two permission ids by catalog position.
func (c *Catalog) Less(a, b string) bool {
	pa, okA := c.position[a]
	pb, okB := c.position[b]
	switch {
	case okA && okB:
		return pa < pb
	case okA != okB:
		return okA
	default:
		return a < b
	}
}
