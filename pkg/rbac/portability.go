package rbac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/platinummonkey/rolekeeper/pkg/audit"
)

// ExportFormatVersion is the version written to and accepted from role documents
const ExportFormatVersion = 1

// Document is the serialized form of every role
type Document struct {
	FormatVersion int       `json:"format_version"`
	ExportedAt    time.Time `json:"exported_at"`
	Roles         []Role    `json:"roles"`
}

// ImportResult lists the role ids an import touched
type ImportResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// ExportRoles serializes every role into an indented JSON Document
func (e *Engine) ExportRoles(ctx context.Context) (data []byte, err error) {
	ctx, done := e.begin(ctx, "export_roles", nil)
	defer done(&err)

	roles, err := e.ListRoles(ctx)
	if err != nil {
		return nil, err
	}

	doc := Document{
		FormatVersion: ExportFormatVersion,
		ExportedAt:    e.now(),
		Roles:         roles,
	}
	data, err = json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal roles: %w", err)
	}
	return data, nil
}

// ParseDocument decodes a role document and checks its format version
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, &Error{Kind: ErrImportValidationFailed, Violations: []string{"invalid document: " + err.Error()}}
	}
	if doc.FormatVersion != ExportFormatVersion {
		return nil, &Error{
			Kind:       ErrImportValidationFailed,
			Violations: []string{fmt.Sprintf("unsupported format_version %d", doc.FormatVersion)},
		}
	}
	return &doc, nil
}

// ImportRoles merges a role document into the store. Roles are matched by
// id: existing custom roles are replaced, unknown ids are created as custom
// roles, and system roles must be carried unchanged. Roles missing from the
// document are kept. The resulting state is validated as a whole and nothing
// is written unless every check passes.
func (e *Engine) ImportRoles(ctx context.Context, data []byte, actor string) (result ImportResult, err error) {
	ctx, done := e.begin(ctx, "import_roles", map[string]interface{}{"actor": actor})
	defer done(&err)

	if err := requireActor(actor); err != nil {
		return ImportResult{}, err
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return ImportResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	existing, err := e.repo.ListRoles(ctx)
	if err != nil {
		return ImportResult{}, err
	}
	byID := make(map[string]Role, len(existing))
	for _, role := range existing {
		byID[role.ID] = role
	}

	now := e.now()
	var violations []string
	var writes []Role
	var created []bool
	seen := make(map[string]bool, len(doc.Roles))
	final := make(map[string]Role, len(existing)+len(doc.Roles))
	for id, role := range byID {
		final[id] = role
	}

	for i, in := range doc.Roles {
		label := fmt.Sprintf("roles[%d] %q", i, in.Name)
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id = e.newID()
		}
		if seen[id] {
			violations = append(violations, fmt.Sprintf("%s: duplicate id %s", label, id))
			continue
		}
		seen[id] = true

		name := strings.TrimSpace(in.Name)
		if name == "" {
			violations = append(violations, fmt.Sprintf("%s: name is required", label))
		}
		if unknown := e.resolver.Unknown(in.Permissions); len(unknown) > 0 {
			violations = append(violations, fmt.Sprintf("%s: unknown permissions %s", label, strings.Join(unknown, ", ")))
			continue
		}
		set := e.resolver.total(in.Permissions)
		for _, v := range e.resolver.Violations(set) {
			violations = append(violations, fmt.Sprintf("%s: %s", label, v))
		}
		if set.Count() == 0 {
			violations = append(violations, fmt.Sprintf("%s: grants no permissions", label))
		}

		current, exists := byID[id]
		if exists && current.IsSystem {
			if name != current.Name || !set.Equal(current.Permissions) || in.Description != current.Description || in.Color != current.Color {
				violations = append(violations, fmt.Sprintf("%s: system role %s cannot be changed", label, id))
			}
			continue
		}

		role := Role{
			ID:          id,
			Name:        name,
			Description: in.Description,
			Color:       in.Color,
			Permissions: set,
		}
		if exists {
			if role.Name == current.Name && role.Description == current.Description &&
				role.Color == current.Color && set.Equal(current.Permissions) {
				continue
			}
			role.Version = current.Version + 1
			role.CreatedAt = current.CreatedAt
		} else {
			role.Version = 1
			role.CreatedAt = now
		}
		role.LastModified = LastModified{By: actor, At: now}

		final[id] = role
		writes = append(writes, role)
		created = append(created, !exists)
	}

	violations = append(violations, e.validateFinal(final)...)
	if len(violations) > 0 {
		return ImportResult{}, &Error{Kind: ErrImportValidationFailed, Violations: violations}
	}

	result = ImportResult{Created: []string{}, Updated: []string{}, Unchanged: []string{}}
	for id := range seen {
		written := false
		for _, w := range writes {
			if w.ID == id {
				written = true
				break
			}
		}
		if !written {
			result.Unchanged = append(result.Unchanged, id)
		}
	}
	sort.Strings(result.Unchanged)
	if len(writes) == 0 {
		return result, nil
	}

	if err := e.repo.SaveRoles(ctx, writes); err != nil {
		return ImportResult{}, err
	}

	for i, role := range writes {
		action := audit.ActionRoleUpdated
		details := fmt.Sprintf("Imported changes to role %q", role.Name)
		if created[i] {
			action = audit.ActionRoleCreated
			details = fmt.Sprintf("Imported role %q with %s", role.Name, plural(role.Permissions.Count(), "permission", "permissions"))
		}
		entry := &audit.Entry{
			Action:      action,
			RoleID:      role.ID,
			RoleName:    role.Name,
			PerformedBy: actor,
			Timestamp:   now,
			Details:     details,
			Metadata: map[string]interface{}{
				"source":      "import",
				"permissions": e.resolver.Ordered(role.Permissions.Granted()),
			},
		}
		if err := e.record(ctx, entry); err != nil {
			e.restore(ctx, "import", func() error { return e.undoImport(ctx, writes, created, byID) })
			return ImportResult{}, err
		}
		if created[i] {
			result.Created = append(result.Created, role.ID)
		} else {
			result.Updated = append(result.Updated, role.ID)
		}
	}

	for i, role := range writes {
		if created[i] {
			e.notify(ctx, audit.ActionRoleCreated, role.ID)
		} else {
			e.notify(ctx, audit.ActionRoleUpdated, role.ID)
		}
	}
	return result, nil
}

// validateFinal checks the invariants that span roles: unique names and at
// least one administrative role.
func (e *Engine) validateFinal(final map[string]Role) []string {
	var violations []string

	ids := make([]string, 0, len(final))
	for id := range final {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	owner := make(map[string]string, len(final))
	admins := 0
	for _, id := range ids {
		role := final[id]
		key := nameKey(role.Name)
		if key != "" {
			if other, ok := owner[key]; ok {
				violations = append(violations, fmt.Sprintf("duplicate role name %q (%s, %s)", role.Name, other, id))
			} else {
				owner[key] = id
			}
		}
		if e.resolver.IsAdministrative(role.Permissions) {
			admins++
		}
	}

	if admins == 0 {
		violations = append(violations, "no administrative role would remain")
	}
	return violations
}

// undoImport puts back the roles an import replaced and removes the ones it created
func (e *Engine) undoImport(ctx context.Context, writes []Role, created []bool, previous map[string]Role) error {
	var restore []Role
	for i, role := range writes {
		if created[i] {
			if err := e.repo.DeleteRole(ctx, role.ID); err != nil {
				return err
			}
			continue
		}
		restore = append(restore, previous[role.ID])
	}
	if len(restore) == 0 {
		return nil
	}
	return e.repo.SaveRoles(ctx, restore)
}
