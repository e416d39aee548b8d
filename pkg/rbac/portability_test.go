package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/rolekeeper/pkg/audit"
)

func marshalDocument(t *testing.T, roles ...Role) []byte {
	t.Helper()
	data, err := json.Marshal(Document{FormatVersion: ExportFormatVersion, ExportedAt: testEpoch, Roles: roles})
	require.NoError(t, err)
	return data
}

func importViolations(t *testing.T, err error) []string {
	t.Helper()
	var domainErr *Error
	require.True(t, errors.As(err, &domainErr), "got %v", err)
	require.Equal(t, ErrImportValidationFailed, domainErr.Kind)
	return domainErr.Violations
}

func TestEngine_ExportRoles(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.AssignUsers(context.Background(), EditorRoleID, []string{"u1"}, "alice")
	require.NoError(t, err)

	data, err := f.engine.ExportRoles(context.Background())
	require.NoError(t, err)

	doc, err := ParseDocument(data)
	require.NoError(t, err)
	assert.Equal(t, ExportFormatVersion, doc.FormatVersion)
	require.Len(t, doc.Roles, 3)
	assert.Equal(t, []string{AdministratorRoleID, ViewerRoleID, EditorRoleID}, roleIDs(doc.Roles))
	assert.Equal(t, 1, doc.Roles[2].UserCount)
	assert.Len(t, doc.Roles[0].Permissions, f.resolver.Catalog().Len())
}

func TestEngine_ImportOwnExportIsUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	data, err := f.engine.ExportRoles(ctx)
	require.NoError(t, err)

	result, err := f.engine.ImportRoles(ctx, data, "alice")
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.Updated)
	assert.Equal(t, []string{AdministratorRoleID, EditorRoleID, ViewerRoleID}, result.Unchanged)
	assert.Equal(t, 0, f.memLog.Len())
}

func TestEngine_ImportIntoAnotherStore(t *testing.T) {
	ctx := context.Background()
	source := newFixture(t)
	_, err := source.engine.CreateRole(ctx, RoleInput{Name: "Support", Permissions: grants("users.invite")}, "alice")
	require.NoError(t, err)
	data, err := source.engine.ExportRoles(ctx)
	require.NoError(t, err)

	target := newFixture(t)
	result, err := target.engine.ImportRoles(ctx, data, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"role-1"}, result.Created)
	assert.Empty(t, result.Updated)

	role, err := target.engine.GetRole(ctx, "role-1")
	require.NoError(t, err)
	assert.Equal(t, "Support", role.Name)
	assert.Equal(t, "bob", role.LastModified.By)
	assert.Equal(t, int64(1), role.Version)
}

func TestEngine_ImportMergesByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	editor := testRole(t, EditorRoleID, "Writer", "posts.write")
	editor.Description = "Writes"
	support := Role{Name: "Support", Permissions: grants("users.read", "users.invite")}

	result, err := f.engine.ImportRoles(ctx, marshalDocument(t, editor, support), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"role-1"}, result.Created)
	assert.Equal(t, []string{EditorRoleID}, result.Updated)
	assert.Empty(t, result.Unchanged)

	updated, err := f.engine.GetRole(ctx, EditorRoleID)
	require.NoError(t, err)
	assert.Equal(t, "Writer", updated.Name)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, []string{"posts.read", "posts.write"}, updated.Permissions.Granted())

	created, err := f.engine.GetRole(ctx, "role-1")
	require.NoError(t, err)
	assert.False(t, created.IsSystem)

	roles, err := f.engine.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 4, "roles missing from the document are kept")

	entries, err := f.engine.ListLogs(ctx, EditorRoleID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRoleUpdated, entries[0].Action)
	assert.Equal(t, "import", entries[0].Metadata["source"])

	entries, err = f.engine.ListLogs(ctx, "role-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRoleCreated, entries[0].Action)
}

func TestEngine_ImportCollectsEveryViolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	admin, err := f.repo.GetRole(ctx, AdministratorRoleID)
	require.NoError(t, err)
	admin.Name = "Root"

	data := marshalDocument(t,
		admin,
		Role{Name: "", Permissions: grants("posts.read")},
		Role{Name: "Bad", Permissions: grants("posts.archive")},
		Role{Name: "Loose", Permissions: grants("posts.write")},
		Role{Name: "Empty", Permissions: PermissionSet{}},
		Role{Name: "viewer", Permissions: grants("posts.read")},
	)

	_, err = f.engine.ImportRoles(ctx, data, "alice")
	violations := importViolations(t, err)
	assert.Contains(t, violations, `roles[0] "Root": system role administrator cannot be changed`)
	assert.Contains(t, violations, `roles[1] "": name is required`)
	assert.Contains(t, violations, `roles[2] "Bad": unknown permissions posts.archive`)
	assert.Contains(t, violations, `roles[3] "Loose": posts.write requires posts.read`)
	assert.Contains(t, violations, `roles[4] "Empty": grants no permissions`)
	assert.Contains(t, violations, `duplicate role name "Viewer" (role-5, viewer)`)

	roles, err := f.repo.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 3, "nothing is written")
	assert.Equal(t, 0, f.memLog.Len())
}

func TestEngine_ImportDuplicateIDs(t *testing.T) {
	f := newFixture(t)

	data := marshalDocument(t,
		Role{ID: "x", Name: "A", Permissions: grants("posts.read")},
		Role{ID: "x", Name: "B", Permissions: grants("posts.read")},
	)
	_, err := f.engine.ImportRoles(context.Background(), data, "alice")
	assert.Equal(t, []string{`roles[1] "B": duplicate id x`}, importViolations(t, err))
}

func TestEngine_ImportKeepsAdministrativeRole(t *testing.T) {
	f := newFixture(t, testRole(t, "ops", "Ops", "rbac.manage"))

	data := marshalDocument(t, testRole(t, "ops", "Ops", "posts.read"))
	_, err := f.engine.ImportRoles(context.Background(), data, "alice")
	assert.Equal(t, []string{"no administrative role would remain"}, importViolations(t, err))
}

func TestEngine_ImportRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.ImportRoles(ctx, []byte(`{"format_version": 2, "roles": []}`), "alice")
	assert.Equal(t, []string{"unsupported format_version 2"}, importViolations(t, err))

	_, err = f.engine.ImportRoles(ctx, []byte(`{"format_version": 1, "owner": "me"}`), "alice")
	violations := importViolations(t, err)
	require.Len(t, violations, 1)
	assert.Contains(t, violations[0], "invalid document: ")

	_, err = f.engine.ImportRoles(ctx, []byte(`not json`), "alice")
	importViolations(t, err)

	_, err = f.engine.ImportRoles(ctx, marshalDocument(t), "")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestEngine_ImportRollsBackWhenActivityLogFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	editor := testRole(t, EditorRoleID, "Writer", "posts.write")
	support := Role{Name: "Support", Permissions: grants("users.read")}
	f.activity.setFailing(true)

	_, err := f.engine.ImportRoles(ctx, marshalDocument(t, editor, support), "alice")
	require.Error(t, err)

	roles, err := f.repo.ListRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{AdministratorRoleID, ViewerRoleID, EditorRoleID}, roleIDs(roles))
	assert.Equal(t, "Editor", roles[2].Name)
	assert.Equal(t, int64(1), roles[2].Version)
}
