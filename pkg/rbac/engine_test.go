package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/platinummonkey/rolekeeper/pkg/audit"
	"github.com/platinummonkey/rolekeeper/pkg/catalog"
	"github.com/platinummonkey/rolekeeper/pkg/observability"
)

func TestNewEngine_SeedsBuiltIns(t *testing.T) {
	f := newFixture(t)

	roles, err := f.engine.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 3)
	assert.Equal(t, []string{AdministratorRoleID, ViewerRoleID, EditorRoleID}, roleIDs(roles))
	assert.True(t, roles[0].IsSystem)
	assert.True(t, roles[1].IsSystem)
	assert.False(t, roles[2].IsSystem)
	assert.Equal(t, 0, f.memLog.Len(), "seeding is not an activity")
}

func TestNewEngine_KeepsExistingRoles(t *testing.T) {
	f := newFixture(t, testRole(t, "ops", "Ops", "rbac.manage"))

	roles, err := f.engine.ListRoles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, roleIDs(roles))
}

func TestNewEngine_RequiresCatalog(t *testing.T) {
	_, err := NewEngine(context.Background(), nil, nil, nil, nil)
	assert.True(t, errors.Is(err, ErrCatalog))
}

func TestEngine_DeleteLastAdministrativeRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		testRole(t, "editor", "Editor", "rbac.manage"),
		testRole(t, "reader", "Reader", "posts.read"),
	)

	_, err := f.engine.DeleteRole(ctx, "editor", "", "alice")
	assert.True(t, errors.Is(err, ErrLastAdministrativeRole))

	roles, err := f.engine.ListRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"editor", "reader"}, roleIDs(roles))
	assert.Equal(t, 0, f.memLog.Len())
}

func TestEngine_CommitCannotDropLastAdministrativeRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testRole(t, "editor", "Editor", "rbac.manage"))

	d, err := f.engine.OpenDraft(ctx, "editor")
	require.NoError(t, err)
	res, err := d.Toggle("rbac.manage")
	require.NoError(t, err)
	require.NotNil(t, res.Pending)
	_, err = d.ConfirmCritical()
	require.NoError(t, err)

	_, err = f.engine.Commit(ctx, d, "alice")
	assert.True(t, errors.Is(err, ErrLastAdministrativeRole))

	_, err = f.engine.UpdateRole(ctx, "editor", RoleInput{Name: "Editor", Permissions: grants("posts.read")}, "alice")
	assert.True(t, errors.Is(err, ErrLastAdministrativeRole))

	role, err := f.engine.GetRole(ctx, "editor")
	require.NoError(t, err)
	assert.True(t, role.Permissions["rbac.manage"])
	assert.Equal(t, int64(1), role.Version)
}

func TestEngine_CreateRoleDuplicateName(t *testing.T) {
	f := newFixture(t)

	for _, name := range []string{"editor", "EDITOR", "  Editor  "} {
		_, err := f.engine.CreateRole(context.Background(), RoleInput{Name: name, Permissions: grants("posts.read")}, "alice")
		assert.True(t, errors.Is(err, ErrDuplicateName), name)
	}
	assert.Equal(t, 0, f.memLog.Len())
}

func TestEngine_CommitWithoutChangesIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	before, err := f.engine.GetRole(ctx, EditorRoleID)
	require.NoError(t, err)

	d, err := f.engine.OpenDraft(ctx, EditorRoleID)
	require.NoError(t, err)
	_, err = d.Toggle("posts.publish")
	require.NoError(t, err)
	_, err = d.Toggle("posts.publish")
	require.NoError(t, err)
	require.False(t, d.IsDirty())

	role, err := f.engine.Commit(ctx, d, "alice")
	require.NoError(t, err)
	assert.Equal(t, before.Version, role.Version)
	assert.Equal(t, before.LastModified, role.LastModified)
	assert.Equal(t, 0, f.memLog.Len())

	after, err := f.engine.GetRole(ctx, EditorRoleID)
	require.NoError(t, err)
	assert.Equal(t, before.LastModified, after.LastModified)
}

func TestEngine_Commit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.OpenDraft(ctx, EditorRoleID)
	require.NoError(t, err)
	_, err = d.Toggle("users.invite")
	require.NoError(t, err)
	_, err = d.Toggle("posts.delete")
	require.NoError(t, err)

	role, err := f.engine.Commit(ctx, d, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), role.Version)
	assert.Equal(t, "alice", role.LastModified.By)
	assert.True(t, role.Permissions["users.invite"])
	assert.False(t, role.Permissions["posts.delete"])

	assert.False(t, d.IsDirty(), "draft is rebased onto the committed role")
	assert.Equal(t, int64(2), d.BaseVersion())

	entries, err := f.engine.ListLogs(ctx, EditorRoleID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, audit.ActionPermissionUpdated, entry.Action)
	assert.Equal(t, "alice", entry.PerformedBy)
	assert.Equal(t, "Granted: Invite users; Revoked: Delete posts", entry.Details)
	assert.Equal(t, []string{"users.invite"}, entry.Metadata["granted"])
	assert.Equal(t, []string{"posts.delete"}, entry.Metadata["revoked"])

	stored, err := f.engine.GetRole(ctx, EditorRoleID)
	require.NoError(t, err)
	assert.True(t, stored.Permissions.Equal(role.Permissions))
}

func TestEngine_CommitRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("system role", func(t *testing.T) {
		f := newFixture(t)
		d, err := f.engine.OpenDraft(ctx, ViewerRoleID)
		require.NoError(t, err)
		_, err = d.Toggle("posts.write")
		require.NoError(t, err)

		_, err = f.engine.Commit(ctx, d, "alice")
		assert.True(t, errors.Is(err, ErrSystemRoleImmutable))
	})

	t.Run("pending confirmation", func(t *testing.T) {
		f := newFixture(t, testRole(t, "ops", "Ops", "rbac.manage", "settings.manage"))
		d, err := f.engine.OpenDraft(ctx, "ops")
		require.NoError(t, err)
		_, err = d.Toggle("settings.manage")
		require.NoError(t, err)

		_, err = f.engine.Commit(ctx, d, "alice")
		assert.True(t, errors.Is(err, ErrConfirmationPending))
	})

	t.Run("blank actor", func(t *testing.T) {
		f := newFixture(t)
		d, err := f.engine.OpenDraft(ctx, EditorRoleID)
		require.NoError(t, err)
		_, err = d.Toggle("users.invite")
		require.NoError(t, err)

		_, err = f.engine.Commit(ctx, d, " ")
		assert.True(t, errors.Is(err, ErrInvalidInput))
	})

	t.Run("empty permission set", func(t *testing.T) {
		f := newFixture(t)
		d, err := f.engine.OpenDraft(ctx, EditorRoleID)
		require.NoError(t, err)
		_, err = d.ToggleGroup(catalog.GroupContent)
		require.NoError(t, err)
		_, err = d.Toggle("users.read")
		require.NoError(t, err)
		require.Equal(t, 0, d.Working().Count())

		_, err = f.engine.Commit(ctx, d, "alice")
		assert.True(t, errors.Is(err, ErrEmptyPermissionSet))
	})

	t.Run("deleted role", func(t *testing.T) {
		f := newFixture(t)
		d, err := f.engine.OpenDraft(ctx, EditorRoleID)
		require.NoError(t, err)
		_, err = d.Toggle("users.invite")
		require.NoError(t, err)
		_, err = f.engine.DeleteRole(ctx, EditorRoleID, "", "bob")
		require.NoError(t, err)

		_, err = f.engine.Commit(ctx, d, "alice")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestEngine_CommitConcurrentModification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.engine.OpenDraft(ctx, EditorRoleID)
	require.NoError(t, err)
	second, err := f.engine.OpenDraft(ctx, EditorRoleID)
	require.NoError(t, err)

	_, err = first.Toggle("users.invite")
	require.NoError(t, err)
	_, err = second.Toggle("users.manage")
	require.NoError(t, err)

	_, err = f.engine.Commit(ctx, first, "alice")
	require.NoError(t, err)

	_, err = f.engine.Commit(ctx, second, "bob")
	require.True(t, errors.Is(err, ErrConcurrentModification))
	assert.True(t, second.IsDirty(), "rejected draft keeps its edits")

	role, err := f.engine.Commit(ctx, second, "bob", WithExpectedVersion(2))
	require.NoError(t, err)
	assert.Equal(t, int64(3), role.Version)
	assert.True(t, role.Permissions["users.manage"])
	assert.False(t, role.Permissions["users.invite"], "second draft's working set wins")
}

func TestEngine_Preview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	d, err := f.engine.OpenDraft(ctx, EditorRoleID)
	require.NoError(t, err)

	preview, err := f.engine.Preview(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "No changes", preview.Summary)
	assert.Empty(t, preview.Changes)

	_, err = f.engine.AssignUsers(ctx, EditorRoleID, []string{"u1", "u2", "u3"}, "alice")
	require.NoError(t, err)
	_, err = d.Toggle("posts.delete")
	require.NoError(t, err)
	_, err = d.Toggle("users.invite")
	require.NoError(t, err)

	preview, err = f.engine.Preview(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, 3, preview.AssignedUsers)
	assert.Equal(t, []string{"users.invite"}, preview.Granted)
	assert.Equal(t, []string{"posts.delete"}, preview.Revoked)
	assert.Equal(t, "3 users will lose access to 1 permission; 3 users will gain access to 1 permission", preview.Summary)

	role, err := f.engine.GetRole(ctx, EditorRoleID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), role.Version, "preview writes nothing")

	_, err = d.Toggle("users.invite")
	require.NoError(t, err)
	preview, err = f.engine.Preview(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, "3 users will lose access to 1 permission", preview.Summary)
}

func TestEngine_CreateRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	role, err := f.engine.CreateRole(ctx, RoleInput{
		Name:        "  Support ",
		Description: "Helps customers",
		Color:       "green",
		Permissions: grants("posts.publish"),
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "role-1", role.ID)
	assert.Equal(t, "Support", role.Name)
	assert.False(t, role.IsSystem)
	assert.Equal(t, int64(1), role.Version)
	assert.Equal(t, []string{"posts.publish", "posts.read", "posts.write"}, role.Permissions.Granted())
	assert.Len(t, role.Permissions, f.resolver.Catalog().Len())
	assert.Equal(t, LastModified{By: "alice", At: role.CreatedAt}, role.LastModified)

	entries, err := f.engine.ListLogs(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRoleCreated, entries[0].Action)
	assert.Equal(t, `Created role "Support" with 3 permissions`, entries[0].Details)
	assert.Equal(t, []string{"posts.read", "posts.write", "posts.publish"}, entries[0].Metadata["permissions"])
}

func TestEngine_CreateRoleFromClone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	role, err := f.engine.CreateRole(ctx, RoleInput{Name: "Auditor", CloneFrom: ViewerRoleID}, "alice")
	require.NoError(t, err)

	viewer, err := f.engine.GetRole(ctx, ViewerRoleID)
	require.NoError(t, err)
	assert.True(t, role.Permissions.Equal(viewer.Permissions))
	assert.False(t, role.IsSystem)

	entries, err := f.engine.ListLogs(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ViewerRoleID, entries[0].Metadata["cloned_from"])
}

func TestEngine_CreateRoleRejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		input RoleInput
		actor string
		kind  error
	}{
		{name: "blank name", input: RoleInput{Name: " ", Permissions: grants("posts.read")}, actor: "alice", kind: ErrInvalidInput},
		{name: "blank actor", input: RoleInput{Name: "Ops", Permissions: grants("posts.read")}, actor: "", kind: ErrInvalidInput},
		{name: "no permissions", input: RoleInput{Name: "Ops"}, actor: "alice", kind: ErrEmptyPermissionSet},
		{name: "all false", input: RoleInput{Name: "Ops", Permissions: PermissionSet{"posts.read": false}}, actor: "alice", kind: ErrEmptyPermissionSet},
		{name: "unknown permission", input: RoleInput{Name: "Ops", Permissions: grants("posts.archive")}, actor: "alice", kind: ErrUnknownPermission},
		{name: "unknown clone source", input: RoleInput{Name: "Ops", CloneFrom: "nope"}, actor: "alice", kind: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.CreateRole(ctx, tt.input, tt.actor)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			roles, err := f.engine.ListRoles(ctx)
			require.NoError(t, err)
			assert.Len(t, roles, 3)
		})
	}
}

func TestEngine_UpdateRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	role, err := f.engine.UpdateRole(ctx, EditorRoleID, RoleInput{Name: "Writer", Description: "Writes", Color: "blue"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Writer", role.Name)
	assert.Equal(t, int64(2), role.Version)
	assert.Equal(t, 5, role.Permissions.Count(), "nil permissions keep the current set")

	entries, err := f.engine.ListLogs(ctx, EditorRoleID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRoleUpdated, entries[0].Action)
	assert.Equal(t, "Editor", entries[0].Metadata["previous_name"])
	assert.Equal(t, `Updated name "Editor" -> "Writer"; description`, entries[0].Details)

	t.Run("no changes writes nothing", func(t *testing.T) {
		same, err := f.engine.UpdateRole(ctx, EditorRoleID, RoleInput{Name: "Writer", Description: "Writes", Color: "blue"}, "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(2), same.Version)
		assert.Equal(t, "alice", same.LastModified.By)
		assert.Equal(t, 1, f.memLog.Len())
	})

	t.Run("permissions are normalized", func(t *testing.T) {
		updated, err := f.engine.UpdateRole(ctx, EditorRoleID, RoleInput{Name: "Writer", Description: "Writes", Color: "blue", Permissions: grants("users.manage")}, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"users.manage", "users.read"}, updated.Permissions.Granted())
		assert.Equal(t, int64(3), updated.Version)
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := f.engine.UpdateRole(ctx, EditorRoleID, RoleInput{Name: "VIEWER"}, "alice")
		assert.True(t, errors.Is(err, ErrDuplicateName))
	})

	t.Run("system role", func(t *testing.T) {
		_, err := f.engine.UpdateRole(ctx, AdministratorRoleID, RoleInput{Name: "Root"}, "alice")
		assert.True(t, errors.Is(err, ErrSystemRoleImmutable))
	})

	t.Run("missing role", func(t *testing.T) {
		_, err := f.engine.UpdateRole(ctx, "nope", RoleInput{Name: "Nope"}, "alice")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestEngine_DuplicateRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.engine.DuplicateRole(ctx, EditorRoleID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Editor (Copy)", first.Name)
	assert.Equal(t, int64(1), first.Version)

	second, err := f.engine.DuplicateRole(ctx, EditorRoleID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Editor (Copy 2)", second.Name)

	admin, err := f.engine.DuplicateRole(ctx, AdministratorRoleID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Administrator (Copy)", admin.Name)
	assert.False(t, admin.IsSystem, "copies are always custom")
	assert.True(t, f.resolver.IsAdministrative(admin.Permissions))

	entries, err := f.engine.ListLogs(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionRoleDuplicated, entries[0].Action)
	assert.Equal(t, EditorRoleID, entries[0].Metadata["source_role_id"])

	_, err = f.engine.DuplicateRole(ctx, "nope", "alice")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCopyName(t *testing.T) {
	roles := []Role{{Name: "Ops"}, {Name: "ops (copy)"}, {Name: "Ops (Copy 2)"}, {Name: "Ops (Copy 4)"}}
	assert.Equal(t, "Ops (Copy 3)", copyName(roles, "Ops"))
	assert.Equal(t, "Dev (Copy)", copyName(roles, "Dev"))
}

func TestEngine_DeleteRole(t *testing.T) {
	ctx := context.Background()

	t.Run("without users", func(t *testing.T) {
		f := newFixture(t)
		moved, err := f.engine.DeleteRole(ctx, EditorRoleID, "ignored", "alice")
		require.NoError(t, err)
		assert.Equal(t, 0, moved)

		_, err = f.engine.GetRole(ctx, EditorRoleID)
		assert.True(t, errors.Is(err, ErrNotFound))

		entries, err := f.engine.ListLogs(ctx, EditorRoleID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, audit.ActionRoleDeleted, entries[0].Action)
		assert.Equal(t, `Deleted role "Editor"`, entries[0].Details)
	})

	t.Run("moves users to the replacement", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.AssignUsers(ctx, EditorRoleID, []string{"u1", "u2"}, "alice")
		require.NoError(t, err)
		_, err = f.engine.AssignUsers(ctx, ViewerRoleID, []string{"u2"}, "alice")
		require.NoError(t, err)

		moved, err := f.engine.DeleteRole(ctx, EditorRoleID, ViewerRoleID, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, moved)

		viewer, err := f.engine.GetRole(ctx, ViewerRoleID)
		require.NoError(t, err)
		assert.Equal(t, 2, viewer.UserCount)

		roles, err := f.index.RolesForUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, []string{ViewerRoleID}, roles)

		entries, err := f.engine.ListLogs(ctx, EditorRoleID)
		require.NoError(t, err)
		require.NotEmpty(t, entries)
		assert.Equal(t, 2, entries[0].Metadata["reassigned_users"])
		assert.Equal(t, ViewerRoleID, entries[0].Metadata["replacement_role_id"])
	})

	t.Run("replacement required", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.AssignUsers(ctx, EditorRoleID, []string{"u1"}, "alice")
		require.NoError(t, err)

		for _, replacement := range []string{"", EditorRoleID, "nope"} {
			_, err := f.engine.DeleteRole(ctx, EditorRoleID, replacement, "alice")
			assert.True(t, errors.Is(err, ErrReplacementRequired), "replacement %q", replacement)
		}

		role, err := f.engine.GetRole(ctx, EditorRoleID)
		require.NoError(t, err)
		assert.Equal(t, 1, role.UserCount)
	})

	t.Run("system role", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.DeleteRole(ctx, ViewerRoleID, "", "alice")
		assert.True(t, errors.Is(err, ErrSystemRoleImmutable))
	})

	t.Run("missing role", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.DeleteRole(ctx, "nope", "", "alice")
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func TestEngine_AssignUsers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	added, err := f.engine.AssignUsers(ctx, EditorRoleID, []string{"u1", " u2 ", "u1", ""}, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, added)

	added, err = f.engine.AssignUsers(ctx, EditorRoleID, []string{"u2", "u3"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"u3"}, added)

	added, err = f.engine.AssignUsers(ctx, EditorRoleID, []string{"u3"}, "alice")
	require.NoError(t, err)
	assert.Empty(t, added)

	entries, err := f.engine.ListLogs(ctx, EditorRoleID)
	require.NoError(t, err)
	require.Len(t, entries, 2, "assigning held users is not logged")
	assert.Equal(t, []string{"u3"}, entries[0].Metadata["users"])
	assert.Equal(t, `Assigned 1 user to "Editor"`, entries[0].Details)

	_, err = f.engine.AssignUsers(ctx, "nope", []string{"u1"}, "alice")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = f.engine.AssignUsers(ctx, EditorRoleID, []string{" "}, "alice")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestEngine_ListLogsNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	role, err := f.engine.CreateRole(ctx, RoleInput{Name: "Ops", Permissions: grants("posts.read")}, "alice")
	require.NoError(t, err)
	_, err = f.engine.UpdateRole(ctx, role.ID, RoleInput{Name: "Operations"}, "bob")
	require.NoError(t, err)
	_, err = f.engine.DuplicateRole(ctx, EditorRoleID, "carol")
	require.NoError(t, err)

	entries, err := f.engine.ListLogs(ctx, role.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, audit.ActionRoleUpdated, entries[0].Action)
	assert.Equal(t, audit.ActionRoleCreated, entries[1].Action)

	all, err := f.engine.ListLogs(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byBob, err := f.engine.SearchLogs(ctx, audit.SearchFilter{PerformedBy: "bob"})
	require.NoError(t, err)
	require.Len(t, byBob, 1)
	assert.Equal(t, role.ID, byBob[0].RoleID)
}

func TestEngine_RollsBackWhenActivityLogFails(t *testing.T) {
	ctx := context.Background()

	t.Run("create", func(t *testing.T) {
		f := newFixture(t)
		f.activity.setFailing(true)

		_, err := f.engine.CreateRole(ctx, RoleInput{Name: "Ops", Permissions: grants("posts.read")}, "alice")
		require.Error(t, err)
		assert.Nil(t, KindOf(err))

		roles, err := f.repo.ListRoles(ctx)
		require.NoError(t, err)
		assert.Len(t, roles, 3)
	})

	t.Run("commit", func(t *testing.T) {
		f := newFixture(t)
		d, err := f.engine.OpenDraft(ctx, EditorRoleID)
		require.NoError(t, err)
		_, err = d.Toggle("users.invite")
		require.NoError(t, err)

		f.activity.setFailing(true)
		_, err = f.engine.Commit(ctx, d, "alice")
		require.Error(t, err)
		assert.True(t, d.IsDirty(), "draft keeps its edits")

		role, err := f.repo.GetRole(ctx, EditorRoleID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), role.Version)
		assert.False(t, role.Permissions["users.invite"])

		f.activity.setFailing(false)
		_, err = f.engine.Commit(ctx, d, "alice")
		require.NoError(t, err)
	})

	t.Run("update", func(t *testing.T) {
		f := newFixture(t)
		f.activity.setFailing(true)

		_, err := f.engine.UpdateRole(ctx, EditorRoleID, RoleInput{Name: "Writer"}, "alice")
		require.Error(t, err)

		role, err := f.repo.GetRole(ctx, EditorRoleID)
		require.NoError(t, err)
		assert.Equal(t, "Editor", role.Name)
	})

	t.Run("duplicate", func(t *testing.T) {
		f := newFixture(t)
		f.activity.setFailing(true)

		_, err := f.engine.DuplicateRole(ctx, EditorRoleID, "alice")
		require.Error(t, err)

		roles, err := f.repo.ListRoles(ctx)
		require.NoError(t, err)
		assert.Len(t, roles, 3)
	})

	t.Run("delete", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.AssignUsers(ctx, EditorRoleID, []string{"u1", "u2"}, "alice")
		require.NoError(t, err)
		_, err = f.engine.AssignUsers(ctx, ViewerRoleID, []string{"u2"}, "alice")
		require.NoError(t, err)
		f.activity.setFailing(true)

		_, err = f.engine.DeleteRole(ctx, EditorRoleID, ViewerRoleID, "alice")
		require.Error(t, err)

		_, err = f.repo.GetRole(ctx, EditorRoleID)
		require.NoError(t, err)
		editors, err := f.index.UsersForRole(ctx, EditorRoleID)
		require.NoError(t, err)
		assert.Len(t, editors, 2)
		viewers, err := f.index.UsersForRole(ctx, ViewerRoleID)
		require.NoError(t, err)
		require.Len(t, viewers, 1)
		assert.Equal(t, "u2", viewers[0].UserID)
	})

	t.Run("assign", func(t *testing.T) {
		f := newFixture(t)
		f.activity.setFailing(true)

		_, err := f.engine.AssignUsers(ctx, EditorRoleID, []string{"u1"}, "alice")
		require.Error(t, err)

		count, err := f.index.Count(ctx, EditorRoleID)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})
}

func TestEngine_MirrorFailureKeepsCommit(t *testing.T) {
	ctx := context.Background()

	memLog := audit.NewMemoryLogger()
	mirror := &flakyLogger{Logger: audit.NewMemoryLogger(), failing: true}
	engine, err := NewEngine(ctx, catalog.Default(), NewMemoryRepository(), audit.NewMultiLogger(memLog, mirror), nil)
	require.NoError(t, err)

	d, err := engine.OpenDraft(ctx, EditorRoleID)
	require.NoError(t, err)
	_, err = d.Toggle("users.invite")
	require.NoError(t, err)

	role, err := engine.Commit(ctx, d, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), role.Version)
	assert.True(t, role.Permissions["users.invite"])

	stored, err := engine.GetRole(ctx, EditorRoleID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)

	entries, err := engine.ListLogs(ctx, EditorRoleID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionPermissionUpdated, entries[0].Action)
	assert.Contains(t, entries[0].Details, "Invite users")

	// A retry after the mirror recovers has nothing left to commit
	mirror.setFailing(false)
	_, err = engine.Commit(ctx, d, "alice")
	require.NoError(t, err)
	entries, err = engine.ListLogs(ctx, EditorRoleID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestEngine_ConcurrentDeletesKeepOneAdministrativeRole(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		testRole(t, "ops-a", "Ops A", "rbac.manage"),
		testRole(t, "ops-b", "Ops B", "rbac.manage"),
	)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{"ops-a", "ops-b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.engine.DeleteRole(ctx, id, "", "alice")
		}(i, id)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.True(t, errors.Is(err, ErrLastAdministrativeRole))
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	roles, err := f.engine.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.True(t, f.resolver.IsAdministrative(roles[0].Permissions))
}

func TestEngine_ConcurrentCreatesKeepNamesUnique(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.CreateRole(ctx, RoleInput{Name: "Support", Permissions: grants("posts.read")}, "alice")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		assert.True(t, errors.Is(err, ErrDuplicateName))
	}
	assert.Equal(t, 1, created)
}

func TestEngine_Metrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.engine.CreateRole(ctx, RoleInput{Name: "Ops", Permissions: grants("posts.read")}, "alice")
	require.NoError(t, err)
	_, err = f.engine.CreateRole(ctx, RoleInput{Name: "ops", Permissions: grants("posts.read")}, "alice")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("create_role", observability.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("create_role", observability.ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RejectionsTotal.WithLabelValues("duplicate_name")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuditEntriesTotal.WithLabelValues(string(audit.ActionRoleCreated))))

	f.activity.setFailing(true)
	_, err = f.engine.DuplicateRole(ctx, EditorRoleID, "alice")
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.OperationsTotal.WithLabelValues("duplicate_role", observability.ResultError)))

	_, err = f.engine.ListRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.RolesTotal))
}

func TestEngine_Tracing(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })

	engine, err := NewEngine(ctx, catalog.Default(), nil, nil, nil, WithTracer(provider.Tracer("test")))
	require.NoError(t, err)

	_, err = engine.CreateRole(ctx, RoleInput{Name: "Ops", Permissions: grants("posts.read")}, "alice")
	require.NoError(t, err)
	_, err = engine.DeleteRole(ctx, ViewerRoleID, "", "alice")
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "rbac.create_role", spans[0].Name())
	assert.Equal(t, "rbac.delete_role", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestEngine_ChangeHooks(t *testing.T) {
	ctx := context.Background()

	type change struct {
		action audit.Action
		roleID string
	}
	var mu sync.Mutex
	var changes []change
	hook := func(_ context.Context, action audit.Action, roleID string) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, change{action, roleID})
	}

	engine, err := NewEngine(ctx, catalog.Default(), nil, nil, nil, WithChangeHook(hook), WithIDGenerator((&sequentialIDs{}).Next))
	require.NoError(t, err)

	_, err = engine.AssignUsers(ctx, EditorRoleID, []string{"u1"}, "alice")
	require.NoError(t, err)
	_, err = engine.DeleteRole(ctx, EditorRoleID, ViewerRoleID, "alice")
	require.NoError(t, err)
	_, err = engine.CreateRole(ctx, RoleInput{Name: "Editor", Permissions: grants("posts.read")}, "alice")
	require.NoError(t, err)

	assert.Equal(t, []change{
		{audit.ActionUsersAssigned, EditorRoleID},
		{audit.ActionRoleDeleted, EditorRoleID},
		{audit.ActionUsersAssigned, ViewerRoleID},
		{audit.ActionRoleCreated, "role-1"},
	}, changes)
}

func roleIDs(roles []Role) []string {
	ids := make([]string, 0, len(roles))
	for _, r := range roles {
		ids = append(ids, r.ID)
	}
	return ids
}
