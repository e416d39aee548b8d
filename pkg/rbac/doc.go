// Package rbac edits, validates and records role permission sets.
//
// # Overview
//
// A Role is a named PermissionSet over a catalog.Catalog. The package keeps
// every stored set sound: a granted permission always has its prerequisites
// granted, and every catalog id has a value.
//
// The main types are:
//
//  1. Resolver: pure cascade rules. Enabling a permission enables its
//     prerequisites; disabling one disables its dependents.
//  2. Draft: a working copy of one role, including the confirmation step for
//     critical permissions.
//  3. Engine: the role lifecycle (create, update, duplicate, delete, commit,
//     assign, import and export). Each change is appended to the activity log.
//  4. Repository: role persistence. MemoryRepository and SQLStore.
//  5. PermissionChecker: effective permissions of a user over their roles.
//
// # Editing a Role
//
//	engine, err := rbac.NewEngine(ctx, catalog.Default(), repo, activityLog, index)
//	draft, err := engine.OpenDraft(ctx, "editor")
//
//	res, err := draft.Toggle("settings.manage")
//	if res.Pending != nil {
//		// critical permission: ask the user, then
//		draft.ConfirmCritical() // or draft.CancelCritical()
//	}
//
//	preview, _ := engine.Preview(ctx, draft)
//	fmt.Println(preview.Summary) // "3 users will lose access to 2 permissions"
//
//	role, err := engine.Commit(ctx, draft, "alice")
//
// Commit fails with ErrConcurrentModification when the role changed since the
// draft was opened. WithExpectedVersion overrides the version to compare.
//
// # Invariants
//
// The engine serializes mutations, so these hold across concurrent callers:
//
//   - role names are unique, compared case-insensitively
//   - system roles are never modified or deleted
//   - at least one administrative role exists when the catalog defines an
//     administrative set
//   - a role grants at least one permission
//   - a role with assigned users is only deleted with a replacement role
//
// Violations are returned as *Error values. Use errors.Is with the Err*
// sentinels:
//
//	if errors.Is(err, rbac.ErrLastAdministrativeRole) { ... }
//
// # Persistence
//
// SQLStore works on PostgreSQL and SQLite. Create its table with
// RunMigrations before use:
//
//	if err := rbac.RunMigrations(ctx, db, logger); err != nil {
//		return err
//	}
//	repo := rbac.NewSQLStore(db)
//
// An empty repository is seeded with the built-in Administrator, Viewer and
// Editor roles when the engine starts.
//
// # Permission Checks
//
//	checker := rbac.NewPermissionChecker(rbac.NewResolver(cat), repo, index, metrics, rbac.DefaultCheckerConfig())
//	engine, err := rbac.NewEngine(ctx, cat, repo, activityLog, index, rbac.WithChangeHook(checker.OnChange))
//	ok, err := checker.HasPermission(ctx, "user-42", "posts.publish")
package rbac
