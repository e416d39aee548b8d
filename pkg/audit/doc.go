// Package audit records committed role mutations in an append-only activity log.
//
// # Overview
//
// Every successful lifecycle operation on a role produces exactly one Entry:
// permission commits, creates, metadata updates, duplicates, deletes and user
// assignments. Rejected operations never reach the log.
//
// # Actions
//
//	permission_updated  a draft was committed
//	role_created        a role was created or imported as new
//	role_updated        name/description/permissions edited, or replaced by import
//	role_duplicated     a copy of a role was created
//	role_deleted        a role was removed (users moved to the replacement)
//	users_assigned      users were assigned to a role
//
// # Backends
//
// MemoryLogger keeps entries in process. DBLogger writes to the activity_log
// table and supports filtered search and statistics. FileLogger appends
// newline-delimited JSON with size based rotation. MultiLogger writes to a
// primary backend and then to best-effort mirrors; only the primary's result
// counts. It searches the first backend that can.
//
// Search a role's history:
//
//	entries, err := logger.Search(ctx, audit.SearchFilter{
//		RoleID:  role.ID,
//		Actions: []audit.Action{audit.ActionPermissionUpdated},
//		Limit:   50,
//	})
//
// # Export
//
// Entries can be exported as JSON, CSV or NDJSON with Export.
package audit
