package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func setupTestDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDBLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS activity_log").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewDBLogger(db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewDBLogger(nil)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS activity_log").WillReturnError(errors.New("table creation failed"))

		logger, err := NewDBLogger(db)
		assert.Error(t, err)
		assert.Nil(t, logger)
		assert.Contains(t, err.Error(), "failed to ensure activity_log table")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDBLogger_LogInsertError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	logger := &DBLogger{db: db}
	mock.ExpectExec("INSERT INTO activity_log").WillReturnError(errors.New("disk full"))

	err := logger.Log(context.Background(), &Entry{Action: ActionRoleCreated, RoleID: "r1", PerformedBy: "alice"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert activity log entry")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_SearchQueryError(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	logger := &DBLogger{db: db}
	mock.ExpectQuery("SELECT id, action, role_id").
		WithArgs("r1", "role_created", "role_deleted").
		WillReturnError(errors.New("connection reset"))

	_, err := logger.Search(context.Background(), SearchFilter{
		RoleID:  "r1",
		Actions: []Action{ActionRoleCreated, ActionRoleDeleted},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search activity log")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLogger_SearchBadMetadata(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	logger := &DBLogger{db: db}
	rows := sqlmock.NewRows([]string{"id", "action", "role_id", "role_name", "performed_by", "occurred_at", "details", "metadata"}).
		AddRow("e1", "role_created", "r1", "Support", "alice", time.Now(), "created", "{not json")
	mock.ExpectQuery("SELECT id, action, role_id").WillReturnRows(rows)

	_, err := logger.Search(context.Background(), SearchFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal metadata")
}

func TestDBLogger_SQLite(t *testing.T) {
	ctx := context.Background()
	logger, err := NewDBLogger(setupTestDB(t))
	require.NoError(t, err)

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []*Entry{
		{Action: ActionRoleCreated, RoleID: "r1", RoleName: "Support", PerformedBy: "alice", Timestamp: t0, Details: "Created role Support"},
		{Action: ActionPermissionUpdated, RoleID: "r1", RoleName: "Support", PerformedBy: "bob", Timestamp: t0.Add(time.Minute),
			Metadata: map[string]interface{}{"granted": []string{"posts.read"}}},
		{Action: ActionRoleDeleted, RoleID: "r2", RoleName: "Temp", PerformedBy: "alice", Timestamp: t0.Add(2 * time.Minute)},
	}
	for _, e := range seed {
		require.NoError(t, logger.Log(ctx, e))
	}

	t.Run("newest first", func(t *testing.T) {
		entries, err := logger.Search(ctx, SearchFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, ActionRoleDeleted, entries[0].Action)
		assert.Equal(t, ActionRoleCreated, entries[2].Action)
		assert.True(t, t0.Equal(entries[2].Timestamp))
	})

	t.Run("by role", func(t *testing.T) {
		entries, err := logger.Search(ctx, SearchFilter{RoleID: "r1"})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, []interface{}{"posts.read"}, entries[0].Metadata["granted"])
	})

	t.Run("by action and actor", func(t *testing.T) {
		entries, err := logger.Search(ctx, SearchFilter{
			Actions:     []Action{ActionRoleCreated, ActionRoleDeleted},
			PerformedBy: "alice",
		})
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("time range", func(t *testing.T) {
		start := t0.Add(30 * time.Second)
		end := t0.Add(90 * time.Second)
		entries, err := logger.Search(ctx, SearchFilter{StartTime: &start, EndTime: &end})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ActionPermissionUpdated, entries[0].Action)
	})

	t.Run("pagination", func(t *testing.T) {
		entries, err := logger.Search(ctx, SearchFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ActionPermissionUpdated, entries[0].Action)

		entries, err = logger.Search(ctx, SearchFilter{Offset: 2})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, ActionRoleCreated, entries[0].Action)
	})

	t.Run("stats", func(t *testing.T) {
		stats, err := logger.GetStats(ctx, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), stats.Total)
		assert.Equal(t, int64(2), stats.ByActor["alice"])
		assert.Equal(t, int64(1), stats.ByAction[ActionPermissionUpdated])
		assert.Equal(t, int64(2), stats.ByRole["r1"])
		assert.Nil(t, stats.TimeRange)

		start := t0.Add(time.Minute)
		stats, err = logger.GetStats(ctx, &start, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(2), stats.Total)
		require.NotNil(t, stats.TimeRange)
		assert.Equal(t, start, stats.TimeRange.Start)
	})

	assert.NoError(t, logger.Close())
}
