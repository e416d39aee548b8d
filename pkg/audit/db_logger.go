package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// DBLogger writes the activity log to a SQL database (PostgreSQL or SQLite)
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed activity logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	logger := &DBLogger{
		db: db,
	}

	if err := logger.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure activity_log table: %w", err)
	}

	return logger, nil
}

// ensureTable creates the activity_log table if it doesn't exist
func (l *DBLogger) ensureTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS activity_log (
		id VARCHAR(64) PRIMARY KEY,
		action VARCHAR(50) NOT NULL,
		role_id VARCHAR(64) NOT NULL,
		role_name VARCHAR(255),
		performed_by VARCHAR(255) NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		details TEXT,
		metadata TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_activity_log_occurred_at ON activity_log(occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_activity_log_role_id ON activity_log(role_id);
	CREATE INDEX IF NOT EXISTS idx_activity_log_action ON activity_log(action);
	`

	_, err := l.db.Exec(query)
	return err
}

// Log inserts an entry
func (l *DBLogger) Log(ctx context.Context, entry *Entry) error {
	if err := prepare(entry); err != nil {
		return err
	}

	var metadataJSON []byte
	if entry.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO activity_log (
			id, action, role_id, role_name, performed_by, occurred_at, details, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := l.db.ExecContext(ctx, query,
		entry.ID, string(entry.Action), entry.RoleID, entry.RoleName,
		entry.PerformedBy, entry.Timestamp.UTC(), entry.Details, string(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log entry: %w", err)
	}

	return nil
}

// whereClause builds the filter predicate and its arguments. Placeholders are
// numbered from 1 in the order they appear.
func whereClause(filter SearchFilter) (string, []interface{}) {
	clause := "WHERE 1=1"
	args := []interface{}{}
	argCount := 1

	if filter.RoleID != "" {
		clause += fmt.Sprintf(" AND role_id = $%d", argCount)
		args = append(args, filter.RoleID)
		argCount++
	}

	if filter.PerformedBy != "" {
		clause += fmt.Sprintf(" AND performed_by = $%d", argCount)
		args = append(args, filter.PerformedBy)
		argCount++
	}

	if len(filter.Actions) > 0 {
		placeholders := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			placeholders[i] = fmt.Sprintf("$%d", argCount)
			args = append(args, string(a))
			argCount++
		}
		clause += " AND action IN (" + strings.Join(placeholders, ", ") + ")"
	}

	if filter.StartTime != nil {
		clause += fmt.Sprintf(" AND occurred_at >= $%d", argCount)
		args = append(args, filter.StartTime.UTC())
		argCount++
	}

	if filter.EndTime != nil {
		clause += fmt.Sprintf(" AND occurred_at <= $%d", argCount)
		args = append(args, filter.EndTime.UTC())
	}

	return clause, args
}

// Search searches the activity log, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	where, args := whereClause(filter)
	query := `
		SELECT id, action, role_id, role_name, performed_by, occurred_at, details, metadata
		FROM activity_log
	` + where + " ORDER BY occurred_at DESC, id DESC"

	// Pagination
	argCount := len(args) + 1
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argCount)
		args = append(args, filter.Limit)
		argCount++
	}

	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite only accepts OFFSET after a LIMIT
			query += fmt.Sprintf(" LIMIT $%d", argCount)
			args = append(args, math.MaxInt32)
			argCount++
		}
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search activity log: %w", err)
	}
	defer rows.Close()

	entries := make([]*Entry, 0)
	for rows.Next() {
		entry := &Entry{}
		var action string
		var roleName, details, metadataJSON sql.NullString

		err := rows.Scan(
			&entry.ID, &action, &entry.RoleID, &roleName,
			&entry.PerformedBy, &entry.Timestamp, &details, &metadataJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity log entry: %w", err)
		}

		entry.Action = Action(action)
		entry.RoleName = roleName.String
		entry.Details = details.String
		entry.Timestamp = entry.Timestamp.UTC()

		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity log: %w", err)
	}

	return entries, nil
}

// GetStats computes statistics in the database for the given time range
func (l *DBLogger) GetStats(ctx context.Context, startTime, endTime *time.Time) (*Stats, error) {
	stats := &Stats{
		ByAction: make(map[Action]int64),
		ByActor:  make(map[string]int64),
		ByRole:   make(map[string]int64),
	}

	where, args := whereClause(SearchFilter{StartTime: startTime, EndTime: endTime})
	if startTime != nil || endTime != nil {
		stats.TimeRange = &TimeRange{}
		if startTime != nil {
			stats.TimeRange.Start = *startTime
		}
		if endTime != nil {
			stats.TimeRange.End = *endTime
		}
	}

	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_log "+where, args...).Scan(&stats.Total)
	if err != nil {
		return nil, fmt.Errorf("failed to get total entries: %w", err)
	}

	groups := []struct {
		column string
		add    func(key string, count int64)
	}{
		{"action", func(k string, c int64) { stats.ByAction[Action(k)] = c }},
		{"performed_by", func(k string, c int64) { stats.ByActor[k] = c }},
		{"role_id", func(k string, c int64) { stats.ByRole[k] = c }},
	}

	for _, g := range groups {
		query := fmt.Sprintf("SELECT %s, COUNT(*) FROM activity_log %s GROUP BY %s", g.column, where, g.column)
		if err := l.scanCounts(ctx, query, args, g.add); err != nil {
			return nil, fmt.Errorf("failed to get entries by %s: %w", g.column, err)
		}
	}

	return stats, nil
}

func (l *DBLogger) scanCounts(ctx context.Context, query string, args []interface{}, add func(string, int64)) error {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		add(key, count)
	}
	return rows.Err()
}

// Close closes the database logger
func (l *DBLogger) Close() error {
	// The connection is shared with the role store
	return nil
}
