package assignment

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLIndex stores assignments in the role_assignments table
type SQLIndex struct {
	db *sql.DB
}

// NewSQLIndex creates the index and ensures its table exists
func NewSQLIndex(db *sql.DB) (*SQLIndex, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	idx := &SQLIndex{db: db}
	if err := idx.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure role_assignments table: %w", err)
	}
	return idx, nil
}

func (s *SQLIndex) ensureTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS role_assignments (
		user_id VARCHAR(255) NOT NULL,
		role_id VARCHAR(64) NOT NULL,
		assigned_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, role_id)
	);

	CREATE INDEX IF NOT EXISTS idx_role_assignments_role_id ON role_assignments(role_id);
	`)
	return err
}

func (s *SQLIndex) Assign(ctx context.Context, roleID string, userIDs []string, at time.Time) ([]string, error) {
	users := normalizeUsers(userIDs)
	added := make([]string, 0, len(users))
	if len(users) == 0 {
		return added, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO role_assignments (user_id, role_id, assigned_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO NOTHING
	`
	for _, user := range users {
		result, err := tx.ExecContext(ctx, query, user, roleID, at.UTC())
		if err != nil {
			return nil, fmt.Errorf("failed to assign user %s: %w", user, err)
		}
		if n, err := result.RowsAffected(); err == nil && n > 0 {
			added = append(added, user)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit assignments: %w", err)
	}
	return added, nil
}

func (s *SQLIndex) Unassign(ctx context.Context, roleID string, userIDs []string) error {
	users := normalizeUsers(userIDs)
	if len(users) == 0 {
		return nil
	}

	args := []interface{}{roleID}
	placeholders := make([]string, len(users))
	for i, user := range users {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, user)
	}

	query := "DELETE FROM role_assignments WHERE role_id = $1 AND user_id IN (" + strings.Join(placeholders, ", ") + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to unassign users: %w", err)
	}
	return nil
}

func (s *SQLIndex) UsersForRole(ctx context.Context, roleID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, role_id, assigned_at
		FROM role_assignments
		WHERE role_id = $1
		ORDER BY user_id
	`, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list role assignments: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.UserID, &r.RoleID, &r.AssignedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		r.AssignedAt = r.AssignedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLIndex) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role_id FROM role_assignments WHERE user_id = $1 ORDER BY role_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan role id: %w", err)
		}
		roles = append(roles, id)
	}
	return roles, rows.Err()
}

func (s *SQLIndex) Count(ctx context.Context, roleID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM role_assignments WHERE role_id = $1", roleID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

func (s *SQLIndex) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT role_id, COUNT(*) FROM role_assignments GROUP BY role_id")
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan assignment count: %w", err)
		}
		counts[id] = n
	}
	return counts, rows.Err()
}

func (s *SQLIndex) Reassign(ctx context.Context, from, to string) (int, error) {
	if from == to {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var moved int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM role_assignments WHERE role_id = $1", from).Scan(&moved); err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	if moved == 0 {
		return 0, nil
	}

	// Users already holding the target keep that record
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM role_assignments
		WHERE role_id = $1
		  AND user_id IN (SELECT user_id FROM role_assignments WHERE role_id = $2)
	`, from, to); err != nil {
		return 0, fmt.Errorf("failed to drop overlapping assignments: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE role_assignments SET role_id = $1 WHERE role_id = $2", to, from); err != nil {
		return 0, fmt.Errorf("failed to move assignments: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reassignment: %w", err)
	}
	return moved, nil
}

func (s *SQLIndex) RemoveRole(ctx context.Context, roleID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM role_assignments WHERE role_id = $1", roleID); err != nil {
		return fmt.Errorf("failed to remove role assignments: %w", err)
	}
	return nil
}
