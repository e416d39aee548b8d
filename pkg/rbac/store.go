package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/platinummonkey/rolekeeper/pkg/storage"
)

// queryer is satisfied by *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const roleColumns = `id, name, description, color, is_system, permissions, version, created_at, modified_by, modified_at`

// SQLStore persists roles in the roles table created by RunMigrations.
// Permissions are stored as a JSON object in a text column.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a role store over db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// nameKey is the case-insensitive form used for name uniqueness
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func scanRole(row rowScanner) (Role, error) {
	var role Role
	var permissionsJSON string

	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.Color,
		&role.IsSystem,
		&permissionsJSON,
		&role.Version,
		&role.CreatedAt,
		&role.LastModified.By,
		&role.LastModified.At,
	)
	if err != nil {
		return Role{}, err
	}

	if err := json.Unmarshal([]byte(permissionsJSON), &role.Permissions); err != nil {
		return Role{}, fmt.Errorf("failed to unmarshal permissions of role %s: %w", role.ID, err)
	}
	if role.Permissions == nil {
		role.Permissions = PermissionSet{}
	}
	role.CreatedAt = role.CreatedAt.UTC()
	role.LastModified.At = role.LastModified.At.UTC()
	return role, nil
}

// ListRoles returns every role ordered by creation time, then id
func (s *SQLStore) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	roles := make([]Role, 0)
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return roles, nil
}

// GetRole retrieves a role by id
func (s *SQLStore) GetRole(ctx context.Context, id string) (Role, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if err == sql.ErrNoRows {
		return Role{}, newError(ErrNotFound, id, "role does not exist")
	}
	if err != nil {
		return Role{}, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// SaveRole inserts or replaces a role
func (s *SQLStore) SaveRole(ctx context.Context, role Role) error {
	if err := upsertRole(ctx, s.db, role); err != nil {
		return s.mapSaveError(role, err)
	}
	return nil
}

// SaveRoles writes every role in one transaction. Names may be swapped
// between roles of the batch.
func (s *SQLStore) SaveRoles(ctx context.Context, roles []Role) error {
	if len(roles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	// Park the batch's name keys on their ids so renames inside the batch
	// cannot collide with each other.
	placeholders := make([]string, len(roles))
	args := make([]interface{}, len(roles))
	for i, role := range roles {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = role.ID
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE roles SET name_key = '#' || id WHERE id IN (`+strings.Join(placeholders, ", ")+`)`,
		args...,
	); err != nil {
		return fmt.Errorf("failed to prepare role batch: %w", err)
	}

	for _, role := range roles {
		if err := upsertRole(ctx, tx, role); err != nil {
			return s.mapSaveError(role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role batch: %w", err)
	}
	return nil
}

// DeleteRole removes a role
func (s *SQLStore) DeleteRole(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if n == 0 {
		return newError(ErrNotFound, id, "role does not exist")
	}
	return nil
}

func upsertRole(ctx context.Context, q queryer, role Role) error {
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO roles (id, name, name_key, description, color, is_system, permissions, version, created_at, modified_by, modified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			name_key = excluded.name_key,
			description = excluded.description,
			color = excluded.color,
			is_system = excluded.is_system,
			permissions = excluded.permissions,
			version = excluded.version,
			modified_by = excluded.modified_by,
			modified_at = excluded.modified_at
	`,
		role.ID,
		role.Name,
		nameKey(role.Name),
		role.Description,
		role.Color,
		role.IsSystem,
		string(permissionsJSON),
		role.Version,
		role.CreatedAt.UTC(),
		role.LastModified.By,
		role.LastModified.At.UTC(),
	)
	return err
}

func (s *SQLStore) mapSaveError(role Role, err error) error {
	if storage.IsUniqueViolation(err) {
		return newError(ErrDuplicateName, role.ID, "a role named %q already exists", role.Name)
	}
	return fmt.Errorf("failed to save role %s: %w", role.ID, err)
}
