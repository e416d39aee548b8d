package rbac

import (
	"errors"
	"fmt"
	"strings"

	"github.com/platinummonkey/rolekeeper/pkg/catalog"
)

// Domain errors for role operations.
var (
	// ErrDuplicateName is returned when a role name collides case-insensitively with another role.
	ErrDuplicateName = errors.New("rbac.duplicate_name")

	// ErrSystemRoleImmutable is returned when a system role would be edited or deleted.
	ErrSystemRoleImmutable = errors.New("rbac.system_role_immutable")

	// ErrLastAdministrativeRole is returned when an operation would leave no administrative role.
	ErrLastAdministrativeRole = errors.New("rbac.last_administrative_role")

	// ErrReplacementRequired is returned when deleting a role with users and no valid replacement.
	ErrReplacementRequired = errors.New("rbac.replacement_required")

	// ErrEmptyPermissionSet is returned when a role would grant nothing.
	ErrEmptyPermissionSet = errors.New("rbac.empty_permission_set")

	// ErrConcurrentModification is returned when the stored role moved past the expected version.
	ErrConcurrentModification = errors.New("rbac.concurrent_modification")

	// ErrImportValidationFailed is returned when an import document violates any invariant.
	ErrImportValidationFailed = errors.New("rbac.import_validation_failed")

	// ErrNotFound is returned when a role id does not exist.
	ErrNotFound = errors.New("rbac.not_found")

	// ErrUnknownPermission is returned for permission ids missing from the catalog.
	ErrUnknownPermission = errors.New("rbac.unknown_permission")

	// ErrInvalidInput is returned for malformed arguments such as a blank name.
	ErrInvalidInput = errors.New("rbac.invalid_input")

	// ErrConfirmationPending is returned while a critical disable awaits confirmation.
	ErrConfirmationPending = errors.New("rbac.confirmation_pending")

	// ErrNoPendingConfirmation is returned when confirming or cancelling with nothing pending.
	ErrNoPendingConfirmation = errors.New("rbac.no_pending_confirmation")

	// ErrDependencyViolation is returned when a permission set grants a permission without its prerequisites.
	ErrDependencyViolation = errors.New("rbac.dependency_violation")

	// ErrCatalog is the catalog validation sentinel.
	ErrCatalog = catalog.ErrInvalidCatalog
)

// Error carries the failing role and any collected violations. errors.Is
// matches it against its Kind.
type Error struct {
	Kind       error
	RoleID     string
	Detail     string
	Violations []string
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.RoleID != "" {
		fmt.Fprintf(&b, " (role %s)", e.RoleID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Violations) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Violations, "; "))
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, roleID, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, RoleID: roleID, Detail: fmt.Sprintf(format, args...)}
}

// KindOf returns the sentinel behind err, or nil when err is not a domain error.
func KindOf(err error) error {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, ErrCatalog) {
		return ErrCatalog
	}
	return nil
}

// kindName is the metric label for a sentinel, e.g. "duplicate_name".
func kindName(kind error) string {
	if kind == nil {
		return "internal"
	}
	name := kind.Error()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return name
}
