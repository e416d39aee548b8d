package audit

import (
	"context"
	"errors"

	"github.com/platinummonkey/rolekeeper/pkg/observability"
)

// MultiLogger writes every entry to a primary logger and then to any
// mirrors. Only the primary decides whether an entry was recorded: a mirror
// failure is logged and dropped. The first logger that supports search
// answers Search.
type MultiLogger struct {
	primary Logger
	mirrors []Logger
	logger  *observability.Logger
}

// NewMultiLogger creates a multi-logger over primary and mirrors
func NewMultiLogger(primary Logger, mirrors ...Logger) *MultiLogger {
	return &MultiLogger{
		primary: primary,
		mirrors: mirrors,
		logger:  observability.NewNopLogger(),
	}
}

// WithLogger sets where mirror failures are reported
func (m *MultiLogger) WithLogger(logger *observability.Logger) *MultiLogger {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Log writes entry to the primary and, once that succeeds, to every mirror
func (m *MultiLogger) Log(ctx context.Context, entry *Entry) error {
	if err := prepare(entry); err != nil {
		return err
	}
	if err := m.primary.Log(ctx, entry); err != nil {
		return err
	}

	for _, mirror := range m.mirrors {
		if err := mirror.Log(ctx, entry); err != nil {
			m.logger.WithError(err).WithFields(map[string]interface{}{
				"entry_id": entry.ID,
				"action":   string(entry.Action),
				"role_id":  entry.RoleID,
			}).Warn("Failed to mirror activity entry")
		}
	}
	return nil
}

func (m *MultiLogger) all() []Logger {
	return append([]Logger{m.primary}, m.mirrors...)
}

// Search delegates to the first logger that can search
func (m *MultiLogger) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	for _, logger := range m.all() {
		entries, err := logger.Search(ctx, filter)
		if errors.Is(err, ErrSearchUnsupported) {
			continue
		}
		return entries, err
	}
	return nil, ErrSearchUnsupported
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.all() {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
