package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrSearchUnsupported is returned by loggers that can only append
var ErrSearchUnsupported = errors.New("audit.search_unsupported")

// Logger is the interface for the activity log
type Logger interface {
	// Log appends an entry. ID and Timestamp are filled when empty.
	Log(ctx context.Context, entry *Entry) error

	// Search returns matching entries, newest first
	Search(ctx context.Context, filter SearchFilter) ([]*Entry, error)

	// Close flushes and releases the backend
	Close() error
}

// NewEntryID returns a time ordered entry id
func NewEntryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// prepare validates an entry and fills generated fields
func prepare(entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}
	if !entry.Action.Valid() {
		return fmt.Errorf("unknown audit action %q", entry.Action)
	}
	if entry.RoleID == "" {
		return fmt.Errorf("audit entry requires a role id")
	}
	if entry.ID == "" {
		entry.ID = NewEntryID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return nil
}

// sortNewestFirst orders by timestamp descending, id descending on ties
func sortNewestFirst(entries []*Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.After(entries[j].Timestamp)
		}
		return entries[i].ID > entries[j].ID
	})
}
