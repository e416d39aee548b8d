package audit

import (
	"context"
	"sync"
)

// MemoryLogger keeps the activity log in process memory
type MemoryLogger struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemoryLogger creates an empty in-memory log
func NewMemoryLogger() *MemoryLogger {
	return &MemoryLogger{}
}

// Log appends a copy of entry
func (l *MemoryLogger) Log(ctx context.Context, entry *Entry) error {
	if err := prepare(entry); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry.clone())
	return nil
}

// Search returns matching entries, newest first
func (l *MemoryLogger) Search(ctx context.Context, filter SearchFilter) ([]*Entry, error) {
	l.mu.RLock()
	matched := make([]*Entry, 0)
	for i := len(l.entries) - 1; i >= 0; i-- {
		if filter.Matches(l.entries[i]) {
			matched = append(matched, l.entries[i].clone())
		}
	}
	l.mu.RUnlock()

	sortNewestFirst(matched)
	return filter.paginate(matched), nil
}

// Len returns the number of entries
func (l *MemoryLogger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Close is a no-op
func (l *MemoryLogger) Close() error {
	return nil
}
