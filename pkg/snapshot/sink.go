package snapshot

import (
	"context"
	"time"
)

// Sink stores snapshot documents
type Sink interface {
	// Name identifies the sink in logs and metrics
	Name() string

	// Write stores data under key
	Write(ctx context.Context, key string, data []byte) error
}

// KeyFormat is the time layout of snapshot keys
const KeyFormat = "20060102T150405Z"

// Key returns the snapshot key for a snapshot taken at t
func Key(t time.Time) string {
	return "roles-" + t.UTC().Format(KeyFormat) + ".json"
}
