package audit

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action is the kind of mutation an entry records
type Action string

const (
	ActionPermissionUpdated Action = "permission_updated"
	ActionRoleCreated       Action = "role_created"
	ActionRoleUpdated       Action = "role_updated"
	ActionRoleDuplicated    Action = "role_duplicated"
	ActionRoleDeleted       Action = "role_deleted"
	ActionUsersAssigned     Action = "users_assigned"
)

// Actions returns every known action
func Actions() []Action {
	return []Action{
		ActionPermissionUpdated,
		ActionRoleCreated,
		ActionRoleUpdated,
		ActionRoleDuplicated,
		ActionRoleDeleted,
		ActionUsersAssigned,
	}
}

// Valid reports whether a is a known action
func (a Action) Valid() bool {
	for _, known := range Actions() {
		if a == known {
			return true
		}
	}
	return false
}

// ParseAction converts a string into an Action
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("unknown audit action %q", s)
	}
	return a, nil
}

// Entry is a single immutable activity log record
type Entry struct {
	ID          string    `json:"id"`
	Action      Action    `json:"action"`
	RoleID      string    `json:"role_id"`
	RoleName    string    `json:"role_name,omitempty"`
	PerformedBy string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details"`

	// Structured details, e.g. granted/revoked permission ids or the replacement role
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON converts the entry to JSON
func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an entry from JSON
func FromJSON(data []byte) (*Entry, error) {
	var entry Entry
	err := json.Unmarshal(data, &entry)
	return &entry, err
}

// clone returns a copy whose metadata map is not shared with e
func (e *Entry) clone() *Entry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// SearchFilter selects entries. Zero values match everything.
type SearchFilter struct {
	RoleID      string
	Actions     []Action
	PerformedBy string

	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int
}

// Matches reports whether e passes every criterion of the filter except pagination
func (f SearchFilter) Matches(e *Entry) bool {
	if f.RoleID != "" && e.RoleID != f.RoleID {
		return false
	}
	if f.PerformedBy != "" && e.PerformedBy != f.PerformedBy {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// paginate applies Offset and Limit to an already filtered, ordered slice
func (f SearchFilter) paginate(entries []*Entry) []*Entry {
	if f.Offset > 0 {
		if f.Offset >= len(entries) {
			return []*Entry{}
		}
		entries = entries[f.Offset:]
	}
	if f.Limit > 0 && len(entries) > f.Limit {
		entries = entries[:f.Limit]
	}
	return entries
}

// ExportFormat represents the format for exporting activity logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// ParseExportFormat converts a string into an ExportFormat
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(s); f {
	case ExportFormatJSON, ExportFormatCSV, ExportFormatNDJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// Stats summarizes a set of entries
type Stats struct {
	Total     int64            `json:"total"`
	ByAction  map[Action]int64 `json:"by_action"`
	ByActor   map[string]int64 `json:"by_actor"`
	ByRole    map[string]int64 `json:"by_role"`
	TimeRange *TimeRange       `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Summarize computes statistics over entries
func Summarize(entries []*Entry) *Stats {
	stats := &Stats{
		ByAction: make(map[Action]int64),
		ByActor:  make(map[string]int64),
		ByRole:   make(map[string]int64),
	}
	for _, e := range entries {
		stats.Total++
		stats.ByAction[e.Action]++
		stats.ByActor[e.PerformedBy]++
		stats.ByRole[e.RoleID]++

		if stats.TimeRange == nil {
			stats.TimeRange = &TimeRange{Start: e.Timestamp, End: e.Timestamp}
			continue
		}
		if e.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = e.Timestamp
		}
		if e.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = e.Timestamp
		}
	}
	return stats
}
