package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/platinummonkey/rolekeeper/pkg/audit"
)

func (c *CLI) logsCommand() *Command {
	return &Command{
		Name:        "logs",
		Description: "Search or export the activity log",
		Run:         c.runLogs,
	}
}

func (c *CLI) runLogs(ctx context.Context, args []string) error {
	fs := c.flags("logs", "Prints activity log entries newest first.")
	roleID := fs.String("role", "", "Only entries for this role id")
	actor := fs.String("actor", "", "Only entries performed by this actor")
	var actions listFlag
	fs.Var(&actions, "action", "Only these actions (comma-separated)")
	since := fs.String("since", "", "Only entries at or after this time (RFC 3339 or a duration such as 24h)")
	until := fs.String("until", "", "Only entries at or before this time (RFC 3339 or a duration)")
	limit := fs.Int("limit", 0, "Maximum number of entries")
	offset := fs.Int("offset", 0, "Entries to skip")
	format := fs.String("format", "text", "Output format: text, json, csv or ndjson")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := audit.SearchFilter{
		RoleID:      *roleID,
		PerformedBy: *actor,
		Limit:       *limit,
		Offset:      *offset,
	}
	for _, a := range actions {
		action, err := parseAction(a)
		if err != nil {
			return err
		}
		filter.Actions = append(filter.Actions, action)
	}

	now := time.Now().UTC()
	var err error
	if filter.StartTime, err = parseTimeFlag(*since, now); err != nil {
		return fmt.Errorf("invalid -since: %w", err)
	}
	if filter.EndTime, err = parseTimeFlag(*until, now); err != nil {
		return fmt.Errorf("invalid -until: %w", err)
	}

	var exportFormat audit.ExportFormat
	if *format != "text" {
		if exportFormat, err = audit.ParseExportFormat(*format); err != nil {
			return err
		}
	}

	return c.withApp(ctx, func(app *App) error {
		entries, err := app.Engine.SearchLogs(ctx, filter)
		if err != nil {
			return err
		}

		if exportFormat != "" {
			data, err := audit.Export(entries, exportFormat)
			if err != nil {
				return err
			}
			_, err = c.Out.Write(data)
			return err
		}

		w := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tACTION\tROLE\tBY\tDETAILS")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				e.Timestamp.Format(timeLayout), e.Action, e.RoleName, e.PerformedBy, e.Details)
		}
		return w.Flush()
	})
}

func parseAction(s string) (audit.Action, error) {
	action := audit.Action(s)
	if !action.Valid() {
		return "", fmt.Errorf("unknown action: %s", s)
	}
	return action, nil
}

// parseTimeFlag accepts an RFC 3339 timestamp or a duration counted back from now
func parseTimeFlag(value string, now time.Time) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		t := now.Add(-d)
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
