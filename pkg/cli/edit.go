package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/platinummonkey/rolekeeper/pkg/rbac"
)

type editOp struct {
	group bool
	value string
}

// editOps records -toggle and -group flags in command-line order
type editOps struct {
	ops   *[]editOp
	group bool
}

func (e editOps) String() string { return "" }

func (e editOps) Set(value string) error {
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*e.ops = append(*e.ops, editOp{group: e.group, value: part})
		}
	}
	return nil
}

func (c *CLI) editCommand() *Command {
	return &Command{
		Name:        "edit",
		Description: "Toggle permissions of a role in a draft and optionally commit",
		Run:         c.runEdit,
	}
}

func (c *CLI) runEdit(ctx context.Context, args []string) error {
	fs := c.flags("edit", "Applies toggles to a draft of one role, prints the diff and impact, and commits with -commit.")
	roleID := fs.String("role", "", "Role id to edit")
	var ops []editOp
	fs.Var(editOps{ops: &ops}, "toggle", "Permission id to flip (repeatable, comma-separated)")
	fs.Var(editOps{ops: &ops, group: true}, "group", "Group name to toggle as a whole (repeatable)")
	confirm := fs.Bool("confirm", false, "Confirm disabling critical permissions")
	commit := fs.Bool("commit", false, "Commit the draft")
	actor := fs.String("actor", defaultActor(), "Who is making the change")
	expected := fs.Int64("expected-version", 0, "Fail unless the stored role is at this version")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *roleID == "" {
		return fmt.Errorf("-role is required")
	}

	return c.withApp(ctx, func(app *App) error {
		draft, err := app.Engine.OpenDraft(ctx, *roleID)
		if err != nil {
			return err
		}

		for _, op := range ops {
			if op.group {
				if _, err := draft.ToggleGroup(op.value); err != nil {
					return err
				}
				continue
			}
			if err := c.toggle(draft, op.value, *confirm); err != nil {
				return err
			}
		}

		changes := draft.Diff()
		for _, change := range changes {
			sign := "-"
			if change.To {
				sign = "+"
			}
			fmt.Fprintf(c.Out, "%s %s (%s)\n", sign, change.Label, change.ID)
		}

		preview, err := app.Engine.Preview(ctx, draft)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.Out, preview.Summary)

		if !*commit {
			if len(changes) > 0 {
				c.Log.Info("Draft not saved; pass -commit to save it")
			}
			return nil
		}

		var opts []rbac.CommitOption
		if isSet(fs, "expected-version") {
			opts = append(opts, rbac.WithExpectedVersion(*expected))
		}
		role, err := app.Engine.Commit(ctx, draft, *actor, opts...)
		if err != nil {
			return err
		}
		if len(changes) > 0 {
			c.Log.WithField("role_id", role.ID).WithField("version", role.Version).Infof("Committed %s", role.Name)
		}
		return nil
	})
}

// toggle flips one permission, resolving a critical confirmation according to confirm
func (c *CLI) toggle(draft *rbac.Draft, id string, confirm bool) error {
	result, err := draft.Toggle(id)
	if err != nil {
		return err
	}
	if result.Pending == nil {
		return nil
	}

	pending := result.Pending
	if !confirm {
		if err := draft.CancelCritical(); err != nil {
			return err
		}
		detail := fmt.Sprintf("disabling %q needs confirmation", pending.Label)
		if len(pending.Dependents) > 0 {
			detail += fmt.Sprintf(" and also disables %s", strings.Join(pending.Dependents, ", "))
		}
		return &rbac.Error{Kind: rbac.ErrConfirmationPending, RoleID: draft.RoleID(), Detail: detail + "; pass -confirm"}
	}

	if _, err := draft.ConfirmCritical(); err != nil {
		return err
	}
	c.Log.WithField("permission", pending.PermissionID).WithField("dependents", pending.Dependents).
		Warn("Confirmed disabling a critical permission")
	return nil
}
