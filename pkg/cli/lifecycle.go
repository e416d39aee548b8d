package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/rolekeeper/pkg/rbac"
)

func (c *CLI) createCommand() *Command {
	return &Command{
		Name:        "create",
		Description: "Create a custom role",
		Run:         c.runCreate,
	}
}

func (c *CLI) runCreate(ctx context.Context, args []string) error {
	fs := c.flags("create", "Creates a custom role and prints its id.")
	name := fs.String("name", "", "Role name")
	description := fs.String("description", "", "Role description")
	color := fs.String("color", "", "Display color")
	cloneFrom := fs.String("clone-from", "", "Copy permissions from this role id")
	var perms listFlag
	fs.Var(&perms, "permissions", "Permission ids to grant (comma-separated)")
	actor := fs.String("actor", defaultActor(), "Who is making the change")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return c.withApp(ctx, func(app *App) error {
		in := rbac.RoleInput{
			Name:        *name,
			Description: *description,
			Color:       *color,
			CloneFrom:   *cloneFrom,
		}
		if len(perms) > 0 {
			in.Permissions = permissionSet(perms)
		}

		role, err := app.Engine.CreateRole(ctx, in, *actor)
		if err != nil {
			return err
		}
		c.Log.WithField("role_id", role.ID).Infof("Created role %s with %d permissions", role.Name, role.Permissions.Count())
		fmt.Fprintln(c.Out, role.ID)
		return nil
	})
}

func (c *CLI) updateCommand() *Command {
	return &Command{
		Name:        "update",
		Description: "Update a custom role's metadata or permissions",
		Run:         c.runUpdate,
	}
}

func (c *CLI) runUpdate(ctx context.Context, args []string) error {
	fs := c.flags("update", "Updates a custom role. Fields whose flag is not given keep their current value.")
	id := fs.String("id", "", "Role id")
	name := fs.String("name", "", "New name")
	description := fs.String("description", "", "New description")
	color := fs.String("color", "", "New display color")
	var perms listFlag
	fs.Var(&perms, "permissions", "Replace permissions with these ids (comma-separated)")
	actor := fs.String("actor", defaultActor(), "Who is making the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	return c.withApp(ctx, func(app *App) error {
		current, err := app.Engine.GetRole(ctx, *id)
		if err != nil {
			return err
		}

		in := rbac.RoleInput{
			Name:        current.Name,
			Description: current.Description,
			Color:       current.Color,
		}
		if isSet(fs, "name") {
			in.Name = *name
		}
		if isSet(fs, "description") {
			in.Description = *description
		}
		if isSet(fs, "color") {
			in.Color = *color
		}
		if isSet(fs, "permissions") {
			in.Permissions = permissionSet(perms)
		}

		role, err := app.Engine.UpdateRole(ctx, *id, in, *actor)
		if err != nil {
			return err
		}
		if role.Version == current.Version {
			c.Log.WithField("role_id", role.ID).Info("Nothing to update")
			return nil
		}
		c.Log.WithField("role_id", role.ID).WithField("version", role.Version).Infof("Updated role %s", role.Name)
		return nil
	})
}

func (c *CLI) duplicateCommand() *Command {
	return &Command{
		Name:        "duplicate",
		Description: "Copy a role into a new custom role",
		Run:         c.runDuplicate,
	}
}

func (c *CLI) runDuplicate(ctx context.Context, args []string) error {
	fs := c.flags("duplicate", "Copies a role and prints the new role's id.")
	id := fs.String("id", "", "Role id to copy")
	actor := fs.String("actor", defaultActor(), "Who is making the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	return c.withApp(ctx, func(app *App) error {
		role, err := app.Engine.DuplicateRole(ctx, *id, *actor)
		if err != nil {
			return err
		}
		c.Log.WithField("role_id", role.ID).Infof("Created %s", role.Name)
		fmt.Fprintln(c.Out, role.ID)
		return nil
	})
}

func (c *CLI) deleteCommand() *Command {
	return &Command{
		Name:        "delete",
		Description: "Delete a custom role, moving its users to a replacement",
		Run:         c.runDelete,
	}
}

func (c *CLI) runDelete(ctx context.Context, args []string) error {
	fs := c.flags("delete", "Deletes a custom role. A role with users needs -replacement.")
	id := fs.String("id", "", "Role id to delete")
	replacement := fs.String("replacement", "", "Role id that receives the deleted role's users")
	actor := fs.String("actor", defaultActor(), "Who is making the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("-id is required")
	}

	return c.withApp(ctx, func(app *App) error {
		moved, err := app.Engine.DeleteRole(ctx, *id, *replacement, *actor)
		if err != nil {
			return err
		}
		log := c.Log.WithField("role_id", *id)
		if moved > 0 {
			log = log.WithField("replacement", *replacement).WithField("moved", moved)
		}
		log.Info("Deleted role")
		return nil
	})
}

func (c *CLI) assignCommand() *Command {
	return &Command{
		Name:        "assign",
		Description: "Assign users to a role",
		Run:         c.runAssign,
	}
}

func (c *CLI) runAssign(ctx context.Context, args []string) error {
	fs := c.flags("assign", "Assigns users to a role and prints the users that were newly added.")
	roleID := fs.String("role", "", "Role id")
	var users listFlag
	fs.Var(&users, "users", "User ids (comma-separated)")
	actor := fs.String("actor", defaultActor(), "Who is making the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *roleID == "" {
		return fmt.Errorf("-role is required")
	}

	return c.withApp(ctx, func(app *App) error {
		added, err := app.Engine.AssignUsers(ctx, *roleID, users, *actor)
		if err != nil {
			return err
		}
		for _, user := range added {
			fmt.Fprintln(c.Out, user)
		}
		c.Log.WithField("role_id", *roleID).Infof("Assigned %d users", len(added))
		return nil
	})
}
