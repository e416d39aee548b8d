package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/platinummonkey/rolekeeper/pkg/catalog"
	"github.com/platinummonkey/rolekeeper/pkg/rbac"
)

const timeLayout = "2006-01-02 15:04:05Z07:00"

func (c *CLI) catalogCommand() *Command {
	return &Command{
		Name:        "catalog",
		Description: "Show permission groups and dependencies",
		Run:         c.runCatalog,
	}
}

func (c *CLI) runCatalog(ctx context.Context, args []string) error {
	fs := c.flags("catalog", "Prints the permission catalog in use.")
	format := fs.String("format", "text", "Output format: text, yaml or json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := c.config()
	if err != nil {
		return err
	}
	cat, err := LoadCatalog(cfg)
	if err != nil {
		return err
	}

	switch *format {
	case "text":
		return printCatalog(c.Out, cat)
	case "yaml":
		data, err := catalog.Marshal(cat)
		if err != nil {
			return err
		}
		_, err = c.Out.Write(data)
		return err
	case "json":
		return writeJSON(c.Out, map[string]interface{}{
			"groups":       cat.Groups(),
			"dependencies": cat.Dependencies(),
		})
	default:
		return fmt.Errorf("unsupported format: %s", *format)
	}
}

func printCatalog(out io.Writer, cat *catalog.Catalog) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, group := range cat.Groups() {
		fmt.Fprintf(w, "%s\n", group.Name)
		for _, def := range group.Permissions {
			var flags []string
			if def.Critical {
				flags = append(flags, "critical")
			}
			if def.Administrative {
				flags = append(flags, "administrative")
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\n", def.ID, def.Label, strings.Join(flags, ","))
		}
	}

	fmt.Fprintf(w, "\nDependencies\n")
	for _, dep := range cat.Dependencies() {
		fmt.Fprintf(w, "  %s\trequires %s\t%s\n", dep.Permission, dep.Requires, dep.Message)
	}
	return w.Flush()
}

func (c *CLI) rolesCommand() *Command {
	return &Command{
		Name:        "roles",
		Description: "List roles or show one role",
		Run:         c.runRoles,
	}
}

func (c *CLI) runRoles(ctx context.Context, args []string) error {
	fs := c.flags("roles", "Lists every role, or shows one role with -id.")
	id := fs.String("id", "", "Role id to show")
	asJSON := fs.Bool("json", false, "Print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return c.withApp(ctx, func(app *App) error {
		if *id != "" {
			role, err := app.Engine.GetRole(ctx, *id)
			if err != nil {
				return err
			}
			if *asJSON {
				return writeJSON(c.Out, role)
			}
			return printRole(c.Out, app.Catalog, role)
		}

		roles, err := app.Engine.ListRoles(ctx)
		if err != nil {
			return err
		}
		if *asJSON {
			return writeJSON(c.Out, roles)
		}

		w := tabwriter.NewWriter(c.Out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tUSERS\tPERMISSIONS\tSYSTEM\tVERSION")
		for _, role := range roles {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\t%d\n",
				role.ID, role.Name, role.UserCount, role.Permissions.Count(), role.IsSystem, role.Version)
		}
		return w.Flush()
	})
}

func printRole(out io.Writer, cat *catalog.Catalog, role rbac.Role) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID:\t%s\n", role.ID)
	fmt.Fprintf(w, "Name:\t%s\n", role.Name)
	if role.Description != "" {
		fmt.Fprintf(w, "Description:\t%s\n", role.Description)
	}
	if role.Color != "" {
		fmt.Fprintf(w, "Color:\t%s\n", role.Color)
	}
	fmt.Fprintf(w, "System:\t%t\n", role.IsSystem)
	fmt.Fprintf(w, "Users:\t%d\n", role.UserCount)
	fmt.Fprintf(w, "Version:\t%d\n", role.Version)
	if role.LastModified.By != "" {
		fmt.Fprintf(w, "Last modified:\t%s by %s\n", role.LastModified.At.Format(timeLayout), role.LastModified.By)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	printPermissions(out, cat, role.Permissions)
	return nil
}

// printPermissions lists every catalog permission with its grant
func printPermissions(out io.Writer, cat *catalog.Catalog, set rbac.PermissionSet) {
	for _, group := range cat.Groups() {
		fmt.Fprintf(out, "%s\n", group.Name)
		for _, def := range group.Permissions {
			mark := " "
			if set[def.ID] {
				mark = "x"
			}
			fmt.Fprintf(out, "  [%s] %s (%s)\n", mark, def.Label, def.ID)
		}
	}
}

func (c *CLI) checkCommand() *Command {
	return &Command{
		Name:        "check",
		Description: "Check a user's effective permissions",
		Run:         c.runCheck,
	}
}

func (c *CLI) runCheck(ctx context.Context, args []string) error {
	fs := c.flags("check", "Prints a user's effective permissions, or whether they hold one permission.")
	user := fs.String("user", "", "User id")
	permission := fs.String("permission", "", "Permission id to check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	return c.withApp(ctx, func(app *App) error {
		if *permission != "" {
			ok, err := app.Checker.HasPermission(ctx, *user, *permission)
			if err != nil {
				return err
			}
			verdict := "denied"
			if ok {
				verdict = "allowed"
			}
			fmt.Fprintf(c.Out, "%s %s: %s\n", *user, *permission, verdict)
			return nil
		}

		set, err := app.Checker.EffectivePermissions(ctx, *user)
		if err != nil {
			return err
		}
		for _, id := range app.Engine.Resolver().Ordered(set.Granted()) {
			fmt.Fprintln(c.Out, id)
		}
		return nil
	})
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
