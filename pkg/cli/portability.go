package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

func (c *CLI) exportCommand() *Command {
	return &Command{
		Name:        "export",
		Description: "Write every role to a JSON document",
		Run:         c.runExport,
	}
}

func (c *CLI) runExport(ctx context.Context, args []string) error {
	fs := c.flags("export", "Writes the role document to -out, or stdout.")
	out := fs.String("out", "", "Output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	return c.withApp(ctx, func(app *App) error {
		data, err := app.Engine.ExportRoles(ctx)
		if err != nil {
			return err
		}
		if *out == "" {
			_, err = c.Out.Write(append(data, '\n'))
			return err
		}
		if err := os.WriteFile(*out, data, 0o600); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
		c.Log.WithField("path", *out).Info("Exported roles")
		return nil
	})
}

func (c *CLI) importCommand() *Command {
	return &Command{
		Name:        "import",
		Description: "Merge a role document into the store",
		Run:         c.runImport,
	}
}

func (c *CLI) runImport(ctx context.Context, args []string) error {
	fs := c.flags("import", "Validates a role document and merges it by role id. Nothing is written unless every check passes.")
	in := fs.String("in", "", "Input file, or - for stdin")
	actor := fs.String("actor", defaultActor(), "Who is making the change")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("-in is required")
	}

	data, err := readInput(*in)
	if err != nil {
		return err
	}

	return c.withApp(ctx, func(app *App) error {
		result, err := app.Engine.ImportRoles(ctx, data, *actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.Out, "created: %s\n", strings.Join(result.Created, ", "))
		fmt.Fprintf(c.Out, "updated: %s\n", strings.Join(result.Updated, ", "))
		fmt.Fprintf(c.Out, "unchanged: %s\n", strings.Join(result.Unchanged, ", "))
		return nil
	})
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}
	return data, nil
}
