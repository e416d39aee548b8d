package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/rolekeeper/pkg/config"
	"github.com/platinummonkey/rolekeeper/pkg/observability"
	"github.com/platinummonkey/rolekeeper/pkg/rbac"
)

// Version is the rolekeeper release, overridden at build time
var Version = "dev"

// Exit codes returned by ExitCode
const (
	ExitOK       = 0
	ExitError    = 1
	ExitRejected = 2
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(ctx context.Context, args []string) error
	Subcommands map[string]*Command

	out io.Writer
}

// CLI holds what every command shares
type CLI struct {
	Out io.Writer
	Err io.Writer
	Log *logrus.Logger

	// LoadConfig defaults to config.LoadConfig
	LoadConfig func() (*config.Config, error)
}

// NewCLI creates a CLI writing results to stdout and logs to stderr
func NewCLI() *CLI {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.InfoLevel)
	return &CLI{
		Out:        os.Stdout,
		Err:        os.Stderr,
		Log:        log,
		LoadConfig: config.LoadConfig,
	}
}

// NewRootCommand creates the root command
func NewRootCommand(c *CLI) *Command {
	root := &Command{
		Name:        "rolekeeper",
		Description: "rolekeeper - role and permission management",
		Subcommands: make(map[string]*Command),
		out:         c.Out,
	}

	for _, cmd := range []*Command{
		c.catalogCommand(),
		c.rolesCommand(),
		c.editCommand(),
		c.createCommand(),
		c.updateCommand(),
		c.duplicateCommand(),
		c.deleteCommand(),
		c.assignCommand(),
		c.checkCommand(),
		c.logsCommand(),
		c.exportCommand(),
		c.importCommand(),
		c.snapshotCommand(),
		c.serveCommand(),
	} {
		root.Subcommands[cmd.Name] = cmd
	}

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	}

	subcmd, ok := c.Subcommands[args[0]]
	if !ok {
		return fmt.Errorf("unknown command: %s", args[0])
	}
	err := subcmd.Run(ctx, args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

// usage prints the command usage
func (c *Command) usage() error {
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(c.out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(c.out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// ExitCode maps an error to the process exit status. Rejected operations
// exit with ExitRejected so scripts can tell them apart from failures.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if rbac.KindOf(err) != nil {
		return ExitRejected
	}
	return ExitError
}

// FormatError renders err for the terminal, one violation per line
func FormatError(err error) string {
	var domainErr *rbac.Error
	if !errors.As(err, &domainErr) || len(domainErr.Violations) == 0 {
		return err.Error()
	}

	head := *domainErr
	head.Violations = nil
	var b strings.Builder
	b.WriteString(head.Error())
	for _, v := range domainErr.Violations {
		b.WriteString("\n  - ")
		b.WriteString(v)
	}
	return b.String()
}

func (c *CLI) flags(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.Err)
	fs.Usage = func() {
		fmt.Fprintf(c.Err, "Usage: rolekeeper %s [flags]\n\n%s\n\nFlags:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

func (c *CLI) config() (*config.Config, error) {
	load := c.LoadConfig
	if load == nil {
		load = config.LoadConfig
	}
	return load()
}

// open loads the configuration and wires an App. Engine logs go to c.Err.
func (c *CLI) open(ctx context.Context) (*App, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, c.Err)
	return OpenApp(ctx, cfg, logger)
}

// withApp runs fn against a freshly opened App and closes it afterwards
func (c *CLI) withApp(ctx context.Context, fn func(*App) error) error {
	app, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			c.Log.WithError(err).Warn("Failed to close backends")
		}
	}()
	return fn(app)
}

func defaultActor() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return ""
}
