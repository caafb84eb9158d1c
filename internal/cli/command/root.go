package command

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/cli/config"
	"github.com/yndnr/docsync-go/internal/cli/connection"
	"github.com/yndnr/docsync-go/internal/cli/output"
	"github.com/yndnr/docsync-go/internal/infra/buildinfo"
)

const metaConfig = "cliConfig"

// requestTimeout bounds a single admin request.
const requestTimeout = 30 * time.Second

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "docsync-cli",
		Usage:   "docsync command-line management tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			StatusCommand(),
			HealthCommand(),
			RoomsCommand(),
			RoomCommand(),
			FlushCommand(),
			SnapshotCommand(),
			EditCommand(),
			TokenCommand(),
			AdminCommand(),
			ConfigCommand(),
		},
		// edit text may contain commas
		DisableSliceFlagSeparator: true,
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.App.Metadata == nil {
				c.App.Metadata = map[string]any{}
			}
			c.App.Metadata[metaConfig] = cfg
			return nil
		},
	}
}

// globalFlags returns the global CLI flags. Unset flags fall back to the
// CLI configuration file.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "config",
			Usage: "CLI configuration file (default " + config.DefaultConfigPath() + ")",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "Server address or local socket path (e.g. http://127.0.0.1:7070, unix:///run/docsync/admin.sock)",
			EnvVars: []string{"DOCSYNC_SERVER"},
		},
		&cli.StringFlag{
			Name:    "admin-key",
			Aliases: []string{"k"},
			Usage:   "Admin API key (not needed on the local socket)",
			EnvVars: []string{"DOCSYNC_ADMIN_KEY"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
	}
}

// GlobalFlags are the effective global settings of a command.
type GlobalFlags struct {
	Server   string
	AdminKey string
	Output   output.Format
	Wide     bool
}

// Settings returns the loaded CLI configuration.
func Settings(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// ParseGlobalFlags merges flags over the CLI configuration.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	cfg := Settings(c)
	g := &GlobalFlags{
		Server:   cfg.Server,
		AdminKey: cfg.AdminKey,
		Output:   output.Format(cfg.Output),
		Wide:     c.Bool("wide"),
	}
	if v := c.String("server"); v != "" {
		g.Server = v
	}
	if v := c.String("admin-key"); v != "" {
		g.AdminKey = v
	}
	if v := c.String("output"); v != "" {
		g.Output = output.Format(v)
	}
	return g
}

// Connect returns a client for the selected server.
func Connect(c *cli.Context) *connection.HTTPClient {
	g := ParseGlobalFlags(c)
	return connection.NewHTTPClient(g.Server, g.AdminKey)
}

// render writes data in the selected format.
func render(c *cli.Context, data any) error {
	g := ParseGlobalFlags(c)
	if !g.Output.Valid() {
		return fmt.Errorf("unknown output format %q", g.Output)
	}
	return output.NewFormatter(g.Output, g.Wide).Format(writer(c), data)
}

func writer(c *cli.Context) io.Writer {
	if c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// get fetches path and decodes the response data into target.
func get(c *cli.Context, path string, target any) error {
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()
	resp, err := Connect(c).Get(ctx, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return connection.ParseResponse(resp, target)
}

// post sends a bodiless POST and decodes the response data into target.
func post(c *cli.Context, path string, target any) error {
	ctx, cancel := context.WithTimeout(c.Context, requestTimeout)
	defer cancel()
	resp, err := Connect(c).Post(ctx, path, nil)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return connection.ParseResponse(resp, target)
}

// requireArg returns the single positional argument named name.
func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("expected exactly one %s argument", name)
	}
	return c.Args().First(), nil
}
