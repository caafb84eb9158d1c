package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/cli/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "CLI configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "show",
				Usage:  "Show the effective CLI configuration with secrets masked",
				Action: showConfig,
			},
			{
				Name:      "set",
				Usage:     "Change a setting in the CLI configuration file",
				ArgsUsage: "KEY VALUE",
				Action:    setConfig,
			},
		},
	}
}

func showConfig(c *cli.Context) error {
	return render(c, Settings(c).Masked())
}

func setConfig(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("expected KEY VALUE")
	}
	path := c.String("config")
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(c.Args().Get(0), c.Args().Get(1)); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(writer(c), "%s updated in %s\n", c.Args().Get(0), path)
	return nil
}
