package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/infra/buildinfo"
)

func main() {
	app := &cli.App{
		Name:    "docsync-server",
		Usage:   "Real-time collaborative document sync server",
		Version: buildinfo.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{"DOCSYNC_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Override server.http.addr",
			},
			&cli.StringFlag{
				Name:  "storage-dsn",
				Usage: "Override storage.dsn (memory://, badger:///path, postgres://...)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log.level (debug, info, warn, error)",
			},
			&cli.BoolFlag{
				Name:  "check",
				Usage: "Validate the configuration, print it with secrets masked, and exit",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
