package command

import (
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/cli/output"
	"github.com/yndnr/docsync-go/internal/infra/buildinfo"
)

// StatusCommand shows the server status summary.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show server status summary",
		Action: showStatus,
	}
}

// HealthCommand checks liveness and readiness.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:   "health",
		Usage:  "Check server health and readiness",
		Action: checkHealth,
	}
}

type statusView struct {
	Build          buildinfo.Info `json:"build"`
	StartedAt      time.Time      `json:"started_at"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
	Rooms          int            `json:"rooms"`
	RelayAvailable bool           `json:"relay_available"`
	Closing        bool           `json:"closing"`
}

func (s statusView) Table(bool) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("version", s.Build.Version)
	t.AddRow("commit", s.Build.Commit)
	t.AddRow("started", output.Time(s.StartedAt))
	t.AddRow("uptime", (time.Duration(s.UptimeSeconds) * time.Second).String())
	t.AddRow("rooms", strconv.Itoa(s.Rooms))
	t.AddRow("relay", availability(s.RelayAvailable))
	t.AddRow("closing", strconv.FormatBool(s.Closing))
	return t
}

func availability(up bool) string {
	if up {
		return "available"
	}
	return "unavailable"
}

func showStatus(c *cli.Context) error {
	var st statusView
	if err := get(c, "/admin/v1/status", &st); err != nil {
		return err
	}
	return render(c, st)
}

type healthView struct {
	Target string `json:"target"`
	Health string `json:"health"`
	Ready  string `json:"ready"`
}

func (h healthView) Table(bool) *output.Table {
	t := output.NewTable("TARGET", "HEALTH", "READY")
	t.AddRow(h.Target, h.Health, h.Ready)
	return t
}

func checkHealth(c *cli.Context) error {
	view := healthView{Target: Connect(c).BaseURL()}

	var health struct {
		Status string `json:"status"`
	}
	if err := get(c, "/health", &health); err != nil {
		return fmt.Errorf("server unhealthy: %w", err)
	}
	view.Health = health.Status

	var ready struct {
		Status string `json:"status"`
	}
	if err := get(c, "/ready", &ready); err != nil {
		view.Ready = err.Error()
		if rerr := render(c, view); rerr != nil {
			return rerr
		}
		return cli.Exit("server is not ready", 2)
	}
	view.Ready = ready.Status
	return render(c, view)
}
