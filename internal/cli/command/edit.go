package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/client"
)

// EditCommand joins a document as a client, applies edits and prints the
// resulting text.
func EditCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Join a document, apply edits and print its text",
		ArgsUsage: "DOCUMENT",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "token",
				Usage:   "Document access token",
				EnvVars: []string{"DOCSYNC_TOKEN"},
			},
			&cli.StringSliceFlag{
				Name:      "append",
				Usage:     "Append text (repeatable)",
				KeepSpace: true,
			},
			&cli.StringSliceFlag{
				Name:      "insert",
				Usage:     "Insert text at a rune position, as POS:TEXT (repeatable)",
				KeepSpace: true,
			},
			&cli.StringSliceFlag{
				Name:  "delete",
				Usage: "Delete runes, as POS:COUNT (repeatable)",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Announce this name to other participants",
			},
			&cli.BoolFlag{
				Name:  "watch",
				Usage: "Keep the session open and print the text on every change",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up connecting after this long",
				Value: 15 * time.Second,
			},
		},
		Action: editDocument,
	}
}

// edit is one requested change. Deletes run first, then inserts, then
// appends, so positions refer to the text as it was when joining.
type edit struct {
	pos   int
	count int
	text  string
}

func parseEdits(c *cli.Context) (deletes, inserts []edit, err error) {
	for _, d := range c.StringSlice("delete") {
		pos, count, ok := strings.Cut(d, ":")
		p, perr := strconv.Atoi(pos)
		n, nerr := strconv.Atoi(count)
		if !ok || perr != nil || nerr != nil || p < 0 || n < 1 {
			return nil, nil, fmt.Errorf("bad --delete %q, want POS:COUNT", d)
		}
		deletes = append(deletes, edit{pos: p, count: n})
	}
	for _, i := range c.StringSlice("insert") {
		pos, text, ok := strings.Cut(i, ":")
		p, perr := strconv.Atoi(pos)
		if !ok || perr != nil || p < 0 {
			return nil, nil, fmt.Errorf("bad --insert %q, want POS:TEXT", i)
		}
		inserts = append(inserts, edit{pos: p, text: text})
	}
	return deletes, inserts, nil
}

func editDocument(c *cli.Context) error {
	id, err := requireArg(c, "DOCUMENT")
	if err != nil {
		return err
	}
	deletes, inserts, err := parseEdits(c)
	if err != nil {
		return err
	}
	appends := c.StringSlice("append")
	writes := len(deletes)+len(inserts)+len(appends) > 0

	g := ParseGlobalFlags(c)
	conn := Connect(c)
	if conn.IsLocal() {
		return errors.New("edit needs the server's HTTP address; the local socket only serves the admin API")
	}
	token := c.String("token")
	if token == "" {
		token = Settings(c).Token
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	out := writer(c)
	watch := c.Bool("watch")
	opts := client.Options{
		Token:    token,
		ReadOnly: !writes && c.String("name") == "",
		Retry:    backoff.NewExponentialBackOff(backoff.WithMaxElapsedTime(c.Duration("timeout"))),
	}
	if watch {
		opts.OnUpdate = func(text string) {
			fmt.Fprintf(out, "--- %s\n%s\n", time.Now().Format(time.TimeOnly), text)
		}
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.Duration("timeout"))
	defer cancel()
	cl, err := client.Dial(dialCtx, g.Server, id, opts)
	if err != nil {
		return fmt.Errorf("join %s: %w", id, err)
	}
	defer cl.Close()

	if writes && cl.ReadOnly() {
		return fmt.Errorf("token grants read-only access to %s", id)
	}
	if name := c.String("name"); name != "" && !cl.ReadOnly() {
		if err := cl.SetAwareness(map[string]string{"name": name}); err != nil {
			return err
		}
	}
	for _, d := range deletes {
		if err := cl.Delete(d.pos, d.count); err != nil {
			return fmt.Errorf("delete %d:%d: %w", d.pos, d.count, err)
		}
	}
	for _, i := range inserts {
		if err := cl.Insert(i.pos, i.text); err != nil {
			return fmt.Errorf("insert at %d: %w", i.pos, err)
		}
	}
	for _, a := range appends {
		if err := cl.Append(a); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, cl.Text())
	if !watch {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-cl.Done():
		return cl.Err()
	}
}
