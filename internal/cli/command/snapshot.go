package command

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/cli/output"
	"github.com/yndnr/docsync-go/internal/crdt"
	"github.com/yndnr/docsync-go/internal/storage"
)

// inspectClient is the replica id used to decode snapshots. It never edits.
const inspectClient = 1

// SnapshotCommand returns the snapshot subcommand group.
func SnapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Inspect and export document snapshots",
		Subcommands: []*cli.Command{
			{
				Name:      "inspect",
				Usage:     "Decode a snapshot and show its contents",
				ArgsUsage: "DOCUMENT",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "Read the snapshot from a file instead of the server",
					},
					&cli.BoolFlag{
						Name:  "text",
						Usage: "Print the document text after the summary",
					},
				},
				Action: inspectSnapshot,
			},
			{
				Name:      "export",
				Usage:     "Write a snapshot to a file",
				ArgsUsage: "DOCUMENT",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Usage:    "Destination file, - for stdout",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "text",
						Usage: "Export the plain text instead of the binary snapshot",
					},
				},
				Action: exportSnapshot,
			},
		},
	}
}

type snapshotRecord struct {
	DocumentID string    `json:"document_id"`
	Version    uint64    `json:"version"`
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
	Size       int       `json:"size"`
	Snapshot   []byte    `json:"snapshot"`
}

func fetchSnapshot(c *cli.Context, id string) (*snapshotRecord, error) {
	var rec snapshotRecord
	if err := get(c, roomPath(id, "/snapshot"), &rec); err != nil {
		return nil, err
	}
	if got := fmt.Sprintf("%016x", storage.Checksum(rec.Snapshot)); got != rec.Checksum {
		return nil, fmt.Errorf("snapshot of %s is corrupt: checksum %s, server reported %s", id, got, rec.Checksum)
	}
	return &rec, nil
}

type inspectView struct {
	DocumentID string     `json:"document_id"`
	Source     string     `json:"source"`
	Version    uint64     `json:"version,omitempty"`
	Checksum   string     `json:"checksum"`
	UpdatedAt  time.Time  `json:"updated_at,omitzero"`
	Size       int        `json:"size"`
	Length     int        `json:"length"`
	Stats      crdt.Stats `json:"stats"`
	Text       *string    `json:"text,omitempty"`
}

func (v inspectView) Table(bool) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("document", v.DocumentID)
	t.AddRow("source", v.Source)
	t.AddRow("version", strconv.FormatUint(v.Version, 10))
	t.AddRow("checksum", v.Checksum)
	t.AddRow("updated", output.Time(v.UpdatedAt))
	t.AddRow("size", strconv.Itoa(v.Size)+" bytes")
	t.AddRow("length", strconv.Itoa(v.Length)+" runes")
	t.AddRow("clients", strconv.Itoa(v.Stats.Clients))
	t.AddRow("items", strconv.Itoa(v.Stats.Items))
	t.AddRow("tombstones", strconv.Itoa(v.Stats.Tombstones))
	t.AddRow("pending", strconv.Itoa(v.Stats.PendingItems+v.Stats.PendingDeletes))
	return t
}

func inspectSnapshot(c *cli.Context) error {
	id, err := requireArg(c, "DOCUMENT")
	if err != nil {
		return err
	}

	view := inspectView{DocumentID: id}
	var snap []byte
	if path := c.String("file"); path != "" {
		if snap, err = os.ReadFile(path); err != nil {
			return err
		}
		view.Source = path
	} else {
		rec, err := fetchSnapshot(c, id)
		if err != nil {
			return err
		}
		snap = rec.Snapshot
		view.Source = Connect(c).BaseURL()
		view.Version = rec.Version
		view.UpdatedAt = rec.UpdatedAt
	}

	doc := crdt.New(inspectClient)
	if err := doc.LoadSnapshot(snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	view.Checksum = fmt.Sprintf("%016x", storage.Checksum(snap))
	view.Size = len(snap)
	view.Length = doc.Len()
	view.Stats = doc.Stats()

	if c.Bool("text") {
		text := doc.Text()
		view.Text = &text
	}
	if err := render(c, view); err != nil {
		return err
	}
	if view.Text != nil && ParseGlobalFlags(c).Output == output.FormatTable {
		fmt.Fprintf(writer(c), "\n%s\n", *view.Text)
	}
	return nil
}

func exportSnapshot(c *cli.Context) error {
	id, err := requireArg(c, "DOCUMENT")
	if err != nil {
		return err
	}
	rec, err := fetchSnapshot(c, id)
	if err != nil {
		return err
	}

	data := rec.Snapshot
	if c.Bool("text") {
		doc := crdt.New(inspectClient)
		if err := doc.LoadSnapshot(rec.Snapshot); err != nil {
			return fmt.Errorf("decode snapshot: %w", err)
		}
		data = []byte(doc.Text())
	}

	out := c.String("out")
	if out == "-" {
		_, err := writer(c).Write(data)
		return err
	}
	if out == "" {
		return errors.New("--out is required")
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "wrote %d bytes of %s (version %d) to %s\n", len(data), id, rec.Version, out)
	return nil
}
