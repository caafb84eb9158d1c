package command

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/docsync-go/internal/cli/output"
	"github.com/yndnr/docsync-go/internal/room"
)

// RoomsCommand lists the open rooms.
func RoomsCommand() *cli.Command {
	return &cli.Command{
		Name:    "rooms",
		Aliases: []string{"ls"},
		Usage:   "List the rooms open on the server",
		Action:  listRooms,
	}
}

// RoomCommand shows one open room.
func RoomCommand() *cli.Command {
	return &cli.Command{
		Name:      "room",
		Usage:     "Show one open room",
		ArgsUsage: "DOCUMENT",
		Action:    showRoom,
	}
}

// FlushCommand persists a room now.
func FlushCommand() *cli.Command {
	return &cli.Command{
		Name:      "flush",
		Usage:     "Persist a room's pending changes now",
		ArgsUsage: "DOCUMENT",
		Action:    flushRoom,
	}
}

func roomPath(id string, suffix ...string) string {
	return "/admin/v1/rooms/" + url.PathEscape(id) + strings.Join(suffix, "")
}

type roomsView struct {
	Rooms []room.Info `json:"rooms"`
	Total int         `json:"total"`
}

func (v roomsView) Table(wide bool) *output.Table {
	headers := []string{"DOCUMENT", "PHASE", "PEERS", "VERSION", "DIRTY", "LENGTH"}
	if wide {
		headers = append(headers, "ITEMS", "TOMBSTONES", "PENDING", "AWARENESS", "OPENED", "PERSISTED")
	}
	t := output.NewTable(headers...)
	now := time.Now()
	for _, r := range v.Rooms {
		row := []string{
			r.DocumentID,
			r.Phase,
			strconv.Itoa(r.Peers),
			strconv.FormatUint(r.Version, 10),
			strconv.FormatBool(r.Dirty),
			strconv.Itoa(r.Length),
		}
		if wide {
			row = append(row,
				strconv.Itoa(r.Items),
				strconv.Itoa(r.Tombstones),
				strconv.Itoa(r.PendingItems+r.PendingDeletes),
				strconv.Itoa(r.Awareness),
				output.Age(r.OpenedAt, now),
				output.Age(r.PersistedAt, now),
			)
		}
		t.AddRow(row...)
	}
	return t
}

func listRooms(c *cli.Context) error {
	var v roomsView
	if err := get(c, "/admin/v1/rooms", &v); err != nil {
		return err
	}
	return render(c, v)
}

type roomView room.Info

func (r roomView) Table(bool) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("document", r.DocumentID)
	t.AddRow("phase", r.Phase)
	t.AddRow("peers", strconv.Itoa(r.Peers))
	t.AddRow("sessions", strings.Join(r.Sessions, ","))
	t.AddRow("version", strconv.FormatUint(r.Version, 10))
	t.AddRow("dirty", strconv.FormatBool(r.Dirty))
	t.AddRow("length", strconv.Itoa(r.Length))
	t.AddRow("clients", strconv.Itoa(r.Clients))
	t.AddRow("items", strconv.Itoa(r.Items))
	t.AddRow("tombstones", strconv.Itoa(r.Tombstones))
	t.AddRow("pending items", strconv.Itoa(r.PendingItems))
	t.AddRow("pending deletes", strconv.Itoa(r.PendingDeletes))
	t.AddRow("awareness", strconv.Itoa(r.Awareness))
	t.AddRow("opened", output.Time(r.OpenedAt))
	t.AddRow("last change", output.Time(r.LastChange))
	t.AddRow("persisted", output.Time(r.PersistedAt))
	return t
}

func showRoom(c *cli.Context) error {
	id, err := requireArg(c, "DOCUMENT")
	if err != nil {
		return err
	}
	var info room.Info
	if err := get(c, roomPath(id), &info); err != nil {
		return err
	}
	return render(c, roomView(info))
}

type flushView struct {
	DocumentID string    `json:"document_id"`
	Version    uint64    `json:"version"`
	FlushedAt  time.Time `json:"flushed_at"`
}

func (f flushView) Table(bool) *output.Table {
	t := output.NewTable("DOCUMENT", "VERSION", "FLUSHED")
	t.AddRow(f.DocumentID, strconv.FormatUint(f.Version, 10), output.Time(f.FlushedAt))
	return t
}

func flushRoom(c *cli.Context) error {
	id, err := requireArg(c, "DOCUMENT")
	if err != nil {
		return err
	}
	var v flushView
	if err := post(c, roomPath(id, "/flush"), &v); err != nil {
		return err
	}
	return render(c, v)
}
