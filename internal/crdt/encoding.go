package crdt

import (
	"errors"
	"fmt"
	"slices"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// CodecVersion is the first byte of every update and snapshot.
const CodecVersion = 1

const (
	flagOrigin byte = 1 << iota
	flagRightOrigin

	flagMask = flagOrigin | flagRightOrigin
)

// maxDeleteRun caps a single delete range so a tiny payload cannot make the
// receiver allocate millions of pending entries.
const maxDeleteRun = 1 << 20

// record is the wire form of an item.
type record struct {
	id          ID
	origin      ID
	rightOrigin ID
	flags       byte
	content     rune
}

type deleteRun struct {
	client uint64
	clock  uint64
	length uint64
}

type update struct {
	records []record
	deletes []deleteRun
}

func encodeUpdate(u update) []byte {
	b := make([]byte, 0, 4+len(u.records)*6+len(u.deletes)*4)
	b = append(b, CodecVersion)
	b = protowire.AppendVarint(b, uint64(len(u.records)))
	for _, r := range u.records {
		b = protowire.AppendVarint(b, r.id.Client)
		b = protowire.AppendVarint(b, r.id.Clock)
		b = append(b, r.flags)
		if r.flags&flagOrigin != 0 {
			b = protowire.AppendVarint(b, r.origin.Client)
			b = protowire.AppendVarint(b, r.origin.Clock)
		}
		if r.flags&flagRightOrigin != 0 {
			b = protowire.AppendVarint(b, r.rightOrigin.Client)
			b = protowire.AppendVarint(b, r.rightOrigin.Clock)
		}
		b = protowire.AppendVarint(b, uint64(r.content))
	}
	b = protowire.AppendVarint(b, uint64(len(u.deletes)))
	for _, d := range u.deletes {
		b = protowire.AppendVarint(b, d.client)
		b = protowire.AppendVarint(b, d.clock)
		b = protowire.AppendVarint(b, d.length)
	}
	return b
}

func decodeUpdate(b []byte) (update, error) {
	var u update
	if len(b) == 0 {
		return u, domain.ErrMergeCorrupt.WithDetails("empty update")
	}
	if b[0] != CodecVersion {
		return u, domain.ErrMergeCorrupt.WithDetails(fmt.Sprintf("unsupported codec version %d", b[0]))
	}
	r := &reader{b: b[1:]}

	n := r.count(4)
	u.records = make([]record, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		var rec record
		rec.id.Client = r.varint()
		rec.id.Clock = r.varint()
		rec.flags = r.byte()
		if rec.flags&^flagMask != 0 {
			r.fail(fmt.Errorf("unknown item flags %#x", rec.flags))
			break
		}
		if rec.flags&flagOrigin != 0 {
			rec.origin.Client = r.varint()
			rec.origin.Clock = r.varint()
		}
		if rec.flags&flagRightOrigin != 0 {
			rec.rightOrigin.Client = r.varint()
			rec.rightOrigin.Clock = r.varint()
		}
		c := r.varint()
		if c > utf8.MaxRune || !utf8.ValidRune(rune(c)) {
			r.fail(fmt.Errorf("invalid rune %d", c))
			break
		}
		rec.content = rune(c)
		u.records = append(u.records, rec)
	}

	n = r.count(3)
	u.deletes = make([]deleteRun, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		d := deleteRun{client: r.varint(), clock: r.varint(), length: r.varint()}
		if d.length == 0 || d.length > maxDeleteRun || d.clock+d.length < d.clock {
			r.fail(fmt.Errorf("invalid delete range length %d", d.length))
			break
		}
		u.deletes = append(u.deletes, d)
	}

	if err := r.finish(); err != nil {
		return update{}, domain.ErrMergeCorrupt.WithCause(err).WithDetails(err.Error())
	}
	return u, nil
}

// runsOf folds IDs into sorted, merged delete ranges.
func runsOf(ids []ID) []deleteRun {
	if len(ids) == 0 {
		return nil
	}
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, compareID)
	sorted = slices.Compact(sorted)

	runs := []deleteRun{{client: sorted[0].Client, clock: sorted[0].Clock, length: 1}}
	for _, id := range sorted[1:] {
		last := &runs[len(runs)-1]
		if id.Client == last.client && id.Clock == last.clock+last.length {
			last.length++
			continue
		}
		runs = append(runs, deleteRun{client: id.Client, clock: id.Clock, length: 1})
	}
	return runs
}

func compareID(a, b ID) int {
	switch {
	case a.Client < b.Client:
		return -1
	case a.Client > b.Client:
		return 1
	case a.Clock < b.Clock:
		return -1
	case a.Clock > b.Clock:
		return 1
	}
	return 0
}

var errTruncated = errors.New("truncated payload")

// reader consumes varints and records the first failure.
type reader struct {
	b   []byte
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) varint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.fail(protowire.ParseError(n))
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if len(r.b) == 0 {
		r.fail(errTruncated)
		return 0
	}
	c := r.b[0]
	r.b = r.b[1:]
	return c
}

// count reads an element count and rejects counts that cannot fit in the
// remaining input, given the minimum encoded size of one element.
func (r *reader) count(minSize int) uint64 {
	n := r.varint()
	if r.err == nil && n > uint64(len(r.b)/minSize) {
		r.fail(fmt.Errorf("count %d exceeds payload", n))
		return 0
	}
	return n
}

func (r *reader) finish() error {
	if r.err == nil && len(r.b) != 0 {
		r.fail(fmt.Errorf("%d trailing bytes", len(r.b)))
	}
	return r.err
}
