package crdt

import "fmt"

// Insert inserts text before the visible rune at pos and returns the
// update describing the edit.
func (d *Doc) Insert(pos int, text string) ([]byte, error) {
	if pos < 0 || pos > d.length {
		return nil, fmt.Errorf("crdt: insert position %d out of range [0,%d]", pos, d.length)
	}
	var left, right *item
	if pos > 0 {
		left = d.visible(pos - 1)
		right = left.right
	} else {
		right = d.start
	}

	clock := uint64(len(d.items[d.client]))
	recs := make([]record, 0, len(text))
	for _, ch := range text {
		r := record{id: ID{Client: d.client, Clock: clock}, content: ch}
		if left != nil {
			r.flags |= flagOrigin
			r.origin = left.id
		}
		if right != nil {
			r.flags |= flagRightOrigin
			r.rightOrigin = right.id
		}
		left = d.integrate(r)
		recs = append(recs, r)
		clock++
	}
	d.live = true
	return encodeUpdate(update{records: recs}), nil
}

// Delete removes n visible runes starting at pos and returns the update
// describing the edit.
func (d *Doc) Delete(pos, n int) ([]byte, error) {
	if pos < 0 || n < 0 || pos+n > d.length {
		return nil, fmt.Errorf("crdt: delete range [%d,%d) out of range [0,%d]", pos, pos+n, d.length)
	}
	ids := make([]ID, 0, n)
	for it := d.visible(pos); it != nil && len(ids) < n; it = it.right {
		if it.deleted {
			continue
		}
		d.markDeleted(it)
		ids = append(ids, it.id)
	}
	d.live = true
	return encodeUpdate(update{deletes: runsOf(ids)}), nil
}

// visible returns the i-th visible item, or nil.
func (d *Doc) visible(i int) *item {
	for it := d.start; it != nil; it = it.right {
		if it.deleted {
			continue
		}
		if i == 0 {
			return it
		}
		i--
	}
	return nil
}
