package crdt

import (
	"slices"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// ID identifies one inserted rune.
type ID struct {
	Client uint64
	Clock  uint64
}

// StateVector maps every known client to the next clock expected from it.
// All items of a client below that clock are integrated.
type StateVector map[uint64]uint64

// Encode serializes the vector. Clients are written in ascending order so
// equal vectors encode to equal bytes.
func (sv StateVector) Encode() []byte {
	clients := make([]uint64, 0, len(sv))
	for c := range sv {
		clients = append(clients, c)
	}
	slices.Sort(clients)

	b := protowire.AppendVarint(nil, uint64(len(clients)))
	for _, c := range clients {
		b = protowire.AppendVarint(b, c)
		b = protowire.AppendVarint(b, sv[c])
	}
	return b
}

// DecodeStateVector parses an encoded vector. Empty input is the empty vector.
func DecodeStateVector(b []byte) (StateVector, error) {
	sv := StateVector{}
	if len(b) == 0 {
		return sv, nil
	}
	r := &reader{b: b}
	n := r.count(2)
	for i := uint64(0); i < n && r.err == nil; i++ {
		c := r.varint()
		sv[c] = r.varint()
	}
	if err := r.finish(); err != nil {
		return nil, domain.ErrMergeCorrupt.WithDetails("state vector: " + err.Error())
	}
	return sv, nil
}
