package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spaolacci/murmur3"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/yndnr/docsync-go/internal/core/domain"
)

// Store is the durable store collaborator.
type Store interface {
	// Load returns the latest record of a document, or nil when the document
	// was never saved.
	Load(ctx context.Context, documentID string) (*domain.PersistenceRecord, error)

	// Save writes a snapshot if the stored version still equals
	// expectedVersion and returns the new version. Otherwise it returns
	// domain.ErrPersistenceConflict and writes nothing.
	Save(ctx context.Context, documentID string, snapshot []byte, expectedVersion uint64) (uint64, error)

	// Close releases the store.
	Close() error
}

// Checksum returns the checksum stored alongside a snapshot.
func Checksum(snapshot []byte) uint64 {
	return murmur3.Sum64(snapshot)
}

// Verify checks a loaded record against its checksum.
func Verify(rec *domain.PersistenceRecord) error {
	if rec == nil {
		return nil
	}
	if got := Checksum(rec.Snapshot); got != rec.Checksum {
		return domain.ErrSnapshotCorrupt.WithDetails(
			fmt.Sprintf("%s version %d: checksum %016x, stored %016x", rec.DocumentID, rec.Version, got, rec.Checksum))
	}
	return nil
}

func conflict(documentID string, stored, expected uint64) error {
	return domain.ErrPersistenceConflict.WithDetails(
		fmt.Sprintf("%s: stored version %d, expected %d", documentID, stored, expected))
}

// Record value layout for key-value stores.
const (
	fieldVersion   protowire.Number = 1
	fieldUpdatedAt protowire.Number = 2
	fieldChecksum  protowire.Number = 3
	fieldSnapshot  protowire.Number = 4
)

var errBadRecord = errors.New("malformed record")

func encodeRecord(rec *domain.PersistenceRecord) []byte {
	b := make([]byte, 0, len(rec.Snapshot)+32)
	b = protowire.AppendTag(b, fieldVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, rec.Version)
	b = protowire.AppendTag(b, fieldUpdatedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.UpdatedAt.UnixNano()))
	b = protowire.AppendTag(b, fieldChecksum, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, rec.Checksum)
	b = protowire.AppendTag(b, fieldSnapshot, protowire.BytesType)
	return protowire.AppendBytes(b, rec.Snapshot)
}

func decodeRecord(documentID string, b []byte) (*domain.PersistenceRecord, error) {
	rec := &domain.PersistenceRecord{DocumentID: documentID}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errBadRecord
		}
		b = b[n:]
		switch {
		case num == fieldVersion && typ == protowire.VarintType:
			rec.Version, n = protowire.ConsumeVarint(b)
		case num == fieldUpdatedAt && typ == protowire.VarintType:
			var ns uint64
			ns, n = protowire.ConsumeVarint(b)
			rec.UpdatedAt = time.Unix(0, int64(ns)).UTC()
		case num == fieldChecksum && typ == protowire.Fixed64Type:
			rec.Checksum, n = protowire.ConsumeFixed64(b)
		case num == fieldSnapshot && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			rec.Snapshot = append([]byte(nil), v...)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, errBadRecord
		}
		b = b[n:]
	}
	return rec, nil
}
