package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Snapshot returns a byte-for-byte copy of the assignment region.
func (s *Store) Snapshot() []byte {
	return bytes.Clone(s.assignments.data)
}

// Assignments is a read-only view of a saved assignment region.
type Assignments struct {
	b []byte
}

// ParseAssignments validates buf as an assignment region.
func ParseAssignments(buf []byte) (*Assignments, error) {
	if len(buf) < asgHeaderSize {
		return nil, fmt.Errorf("%w: snapshot is truncated", ErrCorruptRegion)
	}
	n := getI64(buf, asgCountOff)
	if n < 0 || int64(len(buf)) != assignmentsRegionSize(n) {
		return nil, fmt.Errorf("%w: snapshot holds %d bytes for %d revisions", ErrCorruptRegion, len(buf), n)
	}
	return &Assignments{b: buf}, nil
}

func (a *Assignments) Hyperparameters() Hyperparameters { return readHyperparameters(a.b) }
func (a *Assignments) Iterations() int64 { return getI64(a.b, asgIterationsOff) }
func (a *Assignments) Len() int64 { return getI64(a.b, asgCountOff) }

// At returns the saved assignment of revision id.
func (a *Assignments) At(id int64) Assignment {
	off := asgHeaderSize + asgRecordSize*int(id)
	return Assignment{Topic: getI32(a.b, off), Pov: getI32(a.b, off+4)}
}

// Bytes returns the underlying region.
func (a *Assignments) Bytes() []byte { return a.b }

// Fits reports whether the snapshot can be restored into s.
func (a *Assignments) Fits(s *Store) error {
	h := a.Hyperparameters()
	if a.Len() != s.numRevisions || h.Topics != s.hp.Topics || h.Povs != s.hp.Povs {
		return fmt.Errorf("%w: %d revisions, %d topics, %d povs",
			ErrSnapshotMismatch, a.Len(), h.Topics, h.Povs)
	}
	return nil
}

// WriteSnapshotFile writes a snapshot to path, zstd-compressed when the name
// ends in ".zst".
func WriteSnapshotFile(path string, buf []byte) error {
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return fmt.Errorf("creating zstd encoder: %w", err)
		}
		buf = enc.EncodeAll(buf, nil)
		if err := enc.Close(); err != nil {
			return fmt.Errorf("closing zstd encoder: %w", err)
		}
	}
	return writeFileAtomic(path, buf)
}

// ReadSnapshotFile reads a snapshot written by WriteSnapshotFile.
func ReadSnapshotFile(path string) (*Assignments, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	return ParseAssignments(buf)
}
