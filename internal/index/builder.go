package index

import (
	"cmp"
	"fmt"
	"io"
	"math"
	"slices"

	"github.com/meigma/imta/internal/format"
)

// Builder accumulates the entry table of an archive being written.
//
// Records must be appended in strictly ascending id order; the builder
// refuses anything else so readers can rely on binary search.
type Builder struct {
	records []format.EntryRecord
}

// NewBuilder returns an empty builder with room for n records.
func NewBuilder(n int) *Builder {
	return &Builder{records: make([]format.EntryRecord, 0, max(n, 0))}
}

// Append adds rec to the table. It fails with ErrOutOfOrder when rec.ID()
// is lower than the last appended id, ErrDuplicateID when it is equal, and
// ErrFormat when rec is structurally invalid.
func (b *Builder) Append(rec format.EntryRecord) error {
	if p := format.ValidateEntry(rec); p != format.NoProblem {
		return fmt.Errorf("append entry %#016x: %w", rec.ID(), p.Err())
	}
	if n := len(b.records); n > 0 {
		if err := checkOrder(b.records[n-1].ID(), rec.ID()); err != nil {
			return fmt.Errorf("append entry: %w", err)
		}
	}
	if len(b.records) >= math.MaxInt32 {
		return fmt.Errorf("append entry: %w", format.ErrSizeOverflow)
	}
	b.records = append(b.records, rec)
	return nil
}

// AppendSorted sorts recs by id and appends them in order.
// recs is not modified.
func (b *Builder) AppendSorted(recs []format.EntryRecord) error {
	sorted := slices.Clone(recs)
	slices.SortFunc(sorted, func(x, y format.EntryRecord) int {
		return cmp.Compare(x.ID(), y.ID())
	})
	for _, rec := range sorted {
		if err := b.Append(rec); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of appended records.
func (b *Builder) Len() int {
	return len(b.records)
}

// Index returns an Index over the appended records.
// The builder must not be used afterwards.
func (b *Builder) Index() *Index {
	return New(b.records)
}

// WriteTo encodes the table to w.
func (b *Builder) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, format.EntrySize*min(len(b.records), 256))
	var written int64
	for start := 0; start < len(b.records); start += 256 {
		chunk := b.records[start:min(start+256, len(b.records))]
		for i, rec := range chunk {
			if err := format.EncodeEntry(rec, buf[i*format.EntrySize:]); err != nil {
				return written, err
			}
		}
		n, err := w.Write(buf[:len(chunk)*format.EntrySize])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}
