package index

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"slices"

	"github.com/meigma/imta/internal/format"
)

// maxPrealloc caps the record slice capacity allocated up front, so a corrupt
// entry count cannot force a huge allocation before any record is read.
const maxPrealloc = 1 << 16

// Index provides access to the entry records of one archive.
//
// Records are sorted by id, enabling O(log n) lookups. An Index is immutable
// after construction and safe for concurrent use.
type Index struct {
	records []format.EntryRecord
}

// New wraps records, which must already be sorted ascending by id.
//
// Sortedness is not re-checked; lookups over an unsorted slice have undefined
// results. Use Verify or a Builder when the order is not known to hold.
// The slice is retained; callers must not modify it afterwards.
func New(records []format.EntryRecord) *Index {
	return &Index{records: records}
}

// Load decodes h.EntryCount() records starting at h.EntryTableOffset().
//
// Records are decoded but not validated.
func Load(r io.ReadSeeker, h format.Header) (*Index, error) {
	count := int(h.EntryCount())
	if count < 0 {
		return nil, format.InvalidEntryInfoCount.Err()
	}
	if _, err := r.Seek(h.EntryTableOffset(), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek entry table: %w", err)
	}

	br := bufio.NewReaderSize(r, 64*format.EntrySize)
	records := make([]format.EntryRecord, 0, min(count, maxPrealloc))
	for i := range count {
		rec, err := format.ReadEntry(br)
		if err != nil {
			return nil, fmt.Errorf("entry %d of %d: %w", i, count, err)
		}
		records = append(records, rec)
	}
	return New(records), nil
}

// Len returns the number of records.
func (idx *Index) Len() int {
	return len(idx.records)
}

// Lookup returns the record with the given id using binary search.
func (idx *Index) Lookup(id uint64) (format.EntryRecord, bool) {
	i, ok := slices.BinarySearchFunc(idx.records, id, func(e format.EntryRecord, id uint64) int {
		switch {
		case e.ID() < id:
			return -1
		case e.ID() > id:
			return 1
		}
		return 0
	})
	if !ok {
		return format.EntryRecord{}, false
	}
	return idx.records[i], true
}

// Entries returns an iterator over all records in id order.
// The iterator may be ranged over any number of times.
func (idx *Index) Entries() iter.Seq[format.EntryRecord] {
	return func(yield func(format.EntryRecord) bool) {
		for _, rec := range idx.records {
			if !yield(rec) {
				return
			}
		}
	}
}

// HasPayload reports whether rec points at payload bytes.
func HasPayload(rec format.EntryRecord) bool {
	return rec.HasPayload()
}

// Verify checks that records are strictly ascending by id and that each
// record passes validation. It returns the first violation found.
func (idx *Index) Verify() error {
	for i, rec := range idx.records {
		if p := format.ValidateEntry(rec); p != format.NoProblem {
			return fmt.Errorf("entry %d (id %#016x): %w", i, rec.ID(), p.Err())
		}
		if i == 0 {
			continue
		}
		if err := checkOrder(idx.records[i-1].ID(), rec.ID()); err != nil {
			return fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return nil
}

// Filter returns a new Index holding the records for which keep returns true.
func (idx *Index) Filter(keep func(format.EntryRecord) bool) *Index {
	out := make([]format.EntryRecord, 0, len(idx.records))
	for _, rec := range idx.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return New(out)
}

func checkOrder(prev, next uint64) error {
	switch {
	case next == prev:
		return fmt.Errorf("%w: %#016x", format.ErrDuplicateID, next)
	case next < prev:
		return fmt.Errorf("%w: %#016x after %#016x", format.ErrOutOfOrder, next, prev)
	}
	return nil
}
