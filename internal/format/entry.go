package format

// EntryRecord describes one entry of the archive.
//
// An offset of zero is the sentinel for "no payload present"; the size of
// such a record is meaningless. EntryRecord is an immutable value.
type EntryRecord struct {
	id       uint64
	offset   int64
	size     int64
	reserved uint64
}

// NewEntryRecord returns a validated record.
func NewEntryRecord(id uint64, offset, size int64) (EntryRecord, error) {
	e := EntryRecord{id: id, offset: offset, size: size}
	if p := ValidateEntry(e); p != NoProblem {
		return EntryRecord{}, p.Err()
	}
	return e, nil
}

// NewEntryRecordFor returns a validated record whose id is derived from name.
func NewEntryRecordFor(name string, offset, size int64) (EntryRecord, error) {
	return NewEntryRecord(EntryID(name), offset, size)
}

// ID returns the entry id.
func (e EntryRecord) ID() uint64 { return e.id }

// Offset returns the payload offset from the start of the file.
func (e EntryRecord) Offset() int64 { return e.offset }

// Size returns the payload length in bytes.
func (e EntryRecord) Size() int64 { return e.size }

// Reserved returns the reserved word, which must be zero.
func (e EntryRecord) Reserved() uint64 { return e.reserved }

// HasPayload reports whether the record points at payload bytes.
func (e EntryRecord) HasPayload() bool { return e.offset != 0 }

// End returns offset+size, or false if the record has no payload or the sum
// overflows.
func (e EntryRecord) End() (int64, bool) {
	if !e.HasPayload() || e.size < 0 {
		return 0, false
	}
	end := e.offset + e.size
	if end < e.offset {
		return 0, false
	}
	return end, true
}
