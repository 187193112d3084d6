// Package format implements the fixed-layout binary records of an IMTA archive:
// the 24-byte header, the 32-byte entry record, their little-endian codec, the
// structural validator and the CRC-64 entry id.
package format

const (
	// HeaderSize is the encoded size of a Header in bytes.
	HeaderSize = 24

	// EntrySize is the encoded size of an EntryRecord in bytes.
	EntrySize = 32

	// Version is the only supported format version.
	Version = 1
)

// Magic is the four byte signature at the start of every archive ("IMTA").
var Magic = [4]byte{0x49, 0x4D, 0x54, 0x41}

// Header is the fixed-size record at offset zero of an archive.
//
// Header is an immutable value. Use NewHeader to build a valid one; values
// produced by DecodeHeader are not validated.
type Header struct {
	magic       [4]byte
	archiveInfo uint32
	tableOffset int64
	entryCount  int32
	reserved    uint32
}

// NewHeader returns a version 1 header pointing at an entry table of count
// records starting at tableOffset.
func NewHeader(tableOffset int64, count int32) (Header, error) {
	h := Header{
		magic:       Magic,
		archiveInfo: Version,
		tableOffset: tableOffset,
		entryCount:  count,
	}
	if p := ValidateHeader(h); p != NoProblem {
		return Header{}, p.Err()
	}
	return h, nil
}

// Magic returns the signature bytes.
func (h Header) Magic() [4]byte { return h.magic }

// ArchiveInfo returns the raw archive info word.
func (h Header) ArchiveInfo() uint32 { return h.archiveInfo }

// Version returns the format version stored in the low byte of ArchiveInfo.
func (h Header) Version() uint8 { return uint8(h.archiveInfo & 0xFF) }

// EntryTableOffset returns the file offset of the entry record table.
func (h Header) EntryTableOffset() int64 { return h.tableOffset }

// EntryCount returns the number of records in the entry table.
func (h Header) EntryCount() int32 { return h.entryCount }

// Reserved returns the reserved word, which must be zero.
func (h Header) Reserved() uint32 { return h.reserved }

// TableSize returns the encoded size of the entry table in bytes.
// It returns zero for a negative entry count.
func (h Header) TableSize() int64 {
	if h.entryCount < 0 {
		return 0
	}
	return int64(h.entryCount) * EntrySize
}
