package format

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Field offsets within an encoded Header.
const (
	headerMagicOff       = 0
	headerArchiveInfoOff = 4
	headerTableOffOff    = 8
	headerCountOff       = 16
	headerReservedOff    = 20
)

// Field offsets within an encoded EntryRecord.
const (
	entryIDOff       = 0
	entryOffsetOff   = 8
	entrySizeOff     = 16
	entryReservedOff = 24
)

// DecodeHeader reinterprets the first HeaderSize bytes of buf as a Header.
// It does not validate the result.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("decode header: %w", ErrShortBuffer)
	}
	var h Header
	copy(h.magic[:], buf[headerMagicOff:headerMagicOff+4])
	h.archiveInfo = binary.LittleEndian.Uint32(buf[headerArchiveInfoOff:])
	h.tableOffset = int64(binary.LittleEndian.Uint64(buf[headerTableOffOff:])) //nolint:gosec // two's complement reinterpretation
	h.entryCount = int32(binary.LittleEndian.Uint32(buf[headerCountOff:]))     //nolint:gosec // two's complement reinterpretation
	h.reserved = binary.LittleEndian.Uint32(buf[headerReservedOff:])
	return h, nil
}

// EncodeHeader writes h into the first HeaderSize bytes of buf.
func EncodeHeader(h Header, buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("encode header: %w", ErrShortBuffer)
	}
	copy(buf[headerMagicOff:headerMagicOff+4], h.magic[:])
	binary.LittleEndian.PutUint32(buf[headerArchiveInfoOff:], h.archiveInfo)
	binary.LittleEndian.PutUint64(buf[headerTableOffOff:], uint64(h.tableOffset)) //nolint:gosec // two's complement reinterpretation
	binary.LittleEndian.PutUint32(buf[headerCountOff:], uint32(h.entryCount))     //nolint:gosec // two's complement reinterpretation
	binary.LittleEndian.PutUint32(buf[headerReservedOff:], h.reserved)
	return nil
}

// DecodeEntry reinterprets the first EntrySize bytes of buf as an EntryRecord.
// It does not validate the result.
func DecodeEntry(buf []byte) (EntryRecord, error) {
	if len(buf) < EntrySize {
		return EntryRecord{}, fmt.Errorf("decode entry: %w", ErrShortBuffer)
	}
	return EntryRecord{
		id:       binary.LittleEndian.Uint64(buf[entryIDOff:]),
		offset:   int64(binary.LittleEndian.Uint64(buf[entryOffsetOff:])), //nolint:gosec // two's complement reinterpretation
		size:     int64(binary.LittleEndian.Uint64(buf[entrySizeOff:])),   //nolint:gosec // two's complement reinterpretation
		reserved: binary.LittleEndian.Uint64(buf[entryReservedOff:]),
	}, nil
}

// EncodeEntry writes e into the first EntrySize bytes of buf.
func EncodeEntry(e EntryRecord, buf []byte) error {
	if len(buf) < EntrySize {
		return fmt.Errorf("encode entry: %w", ErrShortBuffer)
	}
	binary.LittleEndian.PutUint64(buf[entryIDOff:], e.id)
	binary.LittleEndian.PutUint64(buf[entryOffsetOff:], uint64(e.offset)) //nolint:gosec // two's complement reinterpretation
	binary.LittleEndian.PutUint64(buf[entrySizeOff:], uint64(e.size))     //nolint:gosec // two's complement reinterpretation
	binary.LittleEndian.PutUint64(buf[entryReservedOff:], e.reserved)
	return nil
}

// ReadExact fills buf from r, accumulating partial reads. It fails with
// ErrTruncatedInput if r reports end of stream, or returns zero bytes, before
// buf is full.
func ReadExact(r io.Reader, buf []byte) error {
	read := 0
	for read < len(buf) {
		n, err := r.Read(buf[read:])
		read += n
		if read == len(buf) {
			return nil
		}
		if err == io.EOF || (n == 0 && err == nil) {
			return fmt.Errorf("%w: got %d of %d bytes", ErrTruncatedInput, read, len(buf))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadHeader reads and decodes one Header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if err := ReadExact(r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("read header: %w", err)
	}
	return DecodeHeader(buf[:])
}

// ReadEntry reads and decodes one EntryRecord from r.
func ReadEntry(r io.Reader) (EntryRecord, error) {
	var buf [EntrySize]byte
	if err := ReadExact(r, buf[:]); err != nil {
		return EntryRecord{}, fmt.Errorf("read entry: %w", err)
	}
	return DecodeEntry(buf[:])
}

// WriteHeader encodes h and writes it to w.
func WriteHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	if err := EncodeHeader(h, buf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf[:])
	return err
}

// WriteEntry encodes e and writes it to w.
func WriteEntry(w io.Writer, e EntryRecord) error {
	var buf [EntrySize]byte
	if err := EncodeEntry(e, buf[:]); err != nil {
		return err
	}
	_, err := w.Write(buf[:])
	return err
}
