package format

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer of the archive engine.
var (
	// ErrFormat is matched by every *FormatError.
	ErrFormat = errors.New("imta: invalid archive format")

	// ErrTruncatedInput is returned when a stream ends before a fixed-size
	// structure could be decoded.
	ErrTruncatedInput = errors.New("imta: truncated input")

	// ErrUnsupportedOperation is returned when a stream lacks a required
	// capability or an operation is not allowed on a view.
	ErrUnsupportedOperation = errors.New("imta: unsupported operation")

	// ErrOutOfRange is returned for seeks and positions outside an entry window.
	ErrOutOfRange = errors.New("imta: position out of range")

	// ErrDisposed is returned when operating on a closed stream or archive.
	ErrDisposed = errors.New("imta: stream disposed")

	// ErrNoPayload is returned when opening a stream over a record whose
	// offset is the zero sentinel.
	ErrNoPayload = errors.New("imta: entry has no payload")

	// ErrOutOfOrder is returned when entry records are appended to a table
	// with a non-ascending id.
	ErrOutOfOrder = errors.New("imta: entry ids out of order")

	// ErrDuplicateID is returned when an entry id is already present in a table.
	ErrDuplicateID = errors.New("imta: duplicate entry id")

	// ErrSizeOverflow is returned when offsets or sizes exceed supported limits.
	ErrSizeOverflow = errors.New("imta: size overflow")

	// ErrSlotFull is returned with a short count when a write would run past
	// the end of a reserved entry slot. Bytes up to the slot end are written.
	ErrSlotFull = errors.New("imta: write exceeds reserved slot")

	// ErrShortBuffer is returned when an encode or decode buffer is too small.
	ErrShortBuffer = errors.New("imta: buffer too small")
)

// FormatError reports a structural problem found by the validator.
type FormatError struct {
	Problem Problem
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("imta: invalid archive format: %s", e.Problem)
}

// Is reports whether target is ErrFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}
