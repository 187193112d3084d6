package imta

import (
	"errors"

	"github.com/meigma/imta/internal/format"
)

// Sentinel errors re-exported from internal/format.
var (
	// ErrFormat is matched by every structural format violation.
	ErrFormat = format.ErrFormat

	// ErrTruncatedInput is returned when a stream ends inside a fixed-size record.
	ErrTruncatedInput = format.ErrTruncatedInput

	// ErrUnsupportedOperation is returned when a base stream lacks a required
	// capability or a view does not allow an operation.
	ErrUnsupportedOperation = format.ErrUnsupportedOperation

	// ErrOutOfRange is returned for positions outside an entry window.
	ErrOutOfRange = format.ErrOutOfRange

	// ErrDisposed is returned when using a closed stream, archive or writer.
	ErrDisposed = format.ErrDisposed

	// ErrNoPayload is returned when opening a stream over a record with the
	// zero offset sentinel.
	ErrNoPayload = format.ErrNoPayload

	// ErrOutOfOrder is returned when records are added to a table out of id order.
	ErrOutOfOrder = format.ErrOutOfOrder

	// ErrDuplicateID is returned when a table already holds an id.
	ErrDuplicateID = format.ErrDuplicateID

	// ErrSlotFull is returned with a short count when writing past a reserved slot.
	ErrSlotFull = format.ErrSlotFull

	// ErrSizeOverflow is returned when sizes or offsets exceed supported limits.
	ErrSizeOverflow = format.ErrSizeOverflow
)

// Sentinel errors specific to the imta package.
var (
	// ErrNotFound is returned when an id or name is not in the archive.
	ErrNotFound = errors.New("imta: entry not found")

	// ErrDuplicateEntry is returned when a writer is given the same name twice.
	ErrDuplicateEntry = errors.New("imta: duplicate entry name")

	// ErrIDCollision is returned when two distinct names hash to the same id.
	ErrIDCollision = errors.New("imta: entry id collision")

	// ErrTooManyEntries is returned when an archive would exceed the entry limit.
	ErrTooManyEntries = errors.New("imta: too many entries")

	// ErrDigestMismatch is returned when installed bytes do not match the
	// expected digest.
	ErrDigestMismatch = errors.New("imta: digest mismatch")

	// ErrSourceChanged is returned when an install source no longer has the
	// size it reported.
	ErrSourceChanged = errors.New("imta: install source size changed")

	// ErrInstallAborted is returned by Archive.Install when the context ends
	// before the installer finishes.
	ErrInstallAborted = errors.New("imta: install aborted")
)
