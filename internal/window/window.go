package window

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/meigma/imta/internal/format"
)

// Mode selects which transfers a Stream allows.
type Mode uint8

const (
	// ReadOnly views require a readable, seekable base and reject writes.
	ReadOnly Mode = iota

	// ReadWrite views require a writable, seekable base. Reads are allowed
	// when the base is also readable.
	ReadWrite
)

func (m Mode) String() string {
	switch m {
	case ReadOnly:
		return "read-only"
	case ReadWrite:
		return "read-write"
	default:
		return "unknown"
	}
}

// Stream is a view of size bytes starting at off within a shared base.
//
// A Stream keeps its own position in [0, size]; the base position is
// reset under the shared lock before every transfer. A Stream is safe for
// concurrent use, although interleaved Read calls on one Stream share its
// position.
type Stream struct {
	shared *Shared
	off    int64
	size   int64
	mode   Mode

	mu     sync.Mutex
	pos    int64
	closed bool
}

// Open returns a view of [off, off+size) of shared's base.
func Open(shared *Shared, off, size int64, mode Mode) (*Stream, error) {
	if shared == nil {
		return nil, fmt.Errorf("open window: %w: nil base stream", format.ErrUnsupportedOperation)
	}
	caps := shared.Capabilities()
	switch mode {
	case ReadOnly:
		if !caps.Read || !caps.Seek {
			return nil, fmt.Errorf("open %s window: %w: base stream must support read and seek", mode, format.ErrUnsupportedOperation)
		}
	case ReadWrite:
		if !caps.Write || !caps.Seek {
			return nil, fmt.Errorf("open %s window: %w: base stream must support write and seek", mode, format.ErrUnsupportedOperation)
		}
	default:
		return nil, fmt.Errorf("open window: %w: mode %d", format.ErrUnsupportedOperation, mode)
	}
	if off < 0 || size < 0 || off+size < off {
		return nil, fmt.Errorf("open window [%d,+%d): %w", off, size, format.ErrSizeOverflow)
	}
	return &Stream{shared: shared, off: off, size: size, mode: mode}, nil
}

// Offset returns the absolute base offset of the window.
func (s *Stream) Offset() int64 { return s.off }

// Size returns the window length.
func (s *Stream) Size() int64 { return s.size }

// Mode returns the access mode of the window.
func (s *Stream) Mode() Mode { return s.mode }

// Read reads up to len(p) bytes, never past the window end. It returns
// 0, io.EOF once the position reaches the end of the window.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, format.ErrDisposed
	}
	if !s.shared.caps.Read {
		return 0, fmt.Errorf("read: %w", format.ErrUnsupportedOperation)
	}
	if len(p) == 0 {
		return 0, nil
	}
	remaining := s.size - s.pos
	if remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := s.shared.readAt(p, s.off+s.pos)
	s.pos += int64(n)
	return n, endOfBase(n, err)
}

// ReadAt reads len(p) bytes at window offset off without moving the
// position. It follows io.ReaderAt semantics.
func (s *Stream) ReadAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, format.ErrDisposed
	}
	if !s.shared.caps.Read {
		return 0, fmt.Errorf("read: %w", format.ErrUnsupportedOperation)
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, format.ErrOutOfRange)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := p
	if int64(len(want)) > s.size-off {
		want = want[:s.size-off]
	}
	read := 0
	for read < len(want) {
		n, err := s.shared.readAt(want[read:], s.off+off+int64(read))
		read += n
		if err = endOfBase(n, err); err != nil {
			return read, err
		}
		if n == 0 {
			return read, io.ErrNoProgress
		}
	}
	if read < len(p) {
		return read, io.EOF
	}
	return read, nil
}

// Write writes p at the current position. Bytes past the window end are
// dropped and the short count is returned with ErrSlotFull.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, format.ErrDisposed
	}
	if s.mode != ReadWrite {
		return 0, fmt.Errorf("write: %w", format.ErrUnsupportedOperation)
	}
	remaining := max(s.size-s.pos, 0)
	want := p
	if int64(len(want)) > remaining {
		want = want[:remaining]
	}
	var n int
	var err error
	if len(want) > 0 {
		n, err = s.shared.writeAt(want, s.off+s.pos)
		s.pos += int64(n)
	}
	if err == nil && n < len(p) {
		err = format.ErrSlotFull
	}
	return n, err
}

// Seek sets the position. The target must lie in [0, size).
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, format.ErrDisposed
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = s.size
	default:
		return s.pos, fmt.Errorf("seek: invalid whence %d: %w", whence, format.ErrOutOfRange)
	}
	target := base + offset
	if (offset > 0 && target < base) || (offset < 0 && target > base) {
		return s.pos, fmt.Errorf("seek: %w", format.ErrOutOfRange)
	}
	if err := s.checkPosition(target); err != nil {
		return s.pos, err
	}
	s.pos = target
	return target, nil
}

// Position returns the current position.
func (s *Stream) Position() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, format.ErrDisposed
	}
	return s.pos, nil
}

// SetPosition moves to pos, which must lie in [0, size).
func (s *Stream) SetPosition(pos int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return format.ErrDisposed
	}
	if err := s.checkPosition(pos); err != nil {
		return err
	}
	s.pos = pos
	return nil
}

// SetLength always fails: a window never changes size.
func (s *Stream) SetLength(int64) error {
	if s.Closed() {
		return format.ErrDisposed
	}
	return fmt.Errorf("set length: %w", format.ErrUnsupportedOperation)
}

// Flush flushes the base stream if it buffers writes.
func (s *Stream) Flush() error {
	if s.Closed() {
		return format.ErrDisposed
	}
	if s.mode != ReadWrite {
		return nil
	}
	return s.shared.flush()
}

// Close disposes the view. The base stream is not closed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return format.ErrDisposed
	}
	s.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) checkPosition(pos int64) error {
	if pos < 0 || pos >= s.size {
		return fmt.Errorf("position %d outside [0,%d): %w", pos, s.size, format.ErrOutOfRange)
	}
	return nil
}

// endOfBase maps a base EOF inside the window: data-bearing reads succeed,
// an empty read means the base ended before the window did.
func endOfBase(n int, err error) error {
	if !errors.Is(err, io.EOF) {
		return err
	}
	if n > 0 {
		return nil
	}
	return io.ErrUnexpectedEOF
}
