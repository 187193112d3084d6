package imta

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/meigma/imta/internal/format"
	"github.com/meigma/imta/internal/window"
)

// entryStream is the bounded view shared by ReadStream and InstallStream.
// Methods on it report to the attached IoMonitor. It holds a reference on
// the Shared until Close.
type entryStream struct {
	w      *window.Stream
	shared *window.Shared
	rec    EntryRecord
	hooks  hooks
}

func openEntryStream(shared *window.Shared, rec EntryRecord, mode window.Mode, h hooks) (*entryStream, error) {
	if p := format.ValidateEntry(rec); p != NoProblem {
		return nil, fmt.Errorf("open entry %s: %w", formatID(rec.ID()), p.Err())
	}
	w, err := window.Open(shared, rec.Offset(), rec.Size(), mode)
	if err != nil {
		return nil, fmt.Errorf("open entry %s: %w", formatID(rec.ID()), err)
	}
	if !rec.HasPayload() {
		return nil, fmt.Errorf("open entry %s: %w", formatID(rec.ID()), ErrNoPayload)
	}
	s := &entryStream{w: w, shared: shared.Retain(), rec: rec, hooks: h}
	h.call("OnOpen", rec, func(m IoMonitor) { m.OnOpen(rec) })
	return s, nil
}

// Record returns the entry record the stream was opened over.
func (s *entryStream) Record() EntryRecord { return s.rec }

// Size returns the entry size, fixed for the life of the stream.
func (s *entryStream) Size() int64 { return s.rec.Size() }

// Read reads from the current position, never past the end of the entry.
func (s *entryStream) Read(p []byte) (int, error) {
	pos := s.positionQuiet()
	n, err := s.w.Read(p)
	requested := clampRequest(len(p), pos, s.rec.Size())
	s.hooks.call("OnRead", s.rec, func(m IoMonitor) { m.OnRead(s.rec, len(p), pos, requested, n) })
	return n, err
}

// ReadAt reads at entry offset off without moving the position.
func (s *entryStream) ReadAt(p []byte, off int64) (int, error) {
	n, err := s.w.ReadAt(p, off)
	requested := clampRequest(len(p), off, s.rec.Size())
	s.hooks.call("OnRead", s.rec, func(m IoMonitor) { m.OnRead(s.rec, len(p), off, requested, n) })
	return n, err
}

// Write writes at the current position. Read streams reject every write
// with ErrUnsupportedOperation; install streams stop at the end of the
// slot and return ErrSlotFull with the short count.
func (s *entryStream) Write(p []byte) (int, error) {
	pos := s.positionQuiet()
	n, err := s.w.Write(p)
	requested := clampRequest(len(p), pos, s.rec.Size())
	s.hooks.call("OnWrite", s.rec, func(m IoMonitor) { m.OnWrite(s.rec, len(p), pos, requested, n) })
	return n, err
}

// Seek moves the position. The target must lie in [0, Size()).
func (s *entryStream) Seek(offset int64, whence int) (int64, error) {
	pos, err := s.w.Seek(offset, whence)
	result := pos
	if err != nil {
		result = -1
	}
	s.hooks.call("OnSeek", s.rec, func(m IoMonitor) { m.OnSeek(s.rec, offset, whence, result) })
	return pos, err
}

// Position returns the current position within the entry.
func (s *entryStream) Position() (int64, error) {
	pos, err := s.w.Position()
	if err == nil {
		s.hooks.call("OnPositionGet", s.rec, func(m IoMonitor) { m.OnPositionGet(s.rec, pos) })
	}
	return pos, err
}

// SetPosition moves to pos, which must lie in [0, Size()).
func (s *entryStream) SetPosition(pos int64) error {
	if err := s.w.SetPosition(pos); err != nil {
		return err
	}
	s.hooks.call("OnPositionSet", s.rec, func(m IoMonitor) { m.OnPositionSet(s.rec, pos) })
	return nil
}

// SetLength always fails; entry sizes are fixed.
func (s *entryStream) SetLength(n int64) error {
	return s.w.SetLength(n)
}

// Close disposes the stream. The archive's base stream stays open.
func (s *entryStream) Close() error {
	if err := s.w.Close(); err != nil {
		return err
	}
	s.shared.Release()
	return nil
}

func (s *entryStream) positionQuiet() int64 {
	pos, err := s.w.Position()
	if err != nil {
		return 0
	}
	return pos
}

func clampRequest(n int, pos, size int64) int {
	remaining := size - pos
	if remaining <= 0 {
		return 0
	}
	if int64(n) > remaining {
		return int(remaining)
	}
	return n
}

// ReadStream is a read-only view over one entry's payload.
//
// A ReadStream is safe for concurrent use with other streams over the same
// archive. Concurrent calls on one ReadStream share its position.
type ReadStream struct {
	*entryStream
}

var (
	_ io.ReadSeekCloser = (*ReadStream)(nil)
	_ io.ReaderAt       = (*ReadStream)(nil)
)

// InstallResult is the outcome reported by an Installer.
type InstallResult uint32

const (
	// InstallPending means FinishInstall has not been called.
	InstallPending InstallResult = iota

	// InstallSucceeded means the installer wrote the whole payload.
	InstallSucceeded

	// InstallFailed means the installer gave up; the slot content is undefined.
	InstallFailed
)

func (r InstallResult) String() string {
	switch r {
	case InstallPending:
		return "pending"
	case InstallSucceeded:
		return "succeeded"
	case InstallFailed:
		return "failed"
	default:
		return fmt.Sprintf("InstallResult(%d)", uint32(r))
	}
}

// InstallStream is a write-capable view over a reserved entry slot.
//
// Writes past the end of the slot are truncated. The installer reports its
// outcome exactly once through FinishInstall; Done is closed afterwards.
type InstallStream struct {
	*entryStream

	once     sync.Once
	done     chan struct{}
	result   atomic.Uint32
	onFinish func(InstallResult)
}

var _ io.ReadWriteSeeker = (*InstallStream)(nil)

func newInstallStream(es *entryStream, onFinish func(InstallResult)) *InstallStream {
	return &InstallStream{
		entryStream: es,
		done:        make(chan struct{}),
		onFinish:    onFinish,
	}
}

// FinishInstall records the outcome of the install. Only the first call has
// any effect. A successful result is downgraded to InstallFailed if pending
// writes cannot be flushed.
func (s *InstallStream) FinishInstall(result InstallResult) {
	s.once.Do(func() {
		if result != InstallSucceeded {
			result = InstallFailed
		}
		if result == InstallSucceeded {
			if err := s.w.Flush(); err != nil && !errors.Is(err, ErrDisposed) {
				s.hooks.logger.Warn("flush install stream",
					slog.String("id", formatID(s.rec.ID())),
					slog.String("error", err.Error()))
				result = InstallFailed
			}
		}
		s.result.Store(uint32(result))
		if s.onFinish != nil {
			s.onFinish(result)
		}
		close(s.done)
	})
}

// Close flushes pending writes and disposes the stream.
func (s *InstallStream) Close() error {
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.entryStream.Close()
}

// Done is closed once FinishInstall has been called.
func (s *InstallStream) Done() <-chan struct{} {
	return s.done
}

// Result returns the reported outcome, or InstallPending before FinishInstall.
func (s *InstallStream) Result() InstallResult {
	return InstallResult(s.result.Load())
}

// StreamOption configures a standalone stream.
type StreamOption func(*hooks)

// WithStreamMonitor attaches m to a standalone stream.
func WithStreamMonitor(m IoMonitor) StreamOption {
	return func(h *hooks) {
		h.monitor = m
	}
}

// WithStreamLogger sets the logger used to report monitor panics.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(h *hooks) {
		h.logger = logger
	}
}

func newHooks(opts []StreamOption) hooks {
	h := hooks{}
	for _, opt := range opts {
		opt(&h)
	}
	if h.logger == nil {
		h.logger = slog.New(slog.DiscardHandler)
	}
	return h
}

// NewReadStream opens a read stream over rec within base, independent of
// any Archive. Streams over the same pointer base share one lock.
func NewReadStream(base io.ReadSeeker, rec EntryRecord, opts ...StreamOption) (*ReadStream, error) {
	shared := window.Share(base)
	defer shared.Release()
	es, err := openEntryStream(shared, rec, window.ReadOnly, newHooks(opts))
	if err != nil {
		return nil, err
	}
	return &ReadStream{entryStream: es}, nil
}

// NewInstallStream opens an install stream over the slot described by rec
// within base, independent of any Archive.
func NewInstallStream(base io.WriteSeeker, rec EntryRecord, opts ...StreamOption) (*InstallStream, error) {
	shared := window.Share(base)
	defer shared.Release()
	es, err := openEntryStream(shared, rec, window.ReadWrite, newHooks(opts))
	if err != nil {
		return nil, err
	}
	return newInstallStream(es, nil), nil
}
