package imta

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/meigma/imta/internal/format"
	"github.com/meigma/imta/internal/index"
	"github.com/meigma/imta/internal/sizing"
	"github.com/meigma/imta/internal/window"
)

// DefaultMaxEntries is the default entry limit of a Writer.
const DefaultMaxEntries = math.MaxInt32

// Writer builds an archive on an io.WriteSeeker.
//
// Payloads are appended in the order they are added. Close writes the entry
// table, sorted by id, after the last payload and then writes the header at
// offset zero. A Writer is safe for concurrent use; payloads are written one
// at a time.
type Writer struct {
	mu sync.Mutex
	w  io.WriteSeeker

	pos     int64
	names   map[uint64]string
	records []EntryRecord
	header  Header
	buf     []byte
	err     error
	closed  bool

	maxEntries int
	logger     *slog.Logger
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WriterWithLogger sets the logger for writer events.
func WriterWithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

// WriterWithMaxEntries limits the number of entries. Values <= 0 or above
// DefaultMaxEntries select DefaultMaxEntries.
func WriterWithMaxEntries(n int) WriterOption {
	return func(w *Writer) {
		if n <= 0 || n > DefaultMaxEntries {
			n = DefaultMaxEntries
		}
		w.maxEntries = n
	}
}

// WriterWithBufferSize sets the copy buffer size used by Add.
func WriterWithBufferSize(n int) WriterOption {
	return func(w *Writer) {
		if n <= 0 {
			n = DefaultChunkSize
		}
		w.buf = make([]byte, n)
	}
}

// NewWriter starts an archive at offset zero of w, reserving space for the
// header.
func NewWriter(w io.WriteSeeker, opts ...WriterOption) (*Writer, error) {
	aw := &Writer{
		w:          w,
		names:      make(map[uint64]string),
		maxEntries: DefaultMaxEntries,
	}
	for _, opt := range opts {
		opt(aw)
	}
	if aw.buf == nil {
		aw.buf = make([]byte, DefaultChunkSize)
	}
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek archive start: %w", err)
	}
	if _, err := w.Write(make([]byte, HeaderSize)); err != nil {
		return nil, fmt.Errorf("reserve header: %w", err)
	}
	aw.pos = HeaderSize
	return aw, nil
}

func (w *Writer) log() *slog.Logger {
	if w.logger != nil {
		return w.logger
	}
	return slog.New(slog.DiscardHandler)
}

// Add appends the content of r as the entry named name.
func (w *Writer) Add(name string, r io.Reader) (EntryRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, err := w.claim(name)
	if err != nil {
		return EntryRecord{}, err
	}
	n, err := copyChunks(w.w, r, w.buf)
	if err != nil {
		w.err = fmt.Errorf("write %s: %w", name, err)
		return EntryRecord{}, w.err
	}
	return w.commit(name, id, w.pos, n)
}

// AddBytes appends data as the entry named name.
func (w *Writer) AddBytes(name string, data []byte) (EntryRecord, error) {
	return w.Add(name, bytes.NewReader(data))
}

// AddAbsent records name with the zero offset sentinel and no payload.
func (w *Writer) AddAbsent(name string) (EntryRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, err := w.claim(name)
	if err != nil {
		return EntryRecord{}, err
	}
	return w.commit(name, id, 0, 0)
}

// Reserve appends a zero-filled slot of size bytes for name. The slot can be
// filled later through Archive.Install.
func (w *Writer) Reserve(name string, size int64) (EntryRecord, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if size < 0 {
		return EntryRecord{}, fmt.Errorf("reserve %s: %w: negative size %d", name, ErrSizeOverflow, size)
	}
	id, err := w.claim(name)
	if err != nil {
		return EntryRecord{}, err
	}
	n, err := io.CopyBuffer(w.w, io.LimitReader(zeroReader{}, size), w.buf)
	if err != nil {
		w.err = fmt.Errorf("reserve %s: %w", name, err)
		return EntryRecord{}, w.err
	}
	return w.commit(name, id, w.pos, n)
}

// claim checks name against the entries added so far and returns its id.
func (w *Writer) claim(name string) (uint64, error) {
	switch {
	case w.closed:
		return 0, ErrDisposed
	case w.err != nil:
		return 0, w.err
	case name == "":
		return 0, fmt.Errorf("add entry: %w: empty name", ErrUnsupportedOperation)
	case len(w.records) >= w.maxEntries:
		return 0, fmt.Errorf("add %s: %w (limit %d)", name, ErrTooManyEntries, w.maxEntries)
	}
	id := format.EntryID(name)
	if prev, ok := w.names[id]; ok {
		if prev == name {
			return 0, fmt.Errorf("add %s: %w", name, ErrDuplicateEntry)
		}
		return 0, fmt.Errorf("add %s: %w with %s (id %s)", name, ErrIDCollision, prev, formatID(id))
	}
	if id == 0 {
		return 0, fmt.Errorf("add %s: %w", name, format.BrokenEntryID.Err())
	}
	return id, nil
}

func (w *Writer) commit(name string, id uint64, offset, size int64) (EntryRecord, error) {
	rec, err := format.NewEntryRecord(id, offset, size)
	if err != nil {
		w.err = fmt.Errorf("add %s: %w", name, err)
		return EntryRecord{}, w.err
	}
	if offset != 0 {
		next, ok := sizing.AddInt64(w.pos, size)
		if !ok {
			w.err = fmt.Errorf("add %s: %w", name, ErrSizeOverflow)
			return EntryRecord{}, w.err
		}
		w.pos = next
	}
	w.names[id] = name
	w.records = append(w.records, rec)
	w.log().Debug("added entry", slog.String("name", name), slog.String("id", formatID(id)),
		slog.Int64("offset", offset), slog.Int64("size", size))
	return rec, nil
}

// Len returns the number of entries added so far.
func (w *Writer) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.records)
}

// Close writes the entry table and the header. It does not close the
// underlying writer.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrDisposed
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}

	b := index.NewBuilder(len(w.records))
	if err := b.AppendSorted(w.records); err != nil {
		return fmt.Errorf("build entry table: %w", err)
	}
	tableOffset := w.pos
	if _, err := w.w.Seek(tableOffset, io.SeekStart); err != nil {
		return fmt.Errorf("seek entry table: %w", err)
	}
	if _, err := b.WriteTo(w.w); err != nil {
		return fmt.Errorf("write entry table: %w", err)
	}

	h, err := format.NewHeader(tableOffset, int32(b.Len())) //nolint:gosec // bounded by maxEntries
	if err != nil {
		return fmt.Errorf("build header: %w", err)
	}
	if _, err := w.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seek header: %w", err)
	}
	if err := format.WriteHeader(w.w, h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if f, ok := w.w.(window.Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush archive: %w", err)
		}
	}
	w.header = h

	w.log().Info("wrote archive", slog.Int("entries", b.Len()), slog.Int64("table_offset", tableOffset))
	return nil
}

// Header returns the header written by Close, or the zero Header before
// a successful Close.
func (w *Writer) Header() Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}
