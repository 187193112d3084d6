// Package testutil provides in-memory streams and archive builders for tests.
package testutil

import (
	"bytes"
	"errors"
	"io"
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/imta/internal/format"
	"github.com/meigma/imta/internal/index"
)

// MemStream is an in-memory io.ReadWriteSeeker that grows on write.
//
// It is deliberately not safe for concurrent use: Seek yields the processor
// so unsynchronized seek+read pairs from several goroutines interleave.
type MemStream struct {
	data   []byte
	pos    int64
	closed bool

	// Seeks counts calls to Seek.
	Seeks atomic.Int64
}

// NewMemStream returns a stream positioned at 0 over a copy of data.
func NewMemStream(data []byte) *MemStream {
	return &MemStream{data: bytes.Clone(data)}
}

// Read implements io.Reader.
func (m *MemStream) Read(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("memstream: closed")
	}
	if m.pos >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[m.pos:])
	m.pos += int64(n)
	return n, nil
}

// Write implements io.Writer.
func (m *MemStream) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("memstream: closed")
	}
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		m.data = append(m.data, make([]byte, end-int64(len(m.data)))...)
	}
	copy(m.data[m.pos:], p)
	m.pos = end
	return len(p), nil
}

// Seek implements io.Seeker.
func (m *MemStream) Seek(offset int64, whence int) (int64, error) {
	m.Seeks.Add(1)
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = m.pos + offset
	case io.SeekEnd:
		abs = int64(len(m.data)) + offset
	default:
		return 0, errors.New("memstream: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("memstream: negative position")
	}
	m.pos = abs
	runtime.Gosched()
	return abs, nil
}

// Close makes every later Read and Write fail.
func (m *MemStream) Close() error {
	m.closed = true
	return nil
}

// Bytes returns the backing slice.
func (m *MemStream) Bytes() []byte {
	return m.data
}

// ReadOnly hides the Write method of a stream.
type ReadOnly struct{ S io.ReadSeeker }

func (r ReadOnly) Read(p []byte) (int, error)                { return r.S.Read(p) }
func (r ReadOnly) Seek(off int64, whence int) (int64, error) { return r.S.Seek(off, whence) }

// NoSeek hides the Seek method of a stream.
type NoSeek struct{ S io.ReadWriter }

func (n NoSeek) Read(p []byte) (int, error)  { return n.S.Read(p) }
func (n NoSeek) Write(p []byte) (int, error) { return n.S.Write(p) }

// Entry describes one entry passed to BuildArchive.
type Entry struct {
	Name string
	Data []byte

	// Absent writes a record with the zero offset sentinel and no payload.
	Absent bool
}

// BuildArchive encodes entries into archive bytes. Payloads are written in
// reverse order of entries so payload placement differs from table order.
func BuildArchive(tb testing.TB, entries []Entry) []byte {
	tb.Helper()

	var buf bytes.Buffer
	buf.Write(make([]byte, format.HeaderSize))

	recs := make([]format.EntryRecord, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Absent {
			rec, err := format.NewEntryRecordFor(e.Name, 0, 0)
			require.NoError(tb, err)
			recs = append(recs, rec)
			continue
		}
		rec, err := format.NewEntryRecordFor(e.Name, int64(buf.Len()), int64(len(e.Data)))
		require.NoError(tb, err)
		buf.Write(e.Data)
		recs = append(recs, rec)
	}

	b := index.NewBuilder(len(recs))
	require.NoError(tb, b.AppendSorted(recs))
	tableOffset := int64(buf.Len())
	_, err := b.WriteTo(&buf)
	require.NoError(tb, err)

	h, err := format.NewHeader(tableOffset, int32(b.Len())) //nolint:gosec // test archives are small
	require.NoError(tb, err)
	out := buf.Bytes()
	require.NoError(tb, format.EncodeHeader(h, out))
	return out
}

// Record returns the validated record for name with the given placement.
func Record(tb testing.TB, name string, offset, size int64) format.EntryRecord {
	tb.Helper()
	rec, err := format.NewEntryRecordFor(name, offset, size)
	require.NoError(tb, err)
	return rec
}
