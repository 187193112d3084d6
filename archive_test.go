package imta

import (
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imta/internal/testutil"
	"github.com/meigma/imta/internal/window"
)

var sampleEntries = []testutil.Entry{
	{Name: "a.txt", Absent: true},
	{Name: "config/app.json", Data: []byte(`{"debug":true}`)},
	{Name: "empty", Data: []byte{}},
	{Name: "textures/hero.png", Data: bytes.Repeat([]byte{0xAB}, 1000)},
}

func openSample(t *testing.T, opts ...Option) (*Archive, *testutil.MemStream) {
	t.Helper()
	mem := testutil.NewMemStream(testutil.BuildArchive(t, sampleEntries))
	a, err := Open(mem, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, mem
}

func TestOpenEmptyArchive(t *testing.T) {
	t.Parallel()

	h, err := NewHeader(HeaderSize, 0)
	require.NoError(t, err)
	buf := make([]byte, HeaderSize)
	require.NoError(t, EncodeHeader(h, buf))

	a, err := Open(bytes.NewReader(buf))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, 0, a.Len())
	assert.Equal(t, uint8(1), a.Header().Version())
	_, ok := a.Lookup(EntryID("anything"))
	assert.False(t, ok)
}

func TestOpenLookup(t *testing.T) {
	t.Parallel()

	a, _ := openSample(t)
	assert.Equal(t, len(sampleEntries), a.Len())

	for _, e := range sampleEntries {
		rec, ok := a.LookupName(e.Name)
		require.True(t, ok, e.Name)
		assert.Equal(t, EntryID(e.Name), rec.ID())
		assert.Equal(t, !e.Absent, rec.HasPayload(), e.Name)
		if !e.Absent {
			assert.Equal(t, int64(len(e.Data)), rec.Size(), e.Name)
		}
	}

	var prev uint64
	for rec := range a.Entries() {
		assert.Greater(t, rec.ID(), prev)
		prev = rec.ID()
	}

	_, ok := a.LookupName("missing")
	assert.False(t, ok)
}

func TestOpenRejectsBrokenHeaders(t *testing.T) {
	t.Parallel()

	valid := testutil.BuildArchive(t, sampleEntries)

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		problem Problem
		wantErr error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, BrokenMagicNumber, ErrFormat},
		{"version", func(b []byte) []byte { b[4] = 2; return b }, InvalidVersion, ErrFormat},
		{"archive info", func(b []byte) []byte { b[5] = 1; return b }, BrokenArchiveInfo, ErrFormat},
		{"table offset", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[8:], 10)
			return b
		}, InvalidEntryInfoListOffset, ErrFormat},
		{"count", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[16:], 0xFFFFFFFF)
			return b
		}, InvalidEntryInfoCount, ErrFormat},
		{"reserved", func(b []byte) []byte { b[20] = 1; return b }, BrokenReserved, ErrFormat},
		{"truncated header", func(b []byte) []byte { return b[:10] }, NoProblem, ErrTruncatedInput},
		{"truncated table", func(b []byte) []byte { return b[:len(b)-5] }, NoProblem, ErrTruncatedInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := tt.mutate(bytes.Clone(valid))
			_, err := Open(bytes.NewReader(data))
			require.ErrorIs(t, err, tt.wantErr)
			if tt.problem != NoProblem {
				var fe *FormatError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, tt.problem, fe.Problem)
			}
		})
	}
}

func TestOpenRequiresSeek(t *testing.T) {
	t.Parallel()

	_, err := Open(nil)
	require.ErrorIs(t, err, ErrUnsupportedOperation)
}

// badEntryArchive returns an archive whose second table record has a broken id.
func badEntryArchive(t *testing.T) []byte {
	t.Helper()
	data := testutil.BuildArchive(t, []testutil.Entry{
		{Name: "good", Data: []byte("ok")},
		{Name: "bad", Data: []byte("bad")},
	})
	h, err := DecodeHeader(data)
	require.NoError(t, err)

	// Zero the id of whichever record sorts first; ids stay ascending.
	first := h.EntryTableOffset()
	clear(data[first : first+8])
	return data
}

func TestEntryPolicy(t *testing.T) {
	t.Parallel()

	data := badEntryArchive(t)

	_, err := Open(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrFormat)
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, BrokenEntryID, fe.Problem)

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	a, err := Open(bytes.NewReader(data), WithEntryPolicy(EntryPolicySkip), WithLogger(logger))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 1, a.Len())
	assert.Contains(t, logs.String(), "skipping invalid entry")
	assert.Contains(t, logs.String(), "broken entry id")
}

func TestOrderCheck(t *testing.T) {
	t.Parallel()

	data := testutil.BuildArchive(t, []testutil.Entry{
		{Name: "one", Data: []byte("1")},
		{Name: "two", Data: []byte("2")},
	})
	h, err := DecodeHeader(data)
	require.NoError(t, err)
	table := data[h.EntryTableOffset():]
	first := bytes.Clone(table[:EntrySize])
	copy(table[:EntrySize], table[EntrySize:2*EntrySize])
	copy(table[EntrySize:], first)

	a, err := Open(bytes.NewReader(data))
	require.NoError(t, err, "sortedness is not checked by default")
	a.Close()

	_, err = Open(bytes.NewReader(data), WithOrderCheck(true))
	require.ErrorIs(t, err, ErrOutOfOrder)
}

func TestOpenReadStreamAbsentPayload(t *testing.T) {
	t.Parallel()

	a, _ := openSample(t)
	rec, ok := a.LookupName("a.txt")
	require.True(t, ok)
	assert.Equal(t, NoProblem, ValidateEntry(rec))

	_, err := a.OpenReadStreamName("a.txt")
	require.ErrorIs(t, err, ErrNoPayload)
	_, err = a.ReadEntry(rec.ID())
	require.ErrorIs(t, err, ErrNoPayload)
}

func TestOpenReadStreamNotFound(t *testing.T) {
	t.Parallel()

	a, _ := openSample(t)
	_, err := a.OpenReadStreamName("nope")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = a.ReadEntry(EntryID("nope"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestReadEntry(t *testing.T) {
	t.Parallel()

	a, _ := openSample(t)
	for _, e := range sampleEntries {
		if e.Absent {
			continue
		}
		got, err := a.ReadEntry(EntryID(e.Name))
		require.NoError(t, err, e.Name)
		assert.Equal(t, len(e.Data), len(got), e.Name)
		assert.True(t, bytes.Equal(e.Data, got), e.Name)
	}
}

func TestReadEntrySizeLimit(t *testing.T) {
	t.Parallel()

	a, _ := openSample(t, WithMaxEntrySize(100))
	_, err := a.ReadEntry(EntryID("textures/hero.png"))
	require.ErrorIs(t, err, ErrSizeOverflow)

	got, err := a.ReadEntry(EntryID("config/app.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"debug":true}`, string(got))
}

func TestReadEntryCache(t *testing.T) {
	t.Parallel()

	a, mem := openSample(t, WithPayloadCache(8))
	id := EntryID("textures/hero.png")

	first, err := a.ReadEntry(id)
	require.NoError(t, err)
	seeks := mem.Seeks.Load()

	second, err := a.ReadEntry(id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, seeks, mem.Seeks.Load(), "cached read must not touch the base stream")

	first[0] = 0
	third, err := a.ReadEntry(id)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), third[0], "callers own returned slices")
}

func TestReadEntryConcurrent(t *testing.T) {
	t.Parallel()

	a, _ := openSample(t)
	id := EntryID("textures/hero.png")

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := a.ReadEntry(id)
			if err == nil && len(data) != 1000 {
				err = io.ErrShortBuffer
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestConcurrentReadStreams(t *testing.T) {
	t.Parallel()

	a := bytes.Repeat([]byte("A"), 64<<10)
	b := bytes.Repeat([]byte("B"), 64<<10)
	data := testutil.BuildArchive(t, []testutil.Entry{
		{Name: "a.bin", Data: a},
		{Name: "b.bin", Data: b},
	})
	arc, err := Open(testutil.NewMemStream(data))
	require.NoError(t, err)
	defer arc.Close()

	var wg sync.WaitGroup
	results := make(map[string][]byte)
	var mu sync.Mutex
	errs := make(chan error, 2)
	for _, name := range []string{"a.bin", "b.bin"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := arc.OpenReadStreamName(name)
			if err != nil {
				errs <- err
				return
			}
			defer s.Close()
			var out bytes.Buffer
			buf := make([]byte, 13)
			for {
				n, err := s.Read(buf)
				out.Write(buf[:n])
				if err == io.EOF {
					break
				}
				if err != nil {
					errs <- err
					return
				}
			}
			mu.Lock()
			results[name] = out.Bytes()
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, a, results["a.bin"])
	assert.Equal(t, b, results["b.bin"])
}

func TestArchiveClose(t *testing.T) {
	t.Parallel()

	a, _ := openSample(t)
	s, err := a.OpenReadStreamName("config/app.json")
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.ErrorIs(t, a.Close(), ErrDisposed)

	_, err = a.OpenReadStreamName("config/app.json")
	require.ErrorIs(t, err, ErrDisposed)
	_, err = a.ReadEntry(EntryID("config/app.json"))
	require.ErrorIs(t, err, ErrDisposed)

	got, err := io.ReadAll(s)
	require.NoError(t, err, "open streams outlive an archive over a caller-owned base")
	assert.JSONEq(t, `{"debug":true}`, string(got))
}

func TestStreamsKeepLockAfterArchiveClose(t *testing.T) {
	t.Parallel()

	a, mem := openSample(t)
	s, err := a.OpenReadStreamName("config/app.json")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	shared := window.Share(mem)
	assert.Same(t, a.shared, shared, "open streams keep the base lock registered")
	shared.Release()

	require.NoError(t, s.Close())
	fresh := window.Share(mem)
	defer fresh.Release()
	assert.NotSame(t, a.shared, fresh)
}

func TestOpenFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sample.imta")
	require.NoError(t, os.WriteFile(path, testutil.BuildArchive(t, sampleEntries), 0o600))

	a, err := OpenFile(path)
	require.NoError(t, err)
	got, err := a.ReadEntry(EntryID("config/app.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"debug":true}`, string(got))

	rec, ok := a.LookupName("empty")
	require.True(t, ok)
	_, err = a.OpenInstallStream(rec)
	require.ErrorIs(t, err, ErrUnsupportedOperation, "read-only files reject install streams")
	require.NoError(t, a.Close())

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.imta"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
