package imta

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imta/internal/testutil"
)

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()

	mem := testutil.NewMemStream(nil)
	w, err := NewWriter(mem)
	require.NoError(t, err)

	entries := map[string][]byte{
		"z-last.txt":   []byte("written first"),
		"a-first.txt":  []byte("written second"),
		"nested/m.bin": bytes.Repeat([]byte{7}, 100_000),
		"empty.txt":    {},
	}
	order := []string{"z-last.txt", "a-first.txt", "nested/m.bin", "empty.txt"}
	for _, name := range order {
		_, err := w.AddBytes(name, entries[name])
		require.NoError(t, err, name)
	}
	absent, err := w.AddAbsent("a.txt")
	require.NoError(t, err)
	assert.False(t, absent.HasPayload())
	assert.Equal(t, 5, w.Len())
	require.NoError(t, w.Close())

	h := w.Header()
	assert.Equal(t, int32(5), h.EntryCount())
	assert.Equal(t, NoProblem, ValidateHeader(h))
	assert.Equal(t, int64(len(mem.Bytes())), h.EntryTableOffset()+h.TableSize())

	a, err := Open(mem, WithOrderCheck(true))
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, 5, a.Len())
	for name, data := range entries {
		got, err := a.ReadEntry(EntryID(name))
		require.NoError(t, err, name)
		assert.True(t, bytes.Equal(data, got), name)
	}
	_, err = a.OpenReadStreamName("a.txt")
	require.ErrorIs(t, err, ErrNoPayload)
}

func TestWriterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(testutil.NewMemStream(nil))
	require.NoError(t, err)

	_, err = w.AddBytes("same", []byte("1"))
	require.NoError(t, err)
	_, err = w.AddBytes("same", []byte("2"))
	require.ErrorIs(t, err, ErrDuplicateEntry)
	_, err = w.AddAbsent("same")
	require.ErrorIs(t, err, ErrDuplicateEntry)
	_, err = w.Reserve("same", 4)
	require.ErrorIs(t, err, ErrDuplicateEntry)

	_, err = w.AddBytes("", []byte("x"))
	require.Error(t, err)

	assert.Equal(t, 1, w.Len(), "rejected entries leave the writer usable")
	require.NoError(t, w.Close())
}

func TestWriterRejectsIDCollision(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(testutil.NewMemStream(nil))
	require.NoError(t, err)

	// Force a collision by registering a different name under the id.
	id := EntryID("victim")
	w.names[id] = "impostor"

	_, err = w.AddBytes("victim", []byte("x"))
	require.ErrorIs(t, err, ErrIDCollision)
	assert.Contains(t, err.Error(), "impostor")
}

func TestWriterMaxEntries(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(testutil.NewMemStream(nil), WriterWithMaxEntries(2))
	require.NoError(t, err)
	_, err = w.AddAbsent("one")
	require.NoError(t, err)
	_, err = w.AddAbsent("two")
	require.NoError(t, err)
	_, err = w.AddAbsent("three")
	require.ErrorIs(t, err, ErrTooManyEntries)
}

func TestWriterReserve(t *testing.T) {
	t.Parallel()

	mem := testutil.NewMemStream(nil)
	w, err := NewWriter(mem, WriterWithBufferSize(7))
	require.NoError(t, err)

	rec, err := w.Reserve("slot", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(HeaderSize), rec.Offset())
	assert.Equal(t, int64(50), rec.Size())
	_, err = w.Reserve("negative", -1)
	require.ErrorIs(t, err, ErrSizeOverflow)
	require.NoError(t, w.Close())

	assert.Equal(t, make([]byte, 50), mem.Bytes()[HeaderSize:HeaderSize+50])
}

var errBrokenSource = errors.New("broken source")

func TestWriterStickyError(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(testutil.NewMemStream(nil))
	require.NoError(t, err)

	_, err = w.Add("bad", io.MultiReader(bytes.NewReader([]byte("part")), errReader{}))
	require.ErrorIs(t, err, errBrokenSource)

	_, err = w.AddBytes("next", []byte("x"))
	require.ErrorIs(t, err, errBrokenSource)
	require.ErrorIs(t, w.Close(), errBrokenSource)
	require.ErrorIs(t, w.Close(), ErrDisposed)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errBrokenSource }

func TestWriterClosed(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(testutil.NewMemStream(nil))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.AddBytes("late", []byte("x"))
	require.ErrorIs(t, err, ErrDisposed)
	require.ErrorIs(t, w.Close(), ErrDisposed)
}

func TestWriterToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.imta")
	f, err := os.Create(path)
	require.NoError(t, err)

	w, err := NewWriter(f)
	require.NoError(t, err)
	_, err = w.Add("readme", bytes.NewBufferString("hello from disk"))
	require.NoError(t, err)
	slot, err := w.Reserve("later", 16)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	a, err := OpenFileWritable(path)
	require.NoError(t, err)
	got, err := a.ReadEntry(EntryID("readme"))
	require.NoError(t, err)
	assert.Equal(t, "hello from disk", string(got))

	s, err := a.OpenInstallStream(slot)
	require.NoError(t, err)
	_, err = s.Write([]byte("filled in place!"))
	require.NoError(t, err)
	s.FinishInstall(InstallSucceeded)
	require.NoError(t, s.Close())
	require.NoError(t, a.Close())

	a, err = OpenFile(path)
	require.NoError(t, err)
	defer a.Close()
	got, err = a.ReadEntry(slot.ID())
	require.NoError(t, err)
	assert.Equal(t, "filled in place!", string(got))
}
