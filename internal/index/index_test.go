package index

import (
	"bytes"
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/imta/internal/format"
)

func mustRecord(tb testing.TB, id uint64, offset, size int64) format.EntryRecord {
	tb.Helper()
	rec, err := format.NewEntryRecord(id, offset, size)
	require.NoError(tb, err)
	return rec
}

// mustBuild builds an index from records in any order.
func mustBuild(tb testing.TB, recs ...format.EntryRecord) *Index {
	tb.Helper()
	b := NewBuilder(len(recs))
	require.NoError(tb, b.AppendSorted(recs))
	return b.Index()
}

func TestIndexLookup(t *testing.T) {
	t.Parallel()

	recs := []format.EntryRecord{
		mustRecord(t, 900, 24, 10),
		mustRecord(t, 3, 34, 5),
		mustRecord(t, 77, 0, 0),
		mustRecord(t, format.EntryID("a.txt"), 39, 1),
	}
	idx := mustBuild(t, recs...)
	require.Equal(t, len(recs), idx.Len())

	t.Run("every record found", func(t *testing.T) {
		t.Parallel()
		for _, r := range recs {
			got, ok := idx.Lookup(r.ID())
			require.True(t, ok, "id %d", r.ID())
			assert.Equal(t, r, got)
		}
	})

	t.Run("missing ids", func(t *testing.T) {
		t.Parallel()
		for _, id := range []uint64{1, 4, 78, 901, ^uint64(0)} {
			_, ok := idx.Lookup(id)
			assert.False(t, ok, "id %d", id)
		}
	})

	t.Run("empty index", func(t *testing.T) {
		t.Parallel()
		_, ok := New(nil).Lookup(3)
		assert.False(t, ok)
	})
}

func TestIndexEntriesOrderedAndRestartable(t *testing.T) {
	t.Parallel()

	idx := mustBuild(t, mustRecord(t, 30, 0, 0), mustRecord(t, 10, 0, 0), mustRecord(t, 20, 0, 0))

	ids := func() []uint64 {
		var out []uint64
		for rec := range idx.Entries() {
			out = append(out, rec.ID())
		}
		return out
	}
	assert.Equal(t, []uint64{10, 20, 30}, ids())
	assert.Equal(t, []uint64{10, 20, 30}, ids())

	var first []uint64
	for rec := range idx.Entries() {
		first = append(first, rec.ID())
		break
	}
	assert.Equal(t, []uint64{10}, first)
}

func TestHasPayload(t *testing.T) {
	t.Parallel()

	assert.True(t, HasPayload(mustRecord(t, 1, 24, 0)))
	assert.False(t, HasPayload(mustRecord(t, 1, 0, 12)))
}

func TestBuilderRejectsOutOfOrder(t *testing.T) {
	t.Parallel()

	b := NewBuilder(2)
	require.NoError(t, b.Append(mustRecord(t, 5, 24, 1)))
	err := b.Append(mustRecord(t, 3, 25, 1))
	require.ErrorIs(t, err, format.ErrOutOfOrder)
	assert.Equal(t, 1, b.Len())

	// The rejected record is never reachable through the index.
	_, ok := b.Index().Lookup(3)
	assert.False(t, ok)
}

func TestBuilderRejectsDuplicates(t *testing.T) {
	t.Parallel()

	b := NewBuilder(0)
	require.NoError(t, b.Append(mustRecord(t, 5, 24, 1)))
	require.ErrorIs(t, b.Append(mustRecord(t, 5, 30, 2)), format.ErrDuplicateID)

	err := NewBuilder(0).AppendSorted([]format.EntryRecord{
		mustRecord(t, 9, 0, 0), mustRecord(t, 2, 0, 0), mustRecord(t, 9, 24, 3),
	})
	require.ErrorIs(t, err, format.ErrDuplicateID)
}

func TestBuilderRejectsInvalid(t *testing.T) {
	t.Parallel()

	raw := make([]byte, format.EntrySize)
	zeroID, err := format.DecodeEntry(raw)
	require.NoError(t, err)
	require.ErrorIs(t, NewBuilder(1).Append(zeroID), format.ErrFormat)
}

func TestAppendSortedDoesNotModifyInput(t *testing.T) {
	t.Parallel()

	recs := []format.EntryRecord{mustRecord(t, 3, 0, 0), mustRecord(t, 1, 0, 0)}
	orig := slices.Clone(recs)
	require.NoError(t, NewBuilder(0).AppendSorted(recs))
	assert.Equal(t, orig, recs)
}

func TestUnsortedIndexVerify(t *testing.T) {
	t.Parallel()

	// Binary search over an unsorted table is undefined; Verify reports it.
	idx := New([]format.EntryRecord{mustRecord(t, 5, 24, 1), mustRecord(t, 3, 25, 1)})
	require.ErrorIs(t, idx.Verify(), format.ErrOutOfOrder)

	dup := New([]format.EntryRecord{mustRecord(t, 5, 24, 1), mustRecord(t, 5, 25, 1)})
	require.ErrorIs(t, dup.Verify(), format.ErrDuplicateID)

	require.NoError(t, mustBuild(t, mustRecord(t, 5, 24, 1), mustRecord(t, 3, 25, 1)).Verify())
}

func TestWriteToLoadRoundTrip(t *testing.T) {
	t.Parallel()

	var recs []format.EntryRecord
	for i := range 600 {
		recs = append(recs, mustRecord(t, uint64(i*7+1), int64(24+i), int64(i)))
	}
	b := NewBuilder(len(recs))
	require.NoError(t, b.AppendSorted(recs))

	var table bytes.Buffer
	table.Write(make([]byte, format.HeaderSize))
	n, err := b.WriteTo(&table)
	require.NoError(t, err)
	assert.Equal(t, int64(len(recs)*format.EntrySize), n)

	h, err := format.NewHeader(format.HeaderSize, int32(len(recs)))
	require.NoError(t, err)
	idx, err := Load(bytes.NewReader(table.Bytes()), h)
	require.NoError(t, err)
	require.Equal(t, len(recs), idx.Len())
	for _, r := range recs {
		got, ok := idx.Lookup(r.ID())
		require.True(t, ok)
		assert.Equal(t, r, got)
	}
}

func TestLoadTruncatedTable(t *testing.T) {
	t.Parallel()

	data := make([]byte, format.HeaderSize+format.EntrySize+3)
	h, err := format.NewHeader(format.HeaderSize, 2)
	require.NoError(t, err)

	_, err = Load(bytes.NewReader(data), h)
	require.ErrorIs(t, err, format.ErrTruncatedInput)
}

func TestLoadSeekFailure(t *testing.T) {
	t.Parallel()

	h, err := format.NewHeader(format.HeaderSize, 1)
	require.NoError(t, err)
	_, err = Load(failingSeeker{}, h)
	require.ErrorIs(t, err, io.ErrNoProgress)
}

type failingSeeker struct{}

func (failingSeeker) Read([]byte) (int, error)       { return 0, io.EOF }
func (failingSeeker) Seek(int64, int) (int64, error) { return 0, io.ErrNoProgress }

func TestFilter(t *testing.T) {
	t.Parallel()

	idx := mustBuild(t, mustRecord(t, 1, 0, 0), mustRecord(t, 2, 24, 4), mustRecord(t, 3, 0, 0))
	withPayload := idx.Filter(HasPayload)
	assert.Equal(t, 1, withPayload.Len())
	assert.Equal(t, 3, idx.Len())
}
