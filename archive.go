package imta

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/meigma/imta/internal/format"
	"github.com/meigma/imta/internal/index"
	"github.com/meigma/imta/internal/sizing"
	"github.com/meigma/imta/internal/window"
)

// Archive provides access to the entries of an IMTA archive.
//
// An Archive is safe for concurrent use. Streams opened from it share the
// base stream and its lock, and keep the lock registered until they are
// closed. Closing the Archive does not close open streams, but their
// transfers fail once an owned file is closed.
type Archive struct {
	shared *window.Shared
	owned  io.Closer
	header Header
	idx    *index.Index

	policy       EntryPolicy
	orderCheck   bool
	maxEntrySize int64
	cacheSize    int
	cache        *lru.Cache[uint64, []byte]
	reads        singleflight.Group

	// cacheMu orders cache fills against install evictions; installGen
	// counts finished installs.
	cacheMu    sync.Mutex
	installGen atomic.Uint64

	monitor atomic.Pointer[monitorBox]
	logger  *slog.Logger
	closed  atomic.Bool
}

// Open reads the header and entry table of the archive in base.
//
// Header problems always fail Open. Invalid entry records are handled
// according to the entry policy. base must also implement io.Writer for
// OpenInstallStream and Install to work.
func Open(base io.ReadSeeker, opts ...Option) (*Archive, error) {
	return open(base, nil, opts)
}

// OpenFile opens the archive at path read-only. Close closes the file.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	a, err := open(&readOnlyFile{File: f}, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// OpenFileWritable opens the archive at path for reading and in-place
// installs. Close closes the file.
func OpenFileWritable(path string, opts ...Option) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	a, err := open(f, f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

// readOnlyFile reports a file opened with os.Open as non-writable.
type readOnlyFile struct {
	*os.File
}

func (*readOnlyFile) CanRead() bool  { return true }
func (*readOnlyFile) CanWrite() bool { return false }
func (*readOnlyFile) CanSeek() bool  { return true }

func open(base io.ReadSeeker, owned io.Closer, opts []Option) (*Archive, error) {
	if base == nil {
		return nil, fmt.Errorf("open archive: %w: nil base stream", ErrUnsupportedOperation)
	}
	a := &Archive{
		owned:        owned,
		maxEntrySize: DefaultMaxEntrySize,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.cacheSize > 0 {
		cache, err := lru.New[uint64, []byte](a.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("create payload cache: %w", err)
		}
		a.cache = cache
	}

	a.shared = window.Share(base)
	if err := a.load(); err != nil {
		a.shared.Release()
		return nil, fmt.Errorf("open archive: %w", err)
	}

	a.log().Info("opened archive",
		slog.Int("version", int(a.header.Version())),
		slog.Int("entries", a.idx.Len()),
		slog.Int64("table_offset", a.header.EntryTableOffset()))
	return a, nil
}

func (a *Archive) load() error {
	err := a.shared.Do(func(b any) error {
		rs := b.(io.ReadSeeker) //nolint:forcetypeassert // base is an io.ReadSeeker
		if caps := a.shared.Capabilities(); !caps.Read || !caps.Seek {
			return fmt.Errorf("%w: base stream must support read and seek", ErrUnsupportedOperation)
		}
		if _, err := rs.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("seek header: %w", err)
		}
		h, err := format.ReadHeader(rs)
		if err != nil {
			return fmt.Errorf("read header: %w", err)
		}
		if p := format.ValidateHeader(h); p != NoProblem {
			return p.Err()
		}
		idx, err := index.Load(rs, h)
		if err != nil {
			return fmt.Errorf("read entry table: %w", err)
		}
		a.header = h
		a.idx = idx
		return nil
	})
	if err != nil {
		return err
	}

	switch a.policy {
	case EntryPolicySkip:
		before := a.idx.Len()
		a.idx = a.idx.Filter(func(rec EntryRecord) bool {
			p := format.ValidateEntry(rec)
			if p == NoProblem {
				return true
			}
			a.log().Warn("skipping invalid entry",
				slog.String("id", formatID(rec.ID())),
				slog.String("problem", p.String()))
			return false
		})
		if skipped := before - a.idx.Len(); skipped > 0 {
			a.log().Info("skipped invalid entries", slog.Int("skipped", skipped))
		}
	default:
		for rec := range a.idx.Entries() {
			if p := format.ValidateEntry(rec); p != NoProblem {
				return fmt.Errorf("entry %s: %w", formatID(rec.ID()), p.Err())
			}
		}
	}

	if a.orderCheck {
		if err := a.idx.Verify(); err != nil {
			return fmt.Errorf("verify entry table: %w", err)
		}
	}
	return nil
}

func (a *Archive) log() *slog.Logger {
	if a.logger != nil {
		return a.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (a *Archive) hooks() hooks {
	h := hooks{logger: a.log()}
	if box := a.monitor.Load(); box != nil {
		h.monitor = box.m
	}
	return h
}

// Header returns the archive header.
func (a *Archive) Header() Header {
	return a.header
}

// Len returns the number of entries.
func (a *Archive) Len() int {
	return a.idx.Len()
}

// Lookup returns the record with the given id.
func (a *Archive) Lookup(id uint64) (EntryRecord, bool) {
	return a.idx.Lookup(id)
}

// LookupName returns the record for the entry named name.
func (a *Archive) LookupName(name string) (EntryRecord, bool) {
	return a.idx.Lookup(format.EntryID(name))
}

// Entries returns an iterator over all records in ascending id order.
func (a *Archive) Entries() iter.Seq[EntryRecord] {
	return a.idx.Entries()
}

// AttachMonitor sets the monitor for streams opened after the call.
// A nil monitor detaches the current one.
func (a *Archive) AttachMonitor(m IoMonitor) {
	if m == nil {
		a.monitor.Store(nil)
		return
	}
	a.monitor.Store(&monitorBox{m: m})
}

// OpenReadStream opens a read stream over the entry with the given id.
func (a *Archive) OpenReadStream(id uint64) (*ReadStream, error) {
	if a.closed.Load() {
		return nil, ErrDisposed
	}
	rec, ok := a.idx.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("open entry %s: %w", formatID(id), ErrNotFound)
	}
	es, err := openEntryStream(a.shared, rec, window.ReadOnly, a.hooks())
	if err != nil {
		return nil, err
	}
	a.log().Debug("opened read stream", slog.String("id", formatID(id)), slog.Int64("size", rec.Size()))
	return &ReadStream{entryStream: es}, nil
}

// OpenReadStreamName opens a read stream over the entry named name.
func (a *Archive) OpenReadStreamName(name string) (*ReadStream, error) {
	s, err := a.OpenReadStream(format.EntryID(name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return s, nil
}

// ReadEntry returns the whole payload of the entry with the given id.
//
// Concurrent calls for the same id share one read. With WithPayloadCache,
// payloads are served from memory after the first read. The returned slice
// belongs to the caller.
func (a *Archive) ReadEntry(id uint64) ([]byte, error) {
	if a.closed.Load() {
		return nil, ErrDisposed
	}
	rec, ok := a.idx.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("read entry %s: %w", formatID(id), ErrNotFound)
	}
	if !rec.HasPayload() {
		return nil, fmt.Errorf("read entry %s: %w", formatID(id), ErrNoPayload)
	}
	if rec.Size() > a.maxEntrySize {
		return nil, fmt.Errorf("read entry %s: %w: %d bytes exceeds limit %d", formatID(id), ErrSizeOverflow, rec.Size(), a.maxEntrySize)
	}
	if a.cache != nil {
		if data, ok := a.cache.Get(id); ok {
			return bytes.Clone(data), nil
		}
	}

	v, err, _ := a.reads.Do(readKey(id), func() (any, error) {
		gen := a.installGen.Load()
		s, err := a.OpenReadStream(id)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		data, err := sizing.ReadAllWithLimit(s, rec.Size(), a.maxEntrySize, ErrSizeOverflow)
		if err != nil {
			return nil, fmt.Errorf("read entry %s: %w", formatID(id), err)
		}
		a.fillCache(id, gen, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil //nolint:forcetypeassert // the closure only returns []byte
}

// OpenInstallStream opens a write-capable stream over the slot described
// by rec. The base stream must be writable. The slot may not overlap the
// entry table.
func (a *Archive) OpenInstallStream(rec EntryRecord) (*InstallStream, error) {
	if a.closed.Load() {
		return nil, ErrDisposed
	}
	if err := a.checkSlot(rec); err != nil {
		return nil, err
	}
	es, err := openEntryStream(a.shared, rec, window.ReadWrite, a.hooks())
	if err != nil {
		return nil, err
	}
	id := rec.ID()
	s := newInstallStream(es, func(result InstallResult) {
		a.evict(id)
		a.log().Debug("install finished", slog.String("id", formatID(id)), slog.String("result", result.String()))
	})
	a.log().Debug("opened install stream", slog.String("id", formatID(id)), slog.Int64("size", rec.Size()))
	return s, nil
}

// fillCache caches data read for id unless an install finished after gen
// was loaded, in which case data may predate it.
func (a *Archive) fillCache(id, gen uint64, data []byte) {
	if a.cache == nil {
		return
	}
	a.cacheMu.Lock()
	defer a.cacheMu.Unlock()
	if a.installGen.Load() == gen {
		a.cache.Add(id, data)
	}
}

// evict drops the cached payload of id and detaches in-flight reads of it
// so later ReadEntry calls see the installed bytes.
func (a *Archive) evict(id uint64) {
	a.cacheMu.Lock()
	a.installGen.Add(1)
	if a.cache != nil {
		a.cache.Remove(id)
	}
	a.cacheMu.Unlock()
	a.reads.Forget(readKey(id))
}

func readKey(id uint64) string {
	return strconv.FormatUint(id, 16)
}

func (a *Archive) checkSlot(rec EntryRecord) error {
	if !rec.HasPayload() || a.header.TableSize() == 0 {
		return nil
	}
	end, ok := rec.End()
	if !ok {
		return fmt.Errorf("install slot %s: %w", formatID(rec.ID()), ErrSizeOverflow)
	}
	tableStart := a.header.EntryTableOffset()
	tableEnd := tableStart + a.header.TableSize()
	if end > tableStart && rec.Offset() < tableEnd {
		return fmt.Errorf("install slot %s [%d,%d) overlaps entry table: %w", formatID(rec.ID()), rec.Offset(), end, ErrOutOfRange)
	}
	return nil
}

// Install runs installer against the slot described by rec and waits until
// the installer calls FinishInstall or ctx is done.
//
// The returned result is InstallSucceeded or InstallFailed. A failed install
// is not an error; the slot content is then undefined. If ctx ends first,
// Install returns InstallPending and an error wrapping ErrInstallAborted.
func (a *Archive) Install(ctx context.Context, rec EntryRecord, installer Installer) (InstallResult, error) {
	if err := ctx.Err(); err != nil {
		return InstallPending, fmt.Errorf("install %s: %w: %w", installer.Name(), ErrInstallAborted, err)
	}
	if installer.Size() > rec.Size() {
		return InstallPending, fmt.Errorf("install %s: %w: %d bytes into %d byte slot",
			installer.Name(), ErrSlotFull, installer.Size(), rec.Size())
	}
	s, err := a.OpenInstallStream(rec)
	if err != nil {
		return InstallPending, fmt.Errorf("install %s: %w", installer.Name(), err)
	}
	defer s.Close()

	installer.Install(s)
	select {
	case <-s.Done():
	case <-ctx.Done():
	}
	select {
	case <-s.Done():
	default:
		a.log().Warn("install aborted", slog.String("installer", installer.Name()), slog.String("id", formatID(rec.ID())))
		return InstallPending, fmt.Errorf("install %s: %w: %w", installer.Name(), ErrInstallAborted, ctx.Err())
	}

	result := s.Result()
	a.log().Info("installed entry",
		slog.String("installer", installer.Name()),
		slog.String("id", formatID(rec.ID())),
		slog.String("result", result.String()))
	return result, nil
}

// Close releases the archive. Files opened by OpenFile or OpenFileWritable
// are closed; a base passed to Open is left open.
func (a *Archive) Close() error {
	if a.closed.Swap(true) {
		return ErrDisposed
	}
	a.shared.Release()
	if a.cache != nil {
		a.cache.Purge()
	}
	a.log().Info("closed archive")
	if a.owned != nil {
		return a.owned.Close()
	}
	return nil
}

func formatID(id uint64) string {
	return fmt.Sprintf("%#016x", id)
}
