package imta

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/imta/internal/extract"
)

// CopyStats summarizes a CopyTo run.
type CopyStats struct {
	// Files is the number of entries written.
	Files int

	// Bytes is the number of payload bytes written.
	Bytes int64

	// Skipped counts entries left alone because the destination existed or
	// the entry carried no payload.
	Skipped int
}

// CopyTo extracts the named entries below destDir.
//
// Entries are addressed by name because an archive stores only ids; names
// are used as slash-separated paths relative to destDir. Files are written
// atomically using temp files and renames, and parent directories are
// created as needed. Existing files are skipped unless CopyWithOverwrite is
// set. Up to CopyWithWorkers entries are extracted concurrently; the first
// error cancels the rest and is returned as an *fs.PathError.
func (a *Archive) CopyTo(ctx context.Context, destDir string, names []string, opts ...CopyOption) (CopyStats, error) {
	cfg := copyConfig{workers: defaultCopyWorkers}
	for _, opt := range opts {
		opt(&cfg)
	}
	if a.closed.Load() {
		return CopyStats{}, ErrDisposed
	}

	sink := extract.New(destDir, extract.WithOverwrite(cfg.overwrite))
	sem := semaphore.NewWeighted(int64(cfg.workers))
	eg, gctx := errgroup.WithContext(ctx)

	var files, skipped atomic.Int64
	var written atomic.Int64
	for _, name := range names {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			n, ok, err := a.copyEntry(gctx, sink, name, cfg)
			if err != nil {
				return &fs.PathError{Op: "copy", Path: name, Err: err}
			}
			if !ok {
				skipped.Add(1)
				return nil
			}
			files.Add(1)
			written.Add(n)
			return nil
		})
	}
	err := eg.Wait()
	if err == nil {
		err = ctx.Err()
	}

	stats := CopyStats{Files: int(files.Load()), Bytes: written.Load(), Skipped: int(skipped.Load())}
	a.log().Info("copied entries",
		slog.String("dest", destDir),
		slog.Int("files", stats.Files),
		slog.Int("skipped", stats.Skipped),
		slog.Int64("bytes", stats.Bytes))
	return stats, err
}

func (a *Archive) copyEntry(ctx context.Context, sink *extract.Sink, name string, cfg copyConfig) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	rec, ok := a.LookupName(name)
	if !ok {
		return 0, false, ErrNotFound
	}
	if !rec.HasPayload() {
		if cfg.skipEmpty {
			return 0, false, nil
		}
		return 0, false, ErrNoPayload
	}
	if !sink.ShouldWrite(name) {
		a.log().Debug("skipped existing file", slog.String("name", name))
		return 0, false, nil
	}

	s, err := a.OpenReadStream(rec.ID())
	if err != nil {
		return 0, false, err
	}
	defer s.Close()

	c, err := sink.Create(name)
	if err != nil {
		return 0, false, err
	}
	n, err := copyChunks(c, s, make([]byte, DefaultChunkSize))
	if err == nil && n != rec.Size() {
		err = fmt.Errorf("short entry: %d of %d bytes", n, rec.Size())
	}
	if err != nil {
		_ = c.Discard() //nolint:errcheck // best-effort cleanup
		return 0, false, err
	}
	if err := c.Commit(); err != nil {
		return 0, false, err
	}
	return n, true, nil
}
