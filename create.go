package imta

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/meigma/imta/internal/platform"
)

// FilterFunc reports whether the file at the slash-separated path should be
// added. It is called once per regular file.
type FilterFunc func(path string, info fs.FileInfo) bool

type createConfig struct {
	filters []FilterFunc
}

// CreateOption configures CreateFromDir.
type CreateOption func(*createConfig)

// CreateWithFilter adds predicates a file must pass to be added.
// A file is added only if every predicate returns true.
func CreateWithFilter(fns ...FilterFunc) CreateOption {
	return func(cfg *createConfig) {
		cfg.filters = append(cfg.filters, fns...)
	}
}

// CreateFromDir adds every regular file below dir to w, named by its
// slash-separated path relative to dir. Files are added in lexical walk
// order. Symbolic links are skipped and empty directories are not recorded.
// It returns the number of files added. w is not closed.
func CreateFromDir(ctx context.Context, dir string, w *Writer, opts ...CreateOption) (int, error) {
	cfg := createConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return 0, err
	}
	defer root.Close()

	w.log().Info("creating archive", "dir", dir)

	added := 0
	err = fs.WalkDir(root.FS(), ".", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			if d.Type()&fs.ModeSymlink != 0 {
				w.log().Debug("skipped symlink", "path", path)
			}
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		for _, keep := range cfg.filters {
			if !keep(path, info) {
				return nil
			}
		}

		ok, err := addFile(root, w, path)
		if err != nil {
			return err
		}
		if ok {
			added++
		}
		return nil
	})
	if err != nil {
		return added, fmt.Errorf("create from %s: %w", dir, err)
	}
	w.log().Debug("directory added", "dir", dir, "files", added)
	return added, nil
}

func addFile(root *os.Root, w *Writer, path string) (bool, error) {
	f, err := platform.OpenNoFollow(root, filepath.FromSlash(path))
	if err != nil {
		if errors.Is(err, platform.ErrSymlink) {
			w.log().Debug("skipped symlink", "path", path)
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if !info.Mode().IsRegular() {
		return false, nil
	}
	rec, err := w.Add(path, f)
	if err != nil {
		return false, err
	}
	if rec.Size() != info.Size() {
		return false, fmt.Errorf("%s changed while reading: %w", path, ErrSourceChanged)
	}
	return true, nil
}
