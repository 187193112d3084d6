// Package extract writes extracted entries to a destination directory with
// atomic renames.
package extract

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsafePath is returned for entry names that would escape the
// destination directory.
var ErrUnsafePath = errors.New("unsafe entry path")

// Sink writes entries below destDir.
//
// Each file is written to a temporary file in its final directory and
// renamed into place on Commit, so partially written files are never
// visible at the final path.
type Sink struct {
	destDir   string
	overwrite bool
}

// Option configures a Sink.
type Option func(*Sink)

// WithOverwrite allows replacing existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) Option {
	return func(s *Sink) {
		s.overwrite = overwrite
	}
}

// New returns a Sink that writes below destDir. Parent directories are
// created as needed.
func New(destDir string, opts ...Option) *Sink {
	s := &Sink{destDir: destDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path maps a slash-separated entry name to its destination path.
func (s *Sink) Path(name string) (string, error) {
	local := filepath.FromSlash(name)
	if name == "" || !filepath.IsLocal(local) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return filepath.Join(s.destDir, local), nil
}

// ShouldWrite reports false if the destination exists and overwrite is disabled.
func (s *Sink) ShouldWrite(name string) bool {
	if s.overwrite {
		return true
	}
	dest, err := s.Path(name)
	if err != nil {
		return true
	}
	_, err = os.Lstat(dest)
	return errors.Is(err, os.ErrNotExist)
}

// Create returns a Committer for the entry named name.
func (s *Sink) Create(name string) (*Committer, error) {
	dest, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".imta-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &Committer{dest: dest, tmp: tmp}, nil
}

// Committer writes to a temp file and renames it into place on Commit.
type Committer struct {
	dest string
	tmp  *os.File
}

// Write implements io.Writer.
func (c *Committer) Write(p []byte) (int, error) {
	return c.tmp.Write(p)
}

// Path returns the final destination path.
func (c *Committer) Path() string {
	return c.dest
}

// Commit closes the temp file and renames it to the destination.
func (c *Committer) Commit() error {
	tmpPath := c.tmp.Name()
	if err := c.tmp.Close(); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.dest); err != nil {
		_ = os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("rename to %s: %w", c.dest, err)
	}
	return nil
}

// Discard closes and removes the temp file.
func (c *Committer) Discard() error {
	tmpPath := c.tmp.Name()
	_ = c.tmp.Close() //nolint:errcheck // cleaning up
	return os.Remove(tmpPath)
}
