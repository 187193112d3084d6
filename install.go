package imta

import (
	_ "crypto/sha256" // registers sha256 for go-digest
	_ "crypto/sha512" // registers sha384 and sha512 for go-digest
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"
	"github.com/spf13/afero"
)

// DefaultChunkSize is the transfer size FileInstaller uses per write.
const DefaultChunkSize = 32 << 10

// Installer fills a reserved entry slot.
//
// Install writes Size bytes into s and must call s.FinishInstall exactly
// once, either before returning or later from another goroutine.
type Installer interface {
	// Name identifies the installer in logs.
	Name() string

	// Size returns the number of bytes Install writes.
	Size() int64

	// Install writes the payload into s.
	Install(s *InstallStream)
}

// FileInstaller installs the content of a file.
type FileInstaller struct {
	path      string
	size      int64
	fs        afero.Fs
	chunkSize int
	digest    digest.Digest
	zstd      bool
	logger    *slog.Logger

	started atomic.Bool
}

// FileInstallerOption configures a FileInstaller.
type FileInstallerOption func(*FileInstaller)

// FileInstallerWithFs reads the source from fsys instead of the OS filesystem.
func FileInstallerWithFs(fsys afero.Fs) FileInstallerOption {
	return func(f *FileInstaller) {
		f.fs = fsys
	}
}

// FileInstallerWithChunkSize sets the transfer size per write.
// Values <= 0 select DefaultChunkSize.
func FileInstallerWithChunkSize(n int) FileInstallerOption {
	return func(f *FileInstaller) {
		if n <= 0 {
			n = DefaultChunkSize
		}
		f.chunkSize = n
	}
}

// FileInstallerWithDigest verifies the installed bytes against d. A mismatch
// fails the install.
func FileInstallerWithDigest(d digest.Digest) FileInstallerOption {
	return func(f *FileInstaller) {
		f.digest = d
	}
}

// FileInstallerWithZstd treats the source as a single zstd frame and installs
// the decompressed bytes. The frame header must record the content size.
func FileInstallerWithZstd() FileInstallerOption {
	return func(f *FileInstaller) {
		f.zstd = true
	}
}

// FileInstallerWithLogger sets the logger for install events.
func FileInstallerWithLogger(logger *slog.Logger) FileInstallerOption {
	return func(f *FileInstaller) {
		f.logger = logger
	}
}

// NewFileInstaller returns an installer for the file at path. The file must
// exist; its size (or decompressed size) is captured now.
func NewFileInstaller(path string, opts ...FileInstallerOption) (*FileInstaller, error) {
	f := &FileInstaller{
		path:      path,
		fs:        afero.NewOsFs(),
		chunkSize: DefaultChunkSize,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.digest != "" {
		if err := f.digest.Validate(); err != nil {
			return nil, fmt.Errorf("file installer %s: %w", path, err)
		}
	}
	size, err := f.sourceSize()
	if err != nil {
		return nil, fmt.Errorf("file installer %s: %w", path, err)
	}
	f.size = size
	return f, nil
}

func (f *FileInstaller) log() *slog.Logger {
	if f.logger != nil {
		return f.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (f *FileInstaller) sourceSize() (int64, error) {
	if !f.zstd {
		info, err := f.fs.Stat(f.path)
		if err != nil {
			return 0, err
		}
		if !info.Mode().IsRegular() {
			return 0, fmt.Errorf("%w: not a regular file", ErrUnsupportedOperation)
		}
		return info.Size(), nil
	}

	src, err := f.fs.Open(f.path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	buf := make([]byte, zstd.HeaderMaxSize)
	n, err := io.ReadFull(src, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("read zstd header: %w", err)
	}
	var h zstd.Header
	if err := h.Decode(buf[:n]); err != nil {
		return 0, fmt.Errorf("decode zstd header: %w", err)
	}
	if !h.HasFCS || h.FrameContentSize > 1<<62 {
		return 0, fmt.Errorf("zstd frame does not record content size: %w", ErrUnsupportedOperation)
	}
	return int64(h.FrameContentSize), nil //nolint:gosec // bounded above
}

// Name returns the source path.
func (f *FileInstaller) Name() string { return f.path }

// Size returns the number of bytes that will be installed.
func (f *FileInstaller) Size() int64 { return f.size }

// Install streams the file into s and reports the outcome. A FileInstaller
// installs at most once; later calls fail immediately.
func (f *FileInstaller) Install(s *InstallStream) {
	log := f.log().With(slog.String("source", f.path), slog.String("id", formatID(s.Record().ID())))
	if !f.started.CompareAndSwap(false, true) {
		log.Warn("installer already used")
		s.FinishInstall(InstallFailed)
		return
	}
	written, err := f.copyTo(s)
	if err != nil {
		log.Warn("install failed", slog.Int64("written", written), slog.String("error", err.Error()))
		s.FinishInstall(InstallFailed)
		return
	}
	log.Debug("install complete", slog.Int64("written", written))
	s.FinishInstall(InstallSucceeded)
}

func (f *FileInstaller) copyTo(dst io.Writer) (int64, error) {
	src, err := f.fs.Open(f.path)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	var r io.Reader = src
	if f.zstd {
		dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return 0, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var verifier digest.Verifier
	if f.digest != "" {
		verifier = f.digest.Verifier()
		dst = io.MultiWriter(dst, verifier)
	}

	written, err := copyChunks(dst, r, make([]byte, f.chunkSize))
	if err != nil {
		return written, err
	}
	if written != f.size {
		return written, fmt.Errorf("%w: expected %d bytes, got %d", ErrSourceChanged, f.size, written)
	}
	if verifier != nil && !verifier.Verified() {
		return written, fmt.Errorf("%w: expected %s", ErrDigestMismatch, f.digest)
	}
	return written, nil
}

// copyChunks copies r to w one buffer at a time. Unlike io.CopyBuffer it
// never hands off to ReaderFrom or WriterTo, so every write is at most
// len(buf) bytes.
func copyChunks(w io.Writer, r io.Reader, buf []byte) (int64, error) {
	var written int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m != n {
				return written, io.ErrShortWrite
			}
		}
		if errors.Is(rerr, io.EOF) {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

// ReaderInstaller installs exactly size bytes read from r.
type ReaderInstaller struct {
	name    string
	r       io.Reader
	size    int64
	started atomic.Bool
}

// NewReaderInstaller returns an installer that copies size bytes from r.
func NewReaderInstaller(name string, r io.Reader, size int64) *ReaderInstaller {
	return &ReaderInstaller{name: name, r: r, size: size}
}

// Name returns the name given to NewReaderInstaller.
func (ri *ReaderInstaller) Name() string { return ri.name }

// Size returns the number of bytes that will be installed.
func (ri *ReaderInstaller) Size() int64 { return ri.size }

// Install copies the reader into s. A short source fails the install.
func (ri *ReaderInstaller) Install(s *InstallStream) {
	if !ri.started.CompareAndSwap(false, true) {
		s.FinishInstall(InstallFailed)
		return
	}
	if _, err := io.CopyN(s, ri.r, ri.size); err != nil {
		s.FinishInstall(InstallFailed)
		return
	}
	s.FinishInstall(InstallSucceeded)
}
