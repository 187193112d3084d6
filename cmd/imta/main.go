// Command imta creates, inspects and modifies IMTA archives.
//
// Usage:
//
//	imta create [-reserve name=size]... -o archive.imta dir
//	imta list [-digest] archive.imta
//	imta verify archive.imta
//	imta cat archive.imta name
//	imta extract [-o dir] [-overwrite] archive.imta name...
//	imta install [-zstd] [-digest algo:hex] archive.imta name source
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/imta"
	"github.com/meigma/imta/monitor"
)

var errUsage = errors.New("usage: imta <create|list|verify|cat|extract|install> [flags] args")

func main() {
	os.Exit(exitCode())
}

func exitCode() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	lookup, err := envLookup(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, "imta:", err)
		return 1
	}
	cfg, err := loadConfig(lookup)
	if err != nil {
		fmt.Fprintln(os.Stderr, "imta:", err)
		return 1
	}
	if err := run(ctx, cfg, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "imta:", err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

type app struct {
	cfg    config
	logger *slog.Logger
	stdout io.Writer
	stderr io.Writer
}

func run(ctx context.Context, cfg config, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	a := &app{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.logLevel})),
		stdout: stdout,
		stderr: stderr,
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "create":
		return a.create(ctx, rest)
	case "list":
		return a.list(rest)
	case "verify":
		return a.verify(rest)
	case "cat":
		return a.cat(rest)
	case "extract":
		return a.extract(ctx, rest)
	case "install":
		return a.install(ctx, rest)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func (a *app) archiveOptions() []imta.Option {
	opts := []imta.Option{
		imta.WithLogger(a.logger),
		imta.WithMaxEntrySize(a.cfg.maxEntrySize),
	}
	if a.logger.Enabled(context.Background(), slog.LevelDebug) {
		opts = append(opts, imta.WithMonitor(monitor.NewLog(a.logger)))
	}
	return opts
}

type reservation struct {
	name string
	size int64
}

func (a *app) create(ctx context.Context, args []string) error {
	fs := a.flags("create")
	out := fs.String("o", "", "output archive path")
	var reserves []reservation
	fs.Func("reserve", "reserve a zero-filled slot `name=size` (repeatable)", func(v string) error {
		name, size, ok := strings.Cut(v, "=")
		if !ok || name == "" {
			return fmt.Errorf("want name=size, got %q", v)
		}
		n, err := parseSize(size)
		if err != nil {
			return err
		}
		reserves = append(reserves, reservation{name: name, size: n})
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if *out == "" || fs.NArg() != 1 {
		return fmt.Errorf("%w: create -o archive dir", errUsage)
	}

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := imta.NewWriter(f, imta.WriterWithLogger(a.logger))
	if err != nil {
		return err
	}
	n, err := imta.CreateFromDir(ctx, fs.Arg(0), w)
	if err != nil {
		return err
	}
	for _, r := range reserves {
		if _, err := w.Reserve(r.name, r.size); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "%s: %d files, %d reserved slots\n", *out, n, len(reserves))
	return nil
}

func (a *app) open(path string, writable bool, extra ...imta.Option) (*imta.Archive, error) {
	opts := append(a.archiveOptions(), extra...)
	if writable {
		return imta.OpenFileWritable(path, opts...)
	}
	return imta.OpenFile(path, opts...)
}

func (a *app) list(args []string) error {
	fs := a.flags("list")
	withDigest := fs.Bool("digest", false, "print the sha256 digest of each payload")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: list archive", errUsage)
	}
	arc, err := a.open(fs.Arg(0), false)
	if err != nil {
		return err
	}
	defer arc.Close()

	for rec := range arc.Entries() {
		if !rec.HasPayload() {
			fmt.Fprintf(a.stdout, "%016x\t-\t-\n", rec.ID())
			continue
		}
		if !*withDigest {
			fmt.Fprintf(a.stdout, "%016x\t%d\t%d\n", rec.ID(), rec.Offset(), rec.Size())
			continue
		}
		d, err := payloadDigest(arc, rec)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "%016x\t%d\t%d\t%s\n", rec.ID(), rec.Offset(), rec.Size(), d)
	}
	return nil
}

func payloadDigest(arc *imta.Archive, rec imta.EntryRecord) (digest.Digest, error) {
	s, err := arc.OpenReadStream(rec.ID())
	if err != nil {
		return "", err
	}
	defer s.Close()
	return digest.SHA256.FromReader(s)
}

func (a *app) verify(args []string) error {
	fs := a.flags("verify")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: verify archive", errUsage)
	}
	arc, err := a.open(fs.Arg(0), false, imta.WithEntryPolicy(imta.EntryPolicyReject), imta.WithOrderCheck(true))
	if err != nil {
		return err
	}
	defer arc.Close()
	fmt.Fprintf(a.stdout, "%s: ok, version %d, %d entries\n", fs.Arg(0), arc.Header().Version(), arc.Len())
	return nil
}

func (a *app) cat(args []string) error {
	fs := a.flags("cat")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("%w: cat archive name", errUsage)
	}
	arc, err := a.open(fs.Arg(0), false)
	if err != nil {
		return err
	}
	defer arc.Close()

	s, err := arc.OpenReadStreamName(fs.Arg(1))
	if err != nil {
		return err
	}
	defer s.Close()
	_, err = io.Copy(a.stdout, s)
	return err
}

func (a *app) extract(ctx context.Context, args []string) error {
	fs := a.flags("extract")
	dest := fs.String("o", ".", "destination directory")
	overwrite := fs.Bool("overwrite", false, "replace existing files")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("%w: extract archive name...", errUsage)
	}
	arc, err := a.open(fs.Arg(0), false)
	if err != nil {
		return err
	}
	defer arc.Close()

	stats, err := arc.CopyTo(ctx, *dest, fs.Args()[1:],
		imta.CopyWithWorkers(a.cfg.workers),
		imta.CopyWithOverwrite(*overwrite))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "extracted %d files (%d bytes), skipped %d\n", stats.Files, stats.Bytes, stats.Skipped)
	return nil
}

func (a *app) install(ctx context.Context, args []string) error {
	fs := a.flags("install")
	zstdSource := fs.Bool("zstd", false, "source is zstd-compressed")
	expect := fs.String("digest", "", "expected digest of the installed bytes")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() != 3 {
		return fmt.Errorf("%w: install archive name source", errUsage)
	}
	arc, err := a.open(fs.Arg(0), true)
	if err != nil {
		return err
	}
	defer arc.Close()

	rec, ok := arc.LookupName(fs.Arg(1))
	if !ok {
		return fmt.Errorf("%s: %w", fs.Arg(1), imta.ErrNotFound)
	}
	opts := []imta.FileInstallerOption{imta.FileInstallerWithLogger(a.logger)}
	if *zstdSource {
		opts = append(opts, imta.FileInstallerWithZstd())
	}
	if *expect != "" {
		opts = append(opts, imta.FileInstallerWithDigest(digest.Digest(*expect)))
	}
	inst, err := imta.NewFileInstaller(fs.Arg(2), opts...)
	if err != nil {
		return err
	}
	result, err := arc.Install(ctx, rec, inst)
	if err != nil {
		return err
	}
	if result != imta.InstallSucceeded {
		return fmt.Errorf("install %s into %s: %s", fs.Arg(2), fs.Arg(1), result)
	}
	fmt.Fprintf(a.stdout, "installed %s into %s (%d bytes)\n", fs.Arg(2), fs.Arg(1), inst.Size())
	return nil
}
