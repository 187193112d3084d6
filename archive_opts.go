package imta

import "log/slog"

// Option configures an Archive.
type Option func(*Archive)

// EntryPolicy selects how Open treats entry records that fail validation.
type EntryPolicy uint8

const (
	// EntryPolicyReject fails Open on the first invalid entry record.
	EntryPolicyReject EntryPolicy = iota

	// EntryPolicySkip drops invalid entry records and logs each one.
	EntryPolicySkip
)

func (p EntryPolicy) String() string {
	switch p {
	case EntryPolicyReject:
		return "reject"
	case EntryPolicySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// DefaultMaxEntrySize is the largest payload ReadEntry loads by default.
const DefaultMaxEntrySize = 256 << 20

// WithLogger sets the logger for archive events.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithMonitor attaches m to every stream the archive opens.
// Equivalent to calling AttachMonitor after Open.
func WithMonitor(m IoMonitor) Option {
	return func(a *Archive) {
		a.monitor.Store(&monitorBox{m: m})
	}
}

// WithEntryPolicy sets how invalid entry records are handled on open
// (default: EntryPolicyReject).
func WithEntryPolicy(p EntryPolicy) Option {
	return func(a *Archive) {
		a.policy = p
	}
}

// WithOrderCheck verifies on open that the entry table is strictly ascending
// by id. Lookups on an unsorted table silently miss entries, so enable this
// for archives from untrusted writers.
func WithOrderCheck(enabled bool) Option {
	return func(a *Archive) {
		a.orderCheck = enabled
	}
}

// WithMaxEntrySize limits the payload size ReadEntry will load.
// Values <= 0 select DefaultMaxEntrySize.
func WithMaxEntrySize(limit int64) Option {
	return func(a *Archive) {
		if limit <= 0 {
			limit = DefaultMaxEntrySize
		}
		a.maxEntrySize = limit
	}
}

// WithPayloadCache keeps up to n payloads loaded by ReadEntry in an LRU
// cache. Installing into an entry evicts it. n <= 0 disables the cache.
func WithPayloadCache(n int) Option {
	return func(a *Archive) {
		a.cacheSize = n
	}
}

// CopyOption configures CopyTo.
type CopyOption func(*copyConfig)

// defaultCopyWorkers is used when no CopyWithWorkers option is set.
const defaultCopyWorkers = 4

type copyConfig struct {
	workers   int
	overwrite bool
	skipEmpty bool
}

// CopyWithWorkers sets how many entries are extracted concurrently.
// Values < 1 select the default.
func CopyWithWorkers(n int) CopyOption {
	return func(c *copyConfig) {
		if n < 1 {
			n = defaultCopyWorkers
		}
		c.workers = n
	}
}

// CopyWithOverwrite allows replacing existing files.
func CopyWithOverwrite(enabled bool) CopyOption {
	return func(c *copyConfig) {
		c.overwrite = enabled
	}
}

// CopyWithSkipAbsent skips names whose entries carry no payload instead of
// failing with ErrNoPayload.
func CopyWithSkipAbsent(enabled bool) CopyOption {
	return func(c *copyConfig) {
		c.skipEmpty = enabled
	}
}
