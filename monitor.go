package imta

import "log/slog"

// IoMonitor observes entry stream operations.
//
// Hooks run synchronously on the goroutine performing the operation, after
// the operation completes. A hook that panics is recovered and logged; the
// stream operation still returns its own result.
type IoMonitor interface {
	// OnOpen is called once when a stream over rec is opened.
	OnOpen(rec EntryRecord)

	// OnSeek is called after Seek. pos is the resulting position, or -1 if
	// the seek failed.
	OnSeek(rec EntryRecord, offset int64, whence int, pos int64)

	// OnRead is called after Read. bufLen is len of the caller's buffer,
	// requested the count after clamping to the window, pos the position
	// before the read and actual the bytes transferred.
	OnRead(rec EntryRecord, bufLen int, pos int64, requested, actual int)

	// OnWrite is called after Write with the same arguments as OnRead.
	OnWrite(rec EntryRecord, bufLen int, pos int64, requested, actual int)

	// OnPositionGet is called after Position.
	OnPositionGet(rec EntryRecord, pos int64)

	// OnPositionSet is called after a successful SetPosition.
	OnPositionSet(rec EntryRecord, pos int64)
}

// NopMonitor implements IoMonitor with no-op hooks. Embed it to implement
// only the hooks of interest.
type NopMonitor struct{}

func (NopMonitor) OnOpen(EntryRecord)                        {}
func (NopMonitor) OnSeek(EntryRecord, int64, int, int64)     {}
func (NopMonitor) OnRead(EntryRecord, int, int64, int, int)  {}
func (NopMonitor) OnWrite(EntryRecord, int, int64, int, int) {}
func (NopMonitor) OnPositionGet(EntryRecord, int64)          {}
func (NopMonitor) OnPositionSet(EntryRecord, int64)          {}

// monitorBox lets an interface value live in an atomic.Pointer.
type monitorBox struct {
	m IoMonitor
}

// hooks dispatches stream events to an optional monitor.
type hooks struct {
	monitor IoMonitor
	logger  *slog.Logger
}

func (h hooks) call(name string, rec EntryRecord, fn func(IoMonitor)) {
	if h.monitor == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("io monitor panicked",
				slog.String("hook", name),
				slog.String("id", formatID(rec.ID())),
				slog.Any("panic", r))
		}
	}()
	fn(h.monitor)
}
