// Package monitor provides imta.IoMonitor implementations.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/meigma/imta"
)

// Log reports every stream operation to a slog.Logger.
type Log struct {
	logger *slog.Logger
	level  slog.Level
}

// LogOption configures a Log monitor.
type LogOption func(*Log)

// WithLevel sets the level events are logged at (default: slog.LevelDebug).
func WithLevel(level slog.Level) LogOption {
	return func(l *Log) {
		l.level = level
	}
}

// NewLog returns a monitor logging to logger. A nil logger discards events.
func NewLog(logger *slog.Logger, opts ...LogOption) *Log {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	l := &Log{logger: logger, level: slog.LevelDebug}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) emit(msg string, rec imta.EntryRecord, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("id", fmt.Sprintf("%#016x", rec.ID())))
	l.logger.LogAttrs(context.Background(), l.level, msg, attrs...)
}

func (l *Log) OnOpen(rec imta.EntryRecord) {
	l.emit("entry open", rec, slog.Int64("offset", rec.Offset()), slog.Int64("size", rec.Size()))
}

func (l *Log) OnSeek(rec imta.EntryRecord, offset int64, whence int, pos int64) {
	l.emit("entry seek", rec, slog.Int64("offset", offset), slog.Int("whence", whence), slog.Int64("pos", pos))
}

func (l *Log) OnRead(rec imta.EntryRecord, bufLen int, pos int64, requested, actual int) {
	l.emit("entry read", rec, slog.Int("buf_len", bufLen), slog.Int64("pos", pos),
		slog.Int("requested", requested), slog.Int("actual", actual))
}

func (l *Log) OnWrite(rec imta.EntryRecord, bufLen int, pos int64, requested, actual int) {
	l.emit("entry write", rec, slog.Int("buf_len", bufLen), slog.Int64("pos", pos),
		slog.Int("requested", requested), slog.Int("actual", actual))
}

func (l *Log) OnPositionGet(rec imta.EntryRecord, pos int64) {
	l.emit("entry position get", rec, slog.Int64("pos", pos))
}

func (l *Log) OnPositionSet(rec imta.EntryRecord, pos int64) {
	l.emit("entry position set", rec, slog.Int64("pos", pos))
}

// Stats counts stream operations. The zero value is ready to use.
type Stats struct {
	opens        atomic.Int64
	seeks        atomic.Int64
	seekFailures atomic.Int64
	reads        atomic.Int64
	bytesRead    atomic.Int64
	writes       atomic.Int64
	bytesWritten atomic.Int64
	shortWrites  atomic.Int64
	positionGets atomic.Int64
	positionSets atomic.Int64
}

// Snapshot is a point-in-time copy of Stats counters.
type Snapshot struct {
	Opens        int64
	Seeks        int64
	SeekFailures int64
	Reads        int64
	BytesRead    int64
	Writes       int64
	BytesWritten int64
	ShortWrites  int64
	PositionGets int64
	PositionSets int64
}

func (s *Stats) OnOpen(imta.EntryRecord) { s.opens.Add(1) }

func (s *Stats) OnSeek(_ imta.EntryRecord, _ int64, _ int, pos int64) {
	s.seeks.Add(1)
	if pos < 0 {
		s.seekFailures.Add(1)
	}
}

func (s *Stats) OnRead(_ imta.EntryRecord, _ int, _ int64, _, actual int) {
	s.reads.Add(1)
	s.bytesRead.Add(int64(actual))
}

func (s *Stats) OnWrite(_ imta.EntryRecord, bufLen int, _ int64, _, actual int) {
	s.writes.Add(1)
	s.bytesWritten.Add(int64(actual))
	if actual < bufLen {
		s.shortWrites.Add(1)
	}
}

func (s *Stats) OnPositionGet(imta.EntryRecord, int64) { s.positionGets.Add(1) }
func (s *Stats) OnPositionSet(imta.EntryRecord, int64) { s.positionSets.Add(1) }

// Snapshot returns the current counter values. Counters are read one at a
// time, so a snapshot taken during I/O may mix before and after values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Opens:        s.opens.Load(),
		Seeks:        s.seeks.Load(),
		SeekFailures: s.seekFailures.Load(),
		Reads:        s.reads.Load(),
		BytesRead:    s.bytesRead.Load(),
		Writes:       s.writes.Load(),
		BytesWritten: s.bytesWritten.Load(),
		ShortWrites:  s.shortWrites.Load(),
		PositionGets: s.positionGets.Load(),
		PositionSets: s.positionSets.Load(),
	}
}

// Multi fans every event out to several monitors in order.
//
// A panicking monitor does not keep the event from the monitors after it.
// Once all of them have run, the first panic is raised again so the stream
// can report it.
type Multi []imta.IoMonitor

func (m Multi) each(fn func(imta.IoMonitor)) {
	var first any
	for _, mon := range m {
		func() {
			defer func() {
				if r := recover(); r != nil && first == nil {
					first = r
				}
			}()
			fn(mon)
		}()
	}
	if first != nil {
		panic(first)
	}
}

func (m Multi) OnOpen(rec imta.EntryRecord) {
	m.each(func(mon imta.IoMonitor) { mon.OnOpen(rec) })
}

func (m Multi) OnSeek(rec imta.EntryRecord, offset int64, whence int, pos int64) {
	m.each(func(mon imta.IoMonitor) { mon.OnSeek(rec, offset, whence, pos) })
}

func (m Multi) OnRead(rec imta.EntryRecord, bufLen int, pos int64, requested, actual int) {
	m.each(func(mon imta.IoMonitor) { mon.OnRead(rec, bufLen, pos, requested, actual) })
}

func (m Multi) OnWrite(rec imta.EntryRecord, bufLen int, pos int64, requested, actual int) {
	m.each(func(mon imta.IoMonitor) { mon.OnWrite(rec, bufLen, pos, requested, actual) })
}

func (m Multi) OnPositionGet(rec imta.EntryRecord, pos int64) {
	m.each(func(mon imta.IoMonitor) { mon.OnPositionGet(rec, pos) })
}

func (m Multi) OnPositionSet(rec imta.EntryRecord, pos int64) {
	m.each(func(mon imta.IoMonitor) { mon.OnPositionSet(rec, pos) })
}

var (
	_ imta.IoMonitor = (*Log)(nil)
	_ imta.IoMonitor = (*Stats)(nil)
	_ imta.IoMonitor = Multi(nil)
)
