// Package window implements bounded, independently positioned views over a
// byte range of a base stream shared by many views.
//
// Every seek+transfer pair issued against the base runs under the mutex of
// the base's Shared, so one view's seek cannot be clobbered by another view
// before its read or write executes.
package window

import (
	"fmt"
	"io"
	"reflect"
	"sync"
)

// CapabilityReporter is implemented by base streams whose method set
// overstates what they can do, such as a read-only *os.File.
type CapabilityReporter interface {
	CanRead() bool
	CanWrite() bool
	CanSeek() bool
}

// Flusher is implemented by base streams that buffer writes.
type Flusher interface {
	Flush() error
}

// Capabilities describes what a base stream supports.
type Capabilities struct {
	Read  bool
	Write bool
	Seek  bool
}

// CapabilitiesOf inspects base's method set, narrowed by CapabilityReporter.
func CapabilitiesOf(base any) Capabilities {
	_, r := base.(io.Reader)
	_, w := base.(io.Writer)
	_, s := base.(io.Seeker)
	c := Capabilities{Read: r, Write: w, Seek: s}
	if rep, ok := base.(CapabilityReporter); ok {
		c.Read = c.Read && rep.CanRead()
		c.Write = c.Write && rep.CanWrite()
		c.Seek = c.Seek && rep.CanSeek()
	}
	return c
}

// Shared owns the lock for one base stream.
type Shared struct {
	mu   sync.Mutex
	base any
	caps Capabilities

	// guarded by registryMu
	refs int
	key  any
}

// NewShared returns a Shared for base. All views of the same base must use
// the same Shared; prefer Share when views are created independently.
func NewShared(base any) *Shared {
	return &Shared{base: base, caps: CapabilitiesOf(base)}
}

// Capabilities returns the capabilities of the base stream.
func (s *Shared) Capabilities() Capabilities {
	return s.caps
}

// Do runs fn with exclusive access to the base stream.
func (s *Shared) Do(fn func(base any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.base)
}

// readAt seeks the base to off and performs a single read into p.
func (s *Shared) readAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.base.(io.Seeker).Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek base to %d: %w", off, err)
	}
	return s.base.(io.Reader).Read(p)
}

// writeAt seeks the base to off and writes p.
func (s *Shared) writeAt(p []byte, off int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.base.(io.Seeker).Seek(off, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek base to %d: %w", off, err)
	}
	return s.base.(io.Writer).Write(p)
}

// flush flushes the base if it buffers writes.
func (s *Shared) flush() error {
	f, ok := s.base.(Flusher)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return f.Flush()
}

var (
	registryMu sync.Mutex
	registry   = make(map[any]*Shared)
)

// Share returns the Shared registered for base, creating it on first use.
// Each call must be balanced by Release on the returned Shared. Only
// pointer bases are registered; any other base gets a fresh Shared, since
// a struct value may hold unhashable fields and copies of it do not share
// a cursor anyway.
func Share(base any) *Shared {
	registryMu.Lock()
	defer registryMu.Unlock()
	if !keyable(base) {
		s := NewShared(base)
		s.refs = 1
		return s
	}
	s, ok := registry[base]
	if !ok {
		s = NewShared(base)
		s.key = base
		registry[base] = s
	}
	s.refs++
	return s
}

// Retain takes another reference on s, dropped by Release.
func (s *Shared) Retain() *Shared {
	registryMu.Lock()
	defer registryMu.Unlock()
	s.refs++
	return s
}

// Release drops one reference. A registered Shared leaves the registry with
// its last reference.
func (s *Shared) Release() {
	registryMu.Lock()
	defer registryMu.Unlock()
	s.refs--
	if s.refs > 0 || s.key == nil {
		return
	}
	if registry[s.key] == s {
		delete(registry, s.key)
	}
	s.key = nil
}

func keyable(base any) bool {
	if base == nil {
		return false
	}
	return reflect.ValueOf(base).Kind() == reflect.Pointer
}
