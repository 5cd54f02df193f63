package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Paintersrp/remotelaunch/internal/process"
)

var (
	// ErrNotFound reports an id that names no entry.
	ErrNotFound = errors.New("entry not found")
	// ErrOccupied reports an Attach on an entry that already owns a handle.
	ErrOccupied = errors.New("entry already has a process")
)

// Spec is the static definition of one launch entry.
type Spec struct {
	Name    string
	Command string
	Workdir string
}

// Source supplies entry definitions in their configured order.
type Source interface {
	Specs() ([]Spec, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() ([]Spec, error)

// Specs calls f.
func (f SourceFunc) Specs() ([]Spec, error) { return f() }

// Registry is the ordered set of launch entries. Its membership never changes
// after construction.
type Registry struct {
	entries []*Entry
}

// New builds a registry assigning ids 0, 1, 2, ... in the order of specs.
func New(specs []Spec) *Registry {
	entries := make([]*Entry, len(specs))
	for i, spec := range specs {
		entries[i] = &Entry{id: uint(i), spec: spec}
	}
	return &Registry{entries: entries}
}

// Load reads the source and builds the registry from it. When the source fails
// the returned registry is empty and the error is returned alongside it, so
// callers can log the failure and keep serving.
func Load(src Source) (*Registry, error) {
	specs, err := src.Specs()
	if err != nil {
		return New(nil), err
	}
	return New(specs), nil
}

// Get returns the entry with the given id.
func (r *Registry) Get(id uint) (*Entry, error) {
	if id >= uint(len(r.entries)) {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return r.entries[id], nil
}

// List returns the entries in id order.
func (r *Registry) List() []*Entry {
	return append([]*Entry(nil), r.entries...)
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Close terminates every attached process. Entries are released
// concurrently; Close returns once all of them are stopped.
func (r *Registry) Close() {
	var wg sync.WaitGroup
	for _, e := range r.entries {
		wg.Add(1)
		go func(e *Entry) {
			defer wg.Done()
			e.Release()
		}(e)
	}
	wg.Wait()
}

// Entry is one launch definition plus the slot for its live process. All slot
// operations hold the entry's lock, so a stop and a reap can never dispose of
// the same handle twice.
type Entry struct {
	id   uint
	spec Spec

	mu     sync.Mutex
	handle *process.Handle

	// attached mirrors handle != nil for readers that cannot take mu.
	attached atomic.Bool
}

// Info is a point-in-time view of an entry.
type Info struct {
	ID        uint
	Name      string
	Command   string
	Workdir   string
	Running   bool
	Pid       int
	StartedAt time.Time
}

func (e *Entry) ID() uint        { return e.id }
func (e *Entry) Name() string    { return e.spec.Name }
func (e *Entry) Command() string { return e.spec.Command }
func (e *Entry) Workdir() string { return e.spec.Workdir }

// Running reports whether the entry currently owns a process handle.
func (e *Entry) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle != nil
}

// Handle returns the attached handle, or nil.
func (e *Entry) Handle() *process.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handle
}

// Info snapshots the entry.
func (e *Entry) Info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.infoLocked()
}

func (e *Entry) infoLocked() Info {
	info := Info{
		ID:      e.id,
		Name:    e.spec.Name,
		Command: e.spec.Command,
		Workdir: e.spec.Workdir,
	}
	if e.handle != nil {
		info.Running = true
		info.Pid = e.handle.Pid()
		info.StartedAt = e.handle.StartedAt()
	}
	return info
}

// Attach runs spawn while holding the entry and stores the resulting handle.
// It fails with ErrOccupied when a handle is already attached, in which case
// spawn is not called. A spawn error leaves the entry untouched.
func (e *Entry) Attach(spawn func(Spec) (*process.Handle, error)) (*process.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle != nil {
		return nil, ErrOccupied
	}
	h, err := spawn(e.spec)
	if err != nil {
		return nil, err
	}
	e.handle = h
	e.attached.Store(true)
	return h, nil
}

// Release terminates the attached process tree and clears the slot. It
// returns false when nothing was attached. The entry stays locked for the
// duration of the termination.
func (e *Entry) Release() (process.Report, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return process.Report{}, false
	}
	report := e.handle.Terminate()
	e.handle = nil
	e.attached.Store(false)
	return report, true
}

// Reap detaches the handle if its root process has exited and returns it. The
// caller takes ownership and must call Terminate on it so that surviving
// descendants are cleaned up. Reap never blocks on a busy entry: if another
// operation holds the slot it returns (nil, false).
func (e *Entry) Reap() (*process.Handle, bool) {
	if !e.mu.TryLock() {
		return nil, false
	}
	defer e.mu.Unlock()
	if e.handle == nil || e.handle.Alive() {
		return nil, false
	}
	h := e.handle
	e.handle = nil
	e.attached.Store(false)
	return h, true
}

// TryInfo is Info without waiting. When the slot is busy, Running reflects
// whether a handle is attached: a stop in progress still reads as running and
// a start still spawning does not. Pid and StartedAt are left zero.
func (e *Entry) TryInfo() Info {
	if !e.mu.TryLock() {
		return Info{
			ID:      e.id,
			Name:    e.spec.Name,
			Command: e.spec.Command,
			Workdir: e.spec.Workdir,
			Running: e.attached.Load(),
		}
	}
	defer e.mu.Unlock()
	return e.infoLocked()
}
