// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package driver

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gogpu/gpucontext"
)

// Options are passed to a driver Factory.
type Options struct {
	// Device is the host GPU context, if any. Backends that wrap a real
	// device take it from here; the in-memory backend only reads its
	// surface format.
	Device gpucontext.DeviceProvider

	// MemorySize is the requested device memory size in bytes. Zero lets
	// the backend choose.
	MemorySize int

	// FrontWidth and FrontHeight reserve memory for the front buffer below
	// the offscreen range.
	FrontWidth  int
	FrontHeight int

	// Params holds backend specific settings.
	Params map[string]string
}

// Factory creates a driver instance.
type Factory func(opts Options) (Driver, error)

// Entry represents a registered backend.
type Entry struct {
	// Name is the unique identifier for this backend.
	Name string

	// Priority determines selection order (higher = preferred).
	Priority int

	Factory Factory

	// Available reports if the backend can be opened on this system.
	Available func() bool
}

// Errors.
var (
	// ErrNoBackendAvailable is returned when no backend is registered or
	// available.
	ErrNoBackendAvailable = errors.New("driver: no backend available")

	// ErrBackendNotFound is returned when a named backend is not
	// registered.
	ErrBackendNotFound = errors.New("driver: backend not found")

	// ErrBackendUnavailable is returned when a named backend is registered
	// but not available.
	ErrBackendUnavailable = errors.New("driver: backend unavailable")
)

var globalRegistry = NewRegistry()

// Registry manages registered backends.
//
// Example registration:
//
//	func init() {
//	    driver.Register("memory", 10, newMemdev, nil)
//	}
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates a new empty registry.
// Most code should use the global registry via Register and Open.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register adds a backend to the global registry. If available is nil the
// backend is assumed always available. Registering an existing name
// replaces the previous entry.
func Register(name string, priority int, factory Factory, available func() bool) {
	globalRegistry.Register(name, priority, factory, available)
}

// Unregister removes a backend from the global registry.
func Unregister(name string) {
	globalRegistry.Unregister(name)
}

// List returns all registered backend names sorted by priority.
func List() []string {
	return globalRegistry.List()
}

// Open creates a driver from the global registry. An empty name selects
// the best available backend.
func Open(name string, opts Options) (Driver, error) {
	return globalRegistry.Open(name, opts)
}

// Register adds a backend to this registry.
func (r *Registry) Register(name string, priority int, factory Factory, available func() bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if available == nil {
		available = func() bool { return true }
	}
	r.entries[name] = &Entry{
		Name:      name,
		Priority:  priority,
		Factory:   factory,
		Available: available,
	}
}

// Unregister removes a backend from this registry.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, name)
}

// List returns all registered backend names sorted by priority (highest
// first).
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.sortedNames(false)
}

// Get returns a copy of the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Open creates a driver. An empty name tries every available backend in
// priority order and returns the first that opens.
func (r *Registry) Open(name string, opts Options) (Driver, error) {
	if name != "" {
		return r.openByName(name, opts)
	}

	r.mu.RLock()
	available := r.sortedNames(true)
	r.mu.RUnlock()

	if len(available) == 0 {
		return nil, ErrNoBackendAvailable
	}

	var lastErr error
	for _, n := range available {
		d, err := r.openByName(n, opts)
		if err == nil {
			return d, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "driver: every backend failed")
}

func (r *Registry) openByName(name string, opts Options) (Driver, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrBackendNotFound, "%q", name)
	}
	if !e.Available() {
		return nil, errors.Wrapf(ErrBackendUnavailable, "%q", name)
	}
	d, err := e.Factory(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "driver: open %q", name)
	}
	return d, nil
}

// sortedNames returns backend names sorted by priority, highest first,
// then by name. Must be called with lock held.
func (r *Registry) sortedNames(onlyAvailable bool) []string {
	if len(r.entries) == 0 {
		return nil
	}

	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if onlyAvailable && !e.Available() {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Priority != entries[j].Priority {
			return entries[i].Priority > entries[j].Priority
		}
		return entries[i].Name < entries[j].Name
	})

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}
