// Package source looks providers up in external data sources.
package source

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-verify/internal/model"
)

// ErrSourceUnavailable marks a lookup that failed for reasons other than
// the source having no record.
var ErrSourceUnavailable = eris.New("source: unavailable")

// Source is an external system that can report what it knows about a
// provider.
type Source interface {
	// Name identifies the source in results and trust configuration.
	Name() string
	// URL is the public address shown alongside results.
	URL() string
	// Lookup returns the source's record for the identity. A source with no
	// record returns an Observation with Found false, not an error.
	Lookup(ctx context.Context, id model.Identity) (*model.Observation, error)
}

// Entry is a registered source and its per-source settings.
type Entry struct {
	Source Source
	// Timeout bounds a single lookup, retries included.
	Timeout time.Duration
}

// Registry holds the configured sources in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds a source, replacing any earlier source with the same name
// in place.
func (r *Registry) Register(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := e.Source.Name()
	if i, ok := r.index[name]; ok {
		r.entries[i] = e
		return
	}
	r.index[name] = len(r.entries)
	r.entries = append(r.entries, e)
}

// Get returns the entry for name.
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[name]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}

// Entries returns a snapshot of the registered sources in order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Entry(nil), r.entries...)
}

// Names returns the registered source names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.entries))
	for i, e := range r.entries {
		names[i] = e.Source.Name()
	}
	return names
}

// Len returns the number of registered sources.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
