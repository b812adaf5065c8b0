// Package source holds the registry of redundant bootstrap sources the
// interception agent payload can be acquired from.
package source

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/papernet/papergw/config"
)

// Kind is the retrieval mechanism of a bootstrap source.
type Kind string

// Retrieval kinds.
const (
	KindDirect           Kind = "direct"
	KindContentAddressed Kind = "content-addressed"
	KindCDN              Kind = "cdn"
	KindP2P              Kind = "p2p"
	KindEmbedded         Kind = "embedded"
)

func valid(k Kind) bool {
	switch k {
	case KindDirect, KindContentAddressed, KindCDN, KindP2P, KindEmbedded:
		return true
	}
	return false
}

// Source is one bootstrap location. Immutable once read from the registry.
type Source struct {
	ID       string
	Kind     Kind
	Location string
	Priority int
	Timeout  time.Duration
	Enabled  bool

	// Digest is the optional expected blake3 digest of the payload,
	// hex encoded. Set for content-addressed sources.
	Digest string
}

// Registry is the process-local, in-memory source registry. Mutations are not
// durable across restarts.
type Registry struct {
	mu      sync.RWMutex
	sources []Source
}

// NewRegistry builds a registry from the configured sources. Entries with an
// unknown retrieval kind are skipped.
func NewRegistry(cfg *config.Config) *Registry {
	r := new(Registry)

	for _, s := range cfg.Sources {
		src := Source{
			ID:       s.ID,
			Kind:     Kind(s.Kind),
			Location: s.Location,
			Priority: s.Priority,
			Timeout:  s.Timeout.Duration,
			Enabled:  s.Enabled,
			Digest:   s.Digest,
		}

		if err := r.AddSource(src); err != nil {
			zlog.Warn("Skipping bootstrap source", "id", s.ID, "error", err.Error())
		}
	}

	return r
}

// ListAll returns every source in declaration order.
func (r *Registry) ListAll() []Source {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Source, len(r.sources))
	copy(out, r.sources)

	return out
}

// ListEnabled returns the enabled sources sorted by priority descending,
// declaration order breaking ties.
func (r *Registry) ListEnabled() []Source {
	r.mu.RLock()

	out := make([]Source, 0, len(r.sources))
	for _, s := range r.sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})

	return out
}

// ListByKind returns the enabled sources of one retrieval kind, sorted by
// priority descending.
func (r *Registry) ListByKind(kind Kind) []Source {
	all := r.ListEnabled()

	out := all[:0]
	for _, s := range all {
		if s.Kind == kind {
			out = append(out, s)
		}
	}

	return out
}

// Get returns the source with the given id.
func (r *Registry) Get(id string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.sources {
		if s.ID == id {
			return s, true
		}
	}

	return Source{}, false
}

// AddSource registers a custom source for this process's lifetime.
func (r *Registry) AddSource(s Source) error {
	if s.ID == "" {
		return fmt.Errorf("source id required")
	}

	if !valid(s.Kind) {
		return fmt.Errorf("unknown retrieval kind %q", s.Kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sources {
		if existing.ID == s.ID {
			return fmt.Errorf("source %q already registered", s.ID)
		}
	}

	r.sources = append(r.sources, s)

	return nil
}

// UpdateSource applies fn to the source with the given id and reports whether
// it was found.
func (r *Registry) UpdateSource(id string, fn func(*Source)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.sources {
		if r.sources[i].ID == id {
			fn(&r.sources[i])
			return true
		}
	}

	return false
}
