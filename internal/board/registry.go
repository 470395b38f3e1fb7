package board

import (
	"fmt"
	"sort"
	"sync"
)

// Provider identifies a board backend.
type Provider string

const (
	// ProviderMemory is the in-process board for tests and ephemeral runs.
	ProviderMemory Provider = "memory"
	// ProviderLocal is the SQLite-file board for self-hosted projects.
	ProviderLocal Provider = "local"
)

// Options carries the provider-independent connection settings from the
// board.* configuration block. Providers read what they need and ignore
// the rest.
type Options struct {
	// Path locates the local provider's database file.
	Path string
	// ProjectID and BoardID identify the active board on multi-project
	// providers.
	ProjectID string
	BoardID   string
}

// Factory constructs a client from connection options.
type Factory func(Options) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Provider]Factory)
)

// Register adds a provider factory. Called from init() in provider
// packages; a second registration for the same name panics since it is
// always a programming error.
func Register(p Provider, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[p]; dup {
		panic(fmt.Sprintf("board: provider %q registered twice", p))
	}
	registry[p] = factory
}

// New constructs a client for the named provider.
func New(p Provider, opts Options) (Client, error) {
	registryMu.RLock()
	factory, ok := registry[p]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("board: unknown provider %q (registered: %v)", p, Registered())
	}
	return factory(opts)
}

// Registered returns the registered provider names, sorted.
func Registered() []Provider {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Provider, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsRegistered reports whether the provider name is known.
func IsRegistered(p Provider) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[p]
	return ok
}
