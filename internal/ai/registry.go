package ai

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Provider identifies a reasoning backend.
type Provider string

const (
	// ProviderClaude shells out to the claude CLI in headless mode.
	ProviderClaude Provider = "claude"
	// ProviderMock is the scripted backend for tests and demos.
	ProviderMock Provider = "mock"
)

// Options carries backend connection settings from the ai.* config block.
type Options struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Factory constructs a client from options.
type Factory func(Options) (Client, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[Provider]Factory)
)

// Register adds a provider factory. Called from init() in provider
// packages; duplicate registration panics.
func Register(p Provider, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[p]; dup {
		panic(fmt.Sprintf("ai: provider %q registered twice", p))
	}
	registry[p] = factory
}

// New constructs a client for the named provider.
func New(p Provider, opts Options) (Client, error) {
	registryMu.RLock()
	factory, ok := registry[p]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ai: unknown provider %q (registered: %v)", p, Registered())
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
