package settings

import (
	"context"
	"fmt"
	"sync"
)

// Source supplies the settings a transformer reads once during Init.
// Retrieval may fail; transformers absorb the failure.
type Source interface {
	Settings() (Settings, error)
}

// SourceFunc adapts a plain function to a Source.
type SourceFunc func() (Settings, error)

// Settings calls f.
func (f SourceFunc) Settings() (Settings, error) {
	return f()
}

// Provider looks up the custom settings of a connection in a backing store.
type Provider interface {
	Fetch(ctx context.Context, connectionID string) (Settings, error)
	Close() error
}

// Writer is implemented by providers that can store settings.
type Writer interface {
	Write(ctx context.Context, connectionID string, s Settings) error
}

// ProviderSource binds a Provider and connection id into a Source.
// The fetch happens when the Source is read, not when it is created.
func ProviderSource(ctx context.Context, provider Provider, connectionID string) Source {
	return SourceFunc(func() (Settings, error) {
		if provider == nil {
			return Settings{}, fmt.Errorf("no settings provider configured for connection %s", connectionID)
		}
		s, err := provider.Fetch(ctx, connectionID)
		if err != nil {
			return Settings{}, fmt.Errorf("fetch settings for connection %s: %w", connectionID, err)
		}
		return s, nil
	})
}

// InMemoryProvider is a thread-safe, map backed Provider.
type InMemoryProvider struct {
	mu   sync.RWMutex
	data map[string]Settings
}

// NewInMemoryProvider creates a provider seeded with the given settings.
func NewInMemoryProvider(seed map[string]Settings) *InMemoryProvider {
	data := make(map[string]Settings, len(seed))
	for k, v := range seed {
		data[k] = v
	}
	return &InMemoryProvider{data: data}
}

// Fetch returns the settings stored for connectionID or ErrNotFound.
func (p *InMemoryProvider) Fetch(_ context.Context, connectionID string) (Settings, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.data[connectionID]
	if !ok {
		return Settings{}, fmt.Errorf("connection '%s': %w", connectionID, ErrNotFound)
	}
	return s, nil
}

// Write stores settings for connectionID, replacing any previous value.
func (p *InMemoryProvider) Write(_ context.Context, connectionID string, s Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.data[connectionID] = s
	return nil
}

// Close is a no-op.
func (p *InMemoryProvider) Close() error { return nil }
