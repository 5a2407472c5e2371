package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FallbackProvider reads from a primary provider and falls back to a second
// one when the primary fails. When the primary simply has no entry and can be
// written to, the fallback result is copied into it in the background.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// NewFallbackProvider chains primary and fallback.
func NewFallbackProvider(primary, fallback Provider, logger zerolog.Logger) (*FallbackProvider, error) {
	if primary == nil || fallback == nil {
		return nil, fmt.Errorf("both primary and fallback providers are required")
	}
	return &FallbackProvider{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With().Str("component", "FallbackSettingsProvider").Logger(),
	}, nil
}

// Fetch tries the primary, then the fallback.
func (p *FallbackProvider) Fetch(ctx context.Context, connectionID string) (Settings, error) {
	s, err := p.primary.Fetch(ctx, connectionID)
	if err == nil {
		return s, nil
	}
	miss := errors.Is(err, ErrNotFound)
	if !miss {
		p.logger.Warn().Err(err).Str("connection_id", connectionID).Msg("Primary settings provider failed, using fallback.")
	}

	s, fbErr := p.fallback.Fetch(ctx, connectionID)
	if fbErr != nil {
		return Settings{}, errors.Join(err, fbErr)
	}

	if w, ok := p.primary.(Writer); ok && miss {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if writeErr := w.Write(writeCtx, connectionID, s); writeErr != nil {
				p.logger.Error().Err(writeErr).Str("connection_id", connectionID).Msg("Failed to backfill primary settings provider.")
			}
		}()
	}
	return s, nil
}

// Close waits for pending backfills and closes both providers.
func (p *FallbackProvider) Close() error {
	p.wg.Wait()
	return errors.Join(p.primary.Close(), p.fallback.Close())
}
