package settings

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore settings store.
type FirestoreConfig struct {
	ProjectID      string `koanf:"project_id"`
	CollectionName string `koanf:"collection"`
}

// settingsDocument is the stored shape of one connection's settings.
type settingsDocument struct {
	Settings []Setting `firestore:"settings"`
}

// FirestoreProvider reads custom settings from one document per connection.
// Low volume is expected: settings are read once per transformer Init.
type FirestoreProvider struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreProvider creates a provider over an externally managed client.
func NewFirestoreProvider(cfg *FirestoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreProvider, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreProvider initialized.")

	return &FirestoreProvider{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSettingsProvider").Logger(),
	}, nil
}

// Fetch reads the settings document for connectionID.
func (p *FirestoreProvider) Fetch(ctx context.Context, connectionID string) (Settings, error) {
	docSnap, err := p.client.Collection(p.collectionName).Doc(connectionID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			p.logger.Warn().Str("connection_id", connectionID).Msg("Settings document not found in Firestore.")
			return Settings{}, fmt.Errorf("firestore document '%s': %w", connectionID, ErrNotFound)
		}
		p.logger.Error().Err(err).Str("connection_id", connectionID).Msg("Failed to get settings document from Firestore.")
		return Settings{}, fmt.Errorf("firestore get for %s: %w", connectionID, err)
	}

	var doc settingsDocument
	if err := docSnap.DataTo(&doc); err != nil {
		p.logger.Error().Err(err).Str("connection_id", connectionID).Msg("Failed to map Firestore settings document.")
		return Settings{}, fmt.Errorf("firestore DataTo for %s: %w", connectionID, err)
	}

	p.logger.Debug().Str("connection_id", connectionID).Int("entries", len(doc.Settings)).Msg("Loaded settings from Firestore.")
	return New(doc.Settings...), nil
}

// Write stores the settings document for connectionID.
func (p *FirestoreProvider) Write(ctx context.Context, connectionID string, s Settings) error {
	_, err := p.client.Collection(p.collectionName).Doc(connectionID).Set(ctx, settingsDocument{Settings: s.Entries()})
	if err != nil {
		p.logger.Error().Err(err).Str("connection_id", connectionID).Msg("Failed to write settings document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", connectionID, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (p *FirestoreProvider) Close() error {
	p.logger.Info().Msg("FirestoreProvider does not close the injected Firestore client.")
	return nil
}
