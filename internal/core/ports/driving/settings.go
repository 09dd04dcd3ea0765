package driving

import "github.com/custodia-labs/readerbridge/internal/core/domain"

// SettingsService manages bridge settings.
type SettingsService interface {
	// Get retrieves current settings, filling defaults for unset keys.
	Get() (*domain.BridgeSettings, error)

	// Save persists settings.
	Save(settings *domain.BridgeSettings) error

	// Set parses value for a single dotted key and persists it.
	Set(key, value string) error

	// GetDefaults returns default settings.
	GetDefaults() domain.BridgeSettings
}
