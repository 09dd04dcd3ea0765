package services

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keyReaderExecutable  = "reader.executable"
	keyReaderArgs        = "reader.args"
	keyConnectTimeout    = "reader.connect_timeout"
	keyInitAttempts      = "reader.initialize_attempts"
	keyRetryInterval     = "reader.retry_interval"
	keyReaderPorts       = "reader.port_range"
	keyStoreDriver       = "store.driver"
	keyStoreDataDir      = "store.data_dir"
	keySyncOrphans       = "sync.orphans"
	keyReadBackRateLimit = "readback.rate_limit"
	keyReadBackBurst     = "readback.burst"
	keyEnvPrefix         = "env.prefix"
)

// SettingsKeys lists every key Set accepts.
var SettingsKeys = []string{
	keyReaderExecutable,
	keyReaderArgs,
	keyConnectTimeout,
	keyInitAttempts,
	keyRetryInterval,
	keyReaderPorts,
	keyStoreDriver,
	keyStoreDataDir,
	keySyncOrphans,
	keyReadBackRateLimit,
	keyReadBackBurst,
	keyEnvPrefix,
}

// SettingsService manages bridge settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current settings.
func (s *SettingsService) Get() (*domain.BridgeSettings, error) {
	defaults := domain.DefaultBridgeSettings()

	settings := &domain.BridgeSettings{
		Reader: domain.ReaderSettings{
			Executable:         s.configStore.GetString(keyReaderExecutable),
			Args:               s.configStore.GetStringSlice(keyReaderArgs),
			ConnectTimeout:     s.getDuration(keyConnectTimeout, defaults.Reader.ConnectTimeout),
			InitializeAttempts: s.getInt(keyInitAttempts, defaults.Reader.InitializeAttempts),
			RetryInterval:      s.getDuration(keyRetryInterval, defaults.Reader.RetryInterval),
			Ports:              s.getPortRange(defaults.Reader.Ports),
		},
		Store: domain.StoreSettings{
			Driver:  s.getStoreDriver(defaults.Store.Driver),
			DataDir: s.configStore.GetString(keyStoreDataDir),
		},
		Sync: domain.SyncSettings{
			Orphans: s.getOrphanPolicy(defaults.Sync.Orphans),
		},
		ReadBack: domain.ReadBackSettings{
			RateLimit: s.configStore.GetFloat(keyReadBackRateLimit),
			Burst:     s.getInt(keyReadBackBurst, defaults.ReadBack.Burst),
		},
		EnvPrefix: s.getString(keyEnvPrefix, defaults.EnvPrefix),
	}

	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings in %s: %w", s.configStore.Path(), err)
	}
	return settings, nil
}

// Save persists settings.
func (s *SettingsService) Save(settings *domain.BridgeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	values := []struct {
		key   string
		value any
	}{
		{keyReaderExecutable, settings.Reader.Executable},
		{keyReaderArgs, settings.Reader.Args},
		{keyConnectTimeout, settings.Reader.ConnectTimeout.String()},
		{keyInitAttempts, settings.Reader.InitializeAttempts},
		{keyRetryInterval, settings.Reader.RetryInterval.String()},
		{keyReaderPorts, settings.Reader.Ports.String()},
		{keyStoreDriver, settings.Store.Driver.String()},
		{keyStoreDataDir, settings.Store.DataDir},
		{keySyncOrphans, string(settings.Sync.Orphans)},
		{keyReadBackRateLimit, settings.ReadBack.RateLimit},
		{keyReadBackBurst, settings.ReadBack.Burst},
		{keyEnvPrefix, settings.EnvPrefix},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}
	return nil
}

// Set parses value for key and persists it after validating the resulting settings.
func (s *SettingsService) Set(key, value string) error {
	current, err := s.Get()
	if err != nil {
		return err
	}

	var stored any
	switch key {
	case keyReaderExecutable:
		current.Reader.Executable = value
		stored = value
	case keyReaderArgs:
		current.Reader.Args = strings.Fields(value)
		stored = current.Reader.Args
	case keyConnectTimeout:
		d, err := s.parseDuration(key, value)
		if err != nil {
			return err
		}
		current.Reader.ConnectTimeout = d
		stored = d.String()
	case keyRetryInterval:
		d, err := s.parseDuration(key, value)
		if err != nil {
			return err
		}
		current.Reader.RetryInterval = d
		stored = d.String()
	case keyReaderPorts:
		r, err := domain.ParsePortRange(value)
		if err != nil {
			return fmt.Errorf("%w: %s must look like 9000-9100", domain.ErrInvalidInput, key)
		}
		current.Reader.Ports = r
		stored = r.String()
	case keyInitAttempts, keyReadBackBurst:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer", domain.ErrInvalidInput, key)
		}
		if key == keyInitAttempts {
			current.Reader.InitializeAttempts = n
		} else {
			current.ReadBack.Burst = n
		}
		stored = n
	case keyReadBackRateLimit:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, key)
		}
		current.ReadBack.RateLimit = f
		stored = f
	case keyStoreDriver:
		current.Store.Driver = domain.StoreDriver(value)
		stored = value
	case keyStoreDataDir:
		current.Store.DataDir = value
		stored = value
	case keySyncOrphans:
		current.Sync.Orphans = domain.OrphanPolicy(value)
		stored = value
	case keyEnvPrefix:
		current.EnvPrefix = value
		stored = value
	default:
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}

	if err := current.Validate(); err != nil {
		return err
	}
	return s.configStore.Set(key, stored)
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.BridgeSettings {
	return domain.DefaultBridgeSettings()
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getStoreDriver(defaultVal domain.StoreDriver) domain.StoreDriver {
	driver := domain.StoreDriver(s.configStore.GetString(keyStoreDriver))
	if !driver.IsValid() {
		return defaultVal
	}
	return driver
}

func (s *SettingsService) getPortRange(defaultVal domain.PortRange) domain.PortRange {
	r, err := domain.ParsePortRange(s.configStore.GetString(keyReaderPorts))
	if err != nil {
		return defaultVal
	}
	return r
}

func (s *SettingsService) getOrphanPolicy(defaultVal domain.OrphanPolicy) domain.OrphanPolicy {
	policy, err := domain.ParseOrphanPolicy(s.configStore.GetString(keySyncOrphans))
	if err != nil {
		return defaultVal
	}
	return policy
}

// parseDuration parses a positive duration string.
func (s *SettingsService) parseDuration(key, str string) (time.Duration, error) {
	d, err := time.ParseDuration(str)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive duration like 5s", domain.ErrInvalidInput, key)
	}
	return d, nil
}
