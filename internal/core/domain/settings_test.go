package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStoreDriver_IsValid tests all valid and invalid store drivers
func TestStoreDriver_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		driver   StoreDriver
		expected bool
	}{
		{
			name:     "sqlite is valid",
			driver:   StoreDriverSQLite,
			expected: true,
		},
		{
			name:     "memory is valid",
			driver:   StoreDriverMemory,
			expected: true,
		},
		{
			name:     "empty string is invalid",
			driver:   StoreDriver(""),
			expected: false,
		},
		{
			name:     "unknown driver is invalid",
			driver:   StoreDriver("postgres"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.driver.IsValid())
		})
	}
}

func TestStoreDriver_String(t *testing.T) {
	assert.Equal(t, "sqlite", StoreDriverSQLite.String())
	assert.Equal(t, "memory", StoreDriverMemory.String())
}

// TestDefaultBridgeSettings tests the default values
func TestDefaultBridgeSettings(t *testing.T) {
	settings := DefaultBridgeSettings()

	assert.Empty(t, settings.Reader.Executable)
	assert.Empty(t, settings.Reader.Args)
	assert.Equal(t, 5*time.Second, settings.Reader.ConnectTimeout)
	assert.Equal(t, 3, settings.Reader.InitializeAttempts)
	assert.Equal(t, 500*time.Millisecond, settings.Reader.RetryInterval)
	assert.Equal(t, StoreDriverSQLite, settings.Store.Driver)
	assert.Empty(t, settings.Store.DataDir)
	assert.Equal(t, OrphanKeep, settings.Sync.Orphans)
	assert.Zero(t, settings.ReadBack.RateLimit)
	assert.Equal(t, 1, settings.ReadBack.Burst)
	assert.Equal(t, "READERBRIDGE", settings.EnvPrefix)
	assert.True(t, settings.Reader.Ports.IsZero())

	require.NoError(t, settings.Validate())
}

func TestBridgeSettings_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*BridgeSettings)
	}{
		{
			name:   "unknown store driver",
			modify: func(s *BridgeSettings) { s.Store.Driver = "postgres" },
		},
		{
			name:   "unknown orphan policy",
			modify: func(s *BridgeSettings) { s.Sync.Orphans = "shred" },
		},
		{
			name:   "no initialize attempts",
			modify: func(s *BridgeSettings) { s.Reader.InitializeAttempts = 0 },
		},
		{
			name:   "zero connect timeout",
			modify: func(s *BridgeSettings) { s.Reader.ConnectTimeout = 0 },
		},
		{
			name:   "half-set port range",
			modify: func(s *BridgeSettings) { s.Reader.Ports = PortRange{Start: 9000} },
		},
		{
			name:   "inverted port range",
			modify: func(s *BridgeSettings) { s.Reader.Ports = PortRange{Start: 9010, End: 9000} },
		},
		{
			name:   "negative rate limit",
			modify: func(s *BridgeSettings) { s.ReadBack.RateLimit = -1 },
		},
		{
			name:   "empty environment prefix",
			modify: func(s *BridgeSettings) { s.EnvPrefix = "" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := DefaultBridgeSettings()
			tt.modify(&settings)

			assert.ErrorIs(t, settings.Validate(), ErrInvalidInput)
		})
	}
}

func TestBridgeSettings_ValidateAcceptsCustomValues(t *testing.T) {
	settings := DefaultBridgeSettings()
	settings.Reader.Executable = "/usr/local/bin/tilereader"
	settings.Reader.Args = []string{"--verbose"}
	settings.Store.Driver = StoreDriverMemory
	settings.Sync.Orphans = OrphanDelete
	settings.Reader.Ports = PortRange{Start: 9000, End: 9010}
	settings.ReadBack.RateLimit = 50
	settings.ReadBack.Burst = 10
	settings.EnvPrefix = "TILES"

	assert.NoError(t, settings.Validate())
}

func TestParsePortRange(t *testing.T) {
	tests := []struct {
		in      string
		want    PortRange
		wantErr bool
	}{
		{in: "", want: PortRange{}},
		{in: "9000-9010", want: PortRange{Start: 9000, End: 9010}},
		{in: " 9000 - 9010 ", want: PortRange{Start: 9000, End: 9010}},
		{in: "9000", want: PortRange{Start: 9000, End: 9000}},
		{in: "9010-9000", wantErr: true},
		{in: "0-10", wantErr: true},
		{in: "9000-70000", wantErr: true},
		{in: "low-high", wantErr: true},
		{in: "9000-", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePortRange(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, strings.TrimSpace(tt.in) == "", got.IsZero())
		})
	}
}

func TestPortRange_String(t *testing.T) {
	assert.Empty(t, PortRange{}.String())
	assert.Equal(t, "9000-9010", PortRange{Start: 9000, End: 9010}.String())

	parsed, err := ParsePortRange(PortRange{Start: 7000, End: 7001}.String())
	require.NoError(t, err)
	assert.Equal(t, PortRange{Start: 7000, End: 7001}, parsed)
}
