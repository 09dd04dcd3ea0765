package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StoreDriver selects the target store implementation.
type StoreDriver string

// Available store drivers.
const (
	// StoreDriverSQLite persists to a SQLite database under the data directory.
	StoreDriverSQLite StoreDriver = "sqlite"

	// StoreDriverMemory keeps everything in memory; nothing survives the process.
	StoreDriverMemory StoreDriver = "memory"
)

// IsValid returns true if the driver is recognised.
func (d StoreDriver) IsValid() bool {
	return d == StoreDriverSQLite || d == StoreDriverMemory
}

// String returns the string representation.
func (d StoreDriver) String() string {
	return string(d)
}

// ReaderSettings configures how readers are launched and contacted.
type ReaderSettings struct {
	// Executable is the reader program. Empty means the connector's own binary.
	Executable string

	// Args precede the address on the reader's command line.
	Args []string

	// ConnectTimeout bounds waiting for the reader to become ready.
	ConnectTimeout time.Duration

	// InitializeAttempts is the total number of Initialize calls before giving up.
	InitializeAttempts int

	// RetryInterval is the pause between Initialize attempts.
	RetryInterval time.Duration

	// Ports restricts reader and read-back ports. The zero range lets the OS pick.
	Ports PortRange
}

// PortRange is an inclusive range of TCP ports.
type PortRange struct {
	Start int
	End   int
}

// IsZero reports whether no range is set.
func (r PortRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// String renders the range as "start-end", or "" when unset.
func (r PortRange) String() string {
	if r.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// Validate rejects half-set, inverted and out-of-range bounds.
func (r PortRange) Validate() error {
	if r.IsZero() {
		return nil
	}
	if r.Start < 1 || r.End > 65535 || r.Start > r.End {
		return fmt.Errorf("%w: port range %d-%d", ErrInvalidInput, r.Start, r.End)
	}
	return nil
}

// ParsePortRange parses "start-end". A single port is a range of one and
// the empty string is the zero range.
func ParsePortRange(s string) (PortRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PortRange{}, nil
	}
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return PortRange{}, fmt.Errorf("%w: port range %q", ErrInvalidInput, s)
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return PortRange{}, fmt.Errorf("%w: port range %q", ErrInvalidInput, s)
	}
	r := PortRange{Start: start, End: end}
	return r, r.Validate()
}

// StoreSettings configures the target store.
type StoreSettings struct {
	Driver  StoreDriver
	DataDir string
}

// SyncSettings configures change detection.
type SyncSettings struct {
	Orphans OrphanPolicy
}

// ReadBackSettings configures the read-back server.
type ReadBackSettings struct {
	// RateLimit is calls per second; zero disables throttling.
	RateLimit float64

	// Burst is the throttle's burst size.
	Burst int
}

// BridgeSettings holds all user-configurable settings.
type BridgeSettings struct {
	Reader   ReaderSettings
	Store    StoreSettings
	Sync     SyncSettings
	ReadBack ReadBackSettings

	// EnvPrefix names the environment overrides, e.g. READERBRIDGE_SERVER_ADDRESS.
	EnvPrefix string
}

// DefaultBridgeSettings returns settings with sensible defaults.
func DefaultBridgeSettings() BridgeSettings {
	return BridgeSettings{
		Reader: ReaderSettings{
			ConnectTimeout:     5 * time.Second,
			InitializeAttempts: 3,
			RetryInterval:      500 * time.Millisecond,
		},
		Store: StoreSettings{
			Driver: StoreDriverSQLite,
		},
		Sync: SyncSettings{
			Orphans: OrphanKeep,
		},
		ReadBack: ReadBackSettings{
			Burst: 1,
		},
		EnvPrefix: "READERBRIDGE",
	}
}

// Validate checks settings for values no job can run with.
func (s BridgeSettings) Validate() error {
	if !s.Store.Driver.IsValid() {
		return fmt.Errorf("%w: store driver %q", ErrInvalidInput, s.Store.Driver)
	}
	if _, err := ParseOrphanPolicy(string(s.Sync.Orphans)); err != nil {
		return fmt.Errorf("%w: orphan policy %q", ErrInvalidInput, s.Sync.Orphans)
	}
	if s.Reader.InitializeAttempts < 1 {
		return fmt.Errorf("%w: initialize attempts must be at least 1", ErrInvalidInput)
	}
	if s.Reader.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidInput)
	}
	if err := s.Reader.Ports.Validate(); err != nil {
		return err
	}
	if s.ReadBack.RateLimit < 0 {
		return fmt.Errorf("%w: read-back rate limit must not be negative", ErrInvalidInput)
	}
	if s.EnvPrefix == "" {
		return fmt.Errorf("%w: empty environment prefix", ErrInvalidInput)
	}
	return nil
}
