package services

import (
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
)

// DefaultEnvPrefix prefixes the environment overrides.
const DefaultEnvPrefix = "READERBRIDGE"

// ServerAddressEnv names the variable that pins the reader address.
func ServerAddressEnv(prefix string) string {
	return envName(prefix, "SERVER_ADDRESS")
}

// InlineReaderEnv names the variable that selects the in-process reader.
func InlineReaderEnv(prefix string) string {
	return envName(prefix, "INLINE_READER")
}

func envName(prefix, suffix string) string {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	return strings.ToUpper(prefix) + "_" + suffix
}

// FindAvailablePort finds an available port in the given range.
func FindAvailablePort(startPort, endPort int) (int, error) {
	for port := startPort; port <= endPort; port++ {
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		listener, err := net.Listen("tcp", addr)
		if err == nil {
			listener.Close()
			return port, nil
		}
	}
	return 0, fmt.Errorf("no available port in range %d-%d", startPort, endPort)
}

// AllocateAddress binds an ephemeral loopback port, releases it and returns host:port.
func AllocateAddress(ctx context.Context) (string, error) {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("allocating address: %w", err)
	}
	addr := listener.Addr().String()
	if err := listener.Close(); err != nil {
		return "", fmt.Errorf("releasing address: %w", err)
	}
	return addr, nil
}

// AddressAllocator hands out reader addresses, honouring the environment override.
type AddressAllocator struct {
	// EnvPrefix selects the override variables.
	EnvPrefix string

	// Ports pins allocation to the range when set.
	Ports domain.PortRange

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// ReaderAddress returns the address the reader should serve on.
// attached reports that the address came from the override and a reader
// is already running there.
func (a AddressAllocator) ReaderAddress(ctx context.Context) (addr string, attached bool, err error) {
	lookup := a.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(ServerAddressEnv(a.EnvPrefix)); ok && v != "" {
		return v, true, nil
	}
	addr, err = a.Allocate(ctx)
	return addr, false, err
}

// InlineReader reports whether the in-process reader was requested.
func (a AddressAllocator) InlineReader() bool {
	lookup := a.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(InlineReaderEnv(a.EnvPrefix))
	if !ok {
		return false
	}
	switch strings.ToLower(v) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Allocate returns a fresh loopback address.
func (a AddressAllocator) Allocate(ctx context.Context) (string, error) {
	if !a.Ports.IsZero() {
		port, err := FindAvailablePort(a.Ports.Start, a.Ports.End)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("127.0.0.1:%d", port), nil
	}
	return AllocateAddress(ctx)
}
