package main

import (
	"fmt"
	"os"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/process"
	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	"github.com/custodia-labs/readerbridge/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/readerbridge/internal/adapters/driven/storage/sqlite"
	tilefmt "github.com/custodia-labs/readerbridge/internal/connectors/tiles"
	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driven"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/core/services"
	"github.com/custodia-labs/readerbridge/internal/logger"
	"github.com/custodia-labs/readerbridge/internal/reader/tiles"
)

// bridge builds jobs from settings. The target store is opened on first use
// so commands that never sync do not touch it.
type bridge struct {
	settings domain.BridgeSettings
	store    driven.TargetStore
}

func newBridge(settings domain.BridgeSettings) *bridge {
	return &bridge{settings: settings}
}

func (b *bridge) openStore() (driven.TargetStore, error) {
	if b.store != nil {
		return b.store, nil
	}
	switch b.settings.Store.Driver {
	case domain.StoreDriverMemory:
		b.store = memory.NewTargetStore()
	default:
		s, err := sqlite.NewStore(b.settings.Store.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening target store: %w", err)
		}
		logger.Debug("Target store at %s", s.Path())
		b.store = s
	}
	return b.store, nil
}

// NewJob creates an orchestrator for the tiles format.
func (b *bridge) NewJob() (driving.BridgeJob, error) {
	store, err := b.openStore()
	if err != nil {
		return nil, err
	}

	executable, args := b.settings.Reader.Executable, b.settings.Reader.Args
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("%w: locating own executable: %w", domain.ErrLaunchFailed, err)
		}
		executable, args = self, append([]string{"reader"}, args...)
	}
	format := tilefmt.New(tilefmt.Options{Executable: executable, Args: args})

	addresses := b.addresses()
	var launcher driven.Launcher = process.NewExecLauncher()
	if addresses.InlineReader() {
		logger.Debug("Serving the reader in process")
		launcher = process.NewInlineLauncher(func() driving.ReaderService { return tiles.New() })
	}

	transport := &rpc.Transport{
		ConnectTimeout: b.settings.Reader.ConnectTimeout,
		ReadBackRate:   b.settings.ReadBack.RateLimit,
		ReadBackBurst:  b.settings.ReadBack.Burst,
	}
	return services.NewOrchestrator(store, transport, launcher, format.ReaderFormat(), services.OrchestratorOptions{
		Addresses: addresses,
		Retry: services.RetryPolicy{
			MaxAttempts: b.settings.Reader.InitializeAttempts,
			Interval:    b.settings.Reader.RetryInterval,
		},
		Orphans: b.settings.Sync.Orphans,
	}), nil
}

func (b *bridge) addresses() services.AddressAllocator {
	return services.AddressAllocator{
		EnvPrefix: b.settings.EnvPrefix,
		Ports:     b.settings.Reader.Ports,
	}
}

// Close releases the target store.
func (b *bridge) Close() {
	if b.store == nil {
		return
	}
	if err := b.store.Close(); err != nil {
		logger.Warn("Closing target store: %v", err)
	}
}
