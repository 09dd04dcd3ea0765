// Command readerbridge synchronises source files into a target store
// through reader processes.
package main

import (
	"os"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/config/file"
	"github.com/custodia-labs/readerbridge/internal/adapters/driving/cli"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/core/services"
	"github.com/custodia-labs/readerbridge/internal/logger"
	"github.com/custodia-labs/readerbridge/internal/reader/tiles"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	defer logger.Sync()

	configStore, err := file.NewConfigStore("")
	if err != nil {
		logger.Error("Loading configuration: %v", err)
		return err
	}
	settingsService := services.NewSettingsService(configStore)

	// The prefix itself comes from the file, then overrides apply.
	settings, err := settingsService.Get()
	if err != nil {
		logger.Error("Reading settings: %v", err)
		return err
	}
	configStore.WithEnvPrefix(settings.EnvPrefix)
	if settings, err = settingsService.Get(); err != nil {
		logger.Error("Reading settings: %v", err)
		return err
	}

	b := newBridge(*settings)
	defer b.Close()

	cli.SetVersion(version)
	cli.SetServices(cli.Services{
		Settings:  settingsService,
		NewJob:    b.NewJob,
		NewReader: func() driving.ReaderService { return tiles.New() },
	})
	return cli.Execute()
}
