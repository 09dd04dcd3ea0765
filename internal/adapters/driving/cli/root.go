// Package cli is the readerbridge command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

var version = "dev"

var verbose bool

// Services set by the composition root.
var (
	settingsService driving.SettingsService
	newJob          func() (driving.BridgeJob, error)
	newReader       func() driving.ReaderService
)

var rootCmd = &cobra.Command{
	Use:   "readerbridge",
	Short: "Synchronise source files into a target store through reader processes",
	Long: `readerbridge converts source documents into a target store. A reader
process parses the document and streams its records back over RPC; only
records that changed since the previous run are written.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Services are what the commands run against.
type Services struct {
	// Settings reads and writes the configuration.
	Settings driving.SettingsService

	// NewJob creates a job for one sync.
	NewJob func() (driving.BridgeJob, error)

	// NewReader creates the reader served by the reader command.
	NewReader func() driving.ReaderService
}

// SetServices wires the commands.
func SetServices(s Services) {
	settingsService = s.Settings
	newJob = s.NewJob
	newReader = s.NewReader
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
