// Command tilereader serves the tile-file reader on a Control/Data address.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	"github.com/custodia-labs/readerbridge/internal/logger"
	"github.com/custodia-labs/readerbridge/internal/reader/tiles"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:          "tilereader [flags] <address>",
	Short:        "Serve tile files to a bridge connector",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetVerbose(verbose)
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Connectors may pass extra arguments; the address is always last.
		return rpc.ServeReader(ctx, args[len(args)-1], tiles.New())
	},
}

func main() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	err := rootCmd.ExecuteContext(context.Background())
	logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}
