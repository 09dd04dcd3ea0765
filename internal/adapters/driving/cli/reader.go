package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/readerbridge/internal/adapters/driven/rpc"
	"github.com/custodia-labs/readerbridge/internal/logger"
)

var readerCmd = &cobra.Command{
	Use:   "reader [flags] <address>",
	Short: "Serve the tiles reader on an address",
	Long: `Runs the tiles reader until the connector sends Shutdown. The address
is the last argument, so this binary can be configured as its own reader
executable with the arguments ["reader"].`,
	Args:   cobra.MinimumNArgs(1),
	Hidden: true,
	RunE:   runReader,
}

func init() {
	rootCmd.AddCommand(readerCmd)
}

func runReader(cmd *cobra.Command, args []string) error {
	if newReader == nil {
		return errors.New("reader not configured")
	}
	address := args[len(args)-1]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Debug("Reader serving on %s", address)
	return rpc.ServeReader(ctx, address, newReader())
}
