package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/ports/driving"
)

var syncCmd = &cobra.Command{
	Use:   "sync <source-file>",
	Short: "Synchronise a source file into the target store",
	Long: `Starts a reader for the source file, streams its records and writes
every new or changed record to the target store. An unchanged file is
skipped without streaming.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if newJob == nil {
		return errors.New("sync service not configured")
	}
	job, err := newJob()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Synchronising %s...\n", args[0])
	if err := syncWithProgress(ctx, cmd, job, args[0]); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	printSummary(cmd, job.Status())
	return nil
}

// syncWithProgress runs the job while displaying progress updates.
func syncWithProgress(ctx context.Context, cmd *cobra.Command, job driving.BridgeJob, path string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- job.Run(ctx, path)
	}()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	lastCount := 0
	for {
		select {
		case err := <-errCh:
			if lastCount > 0 {
				cmd.Println()
			}
			return err
		case <-ticker.C:
			status := job.Status()
			if status.Stats.Records > lastCount {
				cmd.Printf("\rConverting... %d records", status.Stats.Records)
				lastCount = status.Stats.Records
			}
		}
	}
}

func printSummary(cmd *cobra.Command, status driving.JobStatus) {
	if status.DocumentState == domain.ItemUnchanged {
		cmd.Printf("%s is unchanged since the last sync.\n", status.SourcePath)
		return
	}
	s := status.Stats
	cmd.Printf("Synchronised %s: %d records (%d inserted, %d updated, %d unchanged), %d orphans.\n",
		status.SourcePath, s.Records, s.Inserted, s.Updated, s.Unchanged, s.Orphans)
}
