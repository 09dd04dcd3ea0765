package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/readerbridge/internal/core/domain"
	"github.com/custodia-labs/readerbridge/internal/core/services"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and change reader, store and sync settings.

Every key can also be overridden from the environment as
<PREFIX>_<KEY>, e.g. READERBRIDGE_STORE_DRIVER=memory.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Validates and stores one setting. Durations use Go syntax (1500ms, 2s);
lists are space separated.

Keys:
  ` + strings.Join(services.SettingsKeys, "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the default settings",
	RunE:  runSettingsReset,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Reader]")
	executable := settings.Reader.Executable
	if executable == "" {
		executable = "(this binary)"
	}
	cmd.Printf("  Executable: %s\n", executable)
	cmd.Printf("  Args: %s\n", strings.Join(settings.Reader.Args, " "))
	cmd.Printf("  Connect timeout: %s\n", settings.Reader.ConnectTimeout)
	cmd.Printf("  Initialize attempts: %d (every %s)\n", settings.Reader.InitializeAttempts, settings.Reader.RetryInterval)
	if settings.Reader.Ports.IsZero() {
		cmd.Println("  Ports: any")
	} else {
		cmd.Printf("  Ports: %s\n", settings.Reader.Ports)
	}
	cmd.Println()

	cmd.Println("[Store]")
	cmd.Printf("  Driver: %s\n", settings.Store.Driver)
	if settings.Store.Driver == domain.StoreDriverSQLite {
		dir := settings.Store.DataDir
		if dir == "" {
			dir = "(config directory)"
		}
		cmd.Printf("  Data dir: %s\n", dir)
	}
	cmd.Println()

	cmd.Println("[Sync]")
	cmd.Printf("  Orphans: %s\n", settings.Sync.Orphans)
	cmd.Println()

	cmd.Println("[Read-back]")
	if settings.ReadBack.RateLimit > 0 {
		cmd.Printf("  Rate limit: %g/s (burst %d)\n", settings.ReadBack.RateLimit, settings.ReadBack.Burst)
	} else {
		cmd.Println("  Rate limit: none")
	}
	cmd.Println()

	cmd.Printf("Environment prefix: %s\n", settings.EnvPrefix)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	if err := settingsService.Set(args[0], args[1]); err != nil {
		return fmt.Errorf("failed to set %s: %w", args[0], err)
	}
	cmd.Printf("%s = %s\n", args[0], args[1])
	return nil
}

func runSettingsReset(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}
	defaults := settingsService.GetDefaults()
	if err := settingsService.Save(&defaults); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}
	cmd.Println("Settings restored to defaults.")
	return nil
}
