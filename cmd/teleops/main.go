package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/config"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "teleops: %v\n", err)
		os.Exit(1)
	}
}

// app is shared by every subcommand once the root has loaded config.
type app struct {
	cfg  *config.Config
	logg *logging.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}
	var dataDir string
	cmd := &cobra.Command{
		Use:   "teleops",
		Short: "Teleoperation video CLI",
		Long: `teleops manages the on-device upload queue of recorded videos and, for operators,
the server-side annotation queue and database schema.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if dataDir != "" {
				cfg.Device.DataDir = dataDir
			}
			a.cfg = cfg
			a.logg = logging.New(logging.Options{
				Service: "teleops-cli",
				Level:   cfg.App.LogLevel,
				Format:  "console",
				Output:  cmd.ErrOrStderr(),
			})
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Device data directory (overrides TELEOPS_DEVICE_DATA_DIR)")
	cmd.AddCommand(
		newUploadsCmd(a),
		newQueueCmd(a),
		newMigrateCmd(a),
	)
	return cmd
}
