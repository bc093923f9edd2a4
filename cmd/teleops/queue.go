package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/database"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/dispatch"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/pipeline"
	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/repository"
)

func (a *app) connect(ctx context.Context) (*pgxpool.Pool, error) {
	if err := a.cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	pool, err := database.Connect(ctx, a.cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

func (a *app) withIntake(ctx context.Context, fn func(*pipeline.Intake) error) error {
	pool, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	intake, err := pipeline.NewIntake(
		dispatch.NewPostgresStore(pool).WithMaxAttempts(a.cfg.Pipeline.MaxAttempts),
		repository.NewMediaRepository(pool),
		a.logg,
	)
	if err != nil {
		return err
	}
	return fn(intake)
}

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Operate the server-side annotation queue",
	}
	cmd.AddCommand(
		newQueueEnqueueCmd(a),
		newQueueStatsCmd(a),
		newQueueRetryCmd(a),
	)
	return cmd
}

func newQueueEnqueueCmd(a *app) *cobra.Command {
	var priority int
	cmd := &cobra.Command{
		Use:   "enqueue <media-id>",
		Short: "Queue (or requeue) a media item for annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withIntake(cmd.Context(), func(in *pipeline.Intake) error {
				if err := in.Enqueue(cmd.Context(), args[0], priority); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&priority, "priority", 0, "Higher runs sooner")
	return cmd
}

func newQueueStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count queue rows by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withIntake(cmd.Context(), func(in *pipeline.Intake) error {
				stats, err := in.Stats(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			})
		},
	}
}

func newQueueRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed",
		Short: "Reset failed rows to queued with zero attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withIntake(cmd.Context(), func(in *pipeline.Intake) error {
				n, err := in.RetryFailed(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d failed rows\n", n)
				return nil
			})
		},
	}
}

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|version]",
		Short:     "Run database migrations (defaults to up)",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "down", "status", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			command := "up"
			if len(args) == 1 {
				command = args[0]
			}
			pool, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Run(cmd.Context(), pool, command)
		},
	}
}
