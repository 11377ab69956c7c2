package migrate

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ms-validation/internal/cli/bootstrap"
	"ms-validation/internal/database"
	"ms-validation/internal/database/migrations"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tools",
		Long:  `Apply, roll back or inspect the embedded validation schema migrations.`,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Run all pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(cmd.Context(), func(r *migrations.Runner) error {
					return r.MigrateUp()
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back all migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(cmd.Context(), func(r *migrations.Runner) error {
					return r.MigrateDown()
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show the applied schema version",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withRunner(cmd.Context(), func(r *migrations.Runner) error {
					version, dirty, err := r.Version()
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "version: %d\ndirty: %t\n", version, dirty)
					return nil
				})
			},
		},
	)

	return cmd
}

func withRunner(ctx context.Context, fn func(r *migrations.Runner) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, log := bootstrap.Load("validation-migrate")
	defer log.Close()

	bunDB, err := database.ConnectPostgres(ctx, cfg.Database, log)
	if err != nil {
		return err
	}

	// the runner owns the pool from here
	runner := migrations.NewRunner(bunDB.DB, log)
	defer runner.Close()

	return fn(runner)
}
