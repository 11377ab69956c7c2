package main

import (
	"os"

	"github.com/spf13/cobra"

	"ms-validation/internal/cli/migrate"
	"ms-validation/internal/cli/qr"
	"ms-validation/internal/cli/server"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "validation-service",
		Short: "Ticket validation service",
		Long:  `Validates event tickets at the door, reconciles offline scans and manages the validation schema.`,
	}

	rootCmd.AddCommand(
		server.NewCommand(),
		migrate.NewCommand(),
		qr.NewCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
