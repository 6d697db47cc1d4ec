// migrate runs DB migrations from embedded SQL.
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"vidstream/backend/internal/config"
	"vidstream/backend/internal/db/migrate"
	"vidstream/backend/internal/logging"
)

func main() {
	log := logging.New("vidstream-migrate", "info", "text", os.Stderr)
	if err := newRootCmd().Execute(); err != nil {
		log.Error(context.Background(), "migrate failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "migrate",
		Short:         "Apply or roll back the embedded database migrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(directionCmd("up", "Apply all pending migrations"))
	root.AddCommand(directionCmd("down", "Roll back all migrations"))
	return root
}

func directionCmd(direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return migrate.Run(cfg.DatabaseURL, direction)
		},
	}
}
