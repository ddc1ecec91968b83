// Package cli provides the orionctl operator commands.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/orion-chat/internal/config"
	"github.com/suPer8Hu/orion-chat/internal/db"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	dsnFlag string

	cfg  config.Config
	pool *db.Pool
)

// NewRootCmd builds the command tree. Each call returns a fresh tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orionctl",
		Short:         "Operator tooling for the orion chat backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			cfg = config.Load()
			if dsnFlag != "" {
				cfg.DBDSN = dsnFlag
			}

			var err error
			pool, err = db.Open(db.Options{DSN: cfg.DBDSN, MaxConns: 2})
			if err != nil {
				return fmt.Errorf("connect to database: %w", err)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if pool == nil {
				return nil
			}
			err := pool.Close()
			pool = nil
			return err
		},
	}
	root.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "database DSN (defaults to DB_DSN)")

	root.AddCommand(newMigrateCmd(), newReapCmd(), newUsageCmd())
	return root
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}
