package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/orion-chat/internal/models"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update every table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all := models.All()
			if err := pool.Migrate(all...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables\n", len(all))
			return nil
		},
	}
}
