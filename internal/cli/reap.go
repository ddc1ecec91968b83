package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/orion-chat/internal/chat"
)

func newReapCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "reap-turns",
		Short: "Mark turns stuck in running as failed",
		Long: `Mark turns that have been running for longer than --older-than as failed.

Turns stay running when the process dies between the start and the
completion write. The worker runs the same sweep on a schedule.

Examples:
  orionctl reap-turns
  orionctl reap-turns --older-than 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				olderThan = cfg.TurnStaleAfter
			}
			n, err := chat.NewRepo(pool.DB()).ReapStaleTurns(cmd.Context(), olderThan)
			if err != nil {
				return fmt.Errorf("reap turns: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d turns older than %s\n", n, olderThan)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "age after which a running turn is stale (defaults to TURN_STALE_AFTER)")
	return cmd
}
