package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/suPer8Hu/orion-chat/internal/ratelimit"
)

func newUsageCmd() *cobra.Command {
	var (
		day   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show anonymous question usage per IP for one day",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now().UTC()
			if day != "" {
				t, err := time.Parse("2006-01-02", day)
				if err != nil {
					return fmt.Errorf("invalid --day %q, want YYYY-MM-DD", day)
				}
				when = t
			}

			lim := ratelimit.NewSQLLimiter(pool.DB(), cfg.AnonymousDailyLimit)
			rows, err := lim.Usage(cmd.Context(), when, limit)
			if err != nil {
				return fmt.Errorf("load usage: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "IP\tQUESTIONS\tREMAINING")
			for _, r := range rows {
				left := cfg.AnonymousDailyLimit - r.RequestCount
				if left < 0 {
					left = 0
				}
				fmt.Fprintf(w, "%s\t%d\t%d\n", r.IPAddress, r.RequestCount, left)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "UTC day as YYYY-MM-DD (defaults to today)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}
