package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/example/cita-sniper/internal/domain/reservation"
)

func newTimesCmd(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "times",
		Short: "Open a session and print the times currently open",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if date != "" {
				cfg.Date = date
			}
			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}
			if err := e.session.Init(cmd.Context()); err != nil {
				return err
			}
			times, err := e.poller.List(cmd.Context(), cfg.Date)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(times) == 0 {
				fmt.Fprintf(out, "%s: no open times\n", cfg.Date)
				return nil
			}
			fmt.Fprintf(out, "%s: %d open times: %s\n", cfg.Date, len(times), reservation.Sample(times, 20))
			if cfg.Time != "" {
				fmt.Fprintf(out, "preferred %s listed: %t\n", cfg.Time, slices.Contains(times, cfg.Time))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "date YYYY-MM-DD (overrides config)")
	return cmd
}
