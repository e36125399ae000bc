package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var date, at string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Wait for the release windows and book the first slot that opens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if date != "" {
				cfg.Date = date
			}
			if cmd.Flags().Changed("time") {
				cfg.Time = at
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}
			log.Info("starting", "date", cfg.Date, "preferred", cfg.Time, "branch", cfg.BranchID, "service", cfg.ServiceID)

			conf, err := e.loop.Run(ctx)
			if errors.Is(err, context.Canceled) {
				log.Info("interrupted")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "booked %s %s: reference %s (%s)\n", cfg.Date, conf.Time, conf.Reference, conf.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "appointment date YYYY-MM-DD (overrides config)")
	cmd.Flags().StringVar(&at, "time", "", "preferred time HH:MM (overrides config)")
	return cmd
}
