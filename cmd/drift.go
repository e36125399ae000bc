package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/cita-sniper/internal/clocksync"
)

func newDriftCmd(opts *rootOptions) *cobra.Command {
	var samples int

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Measure the offset between the local and the server clock",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}
			if err := e.session.Init(cmd.Context()); err != nil {
				return err
			}
			if samples < 1 {
				samples = cfg.Timing.DriftSamples
			}
			raw, err := e.meter.MeasureOffset(cmd.Context(), samples)
			if err != nil {
				return err
			}
			clamped := clocksync.Clamp(raw, cfg.Timing.MaxOffset)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "server - local: %+.1f ms\n", float64(raw.Microseconds())/1000)
			fmt.Fprintf(out, "applied correction: %+.3f s (bound ±%s)\n", -clamped.Seconds(), cfg.Timing.MaxOffset)
			return nil
		},
	}
	cmd.Flags().IntVarP(&samples, "samples", "n", 0, "round trips to average (default from config)")
	return cmd
}
