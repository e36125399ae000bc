package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/cita-sniper/internal/scheduler"
)

func newBoundariesCmd(opts *rootOptions) *cobra.Command {
	var (
		count int
		local bool
	)

	cmd := &cobra.Command{
		Use:   "boundaries",
		Short: "List the next release boundaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := opts.load(cmd)
			if err != nil {
				return err
			}
			e, err := newEngine(cfg, log)
			if err != nil {
				return err
			}

			now := time.Now()
			if !local {
				srv, err := serverNow(cmd, e)
				if err == nil {
					now = srv
				} else {
					log.Warn("server time unavailable, using local clock", "error", err)
				}
			}

			out := cmd.OutOrStdout()
			bs := scheduler.Take(e.scheduler.Window.Boundaries(now), count)
			if len(bs) == 0 {
				fmt.Fprintln(out, "no release boundaries in range")
				return nil
			}
			for _, b := range bs {
				fmt.Fprintf(out, "%s  %s\n", b.Format("Mon 2006-01-02 15:04:05.000 MST"), b.Sub(now).Round(time.Second))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of boundaries")
	cmd.Flags().BoolVar(&local, "local", false, "use the local clock instead of the server's")
	return cmd
}

func serverNow(cmd *cobra.Command, e *engine) (time.Time, error) {
	if err := e.session.Init(cmd.Context()); err != nil {
		return time.Time{}, err
	}
	return e.client.ServerTime(cmd.Context())
}
