package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/cita-sniper/internal/config"
	"github.com/example/cita-sniper/internal/logger"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// rootOptions holds the global flags.
type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

func (o *rootOptions) load(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	log := logger.New(cmd.ErrOrStderr(), o.Verbose)
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "citasniper",
		Short:         "Books a Qmatic appointment the moment its release window opens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newDriftCmd(opts))
	root.AddCommand(newTimesCmd(opts))
	root.AddCommand(newBoundariesCmd(opts))

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
