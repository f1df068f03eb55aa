package main

import (
	"fmt"

	"github.com/spf13/cobra"

	config "profiler/configs"
	"profiler/pkg/executor"
	"profiler/pkg/logger"
)

type globalOptions struct {
	storage string
	output  string
	verbose bool
}

func newRootCommand() *cobra.Command {
	var opts globalOptions

	root := &cobra.Command{
		Use:           "profctl",
		Short:         "Run commands under the profiler",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			_, err := logger.Init(logger.Config{Level: level, Encoding: "console", OutputPath: "stderr", Service: "profctl"})
			return err
		},
	}

	root.PersistentFlags().StringVar(&opts.storage, "storage", "", "profile store backend (postgres|memory), overrides STORAGE_BACKEND")
	root.PersistentFlags().StringVar(&opts.output, "output-backend", "", "output backend (s3|local|none), overrides OUTPUT_BACKEND")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on stderr")

	root.AddCommand(
		newRunCommand(&opts),
		newSchedulesCommand(),
		newWatchCommand(),
		newTokenCommand(),
		newKeysCommand(),
		newVersionCommand(),
	)
	return root
}

// loadConfig reads the environment and applies flag overrides.
func (o *globalOptions) loadConfig() *config.Config {
	cfg := config.LoadConfig()
	if o.storage != "" {
		cfg.StorageBackend = o.storage
	}
	switch o.output {
	case "":
	case "none":
		cfg.OutputBackend = ""
	default:
		cfg.OutputBackend = o.output
	}
	return cfg
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "profctl", executor.Version)
		},
	}
}
