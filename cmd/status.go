package cmd

import (
	"time"

	"llmn/internal/cli"
	"llmn/internal/tui"
	"llmn/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type statusOptions struct {
	output   string
	watch    bool
	interval time.Duration
}

func newStatusCmd() *cobra.Command {
	opts := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every service",
		Long: `Show every service with its group, configured mode, effective enablement
and container status.

With --watch the table refreshes until you press q.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}
	outputFlag(cmd, &opts.output)
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Refresh the status continuously")
	cmd.Flags().DurationVar(&opts.interval, "interval", tui.DefaultInterval, "Refresh interval for --watch")
	return cmd
}

func runStatus(cmd *cobra.Command, opts *statusOptions) error {
	format, err := cli.ParseFormat(opts.output)
	if err != nil {
		return err
	}
	a, err := loadApp(cmd, format)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	source := tui.RegistrySource(a.reg)
	if opts.watch {
		// Console logs would tear the screen; only the file sink stays.
		logging.InitWithFile(logging.LevelDebug, nil, logging.FileOptions{Path: viper.GetString("log-file")})
		return tui.Run(ctx, "llmn · "+a.cfg.ProjectName, source, opts.interval)
	}

	rows, err := source(ctx)
	if err != nil {
		return err
	}
	return a.printer.Services(rows)
}
