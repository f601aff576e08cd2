package cmd

import (
	"llmn/internal/cli"
	"llmn/internal/services"

	"github.com/spf13/cobra"
)

func newStopCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "stop [service]",
		Short: "Stop services",
		Long: `Stop a single service or, without arguments or with --all, the whole stack.

Groups are stopped in reverse start order. Services that are already stopped
are not an error.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, cli.OutputFormatTable)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			stopEvents := a.followEvents()
			if len(args) == 1 && !all {
				res := a.orch.StopService(ctx, args[0], services.StopOptions{})
				stopEvents()
				return report(a.printer, res)
			}
			res := a.orch.StopAll(ctx, services.StopOptions{})
			stopEvents()
			if err := report(a.printer, res); err != nil {
				return err
			}
			a.printer.Success("All services stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Stop every service")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var build bool
	cmd := &cobra.Command{
		Use:   "restart [service]",
		Short: "Stop the stack and start it again",
		Long: `Stop every service, then start the enabled stack or a single service.

The start only begins once every service has stopped, and is skipped when
stopping failed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, cli.OutputFormatTable)
			if err != nil {
				return err
			}
			if err := a.requireInitialized(); err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			ref := ""
			if len(args) == 1 {
				ref = args[0]
			}
			stopEvents := a.followEvents()
			res := a.orch.Restart(ctx, ref, services.StartOptions{Build: build})
			stopEvents()
			if err := report(a.printer, res); err != nil {
				return err
			}
			if !res.Data {
				return nil
			}
			if ref == "" {
				return a.printEndpoints(a.reg.EnabledServices(), true)
			}
			return a.printEndpoints([]*services.Service{a.reg.Lookup(ref)}, true)
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "Build images before starting")
	return cmd
}
