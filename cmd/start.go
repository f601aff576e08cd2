package cmd

import (
	"sync"

	"llmn/internal/cli"
	"llmn/internal/orchestrator"
	"llmn/internal/services"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

type startOptions struct {
	build  bool
	noKeys bool
}

func newStartCmd() *cobra.Command {
	opts := &startOptions{}
	cmd := &cobra.Command{
		Use:   "start [service]",
		Short: "Start the enabled services",
		Long: `Start every enabled service, group by group, or a single service.

Services in the same group start concurrently. When a group fails, the
following groups are not started. Dashboards and internal endpoints of the
started services are printed at the end.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.build, "build", false, "Build images before starting")
	cmd.Flags().BoolVar(&opts.noKeys, "nokeys", false, "Hide credentials in the endpoint list")
	return cmd
}

func runStart(cmd *cobra.Command, args []string, opts *startOptions) error {
	a, err := loadApp(cmd, cli.OutputFormatTable)
	if err != nil {
		return err
	}
	if err := a.requireInitialized(); err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	stopEvents := a.followEvents()
	startOpts := services.StartOptions{Build: opts.build}

	var started []*services.Service
	if len(args) == 1 {
		res := a.orch.StartService(ctx, args[0], startOpts)
		stopEvents()
		if err := report(a.printer, res); err != nil {
			return err
		}
		if !res.Data {
			return nil
		}
		started = append(started, a.reg.Lookup(args[0]))
	} else {
		res := a.orch.StartAll(ctx, startOpts)
		stopEvents()
		if err := report(a.printer, res); err != nil {
			return err
		}
		for _, oc := range res.Data {
			if oc.Result.Data {
				started = append(started, a.reg.GetServiceByID(oc.ServiceID))
			}
		}
	}

	return a.printEndpoints(started, !opts.noKeys)
}

// followEvents prints a line for every service operation while a command
// runs. The returned function stops following after draining queued events.
func (a *app) followEvents() func() {
	events := a.orch.SubscribeToStateChanges()
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-events:
				a.printEvent(ev)
			case <-done:
				for {
					select {
					case ev := <-events:
						a.printEvent(ev)
					default:
						return
					}
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (a *app) printEvent(ev orchestrator.ServiceStateChangedEvent) {
	if ev.Success {
		a.printer.Info("  %s %s %s", text.FgGreen.Sprint("✔"), ev.ServiceID, ev.Operation)
		return
	}
	a.printer.Info("  %s %s %s failed", text.FgRed.Sprint("✖"), ev.ServiceID, ev.Operation)
}

func (a *app) printEndpoints(list []*services.Service, showCredentials bool) error {
	var host, internal []services.Endpoint
	for _, s := range list {
		if s == nil {
			continue
		}
		h, err := s.Endpoints(services.ScopeHost)
		if err != nil {
			return err
		}
		host = append(host, h...)
		in, err := s.Endpoints(services.ScopeInternal)
		if err != nil {
			return err
		}
		internal = append(internal, in...)
	}
	if len(host)+len(internal) == 0 {
		return nil
	}
	a.printer.Info("")
	if err := a.printer.Endpoints("Dashboards", host, showCredentials); err != nil {
		return err
	}
	return a.printer.Endpoints("Internal endpoints", internal, showCredentials)
}
