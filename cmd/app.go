package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"llmn/internal/cli"
	"llmn/internal/compose"
	"llmn/internal/config"
	"llmn/internal/descriptor"
	"llmn/internal/enablement"
	"llmn/internal/envfile"
	"llmn/internal/orchestrator"
	"llmn/internal/postgres"
	"llmn/internal/prepare"
	"llmn/internal/process"
	"llmn/internal/registry"
	"llmn/internal/secrets"
	"llmn/internal/services"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app bundles everything a command needs to work on the stack.
type app struct {
	cfg     *config.Config
	env     *envfile.Store
	compose *compose.Runner
	reg     *registry.Registry
	orch    *orchestrator.Orchestrator
	printer *cli.Printer
}

// loadApp loads the project config and service descriptors and builds the
// registry. format selects the printer output.
func loadApp(cmd *cobra.Command, format cli.OutputFormat) (*app, error) {
	cfg, err := config.LoadConfig(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := cfg.LogLevel(); lvl != "" && !viper.GetBool("debug") {
		logging.InitWithFile(logging.ParseLevel(lvl), cmd.ErrOrStderr(), logging.FileOptions{Path: viper.GetString("log-file")})
	}

	descs, err := descriptor.Load(cfg.ServicesDir())
	if err != nil {
		return nil, errors.WithHint(err, "Check the service.yaml files in "+cfg.ServicesDir())
	}

	proc := process.NewExec()
	runner := compose.NewRunner(cfg.Tool(), proc)
	env := envfile.New(cfg.EnvFilePath())

	modes := make(map[string]enablement.Mode, len(cfg.Services))
	profiles := make(map[string][]string, len(cfg.Services))
	for id := range cfg.Services {
		modes[id] = cfg.ServiceMode(id)
		profiles[id] = cfg.ServiceProfiles(id)
	}

	reg, err := registry.Build(descs, registry.Options{
		ProjectName: cfg.ProjectName,
		ProjectDir:  cfg.Root(),
		Groups:      cfg.Groups,
		External:    cfg.ExternalDependencies,
		Modes:       modes,
		Profiles:    profiles,
		Env:         env,
		Deps: services.Deps{
			Compose:    runner,
			Preparer:   prepare.New(cfg.ReposDir(), cfg.VolumesDir(), proc),
			Secrets:    secrets.Generator{},
			VolumesDir: cfg.VolumesDir(),
			Postgres:   func(vars map[string]string) services.SchemaClient {
				return postgres.NewClient(postgres.ConfigFromEnv(vars))
			},
		},
	})
	if err != nil {
		return nil, err
	}
	logging.Debug("CLI", "Loaded %d services for project %s", len(reg.Services()), cfg.ProjectName)

	return &app{
		cfg:     cfg,
		env:     env,
		compose: runner,
		reg:     reg,
		orch:    orchestrator.New(orchestrator.Config{Registry: reg, Prerequisites: runner}),
		printer: cli.NewPrinter(cmd.OutOrStdout(), format, viper.GetBool("debug")),
	}, nil
}

// requireInitialized refuses to run containers for a project that never went
// through `llmn init`.
func (a *app) requireInitialized() error {
	if a.cfg.Initialized {
		return nil
	}
	return errors.WithHint(
		errors.Newf("project %s is not initialized", a.cfg.ProjectName),
		"Run `llmn init` first.",
	)
}

// persist writes the explicit service settings back to the project record.
func (a *app) persist() error {
	for _, st := range a.reg.Settings() {
		a.cfg.SetService(st.ID, st.Mode, st.Profiles)
	}
	return a.cfg.Save()
}

// report prints result messages and turns a failed result into an error.
func report[T any](p *cli.Printer, res services.Result[T]) error {
	p.Messages(res.Messages)
	if !res.Success {
		if res.Err != nil {
			return res.Err
		}
		return errors.New("operation failed")
	}
	return nil
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func outputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", "table", "Output format (table, json, yaml)")
}
