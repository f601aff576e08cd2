package cmd

import (
	"os"
	"path/filepath"

	"llmn/internal/cli"
	"llmn/internal/config"
	"llmn/internal/wizard"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type initOptions struct {
	name       string
	accessible bool
}

func newInitCmd() *cobra.Command {
	opts := &initOptions{}
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a project",
		Long: `Create the project record and the env file, then run the one-time setup of
every enabled service: database schemas and generated secrets.

Running init again keeps existing secrets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.name, "name", "", "Project name (prompted when empty)")
	cmd.Flags().BoolVar(&opts.accessible, "accessible", false, "Use plain line prompts instead of the interactive form")
	return cmd
}

func runInit(cmd *cobra.Command, opts *initOptions) error {
	cfg, err := config.LoadConfig(viper.GetString("config"))
	if err != nil {
		return err
	}

	name := opts.name
	if name == "" && !cfg.Exists() {
		name, err = wizard.HuhPrompter{Accessible: opts.accessible}.Input(
			"Project name",
			filepath.Base(cfg.Root()),
			func(s string) error {
				if s == "" {
					return nil
				}
				return config.ValidateProjectName(s)
			},
		)
		if err != nil {
			return err
		}
		if name == "" {
			name = filepath.Base(cfg.Root())
		}
	}
	if name != "" {
		if err := config.ValidateProjectName(name); err != nil {
			return err
		}
		cfg.ProjectName = name
	}
	if err := cfg.Save(); err != nil {
		return err
	}

	a, err := loadApp(cmd, cli.OutputFormatTable)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	example := a.cfg.EnvExamplePath()
	if _, err := os.Stat(example); err == nil {
		created, err := a.env.CreateFromExample(example)
		if err != nil {
			return err
		}
		if created {
			a.printer.Info("Created %s from %s", a.env.Path(), filepath.Base(example))
		}
	} else {
		a.printer.Info("No %s found, starting with an empty env file", filepath.Base(example))
	}

	res := a.orch.InitAll(ctx)
	if err := report(a.printer, res); err != nil {
		return err
	}

	a.cfg.Initialized = true
	if err := a.persist(); err != nil {
		return err
	}
	a.printer.Success("Project %s initialized", a.cfg.ProjectName)
	return nil
}
