package cmd

import (
	"context"
	"time"

	"llmn/internal/cli"
	"llmn/internal/postgres"
	"llmn/internal/services"
	"llmn/internal/wizard"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

type schemaOptions struct {
	yes    bool
	output string
}

func newSchemaCmd() *cobra.Command {
	opts := &schemaOptions{}
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage per-service postgres schemas",
		Long: `Create or remove the postgres schema and role of a service.

Each service gets a schema and a role named service_<name>. The postgres
provider is started first when it is not running.`,
	}
	cmd.PersistentFlags().BoolVarP(&opts.yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format (table, json, yaml)")

	cmd.AddCommand(&cobra.Command{
		Use:   "create <service>",
		Short: "Create the schema and role of a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, args[0], opts, false)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <service>",
		Short: "Drop the schema and role of a service, with all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(cmd, args[0], opts, true)
		},
	})
	return cmd
}

func runSchema(cmd *cobra.Command, ref string, opts *schemaOptions, remove bool) error {
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

	s := a.reg.Lookup(ref)
	if s == nil {
		return errors.WithHint(errors.Newf("unknown service %q", ref), "Run `llmn status` to list the services.")
	}
	prompt := wizard.HuhPrompter{}

	if remove && !opts.yes {
		ok, err := prompt.Confirm("Remove schema "+postgres.SchemaName(s.ServiceName())+" and all its data?", false)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
	}

	if err := a.ensureProvider(ctx, "postgres", opts.yes, prompt); err != nil {
		return err
	}

	env, err := a.env.Load()
	if err != nil {
		return err
	}
	client := postgres.NewClient(postgres.ConfigFromEnv(env))

	var creds postgres.Credentials
	if remove {
		creds, err = client.RemoveSchema(ctx, s.ServiceName())
	} else {
		creds, err = client.CreateSchema(ctx, s.ServiceName())
	}
	if err != nil {
		return errors.Mark(err, services.ErrConnectivity)
	}

	if format != cli.OutputFormatTable {
		return a.printer.Data(creds)
	}
	if remove {
		a.printer.Success("Removed schema %s", creds.Schema)
		return nil
	}
	a.printer.Success("Created schema %s", creds.Schema)
	a.printer.Info("  Username: %s", creds.Username)
	a.printer.Info("  Password: %s", creds.Password)
	a.printer.Info("  Database: %s", creds.Database)
	return nil
}

// ensureProvider starts the provider of capability after confirmation and
// waits for it to come up.
func (a *app) ensureProvider(ctx context.Context, capability string, yes bool, prompt wizard.HuhPrompter) error {
	provider := a.reg.GetServiceByProvides(capability)
	if provider == nil {
		return errors.WithHint(
			errors.Mark(errors.Newf("no service provides %s", capability), services.ErrUnresolvedDependency),
			"Enable a "+capability+" service with `llmn configure`.",
		)
	}
	if provider.IsRunning(ctx) {
		return nil
	}

	if !yes {
		start, err := prompt.Confirm(provider.Name()+" is not running. Start it now?", true)
		if err != nil {
			return err
		}
		if !start {
			return errors.Newf("%s is not running", provider.Name())
		}
	}

	res := provider.Start(ctx, services.StartOptions{})
	if err := report(a.printer, res); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(services.ProviderGracePeriod):
		return nil
	}
}
