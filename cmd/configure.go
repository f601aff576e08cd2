package cmd

import (
	"llmn/internal/cli"
	"llmn/internal/wizard"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newConfigureCmd() *cobra.Command {
	var accessible bool
	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Choose which services to enable",
		Long: `Walk through the service groups, apps first, and enable, disable or
auto-enable each service. Auto services only start when an enabled service
depends on them. Changes are saved as you go.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, cli.OutputFormatTable)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			w := wizard.New(a.reg, wizard.HuhPrompter{Accessible: accessible}, a.persist, cmd.OutOrStdout())
			if err := w.Run(ctx); err != nil {
				if errors.Is(err, wizard.ErrAborted) {
					a.printer.Info("Configuration cancelled; changes made so far were saved.")
					return nil
				}
				return err
			}
			a.printer.Success("Configuration saved to %s", a.cfg.Path())
			return nil
		},
	}
	cmd.Flags().BoolVar(&accessible, "accessible", false, "Use plain line prompts instead of the interactive form")
	return cmd
}
