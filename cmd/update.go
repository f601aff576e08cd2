package cmd

import (
	"llmn/internal/cli"
	"llmn/internal/services"

	"github.com/spf13/cobra"
)

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Pull and rebuild the images of the enabled services",
		Long: `Refresh repository checkouts, pull the latest images and rebuild local
images without cache for every enabled service.

Restart the stack afterwards to use the new images.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd, cli.OutputFormatTable)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			prep := a.reg.PrepareEnv(ctx, services.PrepareOptions{Pull: true})
			if err := report(a.printer, prep); err != nil {
				return err
			}
			res := a.orch.UpdateAll(ctx, services.UpdateOptions{})
			if err := report(a.printer, res); err != nil {
				return err
			}
			a.printer.Success("Services updated. Run `llmn restart` to use the new images.")
			return nil
		},
	}
}
