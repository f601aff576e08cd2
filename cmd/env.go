package cmd

import (
	"fmt"

	"llmn/internal/config"
	"llmn/internal/envfile"

	"github.com/atotto/clipboard"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newEnvCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Read values from the project env file",
	}

	var copyValue bool
	get := &cobra.Command{
		Use:   "get <KEY>",
		Short: "Print one env file value",
		Long: `Print the value of KEY from the project env file.

With --copy the value is put on the clipboard instead of being printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(viper.GetString("config"))
			if err != nil {
				return err
			}
			store := envfile.New(cfg.EnvFilePath())
			value, ok, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errors.WithHint(
					errors.Newf("%s is not set in %s", args[0], store.Path()),
					"Run `llmn init` to generate missing values.",
				)
			}
			if copyValue {
				if err := clipboard.WriteAll(value); err != nil {
					return errors.Wrap(err, "failed to copy to clipboard")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s copied to clipboard\n", args[0])
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
	get.Flags().BoolVarP(&copyValue, "copy", "c", false, "Copy the value to the clipboard")
	cmd.AddCommand(get)
	return cmd
}
