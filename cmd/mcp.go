package cmd

import (
	"llmn/internal/api/tools"
	"llmn/internal/cli"
	"llmn/pkg/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the stack as MCP tools over stdio",
		Long: `Run an MCP server on stdin/stdout so AI assistants can list, inspect,
start, stop and restart the services of this project.

Point your MCP client at "llmn mcp" started in the project directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; keep logs off the console.
			logging.InitWithFile(logging.LevelDebug, nil, logging.FileOptions{Path: viper.GetString("log-file")})

			a, err := loadApp(cmd, cli.OutputFormatJSON)
			if err != nil {
				return err
			}
			return tools.ServeStdio(rootCmd.Version, tools.NewAPITools(a.orch))
		},
	}
}
