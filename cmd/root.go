package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "llmn",
	Short: "Configure and run a local AI agent stack",
	Long: `llmn manages a local stack of AI services (workflow engines, databases,
vector stores, LLM gateways, observability) composed with docker compose.

Each service is described by a service.yaml file. llmn tracks which services
are enabled, pulls in the dependencies they need and starts them group by
group.`,
	// SilenceUsage is set to true to prevent printing usage message on errors
	// handled by us (e.g. a service failing to start)
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { logging.Close() },
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "llmn version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		logging.Close()
		os.Exit(1)
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := errors.FlattenHints(err); hint != "" {
		fmt.Fprintf(w, "Hint: %s\n", hint)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "project config file (default is ./.llmn/config.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug output")
	rootCmd.PersistentFlags().String("log-file", "", "Also write debug logs to this file (rotated)")
	for _, name := range []string{"config", "debug", "log-file"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSelfUpdateCmd())
	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newRestartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newConfigureCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newVersionsCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newEnvCmd())
	rootCmd.AddCommand(newMCPCmd())
}

func initConfig() {
	viper.SetEnvPrefix("LLMN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// initLogging sends warnings to stderr, or everything with --debug.
func initLogging(cmd *cobra.Command, args []string) error {
	level := logging.LevelWarn
	if viper.GetBool("debug") {
		level = logging.LevelDebug
	}
	logging.InitWithFile(level, cmd.ErrOrStderr(), logging.FileOptions{Path: viper.GetString("log-file")})
	return nil
}
