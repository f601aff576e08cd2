package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"
)

const githubRepoSlug = "llemonstack/llmn"

func newSelfUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "self-update",
		Short: "Update llmn to the latest version",
		Long: `Checks for the latest release of llmn on GitHub and replaces the running
binary when a newer version is available.`,
		Args: cobra.NoArgs,
		RunE: runSelfUpdate,
	}
}

func runSelfUpdate(cmd *cobra.Command, args []string) error {
	current := rootCmd.Version
	if current == "" || current == "dev" {
		return errors.WithHint(
			errors.New("cannot self-update a development version"),
			"Install a released build to use self-update.",
		)
	}

	ctx := context.Background()
	var out io.Writer = os.Stdout
	if cmd != nil {
		if cmd.Context() != nil {
			ctx = cmd.Context()
		}
		out = cmd.OutOrStdout()
	}

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug(githubRepoSlug))
	if err != nil {
		return errors.Wrap(err, "failed to check for the latest release")
	}
	if !found {
		return errors.Newf("no release found for %s", githubRepoSlug)
	}
	if latest.LessOrEqual(current) {
		fmt.Fprintf(out, "llmn %s is up to date\n", current)
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return errors.Wrap(err, "could not locate the executable path")
	}
	logging.Info("SelfUpdate", "Updating %s from %s to %s", exe, current, latest.Version())
	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return errors.Wrap(err, "failed to update binary")
	}
	fmt.Fprintf(out, "Updated llmn to %s\n", latest.Version())
	return nil
}
