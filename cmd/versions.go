package cmd

import (
	"context"
	"slices"

	"llmn/internal/cli"
	"llmn/internal/compose"
	"llmn/internal/services"
	"llmn/pkg/logging"

	"github.com/spf13/cobra"
)

func newVersionsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List image and application versions of the enabled services",
		Long: `List, for every enabled service, the images declared in its compose file
and the application version reported by its app_version_cmd.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := cli.ParseFormat(output)
			if err != nil {
				return err
			}
			a, err := loadApp(cmd, format)
			if err != nil {
				return err
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()

			var rows []cli.VersionRow
			for _, s := range a.reg.EnabledServices() {
				r, err := versionRows(ctx, a.compose, s)
				if err != nil {
					return err
				}
				rows = append(rows, r...)
			}
			return a.printer.Versions(rows)
		},
	}
	outputFlag(cmd, &output)
	return cmd
}

// versionUnavailable is shown for a floating tag whose image has no version
// label.
const versionUnavailable = "N/A"

// imageInspector reads version labels of local images.
type imageInspector interface {
	InspectVersion(ctx context.Context, image string) (string, error)
}

// versionRows lists the compose images of s. The app version is attached to
// the primary container's row.
func versionRows(ctx context.Context, inspect imageInspector, s *services.Service) ([]cli.VersionRow, error) {
	env, err := s.ComposeEnv(nil)
	if err != nil {
		return nil, err
	}
	images, err := compose.Images(ctx, s.Descriptor().ComposeFile(), env)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(images))
	for _, img := range images {
		names = append(names, img.Service)
	}
	for _, c := range s.Descriptor().Containers() {
		if !slices.Contains(names, c) {
			logging.Warn("CLI", "%s provides container %s, which its compose file does not define", s.ID(), c)
		}
	}

	appVersion, err := s.AppVersion(ctx)
	if err != nil {
		logging.Warn("CLI", "Could not read the app version of %s: %v", s.ID(), err)
	}
	primary := s.Descriptor().PrimaryContainer()
	if primary == "" {
		primary = s.ServiceName()
	}

	rows := make([]cli.VersionRow, 0, len(images))
	for _, img := range images {
		row := cli.VersionRow{
			Service:   s.Name(),
			Container: img.ContainerName,
			Build:     img.Build,
		}
		if img.Image != "" {
			row.Image, row.Version = imageVersion(ctx, inspect, img.Image)
		}
		if img.Service == primary {
			row.AppVersion = appVersion
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// imageVersion splits ref into image name and version. A floating tag is
// replaced by the image's version label, or versionUnavailable without one.
// When the image cannot be inspected the tag is kept.
func imageVersion(ctx context.Context, inspect imageInspector, ref string) (string, string) {
	name, tag := compose.SplitImage(ref)
	if !compose.FloatingTag(tag) {
		return name, tag
	}
	v, err := inspect.InspectVersion(ctx, ref)
	if err != nil {
		logging.Debug("CLI", "Could not inspect image %s: %v", ref, err)
		return name, tag
	}
	if v == "" {
		return name, versionUnavailable
	}
	return name, v
}
