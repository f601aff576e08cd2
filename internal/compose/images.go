package compose

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/compose-spec/compose-go/v2/cli"
	composetypes "github.com/compose-spec/compose-go/v2/types"
)

// ImageVersionLabel is the OCI label carrying an image's release version.
const ImageVersionLabel = "org.opencontainers.image.version"

// ServiceImage describes the image (or build) behind one compose service.
type ServiceImage struct {
	Service       string `json:"service" yaml:"service"`
	Image         string `json:"image,omitempty" yaml:"image,omitempty"`
	Build         string `json:"build,omitempty" yaml:"build,omitempty"`
	ContainerName string `json:"containerName" yaml:"containerName"`
}

// LoadProject parses a compose file, following include and extends, with
// every profile active. env feeds variable interpolation.
func LoadProject(ctx context.Context, composeFile string, env map[string]string) (*composetypes.Project, error) {
	opts, err := cli.NewProjectOptions(
		[]string{composeFile},
		cli.WithName(ProjectNameFor(composeFile)),
		cli.WithWorkingDirectory(filepath.Dir(composeFile)),
		cli.WithOsEnv,
		cli.WithEnv(envList(env)),
		cli.WithProfiles([]string{"*"}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "compose options for %s", composeFile)
	}

	project, err := cli.ProjectFromOptions(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load compose file %s", composeFile)
	}
	return project, nil
}

// Images lists the services of a compose file with their image or build
// context, sorted by service name.
func Images(ctx context.Context, composeFile string, env map[string]string) ([]ServiceImage, error) {
	project, err := LoadProject(ctx, composeFile, env)
	if err != nil {
		return nil, err
	}

	images := make([]ServiceImage, 0, len(project.Services))
	for _, svc := range project.Services {
		img := ServiceImage{
			Service:       svc.Name,
			Image:         svc.Image,
			ContainerName: svc.ContainerName,
		}
		if img.ContainerName == "" {
			img.ContainerName = svc.Name
		}
		if svc.Build != nil {
			dockerfile := svc.Build.Dockerfile
			if dockerfile == "" {
				dockerfile = "Dockerfile"
			}
			if svc.Build.DockerfileInline != "" {
				img.Build = "Inline Dockerfile"
			} else {
				img.Build = filepath.Join(svc.Build.Context, dockerfile)
			}
		}
		images = append(images, img)
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Service < images[j].Service })
	return images, nil
}

// ProjectNameFor derives a valid compose project name from a file path. It is
// only used while inspecting files; commands use the configured project name.
func ProjectNameFor(composeFile string) string {
	base := strings.ToLower(filepath.Base(filepath.Dir(composeFile)))
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}
	name := strings.TrimLeft(b.String(), "-_")
	if name == "" {
		return "llmn"
	}
	return name
}

// SplitImage splits an image reference into name and tag. A reference without
// a tag gets the implicit "latest". Digest references and unexpanded variables
// have no tag.
func SplitImage(ref string) (name, tag string) {
	if ref == "" || strings.HasPrefix(ref, "${") || strings.Contains(ref, "@") {
		return ref, ""
	}
	i := strings.LastIndex(ref, ":")
	if i < 0 || strings.Contains(ref[i+1:], "/") {
		return ref, "latest"
	}
	return ref[:i], ref[i+1:]
}

// FloatingTag reports whether tag follows a branch rather than a release, so
// the real version has to come from the image labels.
func FloatingTag(tag string) bool {
	t := strings.ToLower(tag)
	return strings.Contains(t, "latest") || strings.Contains(t, "main")
}
