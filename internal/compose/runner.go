// Package compose drives the container tool's compose mechanism and inspects
// compose files.
package compose

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"llmn/internal/process"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
)

// DefaultTool is the container tool used when none is configured.
const DefaultTool = "docker"

// Options scope one compose invocation.
type Options struct {
	ProjectName string
	ComposeFile string
	Profiles    []string
	// Dir is the working directory of the tool; empty means the current one.
	Dir string
	// Env is appended to the process environment of the tool.
	Env map[string]string
}

// Result is the captured output of a successful invocation.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// ContainerStatus is one record of `compose ps`.
type ContainerStatus struct {
	Service string `json:"Service"`
	Name    string `json:"Name"`
	State   string `json:"State"`
	Health  string `json:"Health"`
}

// Runner issues compose commands through a process.Runner.
// It is safe for concurrent use.
type Runner struct {
	tool string
	proc process.Runner
}

// NewRunner creates a Runner for tool ("docker", "podman", "podman-compose",
// "docker-compose"). An empty tool selects DefaultTool.
func NewRunner(tool string, proc process.Runner) *Runner {
	if tool == "" {
		tool = DefaultTool
	}
	if proc == nil {
		proc = process.NewExec()
	}
	return &Runner{tool: tool, proc: proc}
}

// Tool returns the configured container tool binary.
func (r *Runner) Tool() string { return r.tool }

// Up runs `up -d`, adding --build when build is set.
func (r *Runner) Up(ctx context.Context, opts Options, build bool) (Result, error) {
	args := []string{"-d"}
	if build {
		args = append(args, "--build")
	}
	return r.run(ctx, opts, "up", args...)
}

// Down runs `down` for the compose file.
func (r *Runner) Down(ctx context.Context, opts Options) (Result, error) {
	return r.run(ctx, opts, "down")
}

// Pull runs `pull`.
func (r *Runner) Pull(ctx context.Context, opts Options) (Result, error) {
	return r.run(ctx, opts, "pull")
}

// Build runs `build --pull --no-cache`.
func (r *Runner) Build(ctx context.Context, opts Options) (Result, error) {
	return r.run(ctx, opts, "build", "--pull", "--no-cache")
}

// RunOnce starts a throwaway container of service with entrypoint overridden
// and returns its trimmed stdout.
func (r *Runner) RunOnce(ctx context.Context, opts Options, service string, command []string) (string, error) {
	if len(command) == 0 {
		return "", errors.New("no command given")
	}
	args := append([]string{"--rm", "--entrypoint", command[0], service}, command[1:]...)
	res, err := r.run(ctx, opts, "run", args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Ps returns the status of the named compose services in project, stopped
// containers included. A failed query returns an OperationError; an empty
// slice means nothing matched.
func (r *Runner) Ps(ctx context.Context, project string, services []string) ([]ContainerStatus, error) {
	args := r.base(Options{ProjectName: project})
	args = append(args, "ps", "--all", "--format", "json")
	args = append(args, services...)

	stdout, stderr, code, err := r.proc.RunInDir(ctx, "", nil, r.tool, args...)
	if err != nil {
		return nil, &OperationError{Command: r.describe(args), Stdout: stdout, Stderr: stderr, ExitCode: code, Err: err}
	}
	statuses, err := ParsePs(stdout)
	if err != nil {
		return nil, errors.Wrapf(err, "unexpected output from %s", r.describe(args))
	}
	return statuses, nil
}

// ParsePs decodes `ps --format json` output. Newer compose releases print one
// JSON object per line, older ones a single array.
func ParsePs(out string) ([]ContainerStatus, error) {
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}
	if strings.HasPrefix(out, "[") {
		var list []ContainerStatus
		if err := json.Unmarshal([]byte(out), &list); err != nil {
			return nil, errors.Wrap(err, "decoding ps array")
		}
		return list, nil
	}
	var list []ContainerStatus
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var cs ContainerStatus
		if err := json.Unmarshal([]byte(line), &cs); err != nil {
			return nil, errors.Wrap(err, "decoding ps line")
		}
		list = append(list, cs)
	}
	return list, nil
}

// InspectVersion returns the ImageVersionLabel of a local image, or "" when
// the image has no such label.
func (r *Runner) InspectVersion(ctx context.Context, image string) (string, error) {
	args := []string{"inspect", "--format", `{{index .Config.Labels "` + ImageVersionLabel + `"}}`, image}
	engine := r.engine()
	stdout, stderr, code, err := r.proc.RunInDir(ctx, "", nil, engine, args...)
	if err != nil {
		return "", &OperationError{Command: engine + " " + strings.Join(args, " "), Stdout: stdout, Stderr: stderr, ExitCode: code, Err: err}
	}
	v := strings.TrimSpace(stdout)
	if v == "<no value>" {
		return "", nil
	}
	return v, nil
}

// Prerequisites checks that the container tool, its compose support and git
// can be executed.
func (r *Runner) Prerequisites(ctx context.Context) error {
	checks := [][]string{
		{r.tool, "--version"},
	}
	if r.usesSubcommand() {
		checks = append(checks, []string{r.tool, "compose", "version"})
	}
	checks = append(checks, []string{"git", "--version"})

	var missing []string
	for _, c := range checks {
		if _, _, _, err := r.proc.RunInDir(ctx, "", nil, c[0], c[1:]...); err != nil {
			logging.Debug("Compose", "Prerequisite check failed: %s: %v", strings.Join(c, " "), err)
			missing = append(missing, strings.Join(c, " "))
		}
	}
	if len(missing) > 0 {
		return errors.WithHint(
			errors.Newf("required tools are not available: %s", strings.Join(missing, ", ")),
			fmt.Sprintf("Install %s with compose support and git, then try again.", r.tool),
		)
	}
	return nil
}

func (r *Runner) run(ctx context.Context, opts Options, command string, extra ...string) (Result, error) {
	args := r.base(opts)
	args = append(args, command)
	args = append(args, extra...)

	logging.Debug("Compose", "%s (profiles: %v)", r.describe(args), opts.Profiles)
	stdout, stderr, code, err := r.proc.RunInDir(ctx, opts.Dir, envList(opts.Env), r.tool, args...)
	res := Result{Command: r.describe(args), Stdout: stdout, Stderr: stderr, ExitCode: code}
	if err != nil {
		return res, &OperationError{Command: res.Command, Stdout: stdout, Stderr: stderr, ExitCode: code, Err: err}
	}
	return res, nil
}

func (r *Runner) base(opts Options) []string {
	var args []string
	if r.usesSubcommand() {
		args = append(args, "compose", "--ansi", "never")
	}
	if opts.ProjectName != "" {
		args = append(args, "-p", opts.ProjectName)
	}
	if opts.ComposeFile != "" {
		args = append(args, "-f", opts.ComposeFile)
	}
	for _, p := range opts.Profiles {
		args = append(args, "--profile", p)
	}
	return args
}

// usesSubcommand is true for tools that expose compose as `<tool> compose`.
func (r *Runner) usesSubcommand() bool {
	base := filepath.Base(r.tool)
	return base != "docker-compose" && base != "podman-compose"
}

// engine is the container engine binary behind the compose tool.
func (r *Runner) engine() string {
	return strings.TrimSuffix(r.tool, "-compose")
}

func (r *Runner) describe(args []string) string {
	return r.tool + " " + strings.Join(args, " ")
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
