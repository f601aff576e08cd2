package services

import (
	"context"
	"time"

	"llmn/internal/compose"
	"llmn/internal/descriptor"
	"llmn/internal/postgres"
)

// Host is the non-owning view a Service has of the registry that owns it.
// It is only used for cross-service lookups and stack-wide resources.
type Host interface {
	ProjectName() string
	// ProjectDir is the working directory for container tool invocations.
	ProjectDir() string
	// ServiceByProvides returns the first service providing capability, or nil.
	ServiceByProvides(capability string) *Service
	// PrepareEnv prepares every enabled service once per process.
	PrepareEnv(ctx context.Context, opts PrepareOptions) Result[bool]
	// Env returns the current env file values.
	Env() (map[string]string, error)
	// SetEnvVars persists vars into the env file.
	SetEnvVars(vars map[string]string) error
}

// ComposeRunner is the container tool collaborator.
type ComposeRunner interface {
	Up(ctx context.Context, opts compose.Options, build bool) (compose.Result, error)
	Down(ctx context.Context, opts compose.Options) (compose.Result, error)
	Pull(ctx context.Context, opts compose.Options) (compose.Result, error)
	Build(ctx context.Context, opts compose.Options) (compose.Result, error)
	Ps(ctx context.Context, project string, services []string) ([]compose.ContainerStatus, error)
	RunOnce(ctx context.Context, opts compose.Options, service string, command []string) (string, error)
}

// EnvPreparer provisions repositories and volumes.
type EnvPreparer interface {
	PrepareRepo(ctx context.Context, service string, repo descriptor.Repo, pull bool) (string, error)
	PrepareVolumes(ctx context.Context, d *descriptor.Descriptor) ([]string, error)
}

// SchemaClient talks to the postgres provider during Init.
type SchemaClient interface {
	Ping(ctx context.Context) error
	CreateSchema(ctx context.Context, service string) (postgres.Credentials, error)
}

// SecretGenerator produces values for init.generate directives.
type SecretGenerator interface {
	Generate(d descriptor.Generate) (string, error)
}

// Prompter asks the user to pick one option. Implementations live in the UI
// layer; services only describe the choice.
type Prompter interface {
	Select(title string, options []Option, current string) (string, error)
}

// Option is one choice offered through a Prompter.
type Option struct {
	Label    string
	Value    string
	Disabled bool
}

// Deps bundles the collaborators shared by all services.
type Deps struct {
	Compose  ComposeRunner
	Preparer EnvPreparer
	Secrets  SecretGenerator
	// Postgres builds a client from the current env values.
	Postgres func(env map[string]string) SchemaClient
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// GOOS selects platform specific options; empty means runtime.GOOS.
	GOOS string
	// VolumesDir is where service volumes live on the host.
	VolumesDir string
}

// Options for service operations.
type (
	PrepareOptions struct {
		Silent bool
		// Pull updates existing repository checkouts.
		Pull bool
	}

	StartOptions struct {
		Build  bool
		Silent bool
		// Env is passed to the container tool in addition to the env file.
		Env map[string]string
	}

	StopOptions struct {
		Silent bool
	}

	UpdateOptions struct {
		Silent bool
	}

	ConfigureOptions struct {
		Silent   bool
		Prompter Prompter
	}
)

// Optional capabilities a service variant can implement to replace the
// default behavior of a Service method.
type (
	// Configurer runs interactive, service specific setup.
	Configurer interface {
		Configure(ctx context.Context, s *Service, opts ConfigureOptions) Result[bool]
	}

	// Starter may handle a start request itself. handled=false falls through
	// to the default compose up.
	Starter interface {
		Start(ctx context.Context, s *Service, opts StartOptions) (res Result[bool], handled bool)
	}

	// EnvLoader contributes variables to the container tool environment.
	EnvLoader interface {
		LoadEnv(s *Service, env map[string]string) map[string]string
	}

	// EndpointResolver overrides endpoint discovery.
	EndpointResolver interface {
		Endpoints(s *Service, context string, env map[string]string) []Endpoint
	}
)
