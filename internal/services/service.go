package services

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"time"

	"llmn/internal/compose"
	"llmn/internal/descriptor"
	"llmn/internal/enablement"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
)

// Timings of the postgres provider handshake in Init.
const (
	ProviderGracePeriod = 3 * time.Second
	ConnectAttempts     = 3
	ConnectBackoffStep  = 2 * time.Second
)

// Service is one controllable unit of the stack. It is safe for concurrent use.
type Service struct {
	desc *descriptor.Descriptor
	host Host
	deps Deps

	variant interface{}

	mu       sync.RWMutex
	state    State
	mode     enablement.Mode
	profiles []string
}

// New creates a Service. host must outlive the service; it is never owned.
func New(desc *descriptor.Descriptor, host Host, deps Deps) *Service {
	if deps.Sleep == nil {
		deps.Sleep = sleep
	}
	if deps.GOOS == "" {
		deps.GOOS = runtime.GOOS
	}
	s := &Service{
		desc:  desc,
		host:  host,
		deps:  deps,
		mode:  enablement.ModeOff,
		state: State{Health: HealthUnknown},
	}
	s.variant = variantFor(desc.Service())
	return s
}

// Descriptor returns the immutable descriptor.
func (s *Service) Descriptor() *descriptor.Descriptor { return s.desc }

func (s *Service) ID() string          { return s.desc.ID() }
func (s *Service) Name() string        { return s.desc.Name() }
func (s *Service) ServiceName() string { return s.desc.Service() }
func (s *Service) Group() string       { return s.desc.Group() }
func (s *Service) Description() string { return s.desc.Description() }

// Mode returns the explicit enablement setting.
func (s *Service) Mode() enablement.Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// SetMode changes the explicit enablement setting. The effective flag is only
// updated when the registry re-resolves enablement.
func (s *Service) SetMode(m enablement.Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// IsEnabled returns the last resolved effective enablement.
func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Enabled
}

// SetEnabled stores the resolved effective enablement.
func (s *Service) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Enabled = enabled
}

// State returns a snapshot of the runtime state.
func (s *Service) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Status derives the display status from the current state.
func (s *Service) Status() Status {
	return s.State().Status()
}

// GetState returns one state field.
func (s *Service) GetState(key StateKey) (interface{}, error) {
	return s.State().Get(key)
}

// SetState updates one state field.
func (s *Service) SetState(key StateKey, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := s.state.with(key, value)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// Profiles returns the active compose profiles.
func (s *Service) Profiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.profiles...)
}

// SetProfiles replaces the active compose profiles.
func (s *Service) SetProfiles(profiles []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = append([]string(nil), profiles...)
}

func (s *Service) composeOptions(env map[string]string) compose.Options {
	return compose.Options{
		ProjectName: s.host.ProjectName(),
		ComposeFile: s.desc.ComposeFile(),
		Profiles:    s.Profiles(),
		Dir:         s.host.ProjectDir(),
		Env:         env,
	}
}

// CheckState queries the primary container (the first provides entry) and
// replaces Started, Health, Raw and LastChecked in one step. When the query
// fails only Raw changes, to "unknown", and the failed result carries the
// state as it was.
func (s *Service) CheckState(ctx context.Context) Result[State] {
	containers := s.desc.Containers()
	if len(containers) == 0 {
		containers = []string{s.desc.Service()}
	}

	statuses, err := s.deps.Compose.Ps(ctx, s.host.ProjectName(), containers)
	if err != nil {
		s.mu.Lock()
		s.state.Raw = RawStateUnknown
		snapshot := s.state
		s.mu.Unlock()

		logging.Debug("Service", "State query for %s failed: %v", s.ID(), err)
		res := Fail(errors.Mark(errors.Wrapf(err, "failed to update service state: %s", s.Name()), ErrStateQuery), snapshot)
		res.Warn("Failed to update service state: %s", s.Name())
		return res
	}

	var primary *compose.ContainerStatus
	for i := range statuses {
		if statuses[i].Service == containers[0] {
			primary = &statuses[i]
			break
		}
	}

	raw := ""
	health := HealthUnknown
	if primary != nil {
		raw = primary.State
		health = healthOf(primary)
	}

	s.mu.Lock()
	next := s.state
	next.Raw = raw
	next.Started = raw == "running"
	next.Health = health
	next.LastChecked = time.Now()
	s.state = next
	s.mu.Unlock()

	return OK(next)
}

func healthOf(cs *compose.ContainerStatus) HealthStatus {
	if cs.State != "running" {
		return HealthUnknown
	}
	switch strings.ToLower(cs.Health) {
	case "", "healthy":
		return HealthHealthy
	case "unhealthy":
		return HealthUnhealthy
	default:
		return HealthUnknown
	}
}

// IsRunning refreshes the state and reports whether the primary container runs.
// A failed query counts as not running.
func (s *Service) IsRunning(ctx context.Context) bool {
	res := s.CheckState(ctx)
	return res.Success && res.Data.Started
}

// PrepareEnv prepares the repository and the volumes, collecting the outcome
// of both. Ready is set only when both succeed.
func (s *Service) PrepareEnv(ctx context.Context, opts PrepareOptions) Result[bool] {
	res := OK(true)

	repoRes := OK(true)
	if repo, ok := s.desc.Repo(); ok {
		msg, err := s.deps.Preparer.PrepareRepo(ctx, s.ServiceName(), repo, opts.Pull)
		if err != nil {
			repoRes = Fail(err, false)
			repoRes.Error("%s repo: %v", s.Name(), err)
		} else if !opts.Silent {
			repoRes.Info("%s", msg)
		} else {
			repoRes.Debug("%s", msg)
		}
	}

	volRes := OK(true)
	notes, err := s.deps.Preparer.PrepareVolumes(ctx, s.desc)
	for _, n := range notes {
		volRes.Debug("%s: %s", s.Name(), n)
	}
	if err != nil {
		volRes = Fail(err, false)
		volRes.Error("%s volumes: %v", s.Name(), err)
	}

	res.Collect(repoRes, volRes)
	if !res.Success {
		res.Data = false
		res.Err = errors.Mark(errors.Wrapf(res.Err, "failed to prepare service environment: %s", s.Name()), ErrPreparation)
		return res
	}

	if err := s.SetState(KeyReady, true); err != nil {
		return res.Abort(err, "failed to mark %s ready", s.Name())
	}
	res.Info("%s environment prepared, ready to start", s.Name())
	return res
}

// Init runs the one-time setup: the postgres schema (when declared and not
// yet configured) and the init.generate directives. Keys already present in
// the env file are never regenerated. Generated values are written to the env
// file and also stored in envVars.
func (s *Service) Init(ctx context.Context, envVars map[string]string) Result[bool] {
	res := OK(true)
	if envVars == nil {
		envVars = map[string]string{}
	}

	env, err := s.host.Env()
	if err != nil {
		return res.Abort(err, "unable to initialize %s: failed to read env file", s.Name())
	}

	directives := s.desc.Init()
	if ps := directives.PostgresSchema; ps != nil {
		if env[ps.User] != "" && env[ps.Pass] != "" {
			res.Debug("Postgres schema already exists, skipping")
		} else if r := s.initPostgresSchema(ctx, *ps, env, envVars); !r.Success {
			res.Collect(r)
			res.Data = false
			return res
		} else {
			res.Collect(r)
		}
	}

	for _, g := range directives.Generate {
		if env[g.Key] != "" || envVars[g.Key] != "" {
			res.Debug("Env var %s already set, skipping", g.Key)
			continue
		}
		value, err := s.deps.Secrets.Generate(g.Value)
		if err != nil {
			return res.Abort(err, "unable to initialize %s: generating %s", s.Name(), g.Key)
		}
		envVars[g.Key] = value
		res.Info("Generated %s", g.Key)
	}

	if len(envVars) > 0 {
		if err := s.host.SetEnvVars(envVars); err != nil {
			return res.Abort(err, "unable to initialize %s: failed to write env file", s.Name())
		}
	}

	res.Info("%s initialized", s.Name())
	return res
}

func (s *Service) initPostgresSchema(ctx context.Context, ps descriptor.PostgresSchema, env, envVars map[string]string) Result[bool] {
	res := OK(true)

	provider := s.host.ServiceByProvides("postgres")
	if provider == nil {
		return res.Abort(
			errors.Mark(errors.Newf("postgres provider not found, required by %s", s.Name()), ErrUnresolvedDependency),
			"unable to initialize %s", s.Name(),
		)
	}

	if !provider.IsRunning(ctx) {
		started := provider.Start(ctx, StartOptions{Silent: true})
		res.Collect(started)
		if !started.Success {
			res.Data = false
			return res.Abort(res.Err, "unable to initialize %s: postgres did not start", s.Name())
		}
		if err := s.deps.Sleep(ctx, ProviderGracePeriod); err != nil {
			return res.Abort(err, "unable to initialize %s", s.Name())
		}
	}

	if env["POSTGRES_PASSWORD"] == "" {
		return res.Abort(
			errors.WithHint(errors.New("POSTGRES_PASSWORD is not set"), "Set POSTGRES_PASSWORD in the env file or run `llmn init`."),
			"unable to initialize %s: postgres password not set", s.Name(),
		)
	}

	db := s.deps.Postgres(env)
	for attempt := 1; attempt <= ConnectAttempts; attempt++ {
		err := db.Ping(ctx)
		if err == nil {
			res.Debug("Successfully connected to Postgres")
			break
		}
		if attempt == ConnectAttempts {
			return res.Abort(
				errors.Mark(errors.Wrapf(err, "postgres unreachable after %d attempts", ConnectAttempts), ErrConnectivity),
				"unable to initialize %s", s.Name(),
			)
		}
		logging.Debug("Service", "Postgres not reachable yet for %s (attempt %d): %v", s.ID(), attempt, err)
		if err := s.deps.Sleep(ctx, ConnectBackoffStep*time.Duration(attempt)); err != nil {
			return res.Abort(err, "unable to initialize %s", s.Name())
		}
	}

	creds, err := db.CreateSchema(ctx, s.ServiceName())
	if err != nil {
		return res.Abort(errors.Mark(err, ErrConnectivity), "unable to initialize %s: failed to create schema", s.Name())
	}

	envVars[ps.User] = creds.Username
	envVars[ps.Pass] = creds.Password
	if ps.Schema != "" {
		envVars[ps.Schema] = creds.Schema
	}
	res.Info("Created postgres schema for %s", s.Name())
	return res
}

// Configure runs the variant's interactive setup; the default is a no-op.
func (s *Service) Configure(ctx context.Context, opts ConfigureOptions) Result[bool] {
	if c, ok := s.variant.(Configurer); ok {
		return c.Configure(ctx, s, opts)
	}
	return OK(true)
}

// Start prepares the stack environment and runs compose up for this service.
func (s *Service) Start(ctx context.Context, opts StartOptions) Result[bool] {
	if st, ok := s.variant.(Starter); ok {
		if res, handled := st.Start(ctx, s, opts); handled {
			return res
		}
	}

	prep := s.host.PrepareEnv(ctx, PrepareOptions{Silent: true})
	if !prep.Success {
		res := OK(false)
		res.Messages = append(res.Messages, prep.Messages...)
		return res.Abort(prep.Err, "failed to prepare environment: %s", s.Name())
	}

	env, err := s.ComposeEnv(opts.Env)
	if err != nil {
		return Fail(err, false).Abort(err, "failed to start service: %s", s.Name())
	}

	if _, err := s.deps.Compose.Up(ctx, s.composeOptions(env), opts.Build); err != nil {
		return Fail(err, false).Abort(err, "failed to start service: %s", s.Name())
	}

	res := OK(true)
	res.Info("%s successfully started!", s.Name())
	return res
}

// Stop prepares the stack environment and runs compose down. A disabled
// service whose compose file is gone counts as already stopped.
func (s *Service) Stop(ctx context.Context, opts StopOptions) Result[bool] {
	prep := s.host.PrepareEnv(ctx, PrepareOptions{Silent: true})
	if !prep.Success {
		res := OK(false)
		res.Messages = append(res.Messages, prep.Messages...)
		return res.Abort(prep.Err, "failed to prepare environment: %s", s.Name())
	}

	env, err := s.ComposeEnv(nil)
	if err != nil {
		return Fail(err, false).Abort(err, "failed to stop service: %s", s.Name())
	}

	if _, err := s.deps.Compose.Down(ctx, s.composeOptions(env)); err != nil {
		if !s.IsEnabled() && compose.StderrContains(err, "no such file") {
			res := OK(true)
			res.Info("%s already stopped", s.Name())
			return res
		}
		return Fail(err, false).Abort(err, "failed to stop service: %s", s.Name())
	}

	res := OK(true)
	res.Info("%s successfully stopped!", s.Name())
	return res
}

// Update pulls images and rebuilds local images, collecting both outcomes.
func (s *Service) Update(ctx context.Context, opts UpdateOptions) Result[bool] {
	res := OK(true)
	env, err := s.ComposeEnv(nil)
	if err != nil {
		return res.Abort(err, "failed to update service: %s", s.Name())
	}
	composeOpts := s.composeOptions(env)

	pull := OK(true)
	if _, err := s.deps.Compose.Pull(ctx, composeOpts); err != nil {
		pull = Fail(err, false)
		pull.Error("%s: pull failed: %v", s.Name(), err)
	}
	build := OK(true)
	if _, err := s.deps.Compose.Build(ctx, composeOpts); err != nil {
		build = Fail(err, false)
		build.Error("%s: build failed: %v", s.Name(), err)
	}

	res.Collect(pull, build)
	if res.Success {
		res.Info("%s updated", s.Name())
	} else {
		res.Data = false
	}
	return res
}

// AppVersion runs the descriptor's app_version_cmd in a throwaway container.
func (s *Service) AppVersion(ctx context.Context) (string, error) {
	cmd := s.desc.AppVersionCmd()
	if len(cmd) == 0 {
		return "", nil
	}
	env, err := s.ComposeEnv(nil)
	if err != nil {
		return "", err
	}
	container := s.desc.PrimaryContainer()
	if container == "" {
		container = s.ServiceName()
	}
	return s.deps.Compose.RunOnce(ctx, s.composeOptions(env), container, cmd)
}

// ComposeEnv merges the env file, extra and the variant's own variables.
func (s *Service) ComposeEnv(extra map[string]string) (map[string]string, error) {
	env, err := s.host.Env()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read env file")
	}
	merged := make(map[string]string, len(env)+len(extra))
	for k, v := range env {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	if l, ok := s.variant.(EnvLoader); ok {
		merged = l.LoadEnv(s, merged)
	}
	return merged, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
