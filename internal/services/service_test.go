package services

import (
	"context"
	"testing"
	"time"

	"llmn/internal/compose"
	"llmn/internal/descriptor"
	"llmn/internal/enablement"
	"llmn/internal/postgres"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockCompose struct {
	mock.Mock
}

func (m *mockCompose) Up(ctx context.Context, opts compose.Options, build bool) (compose.Result, error) {
	args := m.Called(opts, build)
	return compose.Result{}, args.Error(0)
}

func (m *mockCompose) Down(ctx context.Context, opts compose.Options) (compose.Result, error) {
	args := m.Called(opts)
	return compose.Result{}, args.Error(0)
}

func (m *mockCompose) Pull(ctx context.Context, opts compose.Options) (compose.Result, error) {
	args := m.Called(opts)
	return compose.Result{}, args.Error(0)
}

func (m *mockCompose) Build(ctx context.Context, opts compose.Options) (compose.Result, error) {
	args := m.Called(opts)
	return compose.Result{}, args.Error(0)
}

func (m *mockCompose) Ps(ctx context.Context, project string, services []string) ([]compose.ContainerStatus, error) {
	args := m.Called(project, services)
	statuses, _ := args.Get(0).([]compose.ContainerStatus)
	return statuses, args.Error(1)
}

func (m *mockCompose) RunOnce(ctx context.Context, opts compose.Options, service string, command []string) (string, error) {
	args := m.Called(service, command)
	return args.String(0), args.Error(1)
}

type mockPreparer struct {
	mock.Mock
}

func (m *mockPreparer) PrepareRepo(ctx context.Context, service string, repo descriptor.Repo, pull bool) (string, error) {
	args := m.Called(service, repo.Dir, pull)
	return args.String(0), args.Error(1)
}

func (m *mockPreparer) PrepareVolumes(ctx context.Context, d *descriptor.Descriptor) ([]string, error) {
	args := m.Called(d.ID())
	notes, _ := args.Get(0).([]string)
	return notes, args.Error(1)
}

type mockSchema struct {
	mock.Mock
}

func (m *mockSchema) Ping(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *mockSchema) CreateSchema(ctx context.Context, service string) (postgres.Credentials, error) {
	args := m.Called(service)
	creds, _ := args.Get(0).(postgres.Credentials)
	return creds, args.Error(1)
}

type stubSecrets struct{}

func (stubSecrets) Generate(d descriptor.Generate) (string, error) {
	return d.Prefix + "generated", nil
}

// fakeHost keeps the env file in memory.
type fakeHost struct {
	env       map[string]string
	written   []map[string]string
	providers map[string]*Service
	prepare   Result[bool]
}

func newFakeHost() *fakeHost {
	return &fakeHost{env: map[string]string{}, providers: map[string]*Service{}, prepare: OK(true)}
}

func (h *fakeHost) ProjectName() string { return "stack" }
func (h *fakeHost) ProjectDir() string  { return "/project" }

func (h *fakeHost) ServiceByProvides(capability string) *Service { return h.providers[capability] }

func (h *fakeHost) PrepareEnv(ctx context.Context, opts PrepareOptions) Result[bool] {
	return h.prepare
}

func (h *fakeHost) Env() (map[string]string, error) {
	out := make(map[string]string, len(h.env))
	for k, v := range h.env {
		out[k] = v
	}
	return out, nil
}

func (h *fakeHost) SetEnvVars(vars map[string]string) error {
	cp := make(map[string]string, len(vars))
	for k, v := range vars {
		cp[k] = v
		h.env[k] = v
	}
	h.written = append(h.written, cp)
	return nil
}

func mustDescriptor(t *testing.T, yamlText string) *descriptor.Descriptor {
	t.Helper()
	d, err := descriptor.Parse([]byte(yamlText), "/services/x")
	require.NoError(t, err)
	return d
}

const basicYAML = `
service: redis
compose_file: docker-compose.yaml
service_group: databases
provides:
  redis: redis
`

type sleepRecorder struct {
	calls []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.calls = append(r.calls, d)
	return nil
}

func newTestService(t *testing.T, yamlText string, host Host, deps Deps) *Service {
	t.Helper()
	if deps.Sleep == nil {
		deps.Sleep = (&sleepRecorder{}).sleep
	}
	return New(mustDescriptor(t, yamlText), host, deps)
}

func TestState_StatusPrecedence(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  Status
	}{
		{name: "disabled wins over everything", state: State{Enabled: false, Started: true, Health: HealthHealthy, Ready: true}, want: StatusDisabled},
		{name: "running", state: State{Enabled: true, Started: true, Health: HealthHealthy}, want: StatusRunning},
		{name: "unhealthy even when ready", state: State{Enabled: true, Started: true, Health: HealthUnhealthy, Ready: true}, want: StatusUnhealthy},
		{name: "started with unknown health", state: State{Enabled: true, Started: true, Health: HealthUnknown}, want: StatusStarted},
		{name: "ready", state: State{Enabled: true, Ready: true, Health: HealthUnknown}, want: StatusReady},
		{name: "loaded", state: State{Enabled: true, Health: HealthUnknown}, want: StatusLoaded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Status())
		})
	}
}

func TestService_SetAndGetState(t *testing.T) {
	s := newTestService(t, basicYAML, newFakeHost(), Deps{})

	require.NoError(t, s.SetState(KeyReady, true))
	require.NoError(t, s.SetState(KeyHealth, "healthy"))

	v, err := s.GetState(KeyReady)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	assert.Equal(t, HealthHealthy, s.State().Health)

	assert.Error(t, s.SetState(KeyReady, "yes"))
	assert.Error(t, s.SetState(StateKey("bogus"), true))
	_, err = s.GetState(StateKey("bogus"))
	assert.Error(t, err)
}

func TestService_CheckState(t *testing.T) {
	tests := []struct {
		name        string
		statuses    []compose.ContainerStatus
		wantStarted bool
		wantHealth  HealthStatus
		wantRaw     string
	}{
		{
			name:        "running without healthcheck",
			statuses:    []compose.ContainerStatus{{Service: "redis", State: "running"}},
			wantStarted: true,
			wantHealth:  HealthHealthy,
			wantRaw:     "running",
		},
		{
			name:        "running but unhealthy",
			statuses:    []compose.ContainerStatus{{Service: "redis", State: "running", Health: "unhealthy"}},
			wantStarted: true,
			wantHealth:  HealthUnhealthy,
			wantRaw:     "running",
		},
		{
			name:        "still starting",
			statuses:    []compose.ContainerStatus{{Service: "redis", State: "running", Health: "starting"}},
			wantStarted: true,
			wantHealth:  HealthUnknown,
			wantRaw:     "running",
		},
		{
			name:        "exited",
			statuses:    []compose.ContainerStatus{{Service: "redis", State: "exited"}},
			wantStarted: false,
			wantHealth:  HealthUnknown,
			wantRaw:     "exited",
		},
		{
			name:        "no container",
			wantStarted: false,
			wantHealth:  HealthUnknown,
			wantRaw:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := &mockCompose{}
			mc.On("Ps", "stack", []string{"redis"}).Return(tt.statuses, nil)
			s := newTestService(t, basicYAML, newFakeHost(), Deps{Compose: mc})

			res := s.CheckState(context.Background())

			require.True(t, res.Success)
			assert.Equal(t, tt.wantStarted, res.Data.Started)
			assert.Equal(t, tt.wantHealth, res.Data.Health)
			assert.Equal(t, tt.wantRaw, res.Data.Raw)
			assert.False(t, res.Data.LastChecked.IsZero())
			assert.Equal(t, res.Data, s.State())
		})
	}
}

func TestService_CheckStateFailureKeepsLastKnownState(t *testing.T) {
	mc := &mockCompose{}
	mc.On("Ps", "stack", []string{"redis"}).Return(nil, errors.New("daemon not running"))
	s := newTestService(t, basicYAML, newFakeHost(), Deps{Compose: mc})
	s.SetEnabled(true)
	require.NoError(t, s.SetState(KeyStarted, true))
	require.NoError(t, s.SetState(KeyHealth, HealthHealthy))

	res := s.CheckState(context.Background())

	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrStateQuery))
	assert.True(t, res.Data.Started)
	assert.Equal(t, RawStateUnknown, res.Data.Raw)

	st := s.State()
	assert.True(t, st.Started)
	assert.Equal(t, HealthHealthy, st.Health)
	assert.Equal(t, RawStateUnknown, st.Raw)
	assert.False(t, s.IsRunning(context.Background()))
}

const repoYAML = `
service: langfuse
compose_file: docker-compose.yaml
repo:
  url: https://github.com/langfuse/langfuse.git
  dir: langfuse
volumes:
  - data
`

func TestService_PrepareEnv(t *testing.T) {
	t.Run("both steps succeed", func(t *testing.T) {
		mp := &mockPreparer{}
		mp.On("PrepareRepo", "langfuse", "langfuse", false).Return("langfuse repo is ready", nil)
		mp.On("PrepareVolumes", "llmn/langfuse").Return([]string{"created volume data"}, nil)
		s := newTestService(t, repoYAML, newFakeHost(), Deps{Preparer: mp})

		res := s.PrepareEnv(context.Background(), PrepareOptions{})

		require.True(t, res.Success)
		assert.True(t, s.State().Ready)
		mp.AssertExpectations(t)
	})

	t.Run("repo failure is collected with volume result", func(t *testing.T) {
		mp := &mockPreparer{}
		mp.On("PrepareRepo", "langfuse", "langfuse", true).Return("", errors.New("clone failed"))
		mp.On("PrepareVolumes", "llmn/langfuse").Return(nil, nil)
		s := newTestService(t, repoYAML, newFakeHost(), Deps{Preparer: mp})

		res := s.PrepareEnv(context.Background(), PrepareOptions{Pull: true})

		assert.False(t, res.Success)
		assert.False(t, res.Data)
		assert.True(t, errors.Is(res.Err, ErrPreparation))
		assert.False(t, s.State().Ready)
		assert.True(t, res.HasErrors())
		mp.AssertExpectations(t)
	})

	t.Run("no repo only prepares volumes", func(t *testing.T) {
		mp := &mockPreparer{}
		mp.On("PrepareVolumes", "llmn/redis").Return(nil, nil)
		s := newTestService(t, basicYAML, newFakeHost(), Deps{Preparer: mp})

		res := s.PrepareEnv(context.Background(), PrepareOptions{})

		require.True(t, res.Success)
		mp.AssertNotCalled(t, "PrepareRepo", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_Start(t *testing.T) {
	host := newFakeHost()
	host.env["REDIS_PASSWORD"] = "secret"
	mc := &mockCompose{}
	mc.On("Up", mock.MatchedBy(func(o compose.Options) bool {
		return o.ProjectName == "stack" &&
			o.ComposeFile == "/services/x/docker-compose.yaml" &&
			o.Env["REDIS_PASSWORD"] == "secret" &&
			o.Env["EXTRA"] == "1"
	}), true).Return(nil)
	s := newTestService(t, basicYAML, host, Deps{Compose: mc})

	res := s.Start(context.Background(), StartOptions{Build: true, Env: map[string]string{"EXTRA": "1"}})

	require.True(t, res.Success, "%v", res.Err)
	mc.AssertExpectations(t)
}

func TestService_StartFailsWhenPreparationFails(t *testing.T) {
	host := newFakeHost()
	host.prepare = Fail(errors.Mark(errors.New("boom"), ErrPreparation), false)
	mc := &mockCompose{}
	s := newTestService(t, basicYAML, host, Deps{Compose: mc})

	res := s.Start(context.Background(), StartOptions{})

	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrPreparation))
	mc.AssertNotCalled(t, "Up", mock.Anything, mock.Anything)
}

func TestService_Stop(t *testing.T) {
	missing := &compose.OperationError{Command: "docker compose down", ExitCode: 1, Stderr: "open /x/docker-compose.yaml: no such file or directory"}

	t.Run("disabled service with missing compose file is already stopped", func(t *testing.T) {
		mc := &mockCompose{}
		mc.On("Down", mock.Anything).Return(missing)
		s := newTestService(t, basicYAML, newFakeHost(), Deps{Compose: mc})

		res := s.Stop(context.Background(), StopOptions{})

		require.True(t, res.Success)
		require.NotEmpty(t, res.Messages)
		assert.Contains(t, res.Messages[len(res.Messages)-1].Text, "already stopped")
	})

	t.Run("enabled service reports the failure", func(t *testing.T) {
		mc := &mockCompose{}
		mc.On("Down", mock.Anything).Return(missing)
		s := newTestService(t, basicYAML, newFakeHost(), Deps{Compose: mc})
		s.SetEnabled(true)

		res := s.Stop(context.Background(), StopOptions{})

		assert.False(t, res.Success)
		assert.True(t, errors.Is(res.Err, compose.ErrOperation))
	})
}

func TestService_UpdateCollectsBothSteps(t *testing.T) {
	mc := &mockCompose{}
	mc.On("Pull", mock.Anything).Return(errors.New("pull failed"))
	mc.On("Build", mock.Anything).Return(nil)
	s := newTestService(t, basicYAML, newFakeHost(), Deps{Compose: mc})

	res := s.Update(context.Background(), UpdateOptions{})

	assert.False(t, res.Success)
	mc.AssertExpectations(t)
	assert.True(t, res.HasErrors())
}

const initYAML = `
service: n8n
compose_file: docker-compose.yaml
depends_on: [postgres]
init:
  postgres_schema:
    user: N8N_POSTGRES_USER
    pass: N8N_POSTGRES_PASSWORD
    schema: N8N_POSTGRES_SCHEMA
  generate:
    N8N_ENCRYPTION_KEY:
      method: generateSecretKey
      length: 24
    N8N_API_KEY:
      method: generateUUID
      prefix: "n8n-"
`

const postgresYAML = `
service: postgres
compose_file: docker-compose.yaml
provides:
  postgres: db
`

func TestService_InitCreatesSchemaAndSecrets(t *testing.T) {
	host := newFakeHost()
	host.env["POSTGRES_PASSWORD"] = "pg"

	mc := &mockCompose{}
	mc.On("Ps", "stack", []string{"db"}).Return([]compose.ContainerStatus{{Service: "db", State: "running"}}, nil)
	host.providers["postgres"] = newTestService(t, postgresYAML, host, Deps{Compose: mc})

	db := &mockSchema{}
	db.On("Ping").Return(errors.New("refused")).Once()
	db.On("Ping").Return(nil).Once()
	db.On("CreateSchema", "n8n").Return(postgres.Credentials{Username: "service_n8n", Password: "pw", Schema: "service_n8n"}, nil)

	sleeps := &sleepRecorder{}
	s := newTestService(t, initYAML, host, Deps{
		Compose:  mc,
		Secrets:  stubSecrets{},
		Postgres: func(map[string]string) SchemaClient { return db },
		Sleep:    sleeps.sleep,
	})

	vars := map[string]string{}
	res := s.Init(context.Background(), vars)

	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, "service_n8n", host.env["N8N_POSTGRES_USER"])
	assert.Equal(t, "pw", host.env["N8N_POSTGRES_PASSWORD"])
	assert.Equal(t, "service_n8n", host.env["N8N_POSTGRES_SCHEMA"])
	assert.Equal(t, "generated", host.env["N8N_ENCRYPTION_KEY"])
	assert.Equal(t, "n8n-generated", host.env["N8N_API_KEY"])
	assert.Equal(t, []time.Duration{ConnectBackoffStep}, sleeps.calls)
	db.AssertExpectations(t)
}

func TestService_InitIsIdempotent(t *testing.T) {
	host := newFakeHost()
	host.env["N8N_POSTGRES_USER"] = "u"
	host.env["N8N_POSTGRES_PASSWORD"] = "p"
	host.env["N8N_ENCRYPTION_KEY"] = "existing"
	host.env["N8N_API_KEY"] = "existing"

	s := newTestService(t, initYAML, host, Deps{
		Secrets: stubSecrets{},
		Postgres: func(map[string]string) SchemaClient {
			t.Fatal("postgres must not be contacted")
			return nil
		},
	})

	res := s.Init(context.Background(), nil)

	require.True(t, res.Success)
	assert.Empty(t, host.written)
	assert.Equal(t, "existing", host.env["N8N_ENCRYPTION_KEY"])
}

func TestService_InitGivesUpAfterBoundedRetries(t *testing.T) {
	host := newFakeHost()
	host.env["POSTGRES_PASSWORD"] = "pg"

	mc := &mockCompose{}
	mc.On("Ps", "stack", []string{"db"}).Return([]compose.ContainerStatus{{Service: "db", State: "running"}}, nil)
	host.providers["postgres"] = newTestService(t, postgresYAML, host, Deps{Compose: mc})

	db := &mockSchema{}
	db.On("Ping").Return(errors.New("refused"))

	sleeps := &sleepRecorder{}
	s := newTestService(t, initYAML, host, Deps{
		Compose:  mc,
		Secrets:  stubSecrets{},
		Postgres: func(map[string]string) SchemaClient { return db },
		Sleep:    sleeps.sleep,
	})

	res := s.Init(context.Background(), nil)

	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrConnectivity))
	db.AssertNumberOfCalls(t, "Ping", ConnectAttempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps.calls)
	assert.Empty(t, host.written)
}

func TestService_InitWithoutProvider(t *testing.T) {
	s := newTestService(t, initYAML, newFakeHost(), Deps{Secrets: stubSecrets{}})

	res := s.Init(context.Background(), nil)

	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, ErrUnresolvedDependency))
}

func TestService_Endpoints(t *testing.T) {
	const yamlText = `
service: n8n
compose_file: docker-compose.yaml
exposes:
  host:
    dashboard:
      name: n8n
      url: http://localhost:${N8N_PORT}
      credentials:
        email: ${N8N_EMAIL}
    docs:
      url: http://localhost:5678/docs
  internal:
    api:
      url: http://n8n:5678
`
	host := newFakeHost()
	host.env["N8N_PORT"] = "5678"
	host.env["N8N_EMAIL"] = "me@example.com"
	s := newTestService(t, yamlText, host, Deps{})

	tests := []struct {
		selector string
		wantKeys []string
	}{
		{selector: "", wantKeys: []string{"dashboard", "docs"}},
		{selector: "host.*", wantKeys: []string{"dashboard", "docs"}},
		{selector: "internal.*", wantKeys: []string{"api"}},
		{selector: "*.*", wantKeys: []string{"dashboard", "docs", "api"}},
		{selector: "host.dashboard", wantKeys: []string{"dashboard"}},
		{selector: "host.missing", wantKeys: nil},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			eps, err := s.Endpoints(tt.selector)
			require.NoError(t, err)
			var keys []string
			for _, e := range eps {
				keys = append(keys, e.Key)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}

	eps, err := s.Endpoints("host.dashboard")
	require.NoError(t, err)
	require.Len(t, eps, 1)
	assert.Equal(t, "http://localhost:5678", eps[0].URL)
	assert.Equal(t, []Credential{{Label: "email", Value: "me@example.com"}}, eps[0].Credentials)
}

func TestService_ModeAndProfiles(t *testing.T) {
	s := newTestService(t, basicYAML, newFakeHost(), Deps{})
	assert.Equal(t, enablement.ModeOff, s.Mode())

	s.SetMode(enablement.ModeAuto)
	assert.Equal(t, enablement.ModeAuto, s.Mode())
	assert.False(t, s.IsEnabled(), "mode changes do not alter effective enablement")

	profiles := []string{"a"}
	s.SetProfiles(profiles)
	profiles[0] = "b"
	assert.Equal(t, []string{"a"}, s.Profiles())
}

func TestService_AppVersion(t *testing.T) {
	const yamlText = `
service: litellm
compose_file: docker-compose.yaml
provides:
  litellm: litellm
app_version_cmd: [litellm, --version]
`
	mc := &mockCompose{}
	mc.On("RunOnce", "litellm", []string{"litellm", "--version"}).Return("1.2.3", nil)
	s := newTestService(t, yamlText, newFakeHost(), Deps{Compose: mc})

	v, err := s.AppVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)
}
