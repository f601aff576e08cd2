package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"llmn/internal/compose"
	"llmn/internal/descriptor"
	"llmn/internal/enablement"
	"llmn/internal/registry"
	"llmn/internal/services"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeCompose records the compose files passed to up/down and fails the
// services listed in failUp/failDown.
type fakeCompose struct {
	mu       sync.Mutex
	ups      []string
	downs    []string
	failUp   map[string]bool
	failDown map[string]bool
}

func serviceOf(opts compose.Options) string {
	return filepath.Base(filepath.Dir(opts.ComposeFile))
}

func (f *fakeCompose) Up(ctx context.Context, opts compose.Options, build bool) (compose.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := serviceOf(opts)
	f.ups = append(f.ups, name)
	if f.failUp[name] {
		return compose.Result{}, &compose.OperationError{Command: "docker compose up", ExitCode: 1, Stderr: "port is already allocated"}
	}
	return compose.Result{}, nil
}

func (f *fakeCompose) Down(ctx context.Context, opts compose.Options) (compose.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := serviceOf(opts)
	f.downs = append(f.downs, name)
	if f.failDown[name] {
		return compose.Result{}, &compose.OperationError{Command: "docker compose down", ExitCode: 1, Stderr: "daemon error"}
	}
	return compose.Result{}, nil
}

func (f *fakeCompose) Pull(ctx context.Context, opts compose.Options) (compose.Result, error) {
	return compose.Result{}, nil
}

func (f *fakeCompose) Build(ctx context.Context, opts compose.Options) (compose.Result, error) {
	return compose.Result{}, nil
}

func (f *fakeCompose) Ps(ctx context.Context, project string, names []string) ([]compose.ContainerStatus, error) {
	return nil, nil
}

func (f *fakeCompose) RunOnce(ctx context.Context, opts compose.Options, service string, command []string) (string, error) {
	return "", nil
}

func (f *fakeCompose) started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ups...)
}

type noopPreparer struct{}

func (noopPreparer) PrepareRepo(ctx context.Context, service string, repo descriptor.Repo, pull bool) (string, error) {
	return "", nil
}

func (noopPreparer) PrepareVolumes(ctx context.Context, d *descriptor.Descriptor) ([]string, error) {
	return nil, nil
}

// volumePreparer counts volume preparations and fails the services in fail.
type volumePreparer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func (p *volumePreparer) PrepareRepo(ctx context.Context, service string, repo descriptor.Repo, pull bool) (string, error) {
	return "", nil
}

func (p *volumePreparer) PrepareVolumes(ctx context.Context, d *descriptor.Descriptor) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[d.Service()]++
	if p.fail[d.Service()] {
		return nil, errors.New("disk full")
	}
	return nil, nil
}

type mockPrereq struct {
	mock.Mock
}

func (m *mockPrereq) Prerequisites(ctx context.Context) error {
	return m.Called().Error(0)
}

type node struct {
	name  string
	group string
	mode  enablement.Mode
}

func newOrchestrator(t *testing.T, fc *fakeCompose, nodes []node, prereq PrerequisiteChecker) *Orchestrator {
	t.Helper()
	var descs []*descriptor.Descriptor
	modes := map[string]enablement.Mode{}
	for _, n := range nodes {
		d, err := descriptor.Parse([]byte(fmt.Sprintf("service: %s\ncompose_file: docker-compose.yaml\nservice_group: %s\n", n.name, n.group)), "/services/"+n.name)
		require.NoError(t, err)
		descs = append(descs, d)
		modes[d.ID()] = n.mode
	}
	reg, err := registry.Build(descs, registry.Options{
		ProjectName: "stack",
		Groups:      []string{"databases", "middleware", "apps"},
		Modes:       modes,
		Deps:        services.Deps{Compose: fc, Preparer: noopPreparer{}},
	})
	require.NoError(t, err)
	return New(Config{Registry: reg, Prerequisites: prereq})
}

func TestStartAll_GroupFailureStopsSequence(t *testing.T) {
	fc := &fakeCompose{failUp: map[string]bool{"y": true}}
	o := newOrchestrator(t, fc, []node{
		{name: "x", group: "databases", mode: enablement.ModeOn},
		{name: "y", group: "databases", mode: enablement.ModeOn},
		{name: "app", group: "apps", mode: enablement.ModeOn},
	}, nil)

	res := o.StartAll(context.Background(), services.StartOptions{})

	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, compose.ErrOperation))
	require.Len(t, res.Data, 2)
	byID := map[string]services.Result[bool]{}
	for _, oc := range res.Data {
		byID[oc.ServiceID] = oc.Result
	}
	assert.True(t, byID["llmn/x"].Success, "sibling success is kept")
	assert.False(t, byID["llmn/y"].Success)
	assert.ElementsMatch(t, []string{"x", "y"}, fc.started(), "next group must not start")
}

func TestStartAll_OrdersGroupsAndSkipsDisabled(t *testing.T) {
	fc := &fakeCompose{}
	o := newOrchestrator(t, fc, []node{
		{name: "web", group: "apps", mode: enablement.ModeOn},
		{name: "proxy", group: "middleware", mode: enablement.ModeOn},
		{name: "db", group: "databases", mode: enablement.ModeOn},
		{name: "cache", group: "databases", mode: enablement.ModeOff},
	}, nil)

	events := o.SubscribeToStateChanges()
	res := o.StartAll(context.Background(), services.StartOptions{})

	require.True(t, res.Success, "%v", res.Err)
	assert.Equal(t, []string{"db", "proxy", "web"}, fc.started())
	assert.Len(t, events, 3)
	e := <-events
	assert.Equal(t, "llmn/db", e.ServiceID)
	assert.Equal(t, OpStart, e.Operation)
	assert.True(t, e.Success)
}

func TestStartAll_Prerequisites(t *testing.T) {
	prereq := &mockPrereq{}
	prereq.On("Prerequisites").Return(errors.New("docker: command not found"))
	fc := &fakeCompose{}
	o := newOrchestrator(t, fc, []node{{name: "db", group: "databases", mode: enablement.ModeOn}}, prereq)

	res := o.StartAll(context.Background(), services.StartOptions{})

	assert.False(t, res.Success)
	assert.Empty(t, fc.started())
	prereq.AssertExpectations(t)
}

func TestStartAll_FailedPreparationRunsOnce(t *testing.T) {
	fc := &fakeCompose{}
	prep := &volumePreparer{calls: map[string]int{}, fail: map[string]bool{"broken": true}}
	var descs []*descriptor.Descriptor
	modes := map[string]enablement.Mode{}
	for _, name := range []string{"a", "b", "broken", "c", "d"} {
		d, err := descriptor.Parse([]byte(fmt.Sprintf("service: %s\ncompose_file: docker-compose.yaml\nservice_group: apps\n", name)), "/services/"+name)
		require.NoError(t, err)
		descs = append(descs, d)
		modes[d.ID()] = enablement.ModeOn
	}
	reg, err := registry.Build(descs, registry.Options{
		ProjectName: "stack",
		Modes:       modes,
		Deps:        services.Deps{Compose: fc, Preparer: prep},
	})
	require.NoError(t, err)

	res := New(Config{Registry: reg}).StartAll(context.Background(), services.StartOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "broken": 1, "c": 1, "d": 1}, prep.calls)
	assert.Empty(t, fc.started())

	diskErrors := 0
	for _, m := range res.Messages {
		if strings.Contains(m.Text, "disk full") {
			diskErrors++
		}
	}
	assert.Equal(t, 1, diskErrors)
}

func TestStartService(t *testing.T) {
	fc := &fakeCompose{}
	o := newOrchestrator(t, fc, []node{
		{name: "db", group: "databases", mode: enablement.ModeOn},
		{name: "off", group: "apps", mode: enablement.ModeOff},
	}, nil)

	t.Run("disabled service warns", func(t *testing.T) {
		res := o.StartService(context.Background(), "off", services.StartOptions{})
		assert.True(t, res.Success)
		assert.False(t, res.Data)
		require.Len(t, res.Messages, 1)
		assert.Equal(t, services.LevelWarning, res.Messages[0].Level)
		assert.NotContains(t, fc.started(), "off")
	})

	t.Run("unknown service", func(t *testing.T) {
		res := o.StartService(context.Background(), "nope", services.StartOptions{})
		assert.False(t, res.Success)
		assert.True(t, errors.Is(res.Err, ErrUnknownService))
	})

	t.Run("enabled service starts", func(t *testing.T) {
		res := o.StartService(context.Background(), "llmn/db", services.StartOptions{})
		assert.True(t, res.Success)
		assert.Contains(t, fc.started(), "db")
	})
}

func TestStopAll_ReverseOrderAndTolerant(t *testing.T) {
	fc := &fakeCompose{failDown: map[string]bool{"proxy": true}}
	o := newOrchestrator(t, fc, []node{
		{name: "db", group: "databases", mode: enablement.ModeOn},
		{name: "proxy", group: "middleware", mode: enablement.ModeOn},
		{name: "web", group: "apps", mode: enablement.ModeOff},
	}, nil)

	res := o.StopAll(context.Background(), services.StopOptions{})

	assert.False(t, res.Success)
	assert.Equal(t, []string{"web", "proxy", "db"}, fc.downs, "every group is still stopped")
	assert.Len(t, res.Data, 3)
}

func TestRestart(t *testing.T) {
	t.Run("stop then start", func(t *testing.T) {
		fc := &fakeCompose{}
		o := newOrchestrator(t, fc, []node{
			{name: "db", group: "databases", mode: enablement.ModeOn},
			{name: "web", group: "apps", mode: enablement.ModeOn},
		}, nil)

		res := o.Restart(context.Background(), "", services.StartOptions{})

		require.True(t, res.Success, "%v", res.Err)
		assert.Equal(t, []string{"web", "db"}, fc.downs)
		assert.Equal(t, []string{"db", "web"}, fc.started())
	})

	t.Run("single service after full stop", func(t *testing.T) {
		fc := &fakeCompose{}
		o := newOrchestrator(t, fc, []node{
			{name: "db", group: "databases", mode: enablement.ModeOn},
			{name: "web", group: "apps", mode: enablement.ModeOn},
		}, nil)

		res := o.Restart(context.Background(), "web", services.StartOptions{})

		require.True(t, res.Success)
		assert.Equal(t, []string{"web", "db"}, fc.downs)
		assert.Equal(t, []string{"web"}, fc.started())
	})

	t.Run("disabled single service is not reported as started", func(t *testing.T) {
		fc := &fakeCompose{}
		o := newOrchestrator(t, fc, []node{
			{name: "db", group: "databases", mode: enablement.ModeOn},
			{name: "web", group: "apps", mode: enablement.ModeOff},
		}, nil)

		res := o.Restart(context.Background(), "web", services.StartOptions{})

		assert.True(t, res.Success)
		assert.False(t, res.Data)
		assert.Empty(t, fc.started())
	})

	t.Run("failed stop skips start", func(t *testing.T) {
		fc := &fakeCompose{failDown: map[string]bool{"db": true}}
		o := newOrchestrator(t, fc, []node{{name: "db", group: "databases", mode: enablement.ModeOn}}, nil)

		res := o.Restart(context.Background(), "", services.StartOptions{})

		assert.False(t, res.Success)
		assert.Empty(t, fc.started())
	})
}

func TestInitAll_RunsEveryEnabledService(t *testing.T) {
	fc := &fakeCompose{}
	o := newOrchestrator(t, fc, []node{
		{name: "db", group: "databases", mode: enablement.ModeOn},
		{name: "web", group: "apps", mode: enablement.ModeOn},
	}, nil)

	res := o.InitAll(context.Background())

	require.True(t, res.Success, "%v", res.Err)
	assert.Len(t, res.Data, 2)
}
