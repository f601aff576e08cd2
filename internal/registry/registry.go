// Package registry owns every Service of a project, indexes them by id,
// service name and provided capability, and keeps their effective enablement
// in sync with the dependency graph.
//
// The service set is fixed once Build returns. Only per-service state and the
// resolved enablement change afterwards.
package registry

import (
	"context"
	"slices"
	"strings"
	"sync"

	"llmn/internal/dependency"
	"llmn/internal/descriptor"
	"llmn/internal/enablement"
	"llmn/internal/envfile"
	"llmn/internal/services"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultGroup holds services that do not declare a service_group.
const DefaultGroup = "default"

var (
	// ErrUnresolvedDependency marks a depends_on reference that matches no
	// registered service and is not listed as external.
	ErrUnresolvedDependency = services.ErrUnresolvedDependency

	// ErrDependencyCycle marks a service that depends on itself, directly or
	// transitively. Errors carrying it also match ErrUnresolvedDependency.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrDuplicateService marks two descriptors sharing an id.
	ErrDuplicateService = errors.New("duplicate service id")
)

// Options configure Build.
type Options struct {
	ProjectName string
	ProjectDir  string
	// Groups is the preferred group order. Groups not listed follow in
	// first-seen order.
	Groups []string
	// External lists dependency ids tolerated without a registered service.
	External []string
	Modes    map[string]enablement.Mode
	Profiles map[string][]string
	Env      *envfile.Store
	Deps     services.Deps
}

// Group is a named batch of services.
type Group struct {
	Name     string
	Services []*services.Service
}

// Order selects the group iteration order.
type Order int

const (
	// StartOrder lists infrastructure groups first.
	StartOrder Order = iota
	// ConfigureOrder lists application groups first.
	ConfigureOrder
)

// Setting is the explicit, persistable configuration of one service.
type Setting struct {
	ID       string
	Mode     enablement.Mode
	Profiles []string
}

// Registry is the single source of truth for cross-service lookups. It also
// implements services.Host for the services it owns.
type Registry struct {
	projectName string
	projectDir  string
	env         *envfile.Store

	byID     map[string]*services.Service
	order    []*services.Service
	groups   []string
	graph    *dependency.Graph
	resolver *enablement.Resolver

	// mu serialises enablement recomputation against readers of the
	// resolved view.
	mu        sync.RWMutex
	effective map[dependency.NodeID]bool

	prepMu   sync.Mutex
	prepared bool
	prepErr  error
}

var _ services.Host = (*Registry)(nil)

// Build creates the registry. It fails when a dependency cannot be resolved,
// when the graph has a cycle or when two descriptors share an id.
func Build(descs []*descriptor.Descriptor, opts Options) (*Registry, error) {
	r := &Registry{
		projectName: opts.ProjectName,
		projectDir:  opts.ProjectDir,
		env:         opts.Env,
		byID:        make(map[string]*services.Service, len(descs)),
		graph:       dependency.New(),
	}

	for _, d := range descs {
		if _, dup := r.byID[d.ID()]; dup {
			return nil, errors.Mark(errors.Newf("service %q is declared twice", d.ID()), ErrDuplicateService)
		}
		s := services.New(d, r, opts.Deps)
		s.SetMode(modeFor(opts.Modes, d.ID()))
		s.SetProfiles(opts.Profiles[d.ID()])
		r.byID[d.ID()] = s
		r.order = append(r.order, s)
	}

	external := make(map[string]bool, len(opts.External))
	for _, id := range opts.External {
		external[id] = true
	}

	for _, s := range r.order {
		var deps []dependency.NodeID
		for _, ref := range s.Descriptor().DependsOn() {
			id, err := r.resolveRef(s, ref, external)
			if err != nil {
				return nil, err
			}
			deps = append(deps, dependency.NodeID(id))
		}
		r.graph.AddNode(dependency.Node{
			ID:           dependency.NodeID(s.ID()),
			FriendlyName: s.Name(),
			Kind:         dependency.KindService,
			DependsOn:    deps,
		})
	}

	if cycle := r.graph.FindCycle(); cycle != nil {
		path := make([]string, len(cycle))
		for i, id := range cycle {
			path[i] = string(id)
		}
		err := errors.Newf("dependency cycle: %s", strings.Join(path, " -> "))
		err = errors.Mark(errors.Mark(err, ErrDependencyCycle), ErrUnresolvedDependency)
		return nil, errors.WithHint(err, "Remove one of the depends_on entries along the cycle.")
	}

	r.groups = orderGroups(r.order, opts.Groups)
	r.resolver = enablement.NewResolver(r.graph)
	if err := r.Resolve(); err != nil {
		return nil, err
	}

	logging.Debug("Registry", "Registered %d services in %d groups", len(r.order), len(r.groups))
	return r, nil
}

func modeFor(modes map[string]enablement.Mode, id string) enablement.Mode {
	if m, ok := modes[id]; ok && m.IsValid() {
		return m
	}
	return enablement.ModeOff
}

// resolveRef maps a depends_on entry to a service id. Ids win over short
// service names; an ambiguous service name is an error.
func (r *Registry) resolveRef(s *services.Service, ref string, external map[string]bool) (string, error) {
	if _, ok := r.byID[ref]; ok {
		return ref, nil
	}

	var matches []string
	for _, other := range r.order {
		if other.ServiceName() == ref {
			matches = append(matches, other.ID())
		}
	}
	switch {
	case len(matches) == 1:
		return matches[0], nil
	case len(matches) > 1:
		return "", errors.WithHint(
			errors.Mark(errors.Newf("service %s depends on %q, which matches %s", s.ID(), ref, strings.Join(matches, ", ")), ErrUnresolvedDependency),
			"Use the full service id in depends_on.",
		)
	}

	if external[ref] {
		if r.graph.Get(dependency.NodeID(ref)) == nil {
			r.graph.AddNode(dependency.Node{ID: dependency.NodeID(ref), FriendlyName: ref, Kind: dependency.KindExternal})
		}
		return ref, nil
	}

	return "", errors.WithHint(
		errors.Mark(errors.Newf("service %s depends on unknown service %q", s.ID(), ref), ErrUnresolvedDependency),
		"Add the missing service or list it under externalDependencies in .llmn/config.yaml.",
	)
}

func orderGroups(all []*services.Service, preferred []string) []string {
	present := make(map[string]bool)
	var seen []string
	for _, s := range all {
		g := groupOf(s)
		if !present[g] {
			present[g] = true
			seen = append(seen, g)
		}
	}

	var out []string
	for _, g := range preferred {
		if present[g] && !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	for _, g := range seen {
		if !slices.Contains(out, g) {
			out = append(out, g)
		}
	}
	return out
}

func groupOf(s *services.Service) string {
	if g := s.Group(); g != "" {
		return g
	}
	return DefaultGroup
}

// Resolve recomputes effective enablement from every service's mode and
// stores the result on each service.
func (r *Registry) Resolve() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked()
}

func (r *Registry) resolveLocked() error {
	modes := make(map[dependency.NodeID]enablement.Mode, len(r.order))
	for _, s := range r.order {
		modes[dependency.NodeID(s.ID())] = s.Mode()
	}
	effective, err := r.resolver.Resolve(modes)
	if err != nil {
		return errors.Wrap(err, "failed to resolve enablement")
	}
	for _, s := range r.order {
		s.SetEnabled(effective[dependency.NodeID(s.ID())])
	}
	r.effective = effective
	return nil
}

// SetMode changes the explicit mode of id and recomputes enablement.
func (r *Registry) SetMode(id string, mode enablement.Mode) error {
	s := r.GetServiceByID(id)
	if s == nil {
		return errors.Newf("unknown service %q", id)
	}
	if !mode.IsValid() {
		return errors.Newf("invalid enablement mode %q", mode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	previous := s.Mode()
	s.SetMode(mode)
	if err := r.resolveLocked(); err != nil {
		s.SetMode(previous)
		return err
	}
	logging.Debug("Registry", "Service %s set to %s", id, mode)
	return nil
}

// GetServiceByID returns the service with id, or nil.
func (r *Registry) GetServiceByID(id string) *services.Service {
	return r.byID[id]
}

// Lookup finds a service by id, then by short service name.
func (r *Registry) Lookup(ref string) *services.Service {
	if s := r.byID[ref]; s != nil {
		return s
	}
	for _, s := range r.order {
		if s.ServiceName() == ref {
			return s
		}
	}
	return nil
}

// GetServiceByProvides returns the first service, in registration order,
// that provides capability.
func (r *Registry) GetServiceByProvides(capability string) *services.Service {
	for _, s := range r.order {
		if s.Descriptor().ProvidesCapability(capability) {
			return s
		}
	}
	return nil
}

// ServiceByProvides implements services.Host.
func (r *Registry) ServiceByProvides(capability string) *services.Service {
	return r.GetServiceByProvides(capability)
}

// Dependents returns every service depending on id directly or transitively,
// sorted by id.
func (r *Registry) Dependents(id string) []*services.Service {
	var out []*services.Service
	for _, dep := range r.graph.TransitiveDependents(dependency.NodeID(id)) {
		if s := r.byID[string(dep)]; s != nil && s.ID() != id {
			out = append(out, s)
		}
	}
	return out
}

// Dependencies returns the direct dependencies of id that are registered
// services.
func (r *Registry) Dependencies(id string) []*services.Service {
	var out []*services.Service
	for _, dep := range r.graph.Dependencies(dependency.NodeID(id)) {
		if s := r.byID[string(dep)]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// RequiredBy returns the enabled services that keep id enabled through a
// dependency, sorted by id.
func (r *Registry) RequiredBy(id string) []*services.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*services.Service
	for _, dep := range r.resolver.EnabledDependents(dependency.NodeID(id), r.effective) {
		if s := r.byID[string(dep)]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Services returns every service in registration order.
func (r *Registry) Services() []*services.Service {
	return append([]*services.Service(nil), r.order...)
}

// EnabledServices returns the effectively enabled services in registration order.
func (r *Registry) EnabledServices() []*services.Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*services.Service
	for _, s := range r.order {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

// Groups returns the non-empty groups in the requested order. Services keep
// registration order inside a group.
func (r *Registry) Groups(order Order) []Group {
	out := make([]Group, 0, len(r.groups))
	for _, name := range r.groups {
		g := Group{Name: name}
		for _, s := range r.order {
			if groupOf(s) == name {
				g.Services = append(g.Services, s)
			}
		}
		out = append(out, g)
	}
	if order == ConfigureOrder {
		slices.Reverse(out)
	}
	return out
}

// Settings returns the explicit configuration of every service, for persisting.
func (r *Registry) Settings() []Setting {
	out := make([]Setting, 0, len(r.order))
	for _, s := range r.order {
		out = append(out, Setting{ID: s.ID(), Mode: s.Mode(), Profiles: s.Profiles()})
	}
	return out
}

// ProjectName implements services.Host.
func (r *Registry) ProjectName() string { return r.projectName }

// ProjectDir implements services.Host.
func (r *Registry) ProjectDir() string { return r.projectDir }

// Env implements services.Host. Without an env store it is empty.
func (r *Registry) Env() (map[string]string, error) {
	if r.env == nil {
		return map[string]string{}, nil
	}
	return r.env.Load()
}

// SetEnvVars implements services.Host.
func (r *Registry) SetEnvVars(vars map[string]string) error {
	if r.env == nil {
		return errors.New("no env file configured")
	}
	return r.env.SetVars(vars)
}

// PrepareEnv prepares every enabled service concurrently. The outcome, a
// failure included, is remembered for the life of the registry unless
// opts.Pull asks for a fresh run. Concurrent callers wait for the run in
// progress and only the caller that ran it receives its messages.
func (r *Registry) PrepareEnv(ctx context.Context, opts services.PrepareOptions) services.Result[bool] {
	r.prepMu.Lock()
	defer r.prepMu.Unlock()

	if r.prepared && !opts.Pull {
		if r.prepErr != nil {
			return services.Fail(r.prepErr, false)
		}
		return services.OK(true)
	}

	enabled := r.EnabledServices()
	results := make([]services.Result[bool], len(enabled))
	var g errgroup.Group
	for i, s := range enabled {
		g.Go(func() error {
			results[i] = s.PrepareEnv(ctx, opts)
			return nil
		})
	}
	_ = g.Wait()

	res := services.OK(true)
	for _, sr := range results {
		res.Collect(sr)
	}
	r.prepared = true
	r.prepErr = nil
	if !res.Success {
		res.Data = false
		r.prepErr = res.Err
		logging.Warn("Registry", "Environment preparation failed: %v", res.Err)
	}
	return res
}
