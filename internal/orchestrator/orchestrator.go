package orchestrator

import (
	"context"
	"sync"

	"llmn/internal/registry"
	"llmn/internal/services"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// ErrUnknownService is returned when a service reference matches nothing.
var ErrUnknownService = errors.New("unknown service")

// Operation names carried by state change events.
const (
	OpStart  = "start"
	OpStop   = "stop"
	OpUpdate = "update"
	OpInit   = "init"
)

// PrerequisiteChecker verifies that the external tools are callable.
type PrerequisiteChecker interface {
	Prerequisites(ctx context.Context) error
}

// Outcome is the result of one service operation within a batch.
type Outcome struct {
	ServiceID string
	Group     string
	Result    services.Result[bool]
}

// ServiceStateChangedEvent is published after every service operation.
type ServiceStateChangedEvent struct {
	ServiceID string
	Operation string
	Success   bool
	Status    services.Status
	Error     error
}

// Config holds the collaborators of an Orchestrator.
type Config struct {
	Registry *registry.Registry
	// Prerequisites is checked before starting services; nil skips the check.
	Prerequisites PrerequisiteChecker
}

// Orchestrator turns start, stop and restart requests into group ordered
// service operations. Services in one group run concurrently; a group only
// begins after the previous one settled.
type Orchestrator struct {
	registry *registry.Registry
	prereq   PrerequisiteChecker

	mu                     sync.RWMutex
	stateChangeSubscribers []chan<- ServiceStateChangedEvent
}

// New creates an orchestrator over cfg.Registry.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		registry: cfg.Registry,
		prereq:   cfg.Prerequisites,
	}
}

// Registry returns the registry the orchestrator works on.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

func (o *Orchestrator) checkPrerequisites(ctx context.Context) error {
	if o.prereq == nil {
		return nil
	}
	if err := o.prereq.Prerequisites(ctx); err != nil {
		return errors.Wrap(err, "prerequisites not met")
	}
	return nil
}

// StartAll starts every enabled service group by group. Failures inside a
// group are collected after the whole batch settled; any failure stops the
// sequence before the next group.
func (o *Orchestrator) StartAll(ctx context.Context, opts services.StartOptions) services.Result[[]Outcome] {
	res := services.OK[[]Outcome](nil)
	if err := o.checkPrerequisites(ctx); err != nil {
		return res.Abort(err, "unable to start services")
	}

	for _, group := range o.registry.Groups(registry.StartOrder) {
		enabled := enabledIn(group)
		if len(enabled) == 0 {
			continue
		}
		logging.Info("Orchestrator", "Starting group %s (%d services)", group.Name, len(enabled))

		outcomes := o.runBatch(ctx, group.Name, enabled, OpStart, func(ctx context.Context, s *services.Service) services.Result[bool] {
			return s.Start(ctx, opts)
		})
		res.Data = append(res.Data, outcomes...)
		for _, oc := range outcomes {
			res.Collect(oc.Result)
		}
		if !res.Success {
			logging.Warn("Orchestrator", "Group %s failed, remaining groups not started", group.Name)
			res.Error("Group %s failed to start, remaining groups were not started", group.Name)
			return res
		}
	}
	return res
}

// StartService starts one service. A disabled service is not an error: the
// result succeeds with Data=false and a warning.
func (o *Orchestrator) StartService(ctx context.Context, ref string, opts services.StartOptions) services.Result[bool] {
	s := o.registry.Lookup(ref)
	if s == nil {
		return services.Fail(errors.Mark(errors.Newf("unknown service %q", ref), ErrUnknownService), false)
	}
	if !s.IsEnabled() {
		res := services.OK(false)
		res.Warn("%s is not enabled. Run `llmn configure` to enable it.", s.Name())
		return res
	}
	if err := o.checkPrerequisites(ctx); err != nil {
		return services.OK(false).Abort(err, "unable to start %s", s.Name())
	}

	res := s.Start(ctx, opts)
	o.publish(s, OpStart, res)
	return res
}

// StopAll stops every service in reverse group order. Stopping continues
// past failures; all of them are reported together.
func (o *Orchestrator) StopAll(ctx context.Context, opts services.StopOptions) services.Result[[]Outcome] {
	res := services.OK[[]Outcome](nil)
	groups := o.registry.Groups(registry.StartOrder)
	for i := len(groups) - 1; i >= 0; i-- {
		group := groups[i]
		if len(group.Services) == 0 {
			continue
		}
		logging.Info("Orchestrator", "Stopping group %s", group.Name)
		outcomes := o.runBatch(ctx, group.Name, group.Services, OpStop, func(ctx context.Context, s *services.Service) services.Result[bool] {
			return s.Stop(ctx, opts)
		})
		res.Data = append(res.Data, outcomes...)
		for _, oc := range outcomes {
			res.Collect(oc.Result)
		}
	}
	return res
}

// StopService stops one service, enabled or not.
func (o *Orchestrator) StopService(ctx context.Context, ref string, opts services.StopOptions) services.Result[bool] {
	s := o.registry.Lookup(ref)
	if s == nil {
		return services.Fail(errors.Mark(errors.Newf("unknown service %q", ref), ErrUnknownService), false)
	}
	res := s.Stop(ctx, opts)
	o.publish(s, OpStop, res)
	return res
}

// Restart stops the whole stack and then starts either everything (empty ref)
// or the referenced service. The start phase only begins after every stop
// settled, and is skipped when stopping failed.
func (o *Orchestrator) Restart(ctx context.Context, ref string, opts services.StartOptions) services.Result[bool] {
	if ref != "" && o.registry.Lookup(ref) == nil {
		return services.Fail(errors.Mark(errors.Newf("unknown service %q", ref), ErrUnknownService), false)
	}

	res := services.OK(true)
	stopped := o.StopAll(ctx, services.StopOptions{Silent: opts.Silent})
	res.Collect(stopped)
	if !stopped.Success {
		res.Data = false
		res.Error("Restart aborted: not every service could be stopped")
		return res
	}

	if ref == "" {
		started := o.StartAll(ctx, opts)
		res.Collect(started)
		res.Data = res.Success
		return res
	}
	started := o.StartService(ctx, ref, opts)
	res.Collect(started)
	res.Data = res.Success && started.Data
	return res
}

// UpdateAll pulls and rebuilds every enabled service concurrently.
func (o *Orchestrator) UpdateAll(ctx context.Context, opts services.UpdateOptions) services.Result[[]Outcome] {
	res := services.OK[[]Outcome](nil)
	outcomes := o.runBatch(ctx, "", o.registry.EnabledServices(), OpUpdate, func(ctx context.Context, s *services.Service) services.Result[bool] {
		return s.Update(ctx, opts)
	})
	res.Data = outcomes
	for _, oc := range outcomes {
		res.Collect(oc.Result)
	}
	return res
}

// InitAll runs Init for every enabled service in start order, one at a time,
// since an init may start the provider another service's init needs. The
// first failure stops the sequence.
func (o *Orchestrator) InitAll(ctx context.Context) services.Result[[]Outcome] {
	res := services.OK[[]Outcome](nil)
	for _, group := range o.registry.Groups(registry.StartOrder) {
		for _, s := range enabledIn(group) {
			r := s.Init(ctx, nil)
			o.publish(s, OpInit, r)
			res.Data = append(res.Data, Outcome{ServiceID: s.ID(), Group: group.Name, Result: r})
			res.Collect(r)
			if !r.Success {
				return res
			}
		}
	}
	return res
}

// runBatch runs op for every service concurrently and waits for all of them.
// Outcomes keep the order of list.
func (o *Orchestrator) runBatch(ctx context.Context, group string, list []*services.Service, op string, fn func(context.Context, *services.Service) services.Result[bool]) []Outcome {
	outcomes := make([]Outcome, len(list))
	var g errgroup.Group
	for i, s := range list {
		g.Go(func() error {
			r := fn(ctx, s)
			outcomes[i] = Outcome{ServiceID: s.ID(), Group: group, Result: r}
			o.publish(s, op, r)
			if !r.Success {
				logging.Error("Orchestrator", r.Err, "Failed to %s %s", op, s.ID())
			} else {
				logging.Debug("Orchestrator", "%s %s done", op, s.ID())
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func enabledIn(group registry.Group) []*services.Service {
	var out []*services.Service
	for _, s := range group.Services {
		if s.IsEnabled() {
			out = append(out, s)
		}
	}
	return out
}

func (o *Orchestrator) publish(s *services.Service, op string, res services.Result[bool]) {
	event := ServiceStateChangedEvent{
		ServiceID: s.ID(),
		Operation: op,
		Success:   res.Success,
		Status:    s.Status(),
		Error:     res.Err,
	}

	o.mu.RLock()
	subscribers := make([]chan<- ServiceStateChangedEvent, len(o.stateChangeSubscribers))
	copy(subscribers, o.stateChangeSubscribers)
	o.mu.RUnlock()

	for _, ch := range subscribers {
		select {
		case ch <- event:
		default:
			logging.Warn("Orchestrator", "Dropped state change event for %s (subscriber channel full)", s.ID())
		}
	}
}

// SubscribeToStateChanges returns a channel receiving an event after every
// service operation. Events are dropped when the channel is full.
func (o *Orchestrator) SubscribeToStateChanges() <-chan ServiceStateChangedEvent {
	eventChan := make(chan ServiceStateChangedEvent, 100)

	o.mu.Lock()
	o.stateChangeSubscribers = append(o.stateChangeSubscribers, eventChan)
	o.mu.Unlock()

	return eventChan
}
