package enablement

import (
	"sort"

	"llmn/internal/dependency"
	"llmn/pkg/logging"

	"github.com/cockroachdb/errors"
)

// ErrNoConvergence means the resolver did not reach a fixed point within its
// pass budget. It always indicates a bug; partial results are never returned.
var ErrNoConvergence = errors.New("enablement resolution did not converge")

// Resolver computes effective enablement over a dependency graph.
type Resolver struct {
	graph *dependency.Graph
}

// NewResolver creates a resolver bound to graph. The graph must not be mutated
// while the resolver is in use.
func NewResolver(graph *dependency.Graph) *Resolver {
	return &Resolver{graph: graph}
}

// Resolve returns the effective enabled flag of every service node.
//
// Services set to on or off keep that value. An auto service is enabled iff at
// least one of its transitive dependents is effectively enabled, so an auto
// service nobody depends on stays disabled. Nodes missing from modes count as
// off. External nodes are not part of the result.
//
// The computation iterates to a fixed point in sorted id order, bounded by one
// pass per service plus a confirming pass.
func (r *Resolver) Resolve(modes map[dependency.NodeID]Mode) (map[dependency.NodeID]bool, error) {
	ids := r.serviceIDs()

	effective := make(map[dependency.NodeID]bool, len(ids))
	var autos []dependency.NodeID
	for _, id := range ids {
		switch modes[id] {
		case ModeOn:
			effective[id] = true
		case ModeAuto:
			effective[id] = false
			autos = append(autos, id)
		default:
			effective[id] = false
		}
	}

	if len(autos) == 0 {
		return effective, nil
	}

	dependents := make(map[dependency.NodeID][]dependency.NodeID, len(autos))
	for _, id := range autos {
		dependents[id] = r.graph.TransitiveDependents(id)
	}

	maxPasses := len(ids) + 1
	for pass := 1; pass <= maxPasses; pass++ {
		changed := false
		for _, id := range autos {
			next := false
			for _, dep := range dependents[id] {
				if dep != id && effective[dep] {
					next = true
					break
				}
			}
			if next != effective[id] {
				effective[id] = next
				changed = true
			}
		}
		if !changed {
			logging.Debug("Resolver", "Enablement converged after %d pass(es) over %d services", pass, len(ids))
			return effective, nil
		}
	}

	return nil, errors.WithDetailf(ErrNoConvergence, "%d services, %d passes", len(ids), maxPasses)
}

// EnabledDependents returns the transitive dependents of id that are enabled
// in effective, sorted by id.
func (r *Resolver) EnabledDependents(id dependency.NodeID, effective map[dependency.NodeID]bool) []dependency.NodeID {
	var out []dependency.NodeID
	for _, dep := range r.graph.TransitiveDependents(id) {
		if dep != id && effective[dep] {
			out = append(out, dep)
		}
	}
	return out
}

func (r *Resolver) serviceIDs() []dependency.NodeID {
	var ids []dependency.NodeID
	for _, id := range r.graph.Nodes() {
		if n := r.graph.Get(id); n != nil && n.Kind == dependency.KindExternal {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
