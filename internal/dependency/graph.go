// Package dependency models services and the dependsOn edges between them.
//
// A Graph keeps a reverse-edge index next to the forward edges so callers can
// ask "who depends on X" without scanning every node.
package dependency

import "sort"

// NodeID uniquely identifies a node in the graph.
type NodeID string

// NodeKind distinguishes registered services from tolerated external references.
type NodeKind string

const (
	KindService  NodeKind = "service"
	KindExternal NodeKind = "external"
)

// Node is a vertex in the dependency graph.
type Node struct {
	ID           NodeID
	FriendlyName string
	Kind         NodeKind
	DependsOn    []NodeID
}

// Graph is a directed graph where an edge A -> B means A depends on B.
// It is not safe for concurrent mutation; build it once, then read it freely.
type Graph struct {
	nodes      map[NodeID]*Node
	order      []NodeID
	dependents map[NodeID][]NodeID
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[NodeID]*Node),
		dependents: make(map[NodeID][]NodeID),
	}
}

// AddNode inserts or replaces a node and refreshes the reverse index.
func (g *Graph) AddNode(n Node) {
	if old, exists := g.nodes[n.ID]; exists {
		for _, dep := range old.DependsOn {
			g.dependents[dep] = remove(g.dependents[dep], n.ID)
		}
	} else {
		g.order = append(g.order, n.ID)
	}

	node := n
	node.DependsOn = dedupe(n.DependsOn)
	g.nodes[n.ID] = &node

	for _, dep := range node.DependsOn {
		g.dependents[dep] = append(g.dependents[dep], n.ID)
	}
}

// Get returns the node with the given id, or nil.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Nodes returns all node ids in insertion order.
func (g *Graph) Nodes() []NodeID {
	out := make([]NodeID, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Dependencies returns the direct dependencies of id.
func (g *Graph) Dependencies(id NodeID) []NodeID {
	n := g.nodes[id]
	if n == nil {
		return nil
	}
	out := make([]NodeID, len(n.DependsOn))
	copy(out, n.DependsOn)
	return out
}

// Dependents returns the nodes that directly depend on id, in insertion order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	out := make([]NodeID, len(g.dependents[id]))
	copy(out, g.dependents[id])
	return out
}

// TransitiveDependents returns every node that depends on id directly or
// indirectly, sorted by id. The walk keeps a visited set so a cyclic graph
// still terminates; id itself is only included when it sits on a cycle.
func (g *Graph) TransitiveDependents(id NodeID) []NodeID {
	visited := make(map[NodeID]bool)
	found := make(map[NodeID]bool)

	var walk func(current NodeID)
	walk = func(current NodeID) {
		if visited[current] {
			return
		}
		visited[current] = true
		for _, dep := range g.dependents[current] {
			found[dep] = true
			walk(dep)
		}
	}
	walk(id)

	out := make([]NodeID, 0, len(found))
	for n := range found {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FindCycle returns the first dependency cycle found, as a path that starts
// and ends with the same node. It returns nil when the graph is acyclic.
// Nodes are visited in insertion order so the result is stable.
func (g *Graph) FindCycle() []NodeID {
	const (
		white = iota
		grey
		black
	)
	color := make(map[NodeID]int, len(g.nodes))
	var stack []NodeID
	var cycle []NodeID

	var visit func(id NodeID) bool
	visit = func(id NodeID) bool {
		color[id] = grey
		stack = append(stack, id)
		if n := g.nodes[id]; n != nil {
			for _, dep := range n.DependsOn {
				switch color[dep] {
				case grey:
					for i, s := range stack {
						if s == dep {
							cycle = append(append([]NodeID{}, stack[i:]...), dep)
							return true
						}
					}
				case white:
					if visit(dep) {
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

func dedupe(ids []NodeID) []NodeID {
	seen := make(map[NodeID]bool, len(ids))
	out := make([]NodeID, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func remove(ids []NodeID, target NodeID) []NodeID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
