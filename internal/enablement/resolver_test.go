package enablement

import (
	"math/rand"
	"testing"

	"llmn/internal/dependency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type node struct {
	id   dependency.NodeID
	deps []dependency.NodeID
}

func graphOf(nodes ...node) *dependency.Graph {
	g := dependency.New()
	for _, n := range nodes {
		g.AddNode(dependency.Node{ID: n.id, FriendlyName: string(n.id), Kind: dependency.KindService, DependsOn: n.deps})
	}
	return g
}

func TestResolve_ExplicitModesAreFixed(t *testing.T) {
	g := graphOf(
		node{id: "db"},
		node{id: "app", deps: []dependency.NodeID{"db"}},
	)

	got, err := NewResolver(g).Resolve(map[dependency.NodeID]Mode{
		"db":  ModeOff,
		"app": ModeOn,
	})
	require.NoError(t, err)
	assert.False(t, got["db"], "explicit off wins even with an enabled dependent")
	assert.True(t, got["app"])

	got, err = NewResolver(g).Resolve(map[dependency.NodeID]Mode{
		"db":  ModeOn,
		"app": ModeOff,
	})
	require.NoError(t, err)
	assert.True(t, got["db"], "explicit on wins without dependents")
	assert.False(t, got["app"])
}

func TestResolve_AutoWithoutDependentsIsDisabled(t *testing.T) {
	g := graphOf(node{id: "lonely"})

	got, err := NewResolver(g).Resolve(map[dependency.NodeID]Mode{"lonely": ModeAuto})
	require.NoError(t, err)
	assert.False(t, got["lonely"])
}

func TestResolve_TransitiveChain(t *testing.T) {
	// A has no deps, B depends on A, C depends on B.
	g := graphOf(
		node{id: "A"},
		node{id: "B", deps: []dependency.NodeID{"A"}},
		node{id: "C", deps: []dependency.NodeID{"B"}},
	)

	got, err := NewResolver(g).Resolve(map[dependency.NodeID]Mode{
		"A": ModeAuto,
		"B": ModeAuto,
		"C": ModeOn,
	})
	require.NoError(t, err)
	assert.Equal(t, map[dependency.NodeID]bool{"A": true, "B": true, "C": true}, got)

	got, err = NewResolver(g).Resolve(map[dependency.NodeID]Mode{
		"A": ModeAuto,
		"B": ModeAuto,
		"C": ModeOff,
	})
	require.NoError(t, err)
	assert.Equal(t, map[dependency.NodeID]bool{"A": false, "B": false, "C": false}, got)
}

func TestResolve_OneEnabledDependentIsEnough(t *testing.T) {
	g := graphOf(
		node{id: "redis"},
		node{id: "a", deps: []dependency.NodeID{"redis"}},
		node{id: "b", deps: []dependency.NodeID{"redis"}},
		node{id: "c", deps: []dependency.NodeID{"redis"}},
	)

	got, err := NewResolver(g).Resolve(map[dependency.NodeID]Mode{
		"redis": ModeAuto,
		"a":     ModeOff,
		"b":     ModeOff,
		"c":     ModeOn,
	})
	require.NoError(t, err)
	assert.True(t, got["redis"])
}

func TestResolve_MissingModeCountsAsOff(t *testing.T) {
	g := graphOf(
		node{id: "db"},
		node{id: "app", deps: []dependency.NodeID{"db"}},
	)

	got, err := NewResolver(g).Resolve(map[dependency.NodeID]Mode{"db": ModeAuto})
	require.NoError(t, err)
	assert.False(t, got["app"])
	assert.False(t, got["db"])
}

func TestResolve_SkipsExternalNodes(t *testing.T) {
	g := dependency.New()
	g.AddNode(dependency.Node{ID: "host-ollama", Kind: dependency.KindExternal})
	g.AddNode(dependency.Node{ID: "app", Kind: dependency.KindService, DependsOn: []dependency.NodeID{"host-ollama"}})

	got, err := NewResolver(g).Resolve(map[dependency.NodeID]Mode{"app": ModeOn})
	require.NoError(t, err)
	assert.Equal(t, map[dependency.NodeID]bool{"app": true}, got)
}

func TestResolve_CycleTerminates(t *testing.T) {
	g := graphOf(
		node{id: "a", deps: []dependency.NodeID{"b"}},
		node{id: "b", deps: []dependency.NodeID{"a"}},
	)

	got, err := NewResolver(g).Resolve(map[dependency.NodeID]Mode{"a": ModeAuto, "b": ModeAuto})
	require.NoError(t, err)
	assert.False(t, got["a"], "an auto cycle does not enable itself")
	assert.False(t, got["b"])
}

func TestResolve_Deterministic(t *testing.T) {
	ids := []dependency.NodeID{"a", "b", "c", "d", "e", "f", "g"}
	edges := map[dependency.NodeID][]dependency.NodeID{
		"b": {"a"},
		"c": {"a", "b"},
		"d": {"c"},
		"e": {"d"},
		"f": {"b"},
		"g": {"f", "e"},
	}
	modes := map[dependency.NodeID]Mode{
		"a": ModeAuto, "b": ModeAuto, "c": ModeAuto, "d": ModeOff,
		"e": ModeAuto, "f": ModeAuto, "g": ModeOn,
	}

	first, err := NewResolver(buildShuffled(ids, edges, rand.New(rand.NewSource(1)))).Resolve(modes)
	require.NoError(t, err)

	for seed := int64(2); seed < 12; seed++ {
		got, err := NewResolver(buildShuffled(ids, edges, rand.New(rand.NewSource(seed)))).Resolve(modes)
		require.NoError(t, err)
		assert.Equal(t, first, got, "seed %d", seed)
	}

	assert.True(t, first["a"])
	assert.True(t, first["f"])
	assert.False(t, first["d"])
}

func buildShuffled(ids []dependency.NodeID, edges map[dependency.NodeID][]dependency.NodeID, rnd *rand.Rand) *dependency.Graph {
	order := append([]dependency.NodeID{}, ids...)
	rnd.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	g := dependency.New()
	for _, id := range order {
		g.AddNode(dependency.Node{ID: id, Kind: dependency.KindService, DependsOn: edges[id]})
	}
	return g
}

func TestEnabledDependents(t *testing.T) {
	g := graphOf(
		node{id: "db"},
		node{id: "a", deps: []dependency.NodeID{"db"}},
		node{id: "b", deps: []dependency.NodeID{"a"}},
	)
	r := NewResolver(g)
	effective := map[dependency.NodeID]bool{"db": true, "a": false, "b": true}

	assert.Equal(t, []dependency.NodeID{"b"}, r.EnabledDependents("db", effective))
	assert.Empty(t, r.EnabledDependents("b", effective))
}

func TestMode_YAML(t *testing.T) {
	var doc struct {
		A Mode `yaml:"a"`
		B Mode `yaml:"b"`
		C Mode `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: true\nb: false\nc: auto\n"), &doc))
	assert.Equal(t, ModeOn, doc.A)
	assert.Equal(t, ModeOff, doc.B)
	assert.Equal(t, ModeAuto, doc.C)

	out, err := yaml.Marshal(doc)
	require.NoError(t, err)
	assert.Equal(t, "a: true\nb: false\nc: auto\n", string(out))

	err = yaml.Unmarshal([]byte("a: sometimes\n"), &doc)
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"on": ModeOn, "Enabled": ModeOn, "off": ModeOff, "AUTO": ModeAuto} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("")
	assert.Error(t, err)
	assert.False(t, Mode("maybe").IsValid())
}
