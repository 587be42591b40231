package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func knownSet(ids ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func TestRecomputeShortestPath(t *testing.T) {
	r := New("A")
	r.AddEdge("A", "B")
	r.AddEdge("B", "C")
	r.AddEdge("A", "D")
	r.AddEdge("D", "C")

	r.Recompute(knownSet("A", "B", "C", "D"))

	hop, ok := r.NextHop("B")
	require.True(t, ok)
	assert.Equal(t, "B", hop)

	// Two shortest paths to C exist (A-B-C and A-D-C), both length 2;
	// sorted-neighbor order must deterministically pick B.
	hop, ok = r.NextHop("C")
	require.True(t, ok)
	assert.Equal(t, "B", hop)
}

func TestRecomputeOmitsUnreachableTargets(t *testing.T) {
	r := New("A")
	r.AddEdge("A", "B")

	r.Recompute(knownSet("A", "B", "Z"))

	_, ok := r.NextHop("Z")
	assert.False(t, ok)
}

func TestRemoveNodeClearsGraphAndRoutes(t *testing.T) {
	r := New("A")
	r.AddEdge("A", "B")
	r.AddEdge("B", "C")
	r.Recompute(knownSet("A", "B", "C"))

	r.RemoveNode("B")

	_, ok := r.NextHop("B")
	assert.False(t, ok)
	_, ok = r.NextHop("C")
	assert.False(t, ok, "C was only reachable via B")

	graph := r.Graph()
	for node, neighbors := range graph {
		for _, n := range neighbors {
			assert.NotEqual(t, "B", n, "node %s still lists B as a neighbor", node)
		}
	}
	_, present := graph["B"]
	assert.False(t, present)
}

func TestMergeRemoteGraphReportsChanged(t *testing.T) {
	r := New("A")
	r.AddEdge("A", "B")

	changed := r.MergeRemoteGraph(map[string][]string{
		"B": {"A", "C"},
		"C": {"B"},
	})
	assert.True(t, changed)
	assert.Contains(t, r.Graph()["B"], "C")
	assert.Contains(t, r.Graph()["C"], "B")

	changed = r.MergeRemoteGraph(map[string][]string{
		"B": {"A", "C"},
	})
	assert.False(t, changed, "re-merging the same edges should report no change")
}

func TestBFSSelfIsTrivialPath(t *testing.T) {
	r := New("A")
	r.Recompute(knownSet("A"))
	_, ok := r.NextHop("A")
	assert.False(t, ok, "self should never appear as a routing target")
}
