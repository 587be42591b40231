// Package router maintains the undirected peer graph and the next-hop
// routing table derived from it (spec.md §4.5). Grounded on
// original_source/router.py's BFS pseudocode, translated from Python's
// deque/set to a Go slice-backed FIFO and map-backed set, with deterministic
// sorted-neighbor iteration added so BFS tie-breaks are reproducible in
// tests (spec.md §4.5/§9).
package router

import "sort"

// Router owns the peer graph and the routing table computed from it. It is
// not safe for concurrent use — spec.md §5 assigns exclusive ownership of
// both structures to the peer node's single event loop.
type Router struct {
	selfID  string
	graph   map[string]map[string]struct{}
	routing map[string]string
}

// New returns a Router rooted at selfID.
func New(selfID string) *Router {
	return &Router{
		selfID:  selfID,
		graph:   map[string]map[string]struct{}{selfID: {}},
		routing: map[string]string{},
	}
}

// AddEdge inserts an undirected edge a<->b, creating adjacency entries for
// either endpoint if missing.
func (r *Router) AddEdge(a, b string) {
	r.ensureNode(a)
	r.ensureNode(b)
	r.graph[a][b] = struct{}{}
	r.graph[b][a] = struct{}{}
}

func (r *Router) ensureNode(id string) {
	if _, ok := r.graph[id]; !ok {
		r.graph[id] = map[string]struct{}{}
	}
}

// RemoveNode removes x from the graph, every adjacency entry, and every
// routing-table row where x is destination or next-hop (spec.md §4.5, §8
// property 9).
func (r *Router) RemoveNode(x string) {
	delete(r.graph, x)
	for _, neighbors := range r.graph {
		delete(neighbors, x)
	}
	for dest, hop := range r.routing {
		if dest == x || hop == x {
			delete(r.routing, dest)
		}
	}
}

// MergeRemoteGraph unions a received PeerId -> []PeerId adjacency view into
// the local graph, ensuring symmetry, and reports whether anything changed
// (spec.md §4.5 merge_remote_graph).
func (r *Router) MergeRemoteGraph(remote map[string][]string) (changed bool) {
	ids := make([]string, 0, len(remote))
	for id := range remote {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		neighbors := remote[id]
		sort.Strings(neighbors)
		for _, n := range neighbors {
			if r.hasEdge(id, n) {
				continue
			}
			r.AddEdge(id, n)
			changed = true
		}
	}
	return changed
}

func (r *Router) hasEdge(a, b string) bool {
	neighbors, ok := r.graph[a]
	if !ok {
		return false
	}
	_, ok = neighbors[b]
	return ok
}

// Recompute runs BFS from self to every target in knownPeers (other than
// self) and sets RoutingTable[target] to the first hop on a shortest path,
// omitting targets with no path (spec.md §4.5 recompute).
func (r *Router) Recompute(knownPeers map[string]struct{}) {
	r.routing = map[string]string{}
	targets := make([]string, 0, len(knownPeers))
	for id := range knownPeers {
		if id != r.selfID {
			targets = append(targets, id)
		}
	}
	sort.Strings(targets)

	for _, target := range targets {
		path := r.bfsPath(target)
		if len(path) >= 2 {
			r.routing[target] = path[1]
		}
	}
}

// bfsPath returns a shortest path from self to target (inclusive of both
// ends), or nil if target is unreachable. FIFO frontier of (node, path); a
// node is tested against target when popped, before its neighbors are
// enqueued; already-explored nodes are skipped; neighbors are visited in
// sorted order so ties between equal-length paths are deterministic
// (spec.md §4.5 "BFS details").
func (r *Router) bfsPath(target string) []string {
	if target == r.selfID {
		return []string{r.selfID}
	}
	if _, ok := r.graph[target]; !ok {
		return nil
	}

	type frame struct {
		node string
		path []string
	}

	frontier := []frame{{node: r.selfID, path: []string{r.selfID}}}
	explored := map[string]struct{}{}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]

		if _, done := explored[cur.node]; done {
			continue
		}
		explored[cur.node] = struct{}{}

		if cur.node == target {
			return cur.path
		}

		neighbors := make([]string, 0, len(r.graph[cur.node]))
		for n := range r.graph[cur.node] {
			neighbors = append(neighbors, n)
		}
		sort.Strings(neighbors)

		for _, n := range neighbors {
			if _, done := explored[n]; done {
				continue
			}
			nextPath := make([]string, len(cur.path)+1)
			copy(nextPath, cur.path)
			nextPath[len(cur.path)] = n
			frontier = append(frontier, frame{node: n, path: nextPath})
		}
	}
	return nil
}

// NextHop returns the next hop toward target, if the routing table has one.
func (r *Router) NextHop(target string) (string, bool) {
	hop, ok := r.routing[target]
	return hop, ok
}

// RoutingTable returns a copy of the current destination -> next-hop table.
func (r *Router) RoutingTable() map[string]string {
	out := make(map[string]string, len(r.routing))
	for k, v := range r.routing {
		out[k] = v
	}
	return out
}

// Graph returns a copy of the current adjacency-list view of the peer graph,
// suitable for embedding in a NETWORK_UPDATE message.
func (r *Router) Graph() map[string][]string {
	out := make(map[string][]string, len(r.graph))
	for id, neighbors := range r.graph {
		list := make([]string, 0, len(neighbors))
		for n := range neighbors {
			list = append(list, n)
		}
		sort.Strings(list)
		out[id] = list
	}
	return out
}
