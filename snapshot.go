package agrimesh

import "github.com/ecobloom/agrimesh/message"

// Snapshot is the read-only view of the network exposed to collaborators
// (spec.md §6 "snapshot()").
type Snapshot struct {
	SelfID     string
	Connected  []string
	Known      map[string]message.Endpoint
	Routes     map[string]string
	QueueDepth int
}

func (n *node) buildSnapshot() Snapshot {
	connected := make([]string, 0, len(n.byPeer))
	for peerID := range n.byPeer {
		connected = append(connected, peerID)
	}

	known := make(map[string]message.Endpoint, len(n.known))
	for id, ep := range n.known {
		known[id] = ep
	}

	depth := 0
	if all, err := n.store.AllPending(); err == nil {
		depth = len(all)
	}

	return Snapshot{
		SelfID:     n.selfID,
		Connected:  connected,
		Known:      known,
		Routes:     n.graph.RoutingTable(),
		QueueDepth: depth,
	}
}
