package agrimesh

import (
	"github.com/ecobloom/agrimesh/connection"
	"github.com/ecobloom/agrimesh/message"
)

// handlePeerList processes an inbound PEER_LIST, adopting any peer we don't
// already know and, if anything changed, recomputing routes and re-emitting
// the updated list to every other complete peer (spec.md §4.6.3).
func (n *node) handlePeerList(l *link, m *message.Message) {
	incoming := message.DecodePeerList(m)

	changed := false
	for id, ep := range incoming {
		if id == n.selfID {
			continue
		}
		if _, known := n.known[id]; known {
			continue
		}
		n.known[id] = ep
		changed = true
	}
	if !changed {
		return
	}

	n.metrics.knownPeersSize.Set(float64(len(n.known)))
	n.graph.Recompute(n.knownSet())
	n.broadcastPeerList(l.conn.PeerID)
	n.retryOfflineQueue()
}

// handleNetworkUpdate processes an inbound NETWORK_UPDATE, merging it into
// the local graph and, on change, recomputing routes and re-emitting to
// every other complete peer except the sender (spec.md §4.6.4, split
// horizon).
func (n *node) handleNetworkUpdate(l *link, m *message.Message) {
	adjacency := message.DecodeNetworkUpdate(m)
	if !n.graph.MergeRemoteGraph(adjacency) {
		return
	}

	n.graph.Recompute(n.knownSet())
	n.broadcastNetworkUpdate(l.conn.PeerID)
	n.retryOfflineQueue()
}

// broadcastPeerList re-emits the current KnownPeers snapshot to every
// COMPLETE link other than exceptPeerID.
func (n *node) broadcastPeerList(exceptPeerID string) {
	for peerID, linkID := range n.byPeer {
		if peerID == exceptPeerID {
			continue
		}
		l, ok := n.links[linkID]
		if !ok || l.conn.State != connection.StateComplete {
			continue
		}
		pl := message.NewPeerList(n.selfID, peerID, n.known)
		if err := l.conn.Queue(pl); err != nil {
			continue
		}
		n.flush(l)
	}
}

// broadcastNetworkUpdate re-emits the current peer-graph snapshot to every
// COMPLETE link other than exceptPeerID. Called after a handshake, with the
// newly-completed peer as the exception (it already got its copy directly
// via sendNetworkUpdate); after a merged NETWORK_UPDATE, with the sender as
// the exception (split horizon); and after a disconnect, where exceptPeerID
// is empty because the departed peer has already been removed from byPeer.
func (n *node) broadcastNetworkUpdate(exceptPeerID string) {
	graph := n.graph.Graph()
	for peerID, linkID := range n.byPeer {
		if peerID == exceptPeerID {
			continue
		}
		l, ok := n.links[linkID]
		if !ok || l.conn.State != connection.StateComplete {
			continue
		}
		nu := message.NewNetworkUpdate(n.selfID, peerID, graph)
		if err := l.conn.Queue(nu); err != nil {
			continue
		}
		n.flush(l)
	}
}
