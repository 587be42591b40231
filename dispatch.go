package agrimesh

import (
	"github.com/ecobloom/agrimesh/connection"
	"github.com/ecobloom/agrimesh/message"
)

// dispatchFromLink routes a freshly decoded inbound message to the right
// protocol handler by type (spec.md §2 "Data flow").
func (n *node) dispatchFromLink(l *link, m *message.Message) {
	switch m.MessageType {
	case message.TypeHandshake:
		n.handleHandshake(l, m)
	case message.TypePeerList:
		n.handlePeerList(l, m)
	case message.TypeNetworkUpdate:
		n.handleNetworkUpdate(l, m)
	default:
		n.handleApplication(m)
	}
}

// handleApplication implements spec.md §4.6.5 (dedup, local delivery,
// forwarding) and §4.6.6 (broadcast flooding) for any message type outside
// the three gossip/handshake types — both the reserved MESSAGE/PEST_ALERT
// types and anything an application collaborator has registered.
func (n *node) handleApplication(m *message.Message) {
	if _, dup := n.seen.Get(m.MessageID); dup {
		return
	}
	n.seen.Add(m.MessageID, struct{}{})
	n.metrics.seenSetSize.Set(float64(n.seen.Len()))

	if m.IsBroadcast() {
		n.deliverLocal(m)
		n.flood(m)
		return
	}
	if m.TargetUserID == n.selfID {
		n.deliverLocal(m)
		return
	}
	n.forwardApplication(m)
}

// forwardApplication implements the unicast half of §4.6.5 step 3: forward
// one hop closer if possible, otherwise queue for later delivery.
func (n *node) forwardApplication(m *message.Message) {
	if n.attemptDeliver(m) {
		return
	}
	if err := n.storeOffline(m); err != nil {
		n.log.WithError(err).WithField("target", m.TargetUserID).Warn("agrimesh: could not forward or store message")
	}
}

// flood sends m to every COMPLETE direct neighbor not already in its Path
// (spec.md §4.6.6). The original source rebuilt a forward message without
// checking Path; this is the fix the rewrite is required to make (spec.md
// §9).
func (n *node) flood(m *message.Message) {
	for peerID, linkID := range n.byPeer {
		if m.InPath(peerID) {
			continue
		}
		l, ok := n.links[linkID]
		if !ok || l.conn.State != connection.StateComplete {
			continue
		}
		n.queueForward(l, m)
	}
}

// submit is the node-local half of the Mesh.Submit API (spec.md §6): it
// stamps an unset originator, marks the message seen so a later echo of the
// same id is dropped, and either delivers locally (no addressee, or this
// node) or forwards/stores (addressed elsewhere). It never floods; the
// Broadcast command goes through broadcastOriginated instead.
func (n *node) submit(m *message.Message) error {
	if m.PeerID == "" {
		m.PeerID = n.selfID
	}
	if len(m.Path) == 0 {
		m.Path = []string{n.selfID}
	}
	n.seen.Add(m.MessageID, struct{}{})

	if m.TargetUserID == "" {
		n.deliverLocal(m)
		return nil
	}
	if m.TargetUserID == n.selfID {
		n.deliverLocal(m)
		return nil
	}
	if n.attemptDeliver(m) {
		return nil
	}
	return n.storeOffline(m)
}

// broadcastOriginated floods a locally-created broadcast message to every
// COMPLETE direct neighbor (spec.md §4.6.6 "When the application emits a
// broadcast-typed message").
func (n *node) broadcastOriginated(m *message.Message) {
	n.seen.Add(m.MessageID, struct{}{})
	n.flood(m)
}
