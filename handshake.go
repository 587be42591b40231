package agrimesh

import (
	"github.com/ecobloom/agrimesh/connection"
	"github.com/ecobloom/agrimesh/message"
)

// sendHandshake queues a HANDSHAKE on a freshly registered link and moves it
// to SENT (spec.md §4.6.2 "On outbound connect, the initiator queues a
// HANDSHAKE... and enters SENT"). It is also the responder-side half of the
// two-way guard: handleHandshake calls this exactly once, the first time it
// sees an inbound HANDSHAKE on a link still in NEW, so the ping-pong never
// repeats.
func (n *node) sendHandshake(l *link) {
	m := message.NewHandshake(n.selfID, "", n.host, n.port)
	if err := l.conn.Queue(m); err != nil {
		n.log.WithError(err).Warn("agrimesh: could not queue handshake")
		return
	}
	l.conn.State = connection.StateSent
	n.flush(l)
}

// handleHandshake processes an inbound HANDSHAKE, completing the two-way
// binding between a link and a remote PeerId (spec.md §4.6.2).
func (n *node) handleHandshake(l *link, m *message.Message) {
	data, ok := message.DecodeHandshake(m)
	if !ok {
		n.log.Debug("agrimesh: malformed handshake data, dropping")
		return
	}

	remoteID := m.PeerID
	if remoteID == "" || remoteID == n.selfID {
		return
	}

	l.conn.PeerID = remoteID
	n.byPeer[remoteID] = l.id

	if _, known := n.known[remoteID]; !known {
		n.known[remoteID] = message.Endpoint{Host: data.Host, Port: data.Port}
		n.metrics.knownPeersSize.Set(float64(len(n.known)))
	}

	n.graph.AddEdge(n.selfID, remoteID)
	n.graph.Recompute(n.knownSet())

	// Two-way guard (spec.md §4.6.2): only answer with our own HANDSHAKE if
	// this link hasn't sent one yet — a link we dialed is already SENT by
	// the time its HANDSHAKE reply arrives, so it skips this branch.
	if l.conn.State == connection.StateNew {
		n.sendHandshake(l)
	}
	l.conn.State = connection.StateComplete
	n.metrics.handshakesOK.Inc()

	n.sendPeerList(l)
	n.sendNetworkUpdate(l)

	n.broadcastPeerList(remoteID)
	n.broadcastNetworkUpdate(remoteID)

	n.drainOffline(remoteID)
}

func (n *node) sendPeerList(l *link) {
	pl := message.NewPeerList(n.selfID, l.conn.PeerID, n.known)
	if err := l.conn.Queue(pl); err != nil {
		n.log.WithError(err).Warn("agrimesh: could not queue peer list")
		return
	}
	n.flush(l)
}

func (n *node) sendNetworkUpdate(l *link) {
	nu := message.NewNetworkUpdate(n.selfID, l.conn.PeerID, n.graph.Graph())
	if err := l.conn.Queue(nu); err != nil {
		n.log.WithError(err).Warn("agrimesh: could not queue network update")
		return
	}
	n.flush(l)
}

// drainOffline attempts to deliver every stored message addressed to target
// now that a link to it (or toward it) may exist, deleting each one only
// once delivery is actually queued (spec.md §4.4's resolved open question).
func (n *node) drainOffline(target string) {
	pending, err := n.store.PendingFor(target)
	if err != nil {
		n.log.WithError(err).WithField("target", target).Warn("agrimesh: could not read offline queue")
		return
	}
	for _, m := range pending {
		if n.attemptDeliver(m) {
			if err := n.store.Delete(m.MessageID); err != nil {
				n.log.WithError(err).WithField("message_id", m.MessageID).Warn("agrimesh: could not delete delivered offline message")
			}
		}
	}
}

// retryOfflineQueue re-attempts every stored message across all targets,
// called after a peer-list or network-update merge changed what this node
// knows, since routing may have newly opened a path. A completed handshake
// does not call it; handleHandshake drains only the new peer's own messages
// via drainOffline.
func (n *node) retryOfflineQueue() {
	pending, err := n.store.AllPending()
	if err != nil {
		n.log.WithError(err).Warn("agrimesh: could not read offline queue")
		return
	}
	for _, m := range pending {
		if n.attemptDeliver(m) {
			if err := n.store.Delete(m.MessageID); err != nil {
				n.log.WithError(err).WithField("message_id", m.MessageID).Warn("agrimesh: could not delete delivered offline message")
			}
		}
	}
}

// attemptDeliver tries to queue m onto a direct link to its target, falling
// back to the routing table's next hop, and reports whether it succeeded
// (spec.md §4.6.5 steps 3a/3b). It never stores on failure — the caller
// decides what to do with a message that couldn't be delivered right now.
func (n *node) attemptDeliver(m *message.Message) bool {
	if linkID, ok := n.byPeer[m.TargetUserID]; ok {
		if l, ok := n.links[linkID]; ok && l.conn.State == connection.StateComplete {
			if n.queueForward(l, m) {
				return true
			}
		}
	}

	if hop, ok := n.graph.NextHop(m.TargetUserID); ok {
		if linkID, ok := n.byPeer[hop]; ok {
			if l, ok := n.links[linkID]; ok && l.conn.State == connection.StateComplete {
				if n.queueForward(l, m) {
					return true
				}
			}
		}
	}

	return false
}

// queueForward queues m onto l, adding this node to Path/HopCount only when
// it is relaying a message it did not originate (spec.md §4.6.5's "append
// self to path, increment hop_count" describes a relay's act of forwarding
// onward, not an originator's first send of its own message — see
// node_test.go's TestUnicastForwardingAcrossIntermediateHop, which pins
// path=[A,B]/hop_count=1 at C for an A->B->C chain: A's own submission must
// not count as a hop, only B's relay does).
func (n *node) queueForward(l *link, m *message.Message) bool {
	fwd := m.Clone()
	if m.PeerID != n.selfID {
		fwd.AddHop(n.selfID)
	}
	if err := l.conn.Queue(fwd); err != nil {
		n.metrics.messagesDropped.WithLabelValues("buffer_full").Inc()
		return false
	}
	n.flush(l)
	n.metrics.messagesForwarded.Inc()
	return true
}

// storeOffline persists m in the durable queue when it cannot be delivered
// right now (spec.md §4.4, §7 "Route not found").
func (n *node) storeOffline(m *message.Message) error {
	if err := n.store.Store(m); err != nil {
		n.metrics.messagesDropped.WithLabelValues("store_failed").Inc()
		return err
	}
	n.metrics.messagesStored.Inc()
	return nil
}

// deliverLocal dispatches m to the handler registered for its type, if any
// (spec.md §4.6.5 step 2, §6 "on(message_type, handler)").
func (n *node) deliverLocal(m *message.Message) {
	h, ok := n.handlers[m.MessageType]
	if !ok {
		n.log.WithField("message_type", m.MessageType).Debug("agrimesh: no handler registered, dropping")
		n.metrics.messagesDropped.WithLabelValues("no_handler").Inc()
		return
	}
	n.metrics.messagesDelivered.Inc()
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("message_type", m.MessageType).Errorf("agrimesh: handler panicked: %v", r)
		}
	}()
	h(m)
}
