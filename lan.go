package agrimesh

import (
	"github.com/sirupsen/logrus"

	"github.com/ecobloom/agrimesh/discovery"
)

// discoverySignals returns the beacon's signal channel, or nil when LAN
// discovery is disabled — selecting on a nil channel simply never fires,
// so run()'s select loop needs no separate enabled/disabled branch.
func (n *node) discoverySignals() chan discovery.Signal {
	if n.beacon == nil {
		return nil
	}
	return n.beacon.Signals()
}

// handleDiscoverySignal reacts to a LAN announce from a peer we don't yet
// hold a connection or KnownPeers entry for by dialing it (SPEC_FULL.md
// §9.6). A peer we already know about or are already connected to is left
// alone: PEER_LIST/NETWORK_UPDATE gossip, not the beacon, is what keeps the
// overlay's view of that peer current.
func (n *node) handleDiscoverySignal(sig discovery.Signal) {
	if sig.PeerID == "" || sig.PeerID == n.selfID {
		return
	}
	if _, known := n.known[sig.PeerID]; known {
		return
	}
	if _, connected := n.byPeer[sig.PeerID]; connected {
		return
	}

	n.log.WithFields(logrus.Fields{
		"peer_id": sig.PeerID, "host": sig.Host, "port": sig.Port,
	}).Info("agrimesh: discovered peer via LAN beacon, connecting")
	n.connectTo(sig.Host, sig.Port)
}
