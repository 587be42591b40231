package agrimesh

import (
	"time"

	"github.com/ecobloom/agrimesh/connection"
)

// reapStuckHandshakes tears down any link that has sat in the SENT state
// longer than opts.handshakeTimeout without completing (spec.md §7
// "Handshake never completes"). Grounded on zeromq-gyre/peer.go's
// once-a-second reap ticker, repurposed from "silent peer" liveness to
// "handshake never finished."
func (n *node) reapStuckHandshakes() {
	cutoff := time.Now().Add(-n.opts.handshakeTimeout)

	var stuck []*link
	for _, l := range n.links {
		if l.conn.State == connection.StateSent && l.sentAt.Before(cutoff) {
			stuck = append(stuck, l)
		}
	}

	for _, l := range stuck {
		n.log.WithField("remote", l.conn.Remote).Warn("agrimesh: handshake never completed, closing link")
		n.closeLink(l)
	}
}

// flushPendingLinks retries any link whose outbound buffer didn't fully
// drain on the write deadline that applied when it was last queued (spec.md
// §4.6.1 point 4: a connection "ready to write with a non-empty outbound
// buffer" gets flush_out() called on it even absent new inbound traffic).
func (n *node) flushPendingLinks() {
	for _, l := range n.links {
		if l.conn.HasPendingOutbound() {
			n.flush(l)
		}
	}
}
