// Package agrimesh implements the core overlay described in spec.md: peer
// discovery, a BFS-derived routing table, application message forwarding,
// and a durable offline queue. Mesh is the only type collaborators (pest
// detectors, dashboards, CLIs — all external to this package) are expected
// to touch; everything else in the package is the event-loop actor behind
// it.
//
// Grounded on zeromq-gyre/gyre.go's Gyre façade: a thin value that proxies
// calls through a command channel into the single goroutine that actually
// owns the mesh's state, rather than letting callers reach into that state
// directly.
package agrimesh

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ecobloom/agrimesh/message"
)

// Mesh is the public handle to one peer's overlay participation (spec.md
// §6 "API exposed to collaborators").
type Mesh struct {
	n *node
}

// New creates, identifies, and starts a peer listening on host:port. The
// identity file, the offline-message database, and (if enabled) the LAN
// discovery beacon are all set up before New returns.
func New(host string, port int, opts ...Option) (*Mesh, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	n, err := newNode(host, port, o)
	if err != nil {
		return nil, err
	}
	if err := n.start(); err != nil {
		return nil, err
	}
	return &Mesh{n: n}, nil
}

// SelfID returns this peer's stable identifier.
func (me *Mesh) SelfID() string {
	return me.n.selfID
}

// Addr returns the endpoint this Mesh is actually listening on (useful when
// constructed with port 0).
func (me *Mesh) Addr() (string, int) {
	return me.n.host, me.n.port
}

// Registry exposes this Mesh's internal counters/gauges (messages forwarded,
// delivered, dropped, stored; handshakes; connections closed; seen-set and
// known-peers sizes) for a collaborator that already runs its own metrics
// endpoint to scrape alongside its own (spec.md §1, §10: the core never
// starts an HTTP server itself).
func (me *Mesh) Registry() *prometheus.Registry {
	return me.n.metrics.registry
}

// Connect dials another peer and queues the initial HANDSHAKE once the TCP
// connection is established (spec.md §4.6.2). It does not block on the
// handshake completing.
func (me *Mesh) Connect(host string, port int) {
	me.n.connectTo(host, port)
}

// Submit routes m toward its target: local delivery if m.TargetUserID is
// this peer, one-hop forward if reachable, or the durable offline queue
// otherwise (spec.md §6 "submit(message)", §4.6.5).
func (me *Mesh) Submit(m *message.Message) error {
	return me.sendCommand(&command{kind: cmdSubmit, msg: m})
}

// Broadcast constructs and floods a broadcast-typed message (e.g.
// PEST_ALERT) to every directly connected peer (spec.md §6
// "broadcast(message_type, data)", §4.6.6).
func (me *Mesh) Broadcast(msgType message.Type, data map[string]interface{}) error {
	m := message.New(me.n.selfID, "", msgType, data)
	return me.sendCommand(&command{kind: cmdBroadcast, msg: m})
}

// On registers handler to be invoked whenever a message of msgType is
// dispatched locally, whether it originated here or arrived over the mesh
// (spec.md §6 "on(message_type, handler)"). A later call for the same type
// replaces the previous handler.
func (me *Mesh) On(msgType message.Type, handler Handler) error {
	return me.sendCommand(&command{kind: cmdOn, msgType: msgType, handler: handler})
}

// Snapshot returns the current view of the network: connected peers, known
// peers, the routing table, and the offline queue depth (spec.md §6
// "snapshot()").
func (me *Mesh) Snapshot() (Snapshot, error) {
	cmd := &command{kind: cmdSnapshot}
	err := me.sendCommand(cmd)
	return cmd.snapshot, err
}

// Stop requests an orderly shutdown: the run loop finishes its current
// iteration, closes every live connection, unregisters the listener, and
// flushes the offline store (spec.md §5 "Cancellation and shutdown"). It
// blocks until the loop has exited.
func (me *Mesh) Stop() {
	me.n.stop()
}

// sendCommand hands cmd to the run loop and blocks until it has been
// applied, or the mesh has been stopped in the meantime.
func (me *Mesh) sendCommand(cmd *command) error {
	cmd.done = make(chan struct{})

	select {
	case me.n.commands <- cmd:
	case <-me.n.ctx.Done():
		return fmt.Errorf("agrimesh: mesh is stopped")
	}

	select {
	case <-cmd.done:
		return cmd.err
	case <-me.n.ctx.Done():
		return fmt.Errorf("agrimesh: mesh is stopped")
	}
}
