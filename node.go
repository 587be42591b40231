// The event loop below is grounded on zeromq-gyre/node.go's single-goroutine
// actor pattern
// (commands/inboxChan/beacon signals/ticker all funneled into one select
// loop that exclusively owns peer and connection state), generalized from
// ZRE's HELLO/WHISPER/SHOUT vocabulary to HANDSHAKE/PEER_LIST/
// NETWORK_UPDATE/MESSAGE/PEST_ALERT, and from a ZMQ ROUTER inbox to a plain
// net.Listener with one reader goroutine per accepted connection feeding a
// shared channel (see SPEC_FULL.md §4.6.1 on how the event loop is
// realized).
package agrimesh

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"github.com/ecobloom/agrimesh/connection"
	"github.com/ecobloom/agrimesh/discovery"
	"github.com/ecobloom/agrimesh/identity"
	"github.com/ecobloom/agrimesh/message"
	"github.com/ecobloom/agrimesh/router"
	"github.com/ecobloom/agrimesh/store"
)

const seenSetCapacity = 10000

// Handler is invoked when a message addressed to this node (or a broadcast)
// is dispatched locally (spec.md §6 "on(message_type, handler)").
type Handler func(m *message.Message)

// link is one socket's node-level bookkeeping, layered on top of
// connection.Connection's byte-level state. Grounded on the "Connections
// refer to the node... implement as node-owns-connections with connections
// holding only the remote PeerId" design note in spec.md §9: the Connection
// itself never points back at the node, only this wrapper (owned by the
// node) does.
type link struct {
	id     uint64
	conn   *connection.Connection
	sentAt time.Time // when this link entered SENT, for the reaper
}

// inboundEvent is what a link's dedicated reader goroutine feeds back to
// the run loop. A non-nil err (io.EOF for a clean close) means the link
// should be torn down.
type inboundEvent struct {
	linkID uint64
	data   []byte
	err    error
}

type acceptedConn struct {
	conn net.Conn
}

type dialedConn struct {
	conn net.Conn
	host string
	port int
	err  error
}

// node is the event-loop actor: the single goroutine that owns every
// connection, the router, the seen-set, and issues all offline-store calls.
// Nothing outside run() ever touches links, known, or graph directly; the
// Mesh façade in api.go only ever talks to it through commands.
type node struct {
	selfID string
	host   string
	port   int

	opts options

	listener net.Listener

	links  map[uint64]*link
	byPeer map[string]uint64 // peerID -> link id, only once COMPLETE
	nextID uint64

	known map[string]message.Endpoint
	graph *router.Router
	seen  *lru.Cache

	store    *store.Store
	handlers map[message.Type]Handler

	beacon *discovery.Beacon

	log     *logrus.Entry
	metrics *metrics

	accepted chan acceptedConn
	dialed   chan dialedConn
	inbound  chan inboundEvent
	commands chan *command

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func newNode(host string, port int, opts options) (*node, error) {
	idStore, err := identity.NewStore(opts.identityDir)
	if err != nil {
		return nil, fmt.Errorf("agrimesh: identity store: %w", err)
	}
	selfID, err := idStore.LoadOrCreate(host, port)
	if err != nil {
		return nil, fmt.Errorf("agrimesh: load identity: %w", err)
	}

	seen, err := lru.New(seenSetCapacity)
	if err != nil {
		return nil, fmt.Errorf("agrimesh: seen set: %w", err)
	}

	st, err := store.Open(opts.storePath)
	if err != nil {
		return nil, fmt.Errorf("agrimesh: offline store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &node{
		selfID:   selfID,
		host:     host,
		port:     port,
		opts:     opts,
		links:    make(map[uint64]*link),
		byPeer:   make(map[string]uint64),
		known:    make(map[string]message.Endpoint),
		graph:    router.New(selfID),
		seen:     seen,
		store:    st,
		handlers: make(map[message.Type]Handler),
		log:      logrus.WithField("peer_id", selfID),
		metrics:  newMetrics(selfID),
		accepted: make(chan acceptedConn, 64),
		dialed:   make(chan dialedConn, 16),
		inbound:  make(chan inboundEvent, 256),
		commands: make(chan *command),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	return n, nil
}

// start binds the listener and launches the accept loop and the run loop.
// This is the node-level counterpart of original_source/peer.py's
// start_server/create_listening_socket pair.
func (n *node) start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", n.host, n.port))
	if err != nil {
		return fmt.Errorf("agrimesh: listen: %w", err)
	}
	n.listener = ln
	if n.port == 0 {
		n.port = ln.Addr().(*net.TCPAddr).Port
	}

	if n.opts.enableDiscovery {
		b := discovery.New(n.opts.discoveryPort, n.log).SetInterval(n.opts.beaconInterval)
		if err := b.Start(n.selfID, n.port); err != nil {
			n.log.WithError(err).Warn("agrimesh: discovery beacon failed to start, continuing without it")
		} else {
			n.beacon = b
		}
	}

	n.wg.Add(1)
	go n.acceptLoop()

	n.wg.Add(1)
	go n.run()

	return nil
}

func (n *node) acceptLoop() {
	defer n.wg.Done()
	for {
		c, err := n.listener.Accept()
		if err != nil {
			return
		}
		select {
		case n.accepted <- acceptedConn{conn: c}:
		case <-n.ctx.Done():
			c.Close()
			return
		}
	}
}

// stop signals the run loop to finish its current iteration, close every
// live connection, and unregister the listener (spec.md §5 "Cancellation
// and shutdown").
func (n *node) stop() {
	n.cancel()
	<-n.done
}

func (n *node) run() {
	defer n.wg.Done()
	defer close(n.done)

	reapTicker := time.NewTicker(n.opts.reapInterval)
	defer reapTicker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.shutdown()
			return

		case cmd := <-n.commands:
			n.handleCommand(cmd)

		case ac := <-n.accepted:
			n.registerLink(ac.conn, false)

		case dc := <-n.dialed:
			if dc.err != nil {
				n.log.WithError(dc.err).WithFields(logrus.Fields{
					"host": dc.host, "port": dc.port,
				}).Warn("agrimesh: dial failed")
				continue
			}
			l := n.registerLink(dc.conn, true)
			n.sendHandshake(l)

		case ev := <-n.inbound:
			n.handleInbound(ev)

		case sig := <-n.discoverySignals():
			n.handleDiscoverySignal(sig)

		case <-reapTicker.C:
			n.reapStuckHandshakes()
			n.flushPendingLinks()
		}
	}
}

func (n *node) shutdown() {
	if n.listener != nil {
		n.listener.Close()
	}
	if n.beacon != nil {
		n.beacon.Close()
	}
	for _, l := range n.links {
		l.conn.Close()
	}
	n.store.Close()
}

// registerLink wraps a freshly accepted or dialed net.Conn, starts its
// reader goroutine, and adds it to the link table. selfInitiated mirrors
// connect_to_peer vs accept_new_connection in original_source/peer.py.
func (n *node) registerLink(c net.Conn, selfInitiated bool) *link {
	n.nextID++
	id := n.nextID

	l := &link{
		id:     id,
		conn:   connection.New(c, selfInitiated),
		sentAt: time.Now(),
	}
	n.links[id] = l

	n.wg.Add(1)
	go n.readLoop(l)

	return l
}

func (n *node) readLoop(l *link) {
	defer n.wg.Done()
	for {
		data, err := l.conn.Read()
		if len(data) > 0 {
			select {
			case n.inbound <- inboundEvent{linkID: l.id, data: data}:
			case <-n.ctx.Done():
				return
			}
		}
		if err != nil {
			select {
			case n.inbound <- inboundEvent{linkID: l.id, err: err}:
			case <-n.ctx.Done():
			}
			return
		}
	}
}

func (n *node) handleInbound(ev inboundEvent) {
	l, ok := n.links[ev.linkID]
	if !ok {
		return
	}

	if ev.err != nil {
		n.closeLink(l)
		return
	}

	l.conn.Ingest(ev.data)
	for {
		m, decodeErr, found := l.conn.ExtractNext()
		if !found {
			break
		}
		if decodeErr != nil {
			n.log.WithError(decodeErr).Debug("agrimesh: discarding malformed record")
			continue
		}
		n.dispatchFromLink(l, m)
	}
	n.flush(l)
}

func (n *node) flush(l *link) {
	if !l.conn.HasPendingOutbound() {
		return
	}
	if l.conn.Flush() == connection.FlushClosed {
		n.closeLink(l)
	}
}

// closeLink tears down a link and, if its handshake had completed,
// propagates the removal through the router and to remaining peers
// (spec.md §4.6.7 "Disconnect handling").
func (n *node) closeLink(l *link) {
	delete(n.links, l.id)
	l.conn.Close()
	n.metrics.connectionsClosed.Inc()

	peerID := l.conn.PeerID
	if peerID == "" {
		return
	}
	if current, ok := n.byPeer[peerID]; !ok || current != l.id {
		return
	}
	delete(n.byPeer, peerID)
	n.graph.RemoveNode(peerID)
	n.graph.Recompute(n.knownSet())
	n.broadcastNetworkUpdate("")
}

func (n *node) knownSet() map[string]struct{} {
	out := make(map[string]struct{}, len(n.known))
	for id := range n.known {
		out[id] = struct{}{}
	}
	return out
}

// connectTo dials host:port and, once established, queues the initial
// HANDSHAKE (spec.md §4.6.2 "On outbound connect, the initiator queues a
// HANDSHAKE... and enters SENT"). Grounded on original_source/peer.py's
// connect_to_peer.
func (n *node) connectTo(host string, port int) {
	go func() {
		c, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), 5*time.Second)
		select {
		case n.dialed <- dialedConn{conn: c, host: host, port: port, err: err}:
		case <-n.ctx.Done():
			if c != nil {
				c.Close()
			}
		}
	}()
}
