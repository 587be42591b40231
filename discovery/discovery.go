// Package discovery implements the LAN announce/listen beacon supplemented
// in SPEC_FULL.md §9.6: a node may optionally broadcast its PeerId and
// listening port on the local network so other nodes on the same subnet can
// find it without being told its address out of band. It is off by default
// and never required for the mesh's correctness (spec.md §4.6.3's
// PEER_LIST/NETWORK_UPDATE gossip is what actually keeps the overlay
// connected once two nodes have found each other).
//
// Adapted from zeromq-gyre/beacon/beacon.go's announce/listen goroutine
// pair and Signal channel, simplified from multicast group membership
// (golang.org/x/net/ipv4/ipv6) to a plain UDP broadcast socket, since the
// supplemented feature only needs "reach every host on this subnet," not
// fine-grained multicast control.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	maxFrame        = 512
	defaultInterval = 2 * time.Second
)

// Signal is one announcement received from the network, already decoded.
type Signal struct {
	PeerID string
	Host   string
	Port   int
}

type frame struct {
	PeerID string `json:"peer_id"`
	Port   int    `json:"port"`
}

// Beacon broadcasts this node's identity on the LAN and/or listens for
// other nodes' broadcasts. Both roles are optional and independent.
type Beacon struct {
	mu sync.Mutex

	port     int
	interval time.Duration
	log      *logrus.Entry

	selfID   string
	nodePort int

	conn       *net.UDPConn
	broadcast  *net.UDPAddr
	signals    chan Signal
	terminated bool
	wg         sync.WaitGroup
}

// New creates a beacon bound to udpPort (the discovery channel's own port,
// distinct from the mesh's TCP listen port).
func New(udpPort int, log *logrus.Entry) *Beacon {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Beacon{
		port:     udpPort,
		interval: defaultInterval,
		log:      log,
		signals:  make(chan Signal, 50),
	}
}

// SetInterval overrides the default announce interval.
func (b *Beacon) SetInterval(d time.Duration) *Beacon {
	b.interval = d
	return b
}

// Signals returns the channel on which discovered peers are reported.
func (b *Beacon) Signals() chan Signal {
	return b.signals
}

// Start opens the UDP socket and begins broadcasting selfID/nodePort every
// interval while simultaneously listening for other nodes' broadcasts. The
// socket is opened with SO_REUSEADDR so several beacons on one host can
// share the discovery port.
func (b *Beacon) Start(selfID string, nodePort int) error {
	b.mu.Lock()
	b.selfID = selfID
	b.nodePort = nodePort
	b.mu.Unlock()

	lc := net.ListenConfig{Control: func(network, address string, rc syscall.RawConn) error {
		var sockErr error
		if err := rc.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
		}); err != nil {
			return err
		}
		return sockErr
	}}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", b.port))
	if err != nil {
		return fmt.Errorf("discovery: listen udp: %w", err)
	}
	conn := pc.(*net.UDPConn)
	conn.SetReadBuffer(maxFrame)

	b.mu.Lock()
	b.conn = conn
	b.broadcast = &net.UDPAddr{IP: net.IPv4bcast, Port: b.port}
	b.mu.Unlock()

	b.wg.Add(2)
	go b.listen()
	go b.announce()
	return nil
}

// Close stops both goroutines and releases the socket.
func (b *Beacon) Close() {
	b.mu.Lock()
	if b.terminated {
		b.mu.Unlock()
		return
	}
	b.terminated = true
	conn := b.conn
	b.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	b.wg.Wait()
	close(b.signals)
}

func (b *Beacon) listen() {
	defer b.wg.Done()

	buf := make([]byte, maxFrame)
	for {
		n, addr, err := b.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(buf[:n], &f); err != nil {
			b.log.WithError(err).Debug("discovery: malformed announce frame")
			continue
		}

		b.mu.Lock()
		self := b.selfID
		terminated := b.terminated
		b.mu.Unlock()
		if terminated || f.PeerID == self {
			continue
		}

		select {
		case b.signals <- Signal{PeerID: f.PeerID, Host: addr.IP.String(), Port: f.Port}:
		default:
			b.log.Warn("discovery: signal channel full, dropping announce")
		}
	}
}

func (b *Beacon) announce() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for range ticker.C {
		b.mu.Lock()
		if b.terminated {
			b.mu.Unlock()
			return
		}
		payload, err := json.Marshal(frame{PeerID: b.selfID, Port: b.nodePort})
		conn := b.conn
		target := b.broadcast
		b.mu.Unlock()

		if err != nil {
			continue
		}
		if _, err := conn.WriteToUDP(payload, target); err != nil {
			b.log.WithError(err).Debug("discovery: broadcast failed")
		}
	}
}
