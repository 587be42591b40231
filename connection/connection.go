// Package connection owns a single socket's byte-level state: the inbound
// and outbound buffers, newline framing, and the handshake state machine bit
// (spec.md §4.3). Grounded on original_source/connection.py's
// queue_message/is_message_complete/extract_message/send_buffered_data
// contract, translated from Python's BlockingIOError/ConnectionResetError
// non-blocking-socket idiom to Go's net.Conn plus a short write deadline
// used to detect a would-block-equivalent partial write.
package connection

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ecobloom/agrimesh/message"
)

// MaxBufferSize is the outbound buffer ceiling; queuing past it is
// back-pressure, not a crash (spec.md §4.3, §5).
const MaxBufferSize = 1 << 20 // 1 MiB

// ErrBufferFull is returned by Queue when the outbound buffer would exceed
// MaxBufferSize.
var ErrBufferFull = errors.New("connection: outbound buffer full")

// State is the handshake state machine: NEW -> SENT -> COMPLETE -> CLOSED
// (spec.md §4.6.2).
type State int

const (
	StateNew State = iota
	StateSent
	StateComplete
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateComplete:
		return "COMPLETE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// FlushResult is the outcome of a Flush call.
type FlushResult int

const (
	FlushDrained FlushResult = iota
	FlushPartial
	FlushClosed
)

// writeDeadline bounds how long a single Flush call may block on the
// socket before it is treated as a would-block: long enough that a healthy
// local-network peer's receive window never trips it, short enough that a
// stalled peer never stalls the dispatcher goroutine for long.
const writeDeadline = 50 * time.Millisecond

// Connection is one link's byte-level state. PeerID is the empty string
// until the handshake from the remote side has been processed (spec.md
// §4.3, §9 "Cyclic references" — a Connection holds only the remote PeerId
// as a lookup key, never a back-pointer to the node).
type Connection struct {
	mu sync.Mutex

	conn   net.Conn
	Remote net.Addr

	PeerID string
	State  State

	// SelfInitiated records whether this link was opened by our own
	// Connect rather than accepted. The handshake two-way guard does not
	// read it; that decision is made from State.
	SelfInitiated bool

	outbound []byte
	inbound  []byte
}

// New wraps an already-established net.Conn (from Accept or Dial).
func New(c net.Conn, selfInitiated bool) *Connection {
	return &Connection{
		conn:          c,
		Remote:        c.RemoteAddr(),
		State:         StateNew,
		SelfInitiated: selfInitiated,
	}
}

// Queue encodes m and appends it to the outbound buffer, failing with
// ErrBufferFull as back-pressure rather than growing unbounded (spec.md
// §4.3, §5).
func (c *Connection) Queue(m *message.Message) error {
	encoded, err := message.Encode(m)
	if err != nil {
		return fmt.Errorf("connection: encode: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.outbound)+len(encoded) > MaxBufferSize {
		return ErrBufferFull
	}
	c.outbound = append(c.outbound, encoded...)
	return nil
}

// Ingest appends raw bytes read from the socket to the inbound buffer.
func (c *Connection) Ingest(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = append(c.inbound, b...)
}

// ExtractNext returns the next complete newline-delimited message from the
// inbound buffer, or (nil, nil, false) if none is complete yet. A malformed
// record is discarded (returned as a non-nil error) without touching the
// rest of the buffer or the connection (spec.md §4.2, §7).
func (c *Connection) ExtractNext() (*message.Message, error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := indexByte(c.inbound, '\n')
	if idx < 0 {
		return nil, nil, false
	}

	line := c.inbound[:idx]
	c.inbound = c.inbound[idx+1:]

	m, err := message.Decode(line)
	if err != nil {
		return nil, err, true
	}
	return m, nil, true
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

// Flush writes as much of the outbound buffer as the socket accepts within
// writeDeadline. It reports FlushPartial on a timeout (the would-block
// analog), FlushClosed if the peer has reset the connection, and
// FlushDrained once the buffer is fully written (spec.md §4.3 flush_out).
func (c *Connection) Flush() FlushResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.outbound) == 0 {
		return FlushDrained
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return FlushClosed
	}

	n, err := c.conn.Write(c.outbound)
	c.outbound = c.outbound[n:]

	if err == nil {
		if len(c.outbound) == 0 {
			return FlushDrained
		}
		return FlushPartial
	}

	if isTimeout(err) {
		return FlushPartial
	}
	return FlushClosed
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// HasPendingOutbound reports whether there are queued bytes not yet
// written.
func (c *Connection) HasPendingOutbound() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outbound) > 0
}

// Read performs one blocking read of up to 4 KiB, the chunk size spec.md
// §4.6.1 specifies, returning the bytes read. It is intended to be called
// from a dedicated per-connection reader goroutine, never from the
// dispatcher goroutine that owns the rest of this Connection's state.
func (c *Connection) Read() ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if n > 0 {
		return buf[:n], err
	}
	return nil, err
}

// Close closes the underlying socket. Safe to call more than once.
func (c *Connection) Close() error {
	return c.conn.Close()
}
