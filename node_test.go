package agrimesh

import (
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ecobloom/agrimesh/message"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestMesh(t *testing.T, opts ...Option) *Mesh {
	t.Helper()
	dir := t.TempDir()
	base := append([]Option{
		WithIdentityDir(filepath.Join(dir, "ids")),
		WithStorePath(filepath.Join(dir, "store.db")),
		WithReapInterval(50 * time.Millisecond),
	}, opts...)

	me, err := New("127.0.0.1", 0, base...)
	require.NoError(t, err)
	t.Cleanup(me.Stop)
	return me
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

// connect dials from -> to and blocks until from's own snapshot shows the
// handshake completed, so callers don't race the gossip that follows it.
func connect(t *testing.T, from, to *Mesh) {
	t.Helper()
	host, port := to.Addr()
	from.Connect(host, port)
	waitUntil(t, 2*time.Second, func() bool {
		snap, err := from.Snapshot()
		if err != nil {
			return false
		}
		for _, id := range snap.Connected {
			if id == to.SelfID() {
				return true
			}
		}
		return false
	})
}

// TestUnicastForwardingAcrossIntermediateHop is spec.md §8 scenario S1: A,
// B, C chained A-B-C only; A submits to C; C receives the message exactly
// once, with hop_count=1 and a path of [A, B] (C never appends itself).
func TestUnicastForwardingAcrossIntermediateHop(t *testing.T) {
	a := newTestMesh(t)
	b := newTestMesh(t)
	c := newTestMesh(t)

	connect(t, a, b)
	connect(t, b, c)

	received := make(chan *message.Message, 1)
	require.NoError(t, c.On(message.TypeChat, func(m *message.Message) {
		received <- m
	}))

	waitUntil(t, 2*time.Second, func() bool {
		snap, err := a.Snapshot()
		if err != nil {
			return false
		}
		_, ok := snap.Routes[c.SelfID()]
		return ok
	})

	require.NoError(t, a.Submit(message.NewChat(a.SelfID(), c.SelfID(), "hello")))

	select {
	case m := <-received:
		content, ok := message.Content(m)
		require.True(t, ok)
		assert.Equal(t, "hello", content)
		assert.Equal(t, 1, m.HopCount)
		assert.Equal(t, []string{a.SelfID(), b.SelfID()}, m.Path)
	case <-time.After(2 * time.Second):
		t.Fatal("C never received the forwarded message")
	}
}

// TestOfflineMessageDeliveredAfterRouteAppears is spec.md §8 scenarios S2/S8:
// a message submitted to an unreachable target is queued, then delivered
// (and removed from the queue) once a handshake establishes a route.
func TestOfflineMessageDeliveredAfterRouteAppears(t *testing.T) {
	a := newTestMesh(t)
	c := newTestMesh(t)

	require.NoError(t, a.Submit(message.NewChat(a.SelfID(), c.SelfID(), "queued")))

	snap, err := a.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1, snap.QueueDepth)

	received := make(chan *message.Message, 1)
	require.NoError(t, c.On(message.TypeChat, func(m *message.Message) {
		received <- m
	}))

	connect(t, a, c)

	select {
	case m := <-received:
		content, ok := message.Content(m)
		require.True(t, ok)
		assert.Equal(t, "queued", content)
	case <-time.After(2 * time.Second):
		t.Fatal("C never received the queued message")
	}

	waitUntil(t, 2*time.Second, func() bool {
		snap, err := a.Snapshot()
		return err == nil && snap.QueueDepth == 0
	})
}

// TestBroadcastFloodsRingExactlyOnce is spec.md §8 scenario S3: a ring
// A-B-C-A; A broadcasts a PEST_ALERT; B and C each dispatch exactly once,
// with the same message_id, and no further copies arrive.
func TestBroadcastFloodsRingExactlyOnce(t *testing.T) {
	a := newTestMesh(t)
	b := newTestMesh(t)
	c := newTestMesh(t)

	connect(t, a, b)
	connect(t, b, c)
	connect(t, c, a)

	bGot := make(chan *message.Message, 4)
	cGot := make(chan *message.Message, 4)
	require.NoError(t, b.On(message.TypePestAlert, func(m *message.Message) { bGot <- m }))
	require.NoError(t, c.On(message.TypePestAlert, func(m *message.Message) { cGot <- m }))

	alert := map[string]interface{}{"pest_type": "whitefly", "pest_count": 40.0}
	require.NoError(t, a.Broadcast(message.TypePestAlert, alert))

	var gotB, gotC *message.Message
	select {
	case gotB = <-bGot:
	case <-time.After(2 * time.Second):
		t.Fatal("B never received the broadcast")
	}
	select {
	case gotC = <-cGot:
	case <-time.After(2 * time.Second):
		t.Fatal("C never received the broadcast")
	}
	assert.Equal(t, gotB.MessageID, gotC.MessageID)

	select {
	case <-bGot:
		t.Fatal("B received the broadcast more than once")
	case <-time.After(200 * time.Millisecond):
	}
	select {
	case <-cGot:
		t.Fatal("C received the broadcast more than once")
	case <-time.After(200 * time.Millisecond):
	}
}

// TestDisconnectRemovesPeerFromRoutingAndPropagates is spec.md §8 scenario
// S4: A-B-C chained; A disconnects; B's routing table drops A, and the
// NETWORK_UPDATE B re-emits propagates the removal to C as well.
func TestDisconnectRemovesPeerFromRoutingAndPropagates(t *testing.T) {
	a := newTestMesh(t)
	b := newTestMesh(t)
	c := newTestMesh(t)

	connect(t, a, b)
	connect(t, b, c)

	waitUntil(t, 2*time.Second, func() bool {
		snap, err := c.Snapshot()
		if err != nil {
			return false
		}
		_, ok := snap.Routes[a.SelfID()]
		return ok
	})

	a.Stop()

	waitUntil(t, 2*time.Second, func() bool {
		snap, err := b.Snapshot()
		if err != nil {
			return false
		}
		_, ok := snap.Routes[a.SelfID()]
		return !ok
	})
	waitUntil(t, 2*time.Second, func() bool {
		snap, err := c.Snapshot()
		if err != nil {
			return false
		}
		_, ok := snap.Routes[a.SelfID()]
		return !ok
	})
}

// TestMalformedRecordDiscardedLinkStaysOpen is spec.md §8 scenario S6: a
// malformed line on a link is discarded without closing it, and a
// well-formed record that follows is still parsed and dispatched.
func TestMalformedRecordDiscardedLinkStaysOpen(t *testing.T) {
	a := newTestMesh(t)
	host, port := a.Addr()

	raw, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	require.NoError(t, err)
	defer raw.Close()

	_, err = raw.Write([]byte("{not valid json at all\n"))
	require.NoError(t, err)

	hs := message.NewHandshake("raw-peer", "", "127.0.0.1", 9999)
	encoded, err := message.Encode(hs)
	require.NoError(t, err)
	_, err = raw.Write(encoded)
	require.NoError(t, err)

	waitUntil(t, 2*time.Second, func() bool {
		snap, err := a.Snapshot()
		if err != nil {
			return false
		}
		for _, id := range snap.Connected {
			if id == "raw-peer" {
				return true
			}
		}
		return false
	})
}
