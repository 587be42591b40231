package message

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	m := New("peer-a", "peer-b", TypeChat, map[string]interface{}{"content": "hello"})
	m.AddHop("peer-c")

	encoded, err := Encode(m)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(string(encoded), "\n"))
	require.False(t, strings.Contains(strings.TrimSuffix(string(encoded), "\n"), "\n"))

	decoded, err := Decode([]byte(strings.TrimSuffix(string(encoded), "\n")))
	require.NoError(t, err)

	assert.Equal(t, m.PeerID, decoded.PeerID)
	assert.Equal(t, m.TargetUserID, decoded.TargetUserID)
	assert.Equal(t, m.MessageType, decoded.MessageType)
	assert.Equal(t, m.TimeStamp, decoded.TimeStamp)
	assert.Equal(t, m.MessageID, decoded.MessageID)
	assert.Equal(t, m.HopCount, decoded.HopCount)
	assert.Equal(t, m.Path, decoded.Path)
	content, ok := Content(decoded)
	require.True(t, ok)
	assert.Equal(t, "hello", content)
}

func TestDecodeRejectsHopCountOverLimit(t *testing.T) {
	m := New("peer-a", "peer-b", TypeChat, map[string]interface{}{"content": "x"})
	m.HopCount = MaxHops + 1

	encoded, err := Encode(m)
	require.NoError(t, err)

	_, err = Decode([]byte(strings.TrimSuffix(string(encoded), "\n")))
	require.ErrorIs(t, err, ErrParse)
}

func TestDecodeRejectsMissingRequiredField(t *testing.T) {
	_, err := Decode([]byte(`{"peer_id":"a","message_type":"MESSAGE","time_stamp":1,"message_id":"abc"}`))
	require.ErrorIs(t, err, ErrParse)
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`not json at all`))
	require.ErrorIs(t, err, ErrParse)
}

func TestDecodeRejectsPathNotStartingWithPeerID(t *testing.T) {
	_, err := Decode([]byte(`{"peer_id":"a","target_user_id":"b","message_type":"MESSAGE","data":{},"time_stamp":1,"message_id":"abc","path":["z"]}`))
	require.ErrorIs(t, err, ErrParse)
}

func TestInPathAndAddHop(t *testing.T) {
	m := New("a", "c", TypeChat, nil)
	assert.True(t, m.InPath("a"))
	assert.False(t, m.InPath("b"))

	m.AddHop("b")
	assert.Equal(t, 1, m.HopCount)
	assert.Equal(t, []string{"a", "b"}, m.Path)
	assert.True(t, m.InPath("b"))
}

func TestHandshakeRoundTrip(t *testing.T) {
	m := NewHandshake("a", "b", "127.0.0.1", 9000)
	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode([]byte(strings.TrimSuffix(string(encoded), "\n")))
	require.NoError(t, err)

	hs, ok := DecodeHandshake(decoded)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", hs.Host)
	assert.Equal(t, 9000, hs.Port)
}

func TestPeerListRoundTrip(t *testing.T) {
	known := map[string]Endpoint{"b": {Host: "10.0.0.2", Port: 9001}}
	m := NewPeerList("a", "b", known)
	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode([]byte(strings.TrimSuffix(string(encoded), "\n")))
	require.NoError(t, err)

	got := DecodePeerList(decoded)
	assert.Equal(t, known, got)
}

func TestNetworkUpdateRoundTrip(t *testing.T) {
	graph := map[string][]string{"a": {"b", "c"}, "b": {"a"}}
	m := NewNetworkUpdate("a", "b", graph)
	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode([]byte(strings.TrimSuffix(string(encoded), "\n")))
	require.NoError(t, err)

	got := DecodeNetworkUpdate(decoded)
	assert.ElementsMatch(t, graph["a"], got["a"])
	assert.ElementsMatch(t, graph["b"], got["b"])
}
