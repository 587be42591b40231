package connection

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecobloom/agrimesh/message"
)

func TestExtractNextReturnsFalseWithoutNewline(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	c := New(server, false)
	c.Ingest([]byte(`{"peer_id":"a"`))

	m, err, ok := c.ExtractNext()
	assert.Nil(t, m)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestFramingToleratesArbitrarySplitting(t *testing.T) {
	want := message.NewChat("a", "b", "hello, mesh")
	encoded, err := message.Encode(want)
	require.NoError(t, err)

	_, server := net.Pipe()
	defer server.Close()
	c := New(server, false)

	// Feed the encoded record one byte at a time; ExtractNext must not
	// surface a complete message until the trailing newline has arrived,
	// and must then reproduce the original fields exactly (spec.md §8
	// property 2, "Framing tolerance").
	for i := 0; i < len(encoded); i++ {
		c.Ingest(encoded[i : i+1])
		m, decodeErr, ok := c.ExtractNext()
		if i < len(encoded)-1 {
			assert.False(t, ok, "byte %d should not yet complete a record", i)
			continue
		}
		require.True(t, ok)
		require.NoError(t, decodeErr)
		assert.Equal(t, want.MessageID, m.MessageID)
		assert.Equal(t, want.Path, m.Path)
		content, _ := message.Content(m)
		assert.Equal(t, "hello, mesh", content)
	}
}

func TestExtractNextDiscardsMalformedLineButKeepsNextOne(t *testing.T) {
	_, server := net.Pipe()
	defer server.Close()
	c := New(server, false)

	good := message.NewChat("a", "b", "still fine")
	goodEncoded, err := message.Encode(good)
	require.NoError(t, err)

	c.Ingest([]byte("not json at all\n"))
	c.Ingest(goodEncoded)

	m, decodeErr, ok := c.ExtractNext()
	require.True(t, ok)
	assert.Error(t, decodeErr)
	assert.Nil(t, m)

	m, decodeErr, ok = c.ExtractNext()
	require.True(t, ok)
	require.NoError(t, decodeErr)
	content, _ := message.Content(m)
	assert.Equal(t, "still fine", content)
}

func TestQueueRejectsOverBufferFull(t *testing.T) {
	_, server := net.Pipe()
	defer server.Close()
	c := New(server, false)

	big := make([]byte, MaxBufferSize)
	for i := range big {
		big[i] = 'x'
	}
	m := message.NewChat("a", "b", string(big))

	err := c.Queue(m)
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestQueueAndFlushDeliversOverRealSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverConnCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer clientConn.Close()

	serverConn := <-serverConnCh
	defer serverConn.Close()

	client := New(clientConn, true)
	want := message.NewChat("a", "b", "over the wire")
	require.NoError(t, client.Queue(want))

	result := client.Flush()
	assert.Equal(t, FlushDrained, result)

	buf := make([]byte, 4096)
	serverConn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := serverConn.Read(buf)
	require.NoError(t, err)

	server := New(serverConn, false)
	server.Ingest(buf[:n])
	got, decodeErr, ok := server.ExtractNext()
	require.True(t, ok)
	require.NoError(t, decodeErr)
	content, _ := message.Content(got)
	assert.Equal(t, "over the wire", content)
}

func TestFlushClosedOnClosedConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverConnCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		serverConnCh <- c
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)

	serverConn := <-serverConnCh
	serverConn.Close()
	clientConn.Close()

	c := New(clientConn, true)
	require.NoError(t, c.Queue(message.NewChat("a", "b", "x")))
	result := c.Flush()
	assert.Equal(t, FlushClosed, result)
}
