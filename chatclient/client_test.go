package chatclient

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyberinferno/linechat/protocol"
)

// fakeServer accepts one connection and hands it to the test.
func fakeServer(t *testing.T) (string, <-chan net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	conns := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conns <- conn
	}()

	return ln.Addr().String(), conns
}

func accept(t *testing.T, conns <-chan net.Conn) net.Conn {
	t.Helper()

	select {
	case conn := <-conns:
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func collect(c *Client) <-chan LineEvent {
	lines := make(chan LineEvent, 64)
	c.OnLine(func(event LineEvent) { lines <- event })
	return lines
}

func nextLine(t *testing.T, lines <-chan LineEvent) LineEvent {
	t.Helper()

	select {
	case event := <-lines:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no line received")
		return LineEvent{}
	}
}

func TestClient_ConnectAndExchange(t *testing.T) {
	addr, conns := fakeServer(t)
	c := New(DefaultConfig(addr))
	lines := collect(c)
	defer c.Close()

	require.NoError(t, c.Connect())
	assert.True(t, c.IsConnected())
	server := accept(t, conns)
	reader := bufio.NewReader(server)

	t.Run("commands are framed with a newline", func(t *testing.T) {
		require.NoError(t, c.Login("alice"))
		require.NoError(t, c.Msg("hello there"))
		require.NoError(t, c.Who())
		require.NoError(t, c.DM("bob", "psst"))
		require.NoError(t, c.Ping())

		for _, want := range []string{"LOGIN alice\n", "MSG hello there\n", "WHO\n", "DM bob psst\n", "PING\n"} {
			got, err := reader.ReadString('\n')
			require.NoError(t, err)
			assert.Equal(t, want, got)
		}
	})

	t.Run("replies arrive parsed and in order", func(t *testing.T) {
		_, err := server.Write([]byte("OK\r\nINFO bob joined\nMSG bob hi all\nPONG\n"))
		require.NoError(t, err)

		first := nextLine(t, lines)
		assert.Equal(t, "OK", first.Line)
		assert.Equal(t, protocol.ReplyKindOK, first.Reply.Kind)

		assert.Equal(t, protocol.ReplyKindInfo, nextLine(t, lines).Reply.Kind)

		msg := nextLine(t, lines)
		assert.Equal(t, protocol.ReplyKindMsg, msg.Reply.Kind)
		assert.Equal(t, "bob", msg.Reply.Sender())
		assert.Equal(t, "hi all", msg.Reply.Body())

		assert.Equal(t, protocol.ReplyKindPong, nextLine(t, lines).Reply.Kind)
	})

	t.Run("lines with separators are refused", func(t *testing.T) {
		assert.ErrorIs(t, c.Msg("two\nlines"), ErrInvalidLine)
	})

	t.Run("connecting twice fails", func(t *testing.T) {
		assert.ErrorIs(t, c.Connect(), ErrAlreadyConnected)
	})
}

func TestClient_ServerHangup(t *testing.T) {
	addr, conns := fakeServer(t)
	c := New(DefaultConfig(addr))
	defer c.Close()

	states := make(chan ConnectionState, 8)
	c.OnState(func(event StateEvent) { states <- event.State })

	require.NoError(t, c.Connect())
	server := accept(t, conns)
	require.NoError(t, server.Close())

	assert.Eventually(t, func() bool { return c.State() == Disconnected }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Ping(), ErrNotConnected)

	seen := map[ConnectionState]bool{}
	assert.Eventually(t, func() bool {
		for {
			select {
			case s := <-states:
				seen[s] = true
			default:
				return seen[Connecting] && seen[Connected] && seen[Disconnected]
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClient_Close(t *testing.T) {
	addr, conns := fakeServer(t)
	c := New(DefaultConfig(addr))

	require.NoError(t, c.Connect())
	accept(t, conns)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, Closed, c.State())
	assert.ErrorIs(t, c.Connect(), ErrClosed)
	assert.ErrorIs(t, c.Ping(), ErrClosed)
}

func TestClient_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	errs := make(chan error, 1)
	c := New(DefaultConfig(addr))
	c.OnError(func(event ErrorEvent) { errs <- event.Error })
	defer c.Close()

	assert.Error(t, c.Connect())
	assert.Equal(t, Disconnected, c.State())

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dial error not reported")
	}
}

func TestConnectionState_String(t *testing.T) {
	assert.Equal(t, "Disconnected", Disconnected.String())
	assert.Equal(t, "Connecting", Connecting.String())
	assert.Equal(t, "Connected", Connected.String())
	assert.Equal(t, "Closed", Closed.String())
	assert.Equal(t, "Unknown", ConnectionState(42).String())
}
