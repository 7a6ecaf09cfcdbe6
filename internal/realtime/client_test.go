package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testOpen = `0{"sid":"abc","upgrades":[],"pingInterval":25000,"pingTimeout":20000,"maxPayload":1000000}`

// fakeSocketIO is a tiny Socket.IO server speaking just enough of the protocol
// to accept or reject one namespace join and record the frames it receives.
type fakeSocketIO struct {
	*httptest.Server
	namespace string
	reject    bool
	onJoin    func(conn *websocket.Conn)
	received  chan string
}

func newFakeSocketIO(t *testing.T, namespace string, opts ...func(*fakeSocketIO)) *fakeSocketIO {
	t.Helper()
	f := &fakeSocketIO{
		namespace: namespace,
		received:  make(chan string, 16),
	}
	for _, opt := range opts {
		opt(f)
	}
	upgrader := websocket.Upgrader{}

	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/socket.io/" || r.URL.Query().Get("EIO") != "4" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(testOpen))

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f.received <- string(data)

		if f.reject {
			conn.WriteMessage(websocket.TextMessage, []byte("44"+f.namespace+`,{"message":"not allowed","data":{"code":403}}`))
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte("40"+f.namespace+`,{"sid":"def"}`))
		if f.onJoin != nil {
			f.onJoin(conn)
		}

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.received <- string(data)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeSocketIO) next(t *testing.T) string {
	t.Helper()
	select {
	case msg := <-f.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return ""
	}
}

func newTestClient(t *testing.T, baseURL, namespace string) *Client {
	t.Helper()
	c, err := New(baseURL, Options{Namespace: namespace, ConnectTimeout: 2 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewBuildsWebsocketURL(t *testing.T) {
	c, err := New("http://10.0.0.5:8000", Options{Namespace: "/ws-color"})
	require.NoError(t, err)
	assert.Equal(t, "ws://10.0.0.5:8000/socket.io/?EIO=4&transport=websocket", c.URL())

	c, err = New("https://example.org", Options{})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.URL(), "wss://example.org/socket.io/"))

	_, err = New("ftp://x", Options{})
	assert.Error(t, err)
}

func TestConnectAndEmit(t *testing.T) {
	srv := newFakeSocketIO(t, "/ws-color")
	c := newTestClient(t, srv.URL, "/ws-color")

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, "40/ws-color,", srv.next(t))

	payload := map[string]any{"entity": 5}
	require.NoError(t, c.Emit(context.Background(), EventSetColor, payload))
	assert.Equal(t, `42/ws-color,["set_color",{"entity":5}]`, srv.next(t))
}

func TestConnectFailureLeavesChannelAbsent(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1", "/ws-color")

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.False(t, c.Connected())
	assert.ErrorIs(t, c.Emit(context.Background(), EventSetColor, nil), ErrNotConnected)
}

func TestConnectRejectedNamespace(t *testing.T) {
	srv := newFakeSocketIO(t, "/ws-color", func(f *fakeSocketIO) { f.reject = true })
	c := newTestClient(t, srv.URL, "/ws-color")

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
	assert.False(t, c.Connected())
}

func TestAnswersPing(t *testing.T) {
	srv := newFakeSocketIO(t, "/ws-color", func(f *fakeSocketIO) {
		f.onJoin = func(conn *websocket.Conn) {
			conn.WriteMessage(websocket.TextMessage, []byte("2"))
		}
	})
	c := newTestClient(t, srv.URL, "/ws-color")

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "40/ws-color,", srv.next(t))
	assert.Equal(t, "3", srv.next(t))
}

func TestServerDisconnectMarksAbsent(t *testing.T) {
	srv := newFakeSocketIO(t, "/ws-color", func(f *fakeSocketIO) {
		f.onJoin = func(conn *websocket.Conn) {
			conn.WriteMessage(websocket.TextMessage, []byte("41/ws-color,"))
		}
	})
	c := newTestClient(t, srv.URL, "/ws-color")

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Emit(context.Background(), EventSetColor, nil), ErrNotConnected)
}

func TestCloseLeavesNamespace(t *testing.T) {
	srv := newFakeSocketIO(t, "/ws-color")
	c := newTestClient(t, srv.URL, "/ws-color")

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, "40/ws-color,", srv.next(t))

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	assert.Equal(t, "41/ws-color,", srv.next(t))

	// closing twice is harmless
	assert.NoError(t, c.Close())
}
