// Package realtime is the Socket.IO push channel used to send commands to the
// remote side without waiting for an HTTP round trip.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// EventSetColor is the event name the remote side listens to for color commands.
const EventSetColor = "set_color"

// ErrNotConnected is returned by Emit when the channel is absent.
var ErrNotConnected = errors.New("realtime channel not connected")

var errConnectTimeout = errors.New("connect timed out")

// Options configures a Client
type Options struct {
	Path           string        // default /socket.io/
	Namespace      string        // default /
	ConnectTimeout time.Duration // default 10s
}

// Client is a push channel to the remote side. It connects once; when the
// connection is lost it stays absent until Connect is called again.
type Client struct {
	baseURL   string
	url       string
	path      string
	namespace string
	timeout   time.Duration

	mu   sync.Mutex
	sock *socket.Socket
}

// New creates a client for the remote at baseURL (http://host:port).
func New(baseURL string, opts Options) (*Client, error) {
	if opts.Path == "" {
		opts.Path = "/socket.io/"
	}
	if opts.Namespace == "" {
		opts.Namespace = "/"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	wsScheme := "ws"
	switch u.Scheme {
	case "http", "ws", "":
		u.Scheme = "http"
	case "https", "wss":
		u.Scheme = "https"
		wsScheme = "wss"
	default:
		return nil, fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	u.Path, u.RawQuery = "", ""

	display := *u
	display.Scheme = wsScheme
	display.Path = opts.Path
	display.RawQuery = "EIO=4&transport=websocket"

	return &Client{
		baseURL:   u.String(),
		url:       display.String(),
		path:      opts.Path,
		namespace: opts.Namespace,
		timeout:   opts.ConnectTimeout,
	}, nil
}

// URL returns the websocket address the client dials
func (c *Client) URL() string {
	return c.url
}

// Connected reports whether commands can currently be emitted.
func (c *Client) Connected() bool {
	return c.active() != nil
}

func (c *Client) active() *socket.Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil || !c.sock.Connected() {
		return nil
	}
	return c.sock
}

// options pins the client to a single websocket attempt with no reconnects.
func (c *Client) options() *socket.Options {
	opts := socket.DefaultOptions()
	opts.SetPath(c.path)
	opts.SetTransports(types.NewSet(socket.WebSocket))
	opts.SetReconnection(false)
	opts.SetAutoConnect(false)
	opts.SetForceNew(true)
	opts.SetTimeout(c.timeout)
	return opts
}

// Connect performs the Engine.IO handshake and joins the namespace.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	opts := c.options()
	manager := socket.NewManager(c.baseURL, opts)
	sock := manager.Socket(c.namespace, opts)

	result := make(chan error, 1)
	report := func(err error) {
		select {
		case result <- err:
		default:
		}
	}
	sock.On("connect", func(...any) { report(nil) })
	sock.On("connect_error", func(args ...any) { report(connectError(args)) })
	sock.On("disconnect", func(args ...any) { c.lost(sock, args) })
	sock.Connect()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	case <-timer.C:
		err = errConnectTimeout
	}
	if err != nil {
		sock.Disconnect()
		return fmt.Errorf("failed to connect realtime channel %s: %w", c.namespace, err)
	}

	c.mu.Lock()
	c.sock = sock
	c.mu.Unlock()

	log.Info().
		Str("url", c.url).
		Str("namespace", c.namespace).
		Str("sid", sock.Id()).
		Msg("Connected to realtime channel")
	return nil
}

func connectError(args []any) error {
	if len(args) > 0 {
		if err, ok := args[0].(error); ok {
			return err
		}
		return fmt.Errorf("%v", args[0])
	}
	return errors.New("connect error")
}

// lost marks the channel absent if sock is still the active socket.
func (c *Client) lost(sock *socket.Socket, args []any) {
	c.mu.Lock()
	active := c.sock == sock
	if active {
		c.sock = nil
	}
	c.mu.Unlock()

	if !active {
		return
	}
	reason := "unknown"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			reason = s
		}
	}
	log.Info().Str("reason", reason).Msg("Disconnected from realtime channel")
}

// Emit sends a one-way event. Success means the packet was handed to the transport.
func (c *Client) Emit(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sock := c.active()
	if sock == nil {
		return ErrNotConnected
	}

	if err := sock.Emit(event, payload); err != nil {
		return fmt.Errorf("failed to emit %s: %w", event, err)
	}

	log.Debug().Str("event", event).Msg("Emitted realtime event")
	return nil
}

// Close leaves the namespace and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	sock.Disconnect()

	log.Info().Msg("Realtime channel closed")
	return nil
}
