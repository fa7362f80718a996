package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	maxPayload       = 1000000
)

// ErrClosed is returned by emits after the connection ended.
var ErrClosed = errors.New("signaling connection closed")

// Client is a Socket.IO client over a websocket transport, as spoken by
// the vendor's call signaling server. Events arriving from the server are
// delivered to handlers registered with OnEvent; EmitWithAck correlates an
// acknowledgment by packet id.
type Client struct {
	ws  *websocket.Conn
	sid string

	sendMu sync.Mutex

	ackMu      sync.Mutex
	nextAckID  int
	pendingAck map[int]chan []json.RawMessage

	handlerMu sync.RWMutex
	handlers  map[string]func(args []json.RawMessage)

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

// Dial connects, performs the Engine.IO and Socket.IO handshakes, and
// starts the read loop. rawURL is the socket endpoint from the call
// notification (scheme http(s) or ws(s)); the Engine.IO path and query are
// appended here.
func Dial(ctx context.Context, rawURL string) (*Client, error) {
	endpoint, err := engineURL(rawURL)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing signaling server: %w", err)
	}
	ws.SetReadLimit(maxPayload)

	c := &Client{
		ws:         ws,
		pendingAck: make(map[int]chan []json.RawMessage),
		handlers:   make(map[string]func([]json.RawMessage)),
		done:       make(chan struct{}),
	}

	if err := c.handshake(ctx); err != nil {
		c.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// engineURL rewrites the notification's socket URL into the websocket
// Engine.IO endpoint.
func engineURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid socket url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss", "":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported socket url scheme %q", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// handshake reads the Engine.IO open packet, joins the default namespace
// and waits for the connect ack. The deadline comes from ctx, bounded by
// the handshake timeout.
func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)
	defer c.ws.SetReadDeadline(time.Time{})

	msg, err := c.readText()
	if err != nil {
		return fmt.Errorf("reading open packet: %w", err)
	}
	if len(msg) == 0 || enginePacketType(msg[0]) != engineOpen {
		return fmt.Errorf("expected open packet, got %q", truncate(msg))
	}
	open, err := parseOpenPacket(msg[1:])
	if err != nil {
		return fmt.Errorf("parsing open packet: %w", err)
	}
	c.sid = open.SID

	if err := c.writeText(string(engineMessage) + buildSocketConnectPacket("/")); err != nil {
		return fmt.Errorf("sending connect packet: %w", err)
	}

	for {
		msg, err := c.readText()
		if err != nil {
			return fmt.Errorf("waiting for connect ack: %w", err)
		}
		if len(msg) == 0 {
			continue
		}
		switch enginePacketType(msg[0]) {
		case enginePing:
			if err := c.writeText(string(enginePong)); err != nil {
				return err
			}
		case engineMessage:
			payload := msg[1:]
			if len(payload) == 0 {
				continue
			}
			switch socketPacketType(payload[0]) {
			case socketConnect:
				return nil
			case socketConnectError:
				return fmt.Errorf("namespace connect rejected: %s", truncate(payload[1:]))
			}
		}
	}
}

// OnEvent registers a handler for a server-emitted event. Handlers run on
// the read loop goroutine and must not block.
func (c *Client) OnEvent(name string, fn func(args []json.RawMessage)) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers[name] = fn
}

// Emit sends an event without expecting an acknowledgment.
func (c *Client) Emit(event string, args ...any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	packet, err := buildSocketEventPacket("/", nil, event, args...)
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + packet)
}

// EmitWithAck sends an event with a packet id and waits for the matching
// ack, bounded by timeout and ctx.
func (c *Client) EmitWithAck(ctx context.Context, event string, timeout time.Duration, args ...any) ([]json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	c.ackMu.Lock()
	c.nextAckID++
	id := c.nextAckID
	ch := make(chan []json.RawMessage, 1)
	c.pendingAck[id] = ch
	c.ackMu.Unlock()

	cleanup := func() {
		c.ackMu.Lock()
		delete(c.pendingAck, id)
		c.ackMu.Unlock()
	}

	packet, err := buildSocketEventPacket("/", &id, event, args...)
	if err != nil {
		cleanup()
		return nil, err
	}
	if err := c.writeText(string(engineMessage) + packet); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		cleanup()
		return nil, fmt.Errorf("ack timeout for %q after %s", event, timeout)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	case <-c.done:
		cleanup()
		return nil, ErrClosed
	}
}

// Done is closed when the connection has ended, deliberately or not.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() error {
	c.closed.Store(true)
	err := c.ws.Close()
	c.closeOnce.Do(func() { close(c.done) })
	return err
}

func (c *Client) readLoop() {
	defer c.closeOnce.Do(func() { close(c.done) })
	for {
		msg, err := c.readText()
		if err != nil {
			if !c.closed.Load() {
				log.Printf("signaling: read loop ended: %v", err)
			}
			_ = c.ws.Close()
			return
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg string) {
	if msg == "" {
		return
	}
	switch enginePacketType(msg[0]) {
	case enginePing:
		_ = c.writeText(string(enginePong))
	case engineClose:
		c.Close()
	case engineMessage:
		c.handleSocketPayload(msg[1:])
	}
}

func (c *Client) handleSocketPayload(payload string) {
	if payload == "" {
		return
	}
	switch socketPacketType(payload[0]) {
	case socketEvent:
		pkt, err := parseSocketEventPacket(payload)
		if err != nil {
			log.Printf("signaling: dropping malformed event: %v", err)
			return
		}
		c.handlerMu.RLock()
		fn := c.handlers[pkt.Event]
		c.handlerMu.RUnlock()
		if fn != nil {
			fn(pkt.Args)
		}
	case socketAck:
		ack, err := parseSocketAckPacket(payload)
		if err != nil {
			return
		}
		c.resolveAck(ack.ID, ack.Args)
	case socketDisconnect:
		c.Close()
	}
}

func (c *Client) resolveAck(id int, args []json.RawMessage) {
	c.ackMu.Lock()
	ch := c.pendingAck[id]
	delete(c.pendingAck, id)
	c.ackMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- args:
	default:
	}
}

func (c *Client) readText() (string, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return strings.TrimSpace(s)
}
