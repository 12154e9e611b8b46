// Package wsclient is the event-channel client used by the terminal viewer and
// the admin CLI.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pkt.systems/groundstation/schema"
	"pkt.systems/pslog"
)

// Handler receives one server event.
type Handler func(schema.Envelope)

const (
	inboxDepth   = 256
	writeTimeout = 10 * time.Second
)

// Client holds handlers across connections so a reconnect resumes delivery
// to the same consumers.
type Client struct {
	dialer *websocket.Dialer
	log    pslog.Logger

	mu       sync.Mutex
	handlers map[schema.EventName][]Handler
	waiters  map[schema.EventName][]chan schema.Envelope
	conn     *websocket.Conn
	done     chan struct{}
	err      error

	writeMu sync.Mutex
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger pslog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New constructs an unconnected client. Register handlers with On before
// calling Connect so the initial events are not missed.
func New(opts ...Option) *Client {
	c := &Client{
		dialer:   websocket.DefaultDialer,
		handlers: make(map[schema.EventName][]Handler),
		waiters:  make(map[schema.EventName][]chan schema.Envelope),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = pslog.Ctx(context.Background())
	}
	closed := make(chan struct{})
	close(closed)
	c.done = closed
	return c
}

// Dial constructs a client and connects it.
func Dial(ctx context.Context, url string, auth schema.ConnectAuth, opts ...Option) (*Client, error) {
	c := New(opts...)
	if err := c.Connect(ctx, url, auth); err != nil {
		return nil, err
	}
	return c, nil
}

// On registers a handler for event. Handlers run on one goroutine in arrival order.
func (c *Client) On(event schema.EventName, handler Handler) {
	if handler == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Expect returns a channel that receives the next envelope for event.
func (c *Client) Expect(event schema.EventName) <-chan schema.Envelope {
	ch := make(chan schema.Envelope, 1)
	c.mu.Lock()
	c.waiters[event] = append(c.waiters[event], ch)
	c.mu.Unlock()
	return ch
}

// Connect dials url and sends the connect frame. It fails when a connection
// is already open.
func (c *Client) Connect(ctx context.Context, url string, auth schema.ConnectAuth) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.mu.Unlock()

	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			c.log.Debug("ws dial rejected", "url", url, "status", resp.StatusCode)
		}
		return err
	}
	env, err := schema.NewEnvelope(schema.EventConnect, auth)
	if err != nil {
		_ = conn.Close()
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		_ = conn.Close()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.err = nil
	c.mu.Unlock()

	inbox := make(chan schema.Envelope, inboxDepth)
	go c.readLoop(conn, inbox)
	go c.dispatch(conn, inbox, done)
	c.log.Info("ws connect ok", "url", url, "client", auth.ID)
	return nil
}

// Emit sends an event with an optional payload.
func (c *Client) Emit(event schema.EventName, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return schema.ErrNotConnected
	}
	env, err := schema.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		return err
	}
	c.log.Trace("ws emit", "event", event)
	return nil
}

// Request emits event and waits for the first reply event.
func (c *Client) Request(ctx context.Context, event schema.EventName, payload any, reply schema.EventName) (schema.Envelope, error) {
	ch := c.Expect(reply)
	done := c.Done()
	if err := c.Emit(event, payload); err != nil {
		return schema.Envelope{}, err
	}
	select {
	case env := <-ch:
		return env, nil
	case <-done:
		return schema.Envelope{}, c.closedErr()
	case <-ctx.Done():
		return schema.Envelope{}, ctx.Err()
	}
}

// Done is closed when the current connection ends.
func (c *Client) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Err returns the error that ended the last connection, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the current connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()
	_ = conn.Close()
	return nil
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return schema.ErrNotConnected
}

func (c *Client) readLoop(conn *websocket.Conn, inbox chan<- schema.Envelope) {
	defer close(inbox)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if c.conn == conn && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			c.mu.Unlock()
			c.log.Debug("ws read ended", "err", err)
			return
		}
		var env schema.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("ws frame ignored", "err", err)
			continue
		}
		inbox <- env
	}
}

func (c *Client) dispatch(conn *websocket.Conn, inbox <-chan schema.Envelope, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.Close()
		close(done)
		c.log.Info("ws disconnected")
	}()
	for env := range inbox {
		c.mu.Lock()
		handlers := append([]Handler(nil), c.handlers[env.Event]...)
		waiters := c.waiters[env.Event]
		delete(c.waiters, env.Event)
		c.mu.Unlock()
		for _, handler := range handlers {
			handler(env)
		}
		for _, waiter := range waiters {
			waiter <- env
		}
	}
}
