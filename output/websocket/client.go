package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/sparkbridge/errors"
	"github.com/c360/sparkbridge/fanout"
)

// Client is one WebSocket connection registered as a fanout subscriber.
type Client struct {
	id          string
	conn        *websocket.Conn
	remoteAddr  string
	connectedAt time.Time

	writeTimeout time.Duration
	metrics      *Metrics

	writeMu   sync.Mutex // gorilla allows one concurrent writer
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	sent      atomic.Int64
}

var _ fanout.Subscriber = (*Client)(nil)

func newClient(id string, conn *websocket.Conn, writeTimeout time.Duration, metrics *Metrics) *Client {
	return &Client{
		id:           id,
		conn:         conn,
		remoteAddr:   conn.RemoteAddr().String(),
		connectedAt:  time.Now(),
		writeTimeout: writeTimeout,
		metrics:      metrics,
		done:         make(chan struct{}),
	}
}

// ID returns the connection identifier
func (c *Client) ID() string {
	return c.id
}

// RemoteAddr returns the peer address
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// MessagesSent returns the number of data frames written
func (c *Client) MessagesSent() int64 {
	return c.sent.Load()
}

// Send writes text as one text frame. The write deadline comes from ctx,
// falling back to the client's write timeout.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.closed.Load() {
		return errors.WrapTransient(errors.ErrAlreadyStopped, "websocket.Client", "Send", "write to "+c.id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.writeTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.metrics.recordError("write")
		return err
	}
	c.sent.Add(1)
	c.metrics.recordSent(len(text))
	return nil
}

// Close sends a close frame and closes the connection. Safe to call more
// than once and from any goroutine.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.conn.Close()
		close(c.done)
	})
	return err
}

// Done is closed once the connection has been closed
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}
