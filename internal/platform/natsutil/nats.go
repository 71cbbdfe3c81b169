package natsutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/tasknotify/project/internal/messaging"
)

var ErrBrokerUnavailable = errors.New("broker unavailable")

const DefaultRetryDelay = 5 * time.Second

// ConnectHook runs after every successful connect, once streams exist.
type ConnectHook func(js nats.JetStreamContext) error

type Options struct {
	URL        string
	Name       string
	RetryDelay time.Duration
	Logger     *slog.Logger
}

// Client owns one JetStream connection. It is safe for concurrent use and is
// passed explicitly to whoever needs to publish or subscribe.
type Client struct {
	opts  Options
	mu    sync.RWMutex
	conn  *nats.Conn
	js    nats.JetStreamContext
	hooks []ConnectHook
}

func New(opts Options) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts}
}

// OnConnect registers a hook. Register hooks before calling Run.
func (c *Client) OnConnect(hook ConnectHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Run connects, retrying after RetryDelay until it succeeds or ctx ends, then
// holds the connection until ctx is done. Once connected, nats.go handles
// reconnects on its own.
func (c *Client) Run(ctx context.Context) error {
	for {
		err := c.connect()
		if err == nil {
			break
		}
		c.opts.Logger.Warn("broker connect failed, retrying",
			"url", c.opts.URL,
			"retry_in", c.opts.RetryDelay.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.opts.RetryDelay):
		}
	}
	c.opts.Logger.Info("broker connected", "url", c.opts.URL)

	<-ctx.Done()
	c.Close()
	return ctx.Err()
}

func (c *Client) connect() error {
	conn, err := nats.Connect(c.opts.URL,
		nats.Name(c.opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(c.opts.RetryDelay),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.opts.Logger.Warn("broker disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.opts.Logger.Info("broker reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return err
	}
	js, err := conn.JetStream()
	if err != nil {
		closeConn(conn)
		return err
	}
	if err := messaging.EnsureStreams(js); err != nil {
		closeConn(conn)
		return fmt.Errorf("ensure streams: %w", err)
	}

	c.mu.RLock()
	hooks := append([]ConnectHook(nil), c.hooks...)
	c.mu.RUnlock()
	for _, hook := range hooks {
		if err := hook(js); err != nil {
			closeConn(conn)
			return fmt.Errorf("connect hook: %w", err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.js = js
	c.mu.Unlock()
	return nil
}

// Publish sends payload to subject. msgID, when set, lets JetStream drop
// duplicates inside the stream's dedup window.
func (c *Client) Publish(ctx context.Context, subject, msgID string, payload []byte) error {
	c.mu.RLock()
	conn, js := c.conn, c.js
	c.mu.RUnlock()
	if conn == nil || js == nil || !conn.IsConnected() {
		return ErrBrokerUnavailable
	}

	opts := []nats.PubOpt{nats.Context(ctx)}
	if msgID != "" {
		opts = append(opts, nats.MsgId(msgID))
	}
	if _, err := js.Publish(subject, payload, opts...); err != nil {
		return fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	return nil
}

// Connected reports whether the client currently holds a live connection.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) Status() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return "NOT_CONNECTED"
	}
	return c.conn.Status().String()
}

// Ready returns an error describing why the broker is not usable.
func (c *Client) Ready() error {
	if !c.Connected() {
		return fmt.Errorf("nats is not connected: %s", c.Status())
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()
	closeConn(conn)
}

func closeConn(conn *nats.Conn) {
	if conn == nil {
		return
	}
	_ = conn.Drain()
	conn.Close()
}
