package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"presence-service/pkg/models"
	pws "presence-service/internal/websocket"

	"github.com/gorilla/websocket"
)

// Options configures a presence client.
type Options struct {
	// ServerURL is the HTTP base of the presence service, e.g.
	// "http://localhost:8080".
	ServerURL string
	// Token is the caller's JWT; it carries the user and tenant binding.
	Token string

	PingInterval     time.Duration
	IdleTimeout      time.Duration
	ActivityThrottle time.Duration

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

func (o *Options) withDefaults() {
	if o.PingInterval == 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.IdleTimeout == 0 {
		o.IdleTimeout = 5 * time.Minute
	}
	if o.ActivityThrottle == 0 {
		o.ActivityThrottle = time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// Client is one end-user's presence session: it seeds and maintains the
// local Cache from the push channel, drives the heartbeat, and forwards
// idle transitions. Consumers of presence read the Cache only.
type Client struct {
	opts   Options
	cache  *Cache
	idle   *IdleDetector
	pinger *Pinger

	mu        sync.Mutex
	conn      *websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func NewClient(opts Options) *Client {
	opts.withDefaults()

	c := &Client{
		opts:   opts,
		cache:  NewCache(),
		closed: make(chan struct{}),
	}
	c.pinger = NewPinger(opts.PingInterval, c.sendPing)
	c.idle = NewIdleDetector(opts.IdleTimeout, opts.ActivityThrottle, c.sendIdle)
	return c
}

// Cache exposes the read-only presence projection.
func (c *Client) Cache() *Cache {
	return c.cache
}

// Activity, PageHidden and PageVisible feed the local idle detector.
func (c *Client) Activity()    { c.idle.Activity() }
func (c *Client) PageHidden()  { c.idle.PageHidden() }
func (c *Client) PageVisible() { c.idle.PageVisible() }

// Resync fetches the snapshot endpoint and merges it as authoritative.
// Called before the first subscription and forced after every reconnect,
// because updates emitted during a gap are unrecoverable. A failure leaves
// the cache as-is ("no data yet"), never fatal.
func (c *Client) Resync(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.ServerURL+"/api/v1/presence", nil)
	if err != nil {
		return fmt.Errorf("build snapshot request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch snapshot: unexpected status %d", resp.StatusCode)
	}

	var users []models.UserPresence
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	c.cache.ApplyBulk(users)
	return nil
}

// Connect dials the push channel once and starts the heartbeat. The read
// loop runs until the transport drops; the returned channel closes when it
// does, after the pinger is stopped and the idle state reset to Active.
func (c *Client) Connect(ctx context.Context) (<-chan struct{}, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.opts.Dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial presence channel: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial presence channel: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	done := make(chan struct{})
	go c.readLoop(conn, done)
	c.pinger.Start()
	return done, nil
}

// Run keeps a session alive: resync, connect, and on every drop reconnect
// with a forced resync, backing off between attempts. Returns when ctx is
// cancelled or Close is called.
func (c *Client) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		default:
		}

		// The cache must not trust anything from before the gap.
		if err := c.Resync(ctx); err != nil {
			slog.Warn("Presence resync failed", "error", err)
		}

		done, err := c.Connect(ctx)
		if err != nil {
			slog.Warn("Presence connect failed", "error", err)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		select {
		case <-done:
		case <-ctx.Done():
			c.disconnect()
			return
		case <-c.closed:
			c.disconnect()
			return
		}
	}
}

// Close tears the session down permanently.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.idle.Stop()
		c.disconnect()
	})
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.pinger.Stop()
		// Reconnection starts from a known baseline, not a stale flag.
		c.idle.Reset()
		close(done)
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			slog.Debug("Presence channel closed", "error", err)
			return
		}

		msg, err := pws.DecodeMessage(raw)
		if err != nil {
			slog.Debug("Dropping malformed presence event", "error", err)
			continue
		}

		switch msg.Type {
		case pws.MessageTypeUpdate:
			var update models.UserPresence
			if err := json.Unmarshal(msg.Data, &update); err != nil {
				slog.Debug("Dropping malformed update payload", "error", err)
				continue
			}
			c.cache.ApplyUpdate(update)

		case pws.MessageTypeBulk:
			var bulk pws.BulkData
			if err := json.Unmarshal(msg.Data, &bulk); err != nil {
				slog.Debug("Dropping malformed bulk payload", "error", err)
				continue
			}
			c.cache.ApplyBulk(bulk.Users)

		case pws.MessageTypeError:
			var data pws.ErrorData
			if err := json.Unmarshal(msg.Data, &data); err == nil {
				slog.Warn("Presence server error", "code", data.Code, "message", data.Message)
			}

		default:
			slog.Debug("Dropping unexpected presence event", "type", msg.Type)
		}
	}
}

func (c *Client) disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.pinger.Stop()
	if conn != nil {
		conn.Close()
	}
}

func (c *Client) sendPing() error {
	return c.sendMessage(pws.Message{Type: pws.MessageTypePing})
}

func (c *Client) sendIdle(isIdle bool) {
	data, err := json.Marshal(pws.IdleData{IsIdle: isIdle})
	if err != nil {
		return
	}
	if err := c.sendMessage(pws.Message{Type: pws.MessageTypeIdle, Data: data}); err != nil {
		slog.Debug("Idle signal failed", "error", err)
	}
}

func (c *Client) sendMessage(msg pws.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("presence channel not connected")
	}
	return c.conn.WriteJSON(msg)
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.opts.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch {
	case u.Scheme == "https":
		u.Scheme = "wss"
	case strings.HasPrefix(u.Scheme, "ws"):
		// already a websocket scheme
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/v1/ws"
	q := u.Query()
	q.Set("token", c.opts.Token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
