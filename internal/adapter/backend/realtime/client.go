// Package realtime receives row change notifications over the backend's
// websocket channel protocol.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/reelcast/reelcast/internal/domain"
)

const (
	defaultHeartbeat      = 30 * time.Second
	defaultReconnectDelay = time.Second
	maxReconnectDelay     = 30 * time.Second
	writeTimeout          = 10 * time.Second
)

// Client implements domain.ChangeFeed. The socket is opened on the first
// Subscribe and re-established (with all channels rejoined) when it drops.
type Client struct {
	wsURL          string
	token          func() string
	dialer         *websocket.Dialer
	heartbeat      time.Duration
	reconnectDelay time.Duration
	logger         *slog.Logger

	ref atomic.Uint64

	mu       sync.Mutex
	conn     *websocket.Conn
	channels map[string]*channel           // topic -> channel
	pending  map[string]chan replyPayload // ref -> join reply
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup

	writeMu sync.Mutex
}

type channel struct {
	topic   string
	sub     domain.Subscription
	mu      sync.Mutex // Serializes handler calls
	handler domain.ChangeHandler
}

// NewClient creates a change feed for the backend at baseURL.
// token returns the current access token ("" = anonymous).
func NewClient(baseURL, apiKey string, token func() string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if token == nil {
		token = func() string { return "" }
	}

	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/realtime/v1/websocket"
	u.RawQuery = url.Values{"apikey": {apiKey}, "vsn": {"1.0.0"}}.Encode()

	return &Client{
		wsURL:          u.String(),
		token:          token,
		dialer:         websocket.DefaultDialer,
		heartbeat:      defaultHeartbeat,
		reconnectDelay: defaultReconnectDelay,
		logger:         logger,
		channels:       make(map[string]*channel),
		pending:        make(map[string]chan replyPayload),
		done:           make(chan struct{}),
	}, nil
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

// Subscribe joins a channel for sub and waits for the server to accept it
func (c *Client) Subscribe(ctx context.Context, sub domain.Subscription, handler domain.ChangeHandler) (domain.Unsubscribe, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	ch := &channel{
		topic:   topicPrefix + uuid.NewString(),
		sub:     sub,
		handler: handler,
	}

	c.mu.Lock()
	c.channels[ch.topic] = ch
	c.mu.Unlock()

	ref := c.nextRef()
	replies := make(chan replyPayload, 1)
	c.mu.Lock()
	c.pending[ref] = replies
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := c.join(ch, ref); err != nil {
		c.removeChannel(ch.topic)
		return nil, err
	}

	select {
	case reply := <-replies:
		if reply.Status != "ok" {
			c.removeChannel(ch.topic)
			return nil, fmt.Errorf("%w: join rejected: %s", domain.ErrConnection, string(reply.Response))
		}
	case <-ctx.Done():
		c.removeChannel(ch.topic)
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("%w: client closed", domain.ErrConnection)
	}

	c.logger.Debug("realtime channel joined", "topic", ch.topic, "collection", sub.Collection)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.removeChannel(ch.topic)
			if err := c.send(message{Topic: ch.topic, Event: eventLeave, Payload: json.RawMessage(`{}`), Ref: c.nextRef()}); err != nil {
				c.logger.Debug("failed to leave channel", "topic", ch.topic, "error", err)
			}
		})
	}, nil
}

func (c *Client) removeChannel(topic string) {
	c.mu.Lock()
	delete(c.channels, topic)
	c.mu.Unlock()
}

// join sends the join frame for ch
func (c *Client) join(ch *channel, ref string) error {
	filter := changeFilter{Event: "*", Schema: "public", Table: ch.sub.Collection}
	if len(ch.sub.Events) == 1 {
		filter.Event = string(ch.sub.Events[0])
	}
	if ch.sub.Filter != nil {
		filter.Filter = ch.sub.Filter.String()
	}

	payload, err := json.Marshal(joinPayload{
		Config:      joinConfig{PostgresChanges: []changeFilter{filter}},
		AccessToken: c.token(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal join: %w", err)
	}
	return c.send(message{Topic: ch.topic, Event: eventJoin, Payload: payload, Ref: ref, JoinRef: ref})
}

func (c *Client) send(msg message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: realtime socket not connected", domain.ErrConnection)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return nil
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("%w: client closed", domain.ErrConnection)
	}
	if c.conn != nil {
		return nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn

	c.wg.Add(2)
	go c.readLoop()
	go c.heartbeatLoop()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, http.Header{})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, domain.ErrAuthFailed
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConnection, err)
	}
	return conn, nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.logger.Warn("realtime socket dropped, reconnecting", "error", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid realtime frame", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg message) {
	switch msg.Event {
	case eventReply:
		var reply replyPayload
		if err := json.Unmarshal(msg.Payload, &reply); err != nil {
			return
		}
		c.mu.Lock()
		waiter, ok := c.pending[msg.Ref]
		c.mu.Unlock()
		if ok {
			select {
			case waiter <- reply:
			default:
			}
		}

	case eventChanges:
		c.mu.Lock()
		ch, ok := c.channels[msg.Topic]
		c.mu.Unlock()
		if !ok {
			return
		}
		ev, err := decodeChange(msg.Payload)
		if err != nil {
			c.logger.Warn("invalid change payload", "topic", msg.Topic, "error", err)
			return
		}
		if !ch.sub.Wants(ev.Kind) || !matchesFilter(ch.sub.Filter, ev.Row()) {
			return
		}
		ch.mu.Lock()
		ch.handler(ev)
		ch.mu.Unlock()

	case eventError, eventClose:
		c.logger.Warn("realtime channel closed by server", "topic", msg.Topic, "event", msg.Event)
	}
}

// matchesFilter applies the subscription filter client side. Rows that omit
// the column (deletes carrying only the key) are trusted to the server.
func matchesFilter(f *domain.Filter, row domain.Record) bool {
	if f == nil {
		return true
	}
	if _, ok := row[f.Column]; !ok {
		return true
	}
	return f.Matches(row)
}

func decodeChange(payload json.RawMessage) (domain.ChangeEvent, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var p changesPayload
	if err := dec.Decode(&p); err != nil {
		return domain.ChangeEvent{}, err
	}

	ev := domain.ChangeEvent{
		Collection: p.Data.Table,
		Kind:       domain.EventKind(p.Data.Type),
	}
	if len(p.Data.Record) > 0 {
		ev.New = domain.Record(p.Data.Record)
	}
	if len(p.Data.OldRecord) > 0 {
		ev.Old = domain.Record(p.Data.OldRecord)
	}
	switch ev.Kind {
	case domain.EventInsert, domain.EventUpdate, domain.EventDelete:
		return ev, nil
	default:
		return ev, fmt.Errorf("unknown change type %q", p.Data.Type)
	}
}

// reconnect redials with exponential backoff and rejoins every channel.
// Returns false when the client was closed meanwhile.
func (c *Client) reconnect() bool {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	delay := c.reconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			c.logger.Debug("realtime reconnect failed", "error", err, "delay", delay)
			delay = min(delay*2, maxReconnectDelay)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		channels := make([]*channel, 0, len(c.channels))
		for _, ch := range c.channels {
			channels = append(channels, ch)
		}
		c.mu.Unlock()

		for _, ch := range channels {
			if err := c.join(ch, c.nextRef()); err != nil {
				c.logger.Warn("failed to rejoin channel", "topic", ch.topic, "error", err)
			}
		}
		c.logger.Info("realtime socket reconnected", "channels", len(channels))
		return true
	}
}

func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.send(message{Topic: topicPhoenix, Event: eventHeartbeat, Payload: json.RawMessage(`{}`), Ref: c.nextRef()})
			if err != nil {
				c.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close shuts the socket down and waits for background goroutines
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.channels = make(map[string]*channel)
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = conn.Close()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
	}
	c.wg.Wait()
	return err
}
