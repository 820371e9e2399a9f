package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/reelcast/reelcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// serverConn is one client connection as seen by the fake server
type serverConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *serverConn) write(msg message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// fakeServer speaks just enough of the channel protocol for the client
type fakeServer struct {
	srv        *httptest.Server
	frames     chan message
	conns      chan *serverConn
	rejectJoin atomic.Bool
	apikeys    chan string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		frames:  make(chan message, 64),
		conns:   make(chan *serverConn, 8),
		apikeys: make(chan string, 8),
	}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/v1/websocket" {
			http.NotFound(w, r)
			return
		}
		select {
		case fs.apikeys <- r.URL.Query().Get("apikey"):
		default:
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}
		fs.conns <- sc
		defer conn.Close()

		for {
			var msg message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Event == eventJoin {
				status := "ok"
				if fs.rejectJoin.Load() {
					status = "error"
				}
				reply, _ := json.Marshal(replyPayload{Status: status, Response: json.RawMessage(`{}`)})
				sc.write(message{Topic: msg.Topic, Event: eventReply, Payload: reply, Ref: msg.Ref})
			}
			select {
			case fs.frames <- msg:
			default:
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) client(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(fs.srv.URL, "anon-key", func() string { return "tok" }, nil)
	require.NoError(t, err)
	c.reconnectDelay = 10 * time.Millisecond
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFrame(t *testing.T, frames <-chan message, event string) message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case msg := <-frames:
			if msg.Event == event {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", event)
			return message{}
		}
	}
}

func waitConn(t *testing.T, conns <-chan *serverConn) *serverConn {
	t.Helper()
	select {
	case sc := <-conns:
		return sc
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for connection")
		return nil
	}
}

func changeFrame(topic, kind string, record, old map[string]any) message {
	var p changesPayload
	p.Data.Type = kind
	p.Data.Table = domain.CollectionInteractions
	p.Data.Record = record
	p.Data.OldRecord = old
	payload, _ := json.Marshal(p)
	return message{Topic: topic, Event: eventChanges, Payload: payload}
}

func TestNewClient_WebsocketURL(t *testing.T) {
	c, err := NewClient("https://demo.example.co/", "key", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://demo.example.co/realtime/v1/websocket?apikey=key&vsn=1.0.0", c.wsURL)

	c, err = NewClient("http://localhost:54321", "key", nil, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(c.wsURL, "ws://localhost:54321/realtime/v1/websocket"))
}

func TestClient_SubscribeSendsJoinConfig(t *testing.T) {
	fs := newFakeServer(t)
	c := fs.client(t)

	f := domain.Eq("target_id", "ep-1")
	unsub, err := c.Subscribe(context.Background(), domain.Subscription{
		Collection: domain.CollectionInteractions,
		Events:     []domain.EventKind{domain.EventInsert},
		Filter:     &f,
	}, func(domain.ChangeEvent) {})
	require.NoError(t, err)
	defer unsub()

	assert.Equal(t, "anon-key", <-fs.apikeys)

	join := waitFrame(t, fs.frames, eventJoin)
	assert.True(t, strings.HasPrefix(join.Topic, topicPrefix))
	assert.Equal(t, join.Ref, join.JoinRef)

	var p joinPayload
	require.NoError(t, json.Unmarshal(join.Payload, &p))
	assert.Equal(t, "tok", p.AccessToken)
	require.Len(t, p.Config.PostgresChanges, 1)
	assert.Equal(t, changeFilter{
		Event:  "INSERT",
		Schema: "public",
		Table:  domain.CollectionInteractions,
		Filter: "target_id=eq.ep-1",
	}, p.Config.PostgresChanges[0])
}

func TestClient_DeliversMatchingChanges(t *testing.T) {
	fs := newFakeServer(t)
	c := fs.client(t)

	events := make(chan domain.ChangeEvent, 8)
	f := domain.Eq("target_id", "ep-1")
	unsub, err := c.Subscribe(context.Background(), domain.Subscription{
		Collection: domain.CollectionInteractions,
		Events:     []domain.EventKind{domain.EventInsert, domain.EventDelete},
		Filter:     &f,
	}, func(ev domain.ChangeEvent) { events <- ev })
	require.NoError(t, err)

	sc := waitConn(t, fs.conns)
	join := waitFrame(t, fs.frames, eventJoin)

	// Filtered out: other target, unsubscribed kind, unknown topic
	require.NoError(t, sc.write(changeFrame(join.Topic, "INSERT", map[string]any{"target_id": "ep-2"}, nil)))
	require.NoError(t, sc.write(changeFrame(join.Topic, "UPDATE", map[string]any{"target_id": "ep-1"}, map[string]any{"target_id": "ep-1"})))
	require.NoError(t, sc.write(changeFrame("realtime:other", "INSERT", map[string]any{"target_id": "ep-1"}, nil)))

	require.NoError(t, sc.write(changeFrame(join.Topic, "INSERT", map[string]any{"target_id": "ep-1", "user_id": "u-2"}, nil)))
	require.NoError(t, sc.write(changeFrame(join.Topic, "DELETE", nil, map[string]any{"id": "row-7"})))

	select {
	case ev := <-events:
		assert.Equal(t, domain.EventInsert, ev.Kind)
		assert.Equal(t, "u-2", ev.New.String("user_id"))
		assert.Equal(t, domain.CollectionInteractions, ev.Collection)
	case <-time.After(2 * time.Second):
		t.Fatal("insert not delivered")
	}
	select {
	case ev := <-events:
		assert.Equal(t, domain.EventDelete, ev.Kind)
		assert.Equal(t, "row-7", ev.Row().String("id"), "rows without the filter column pass through")
	case <-time.After(2 * time.Second):
		t.Fatal("delete not delivered")
	}
	assert.Empty(t, events)

	unsub()
	leave := waitFrame(t, fs.frames, eventLeave)
	assert.Equal(t, join.Topic, leave.Topic)

	// No deliveries after leaving
	require.NoError(t, sc.write(changeFrame(join.Topic, "INSERT", map[string]any{"target_id": "ep-1"}, nil)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, events)
}

func TestClient_JoinRejected(t *testing.T) {
	fs := newFakeServer(t)
	fs.rejectJoin.Store(true)
	c := fs.client(t)

	_, err := c.Subscribe(context.Background(), domain.Subscription{Collection: domain.CollectionComments}, func(domain.ChangeEvent) {})
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestClient_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(srv.URL, "key", nil, nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Subscribe(context.Background(), domain.Subscription{Collection: domain.CollectionComments}, func(domain.ChangeEvent) {})
	assert.ErrorIs(t, err, domain.ErrConnection)
}

func TestClient_ReconnectRejoinsChannels(t *testing.T) {
	fs := newFakeServer(t)
	c := fs.client(t)

	events := make(chan domain.ChangeEvent, 1)
	_, err := c.Subscribe(context.Background(), domain.Subscription{Collection: domain.CollectionComments},
		func(ev domain.ChangeEvent) { events <- ev })
	require.NoError(t, err)

	first := waitConn(t, fs.conns)
	join := waitFrame(t, fs.frames, eventJoin)

	first.conn.Close()

	second := waitConn(t, fs.conns)
	rejoin := waitFrame(t, fs.frames, eventJoin)
	assert.Equal(t, join.Topic, rejoin.Topic)

	require.NoError(t, second.write(changeFrame(rejoin.Topic, "INSERT", map[string]any{"id": "c-1"}, nil)))
	select {
	case ev := <-events:
		assert.Equal(t, "c-1", ev.New.String("id"))
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered after reconnect")
	}
}

func TestClient_Heartbeat(t *testing.T) {
	fs := newFakeServer(t)
	c := fs.client(t)
	c.heartbeat = 10 * time.Millisecond

	_, err := c.Subscribe(context.Background(), domain.Subscription{Collection: domain.CollectionComments}, func(domain.ChangeEvent) {})
	require.NoError(t, err)

	hb := waitFrame(t, fs.frames, eventHeartbeat)
	assert.Equal(t, topicPhoenix, hb.Topic)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	fs := newFakeServer(t)
	c := fs.client(t)

	_, err := c.Subscribe(context.Background(), domain.Subscription{Collection: domain.CollectionComments}, func(domain.ChangeEvent) {})
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.Subscribe(context.Background(), domain.Subscription{Collection: domain.CollectionComments}, func(domain.ChangeEvent) {})
	assert.ErrorIs(t, err, domain.ErrConnection)
}
