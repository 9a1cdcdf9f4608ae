package relay

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
	"github.com/layer-3/onerecurr/core"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// relayServer is a test relay. Behaviour per connection is decided by accept.
type relayServer struct {
	srv      *httptest.Server
	requests atomic.Int32
	received chan string

	mu    sync.Mutex
	conns []*websocket.Conn

	// accept returns (upgrade, closeImmediately) for the nth request (1-based).
	accept func(n int32) (bool, bool)
}

func newRelayServer(t *testing.T, accept func(n int32) (bool, bool)) *relayServer {
	rs := &relayServer{received: make(chan string, 64), accept: accept}
	upgrader := websocket.Upgrader{}

	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := rs.requests.Add(1)
		upgrade, closeNow := true, false
		if rs.accept != nil {
			upgrade, closeNow = rs.accept(n)
		}
		if !upgrade {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if closeNow {
			conn.Close()
			return
		}
		rs.mu.Lock()
		rs.conns = append(rs.conns, conn)
		rs.mu.Unlock()
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					return
				}
				rs.received <- string(data)
			}
		}()
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *relayServer) url() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func (rs *relayServer) broadcast(t *testing.T, msg string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for _, c := range rs.conns {
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
}

func (rs *relayServer) next(t *testing.T) string {
	select {
	case m := <-rs.received:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("relay received nothing")
		return ""
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestClient(url string, cfg Config) *Client {
	cfg.URL = url
	return NewClient(cfg, nil, quietLogger())
}

func TestBackoffDoubles(t *testing.T) {
	base := time.Second
	assert.Equal(t, time.Second, Backoff(base, 1))
	for n := 2; n <= 5; n++ {
		assert.Equal(t, 2*Backoff(base, n-1), Backoff(base, n))
	}
	assert.Equal(t, 16*time.Second, Backoff(base, 5))
	assert.Equal(t, time.Second, Backoff(base, 0))
}

func TestSendAndSubscribe(t *testing.T) {
	rs := newRelayServer(t, nil)
	c := newTestClient(rs.url(), Config{})
	defer c.Disconnect()

	frames := make(chan core.RelayFrame, 4)
	sub := c.Subscribe(func(f core.RelayFrame) { frames <- f })

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.IsConnected())
	require.NoError(t, c.Connect(context.Background()), "connect while connected is a no-op")

	require.NoError(t, c.Send(map[string]any{"type": "payment", "amount": "1"}))
	assert.JSONEq(t, `{"type":"payment","amount":"1"}`, rs.next(t))

	rs.broadcast(t, `{"jsonrpc":"2.0","id":1,"result":{"channelId":"0x1"}}`)
	select {
	case f := <-frames:
		assert.Equal(t, "0x1", f.ChannelID)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame")
	}

	sub.Unsubscribe()
	sub.Unsubscribe()
	rs.broadcast(t, `{"type":"pong"}`)
	select {
	case <-frames:
		t.Fatal("unsubscribed handler was called")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	rs := newRelayServer(t, nil)
	c := newTestClient(rs.url(), Config{})
	defer c.Disconnect()

	got := make(chan struct{}, 1)
	c.Subscribe(func(core.RelayFrame) { panic("boom") })
	c.Subscribe(func(core.RelayFrame) { got <- struct{}{} })

	require.NoError(t, c.Connect(context.Background()))
	rs.broadcast(t, `{"type":"pong"}`)
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("second handler not called")
	}
	assert.True(t, c.IsConnected())
}

func TestQueueFlushesInOrder(t *testing.T) {
	rs := newRelayServer(t, nil)
	c := newTestClient(rs.url(), Config{})
	defer c.Disconnect()

	require.NoError(t, c.Send(`{"n":1}`))
	require.NoError(t, c.Send([]byte(`{"n":2}`)))
	require.NoError(t, c.Send(map[string]int{"n": 3}))
	assert.Equal(t, 3, c.Queued())

	require.NoError(t, c.Connect(context.Background()))
	for i := 1; i <= 3; i++ {
		var msg struct{ N int }
		require.NoError(t, json.Unmarshal([]byte(rs.next(t)), &msg))
		assert.Equal(t, i, msg.N)
	}
	assert.Equal(t, 0, c.Queued())
}

func TestReconnectBackoffStopsAtMaxAttempts(t *testing.T) {
	var allow atomic.Bool
	rs := newRelayServer(t, func(n int32) (bool, bool) {
		switch {
		case n == 1:
			return true, true // accept then drop: unexpected close
		case allow.Load():
			return true, false
		default:
			return false, false
		}
	})

	c := newTestClient(rs.url(), Config{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond})
	defer c.Disconnect()

	delays := make(chan time.Duration, 8)
	c.scheduled = func(attempt int, delay time.Duration) { delays <- delay }

	require.NoError(t, c.Connect(context.Background()))

	var got []time.Duration
	for len(got) < 3 {
		select {
		case d := <-delays:
			got = append(got, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d reconnects scheduled", len(got))
		}
	}
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, got)

	assert.Eventually(t, func() bool {
		return rs.requests.Load() == 4 && c.Status() == core.StatusDisconnected
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case d := <-delays:
		t.Fatalf("unexpected attempt after max with delay %v", d)
	case <-time.After(150 * time.Millisecond):
	}
	assert.Equal(t, 3, c.Attempts())
	assert.Equal(t, int32(4), rs.requests.Load())

	allow.Store(true)
	require.NoError(t, c.Reconnect(context.Background()))
	assert.Equal(t, core.StatusConnected, c.Status())
	assert.Equal(t, 0, c.Attempts())
}

func TestDisconnectSuppressesReconnect(t *testing.T) {
	rs := newRelayServer(t, nil)
	c := newTestClient(rs.url(), Config{BaseDelay: 5 * time.Millisecond})

	var mu sync.Mutex
	var transitions []core.ConnectionStatus
	c.OnStatus(func(prev, next core.ConnectionStatus) {
		mu.Lock()
		transitions = append(transitions, next)
		mu.Unlock()
	})
	scheduled := make(chan struct{}, 1)
	c.scheduled = func(int, time.Duration) { scheduled <- struct{}{} }

	require.NoError(t, c.Connect(context.Background()))
	c.Disconnect()
	assert.Equal(t, core.StatusDisconnected, c.Status())

	select {
	case <-scheduled:
		t.Fatal("reconnect scheduled after explicit disconnect")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, c.Send(`{"late":true}`))
	assert.Equal(t, 1, c.Queued())
	c.Disconnect()
	assert.Equal(t, 0, c.Queued())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.ConnectionStatus{core.StatusConnecting, core.StatusConnected, core.StatusDisconnected}, transitions)
}

// gatedDialer holds the first dial until release is closed.
type gatedDialer struct {
	inner   Dialer
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	calls int
	conns map[int]*websocket.Conn
}

func (d *gatedDialer) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.mu.Lock()
	d.calls++
	n := d.calls
	d.mu.Unlock()

	if n == 1 {
		close(d.entered)
		<-d.release
	}
	conn, resp, err := d.inner.DialContext(ctx, url, h)
	d.mu.Lock()
	d.conns[n] = conn
	d.mu.Unlock()
	return conn, resp, err
}

func (d *gatedDialer) conn(n int) *websocket.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[n]
}

func TestStaleDialIsDiscarded(t *testing.T) {
	rs := newRelayServer(t, nil)
	dialer := &gatedDialer{
		inner:   websocket.DefaultDialer,
		entered: make(chan struct{}),
		release: make(chan struct{}),
		conns:   make(map[int]*websocket.Conn),
	}
	c := NewClient(Config{URL: rs.url()}, dialer, quietLogger())
	defer c.Disconnect()

	first := make(chan error, 1)
	go func() { first <- c.Connect(context.Background()) }()
	<-dialer.entered

	c.Disconnect()
	require.NoError(t, c.Connect(context.Background()))
	current := dialer.conn(2)
	require.NotNil(t, current)

	close(dialer.release)
	select {
	case err := <-first:
		assert.ErrorIs(t, err, core.ErrNotConnected)
	case <-time.After(2 * time.Second):
		t.Fatal("first connect never returned")
	}

	assert.True(t, c.IsConnected())
	c.mu.Lock()
	assert.Same(t, current, c.conn)
	c.mu.Unlock()

	stale := dialer.conn(1)
	require.NotNil(t, stale)
	assert.Error(t, stale.WriteMessage(websocket.TextMessage, []byte(`{"stale":true}`)), "stale connection is closed")

	require.NoError(t, c.Send(`{"live":true}`))
	assert.JSONEq(t, `{"live":true}`, rs.next(t))
}

func TestConnectFailureReturnsError(t *testing.T) {
	rs := newRelayServer(t, func(int32) (bool, bool) { return false, false })
	c := newTestClient(rs.url(), Config{})

	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, core.StatusDisconnected, c.Status())
}

func TestHeartbeat(t *testing.T) {
	rs := newRelayServer(t, nil)
	c := newTestClient(rs.url(), Config{HeartbeatInterval: 20 * time.Millisecond})
	defer c.Disconnect()

	require.NoError(t, c.Connect(context.Background()))

	var ping struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal([]byte(rs.next(t)), &ping))
	assert.Equal(t, "ping", ping.Type)
	assert.NotZero(t, ping.Timestamp)
}

func TestHeartbeatTimeoutForcesReconnect(t *testing.T) {
	rs := newRelayServer(t, nil)
	c := newTestClient(rs.url(), Config{
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  30 * time.Millisecond,
		BaseDelay:         5 * time.Millisecond,
	})
	defer c.Disconnect()

	scheduled := make(chan int, 4)
	c.scheduled = func(attempt int, _ time.Duration) {
		select {
		case scheduled <- attempt:
		default:
		}
	}

	require.NoError(t, c.Connect(context.Background()))
	select {
	case attempt := <-scheduled:
		assert.Equal(t, 1, attempt)
	case <-time.After(2 * time.Second):
		t.Fatal("silent relay did not trigger reconnect")
	}
}
