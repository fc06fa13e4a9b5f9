package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func noResolve(context.Context, string) error { return nil }

type subscribeMsg struct {
	Type string `json:"type"`
}

// recorder collects states and frames from a supervisor under test.
type recorder struct {
	mu     sync.Mutex
	states []State
	frames []string
}

func (r *recorder) onState(_, to State) {
	r.mu.Lock()
	r.states = append(r.states, to)
	r.mu.Unlock()
}

func (r *recorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.states {
		if st == s {
			n++
		}
	}
	return n
}

func TestNew_Validation(t *testing.T) {
	h := HandlerFunc(func(context.Context, []byte) {})

	_, err := New(Config{}, h)
	assert.Error(t, err)

	_, err = New(Config{Endpoints: []string{"http://example.com"}}, h)
	assert.Error(t, err)

	_, err = New(Config{Endpoints: []string{"wss://example.com"}}, nil)
	assert.Error(t, err)

	s, err := New(Config{Endpoints: []string{"wss://example.com"}}, h)
	require.NoError(t, err)
	assert.Equal(t, 5, s.cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, s.cfg.Backoff)
	assert.Equal(t, 60*time.Second, s.cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, s.cfg.HeartbeatTimeout)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisor_SubscribesAndDelivers(t *testing.T) {
	var gotSubscribe atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		gotSubscribe.Store(sub.Type)

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscriptions"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"candlestick_5m"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec := &recorder{}
	handler := HandlerFunc(func(_ context.Context, raw []byte) {
		rec.mu.Lock()
		rec.frames = append(rec.frames, string(raw))
		n := len(rec.frames)
		rec.mu.Unlock()
		if n == 2 {
			cancel()
		}
	})

	s, err := New(Config{
		Endpoints: []string{wsURL(srv)},
		Subscribe: subscribeMsg{Type: "subscribe"},
		Resolve:   noResolve,
	}, handler)
	require.NoError(t, err)
	s.OnStateChange = rec.onState

	require.NoError(t, s.Run(ctx))

	assert.Equal(t, "subscribe", gotSubscribe.Load())
	assert.Equal(t, []string{`{"type":"subscriptions"}`, `{"type":"candlestick_5m"}`}, rec.frames)
	assert.Equal(t, []State{StateConnecting, StateSubscribed, StateStreaming, StateClosed, StateDisconnected}, rec.states)
}

func TestSupervisor_ResubscribesAfterServerClose(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)

		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"candlestick_5m"}`))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var frames atomic.Int32
	handler := HandlerFunc(func(context.Context, []byte) {
		if frames.Add(1) == 3 {
			cancel()
		}
	})

	s, err := New(Config{
		Endpoints:   []string{wsURL(srv)},
		Subscribe:   subscribeMsg{Type: "subscribe"},
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
		Resolve:     noResolve,
	}, handler)
	require.NoError(t, err)

	var reconnects atomic.Int32
	s.OnReconnect = func(string, int) { reconnects.Add(1) }

	// Every session streams, so the attempt budget refills and the supervisor
	// keeps reconnecting well past MaxAttempts.
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(3), frames.Load())
	assert.GreaterOrEqual(t, conns.Load(), int32(3))
	assert.GreaterOrEqual(t, reconnects.Load(), int32(2))
}

func TestSupervisor_ExhaustsEndpointsInOrder(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := wsURL(dead)
	dead.Close()

	var mu sync.Mutex
	var resolved []string
	resolve := func(_ context.Context, host string) error {
		mu.Lock()
		resolved = append(resolved, host)
		mu.Unlock()
		return nil
	}

	var attempts []string
	s, err := New(Config{
		Endpoints:   []string{deadURL, strings.Replace(deadURL, "127.0.0.1", "localhost", 1)},
		Subscribe:   subscribeMsg{Type: "subscribe"},
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Resolve:     resolve,
	}, HandlerFunc(func(context.Context, []byte) {}))
	require.NoError(t, err)

	rec := &recorder{}
	s.OnStateChange = rec.onState
	s.OnReconnect = func(endpoint string, _ int) { attempts = append(attempts, endpoint) }

	err = s.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEndpointsExhausted)

	assert.Equal(t, 6, rec.count(StateConnecting))
	assert.Equal(t, 6, rec.count(StateErrored))
	assert.Equal(t, 0, rec.count(StateStreaming))
	assert.Equal(t, []string{"127.0.0.1", "127.0.0.1", "127.0.0.1", "localhost", "localhost", "localhost"}, resolved)
	// Two retries per endpoint after the first attempt.
	assert.Len(t, attempts, 4)
	assert.Equal(t, StateDisconnected, s.State())
}

func TestSupervisor_ResolveFailureCountsAsAttempt(t *testing.T) {
	errNX := errors.New("no such host")
	var calls atomic.Int32

	s, err := New(Config{
		Endpoints:   []string{"wss://feed.invalid"},
		MaxAttempts: 2,
		Backoff:     time.Millisecond,
		Resolve: func(context.Context, string) error {
			calls.Add(1)
			return errNX
		},
	}, HandlerFunc(func(context.Context, []byte) {}))
	require.NoError(t, err)

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, ErrEndpointsExhausted)
	assert.ErrorIs(t, err, errNX)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSupervisor_HeartbeatTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"candlestick_5m"}`))
		// Never read again, so pings are never answered.
		<-release
	}))
	defer srv.Close()
	defer close(release)

	s, err := New(Config{
		Endpoints:         []string{wsURL(srv)},
		Subscribe:         subscribeMsg{Type: "subscribe"},
		MaxAttempts:       1,
		Backoff:           time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  20 * time.Millisecond,
		Resolve:           noResolve,
	}, HandlerFunc(func(context.Context, []byte) {}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = s.Run(ctx)
	assert.ErrorIs(t, err, ErrEndpointsExhausted)
	assert.ErrorIs(t, err, ErrHeartbeatTimeout)
}

func TestSupervisor_SlowHandlerKeepsHealthyConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub subscribeMsg
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"candlestick_5m"}`))
		// Keep reading so every ping is answered.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	handled := make(chan struct{})
	handler := HandlerFunc(func(context.Context, []byte) {
		time.Sleep(200 * time.Millisecond)
		close(handled)
	})

	rec := &recorder{}
	s, err := New(Config{
		Endpoints:         []string{wsURL(srv)},
		Subscribe:         subscribeMsg{Type: "subscribe"},
		MaxAttempts:       1,
		Backoff:           time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
		HeartbeatTimeout:  50 * time.Millisecond,
		Resolve:           noResolve,
	}, handler)
	require.NoError(t, err)
	s.OnStateChange = rec.onState

	go func() {
		<-handled
		// Several heartbeats after the handler returns.
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()

	err = s.Run(ctx)
	assert.NoError(t, err)
	assert.Zero(t, rec.count(StateErrored))
	assert.Equal(t, 1, rec.count(StateStreaming))
}

func TestLiveness_PongWait(t *testing.T) {
	const timeout = 50 * time.Millisecond
	sent := time.Unix(100, 0)

	lv := &liveness{}
	lv.idleSince.Store(sent.Add(-time.Second).UnixNano())
	assert.False(t, lv.answered(sent))
	assert.Equal(t, timeout, lv.pongWait(sent, sent, timeout))
	assert.LessOrEqual(t, lv.pongWait(sent, sent.Add(timeout), timeout), time.Duration(0))

	// A busy handler holds the deadline open.
	lv.busy.Store(true)
	assert.Equal(t, timeout, lv.pongWait(sent, sent.Add(time.Second), timeout))

	// Once it returns, the full timeout starts over from that moment.
	idle := sent.Add(time.Second)
	lv.idleSince.Store(idle.UnixNano())
	lv.busy.Store(false)
	assert.Equal(t, 30*time.Millisecond, lv.pongWait(sent, idle.Add(20*time.Millisecond), timeout))
	assert.LessOrEqual(t, lv.pongWait(sent, idle.Add(timeout), timeout), time.Duration(0))

	lv.lastPong.Store(sent.Add(time.Millisecond).UnixNano())
	assert.True(t, lv.answered(sent))
}

func TestSupervisor_CancelDuringBackoff(t *testing.T) {
	s, err := New(Config{
		Endpoints:   []string{"wss://feed.invalid"},
		MaxAttempts: 5,
		Backoff:     time.Hour,
		Resolve: func(context.Context, string) error {
			return errors.New("down")
		},
	}, HandlerFunc(func(context.Context, []byte) {}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.OnReconnect = func(string, int) { cancel() }

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "unknown", State(42).String())
}
