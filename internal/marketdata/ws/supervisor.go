// Package ws maintains the market data WebSocket session: it dials the
// configured endpoints in order, subscribes, keeps the connection alive with
// ping/pong and reconnects with a fixed backoff until every endpoint has used
// up its attempts.
//
// Frames are handed to a single Handler from the read loop. The handler runs
// to completion before the next frame is read, so downstream state needs no
// extra synchronization.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateStreaming
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

var (
	// ErrEndpointsExhausted is returned by Run once every endpoint has used
	// all of its connection attempts.
	ErrEndpointsExhausted = errors.New("ws: all endpoints exhausted")

	// ErrHeartbeatTimeout marks a session closed because no pong arrived.
	ErrHeartbeatTimeout = errors.New("ws: heartbeat timeout")

	errNoEndpoints = errors.New("ws: no endpoints configured")
)

// Handler receives every inbound data frame.
type Handler interface {
	HandleMessage(ctx context.Context, raw []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, raw []byte)

func (f HandlerFunc) HandleMessage(ctx context.Context, raw []byte) { f(ctx, raw) }

// Config holds the supervisor settings. Zero durations and attempts take the
// production defaults.
type Config struct {
	// Endpoints are tried in order, e.g. "wss://socket.india.delta.exchange".
	Endpoints []string

	// Subscribe is sent as JSON right after every successful dial.
	Subscribe interface{}

	MaxAttempts       int           // per endpoint, default 5
	Backoff           time.Duration // between attempts, default 10s
	HeartbeatInterval time.Duration // default 60s
	HeartbeatTimeout  time.Duration // default 10s

	Dialer *websocket.Dialer

	// Resolve checks that the endpoint host resolves before dialing.
	// Defaults to a lookup through net.DefaultResolver.
	Resolve func(ctx context.Context, host string) error
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 60 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 10 * time.Second
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Resolve == nil {
		c.Resolve = lookupHost
	}
}

func lookupHost(ctx context.Context, host string) error {
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("no addresses for %s", host)
	}
	return nil
}

// Supervisor owns the connection lifecycle.
type Supervisor struct {
	cfg     Config
	handler Handler
	state   atomic.Int32

	// Optional hooks, set before Run.
	OnStateChange func(from, to State)
	OnReconnect   func(endpoint string, attempt int)
}

// New validates the config and creates a Supervisor.
func New(cfg Config, handler Handler) (*Supervisor, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errNoEndpoints
	}
	for _, ep := range cfg.Endpoints {
		u, err := url.Parse(ep)
		if err != nil {
			return nil, fmt.Errorf("ws: endpoint %q: %w", ep, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("ws: endpoint %q: unsupported scheme %q", ep, u.Scheme)
		}
	}
	if handler == nil {
		return nil, errors.New("ws: nil handler")
	}
	cfg.defaults()
	return &Supervisor{cfg: cfg, handler: handler}, nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from == to {
		return
	}
	if s.OnStateChange != nil {
		s.OnStateChange(from, to)
	}
}

// Run connects and streams until ctx is cancelled (returns nil) or every
// endpoint is exhausted (returns an error wrapping ErrEndpointsExhausted and
// the last session error).
func (s *Supervisor) Run(ctx context.Context) error {
	var lastErr error
	for _, endpoint := range s.cfg.Endpoints {
		err := s.runEndpoint(ctx, endpoint)
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return nil
		}
		lastErr = err
		log.Printf("[ws] endpoint %s exhausted after %d attempts: %v", endpoint, s.cfg.MaxAttempts, err)
	}
	return fmt.Errorf("%w: %w", ErrEndpointsExhausted, lastErr)
}

// runEndpoint makes up to MaxAttempts sessions against one endpoint. A session
// that reached Streaming refills the attempt budget.
func (s *Supervisor) runEndpoint(ctx context.Context, endpoint string) error {
	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.Backoff), uint64(s.cfg.MaxAttempts-1)),
		ctx,
	)
	b.Reset()

	attempt := 1
	for {
		streamed, err := s.runOnce(ctx, endpoint, attempt)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if streamed {
			b.Reset()
			attempt = 1
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			return err
		}
		attempt++

		log.Printf("[ws] %s disconnected (%v), attempt %d/%d in %s", endpoint, err, attempt, s.cfg.MaxAttempts, next)
		if s.OnReconnect != nil {
			s.OnReconnect(endpoint, attempt)
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runOnce runs a single session: resolve, dial, subscribe, then read until the
// connection drops. streamed reports whether any frame was received.
func (s *Supervisor) runOnce(ctx context.Context, endpoint string, attempt int) (streamed bool, err error) {
	s.setState(StateConnecting)

	u, _ := url.Parse(endpoint)
	if err := s.cfg.Resolve(ctx, u.Hostname()); err != nil {
		s.setState(StateErrored)
		return false, fmt.Errorf("ws: resolve %s: %w", u.Hostname(), err)
	}

	conn, _, err := s.cfg.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		s.setState(StateErrored)
		return false, fmt.Errorf("ws: dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(s.cfg.Subscribe); err != nil {
		s.setState(StateErrored)
		return false, fmt.Errorf("ws: subscribe: %w", err)
	}
	s.setState(StateSubscribed)
	log.Printf("[ws] connected to %s (attempt %d), subscription sent", endpoint, attempt)

	done := make(chan struct{})
	defer close(done)

	lv := &liveness{}
	lv.idleSince.Store(time.Now().UnixNano())
	conn.SetPongHandler(func(string) error {
		lv.lastPong.Store(time.Now().UnixNano())
		return nil
	})
	go s.heartbeat(conn, done, lv)

	// Context watcher: a close frame unblocks the read loop on shutdown.
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateClosed)
				return streamed, nil
			}
			if lv.failed.Load() {
				err = ErrHeartbeatTimeout
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.setState(StateClosed)
			} else {
				s.setState(StateErrored)
			}
			return streamed, fmt.Errorf("ws: read %s: %w", endpoint, err)
		}

		if !streamed {
			streamed = true
			s.setState(StateStreaming)
		}
		lv.busy.Store(true)
		s.handler.HandleMessage(ctx, raw)
		lv.idleSince.Store(time.Now().UnixNano())
		lv.busy.Store(false)
	}
}

// liveness is shared between the read loop and the heartbeat. Pongs are only
// processed while the loop is reading, so the pong deadline does not run
// while the handler is busy with a frame.
type liveness struct {
	lastPong  atomic.Int64 // unix nanos
	idleSince atomic.Int64 // unix nanos, when the handler last returned
	busy      atomic.Bool
	failed    atomic.Bool
}

func (l *liveness) answered(sent time.Time) bool {
	return l.lastPong.Load() >= sent.UnixNano()
}

// pongWait returns how much longer to wait for the pong to a ping sent at
// sent. A result <= 0 means the pong is overdue.
func (l *liveness) pongWait(sent, now time.Time, timeout time.Duration) time.Duration {
	if l.busy.Load() {
		return timeout
	}
	start := sent
	if idle := time.Unix(0, l.idleSince.Load()); idle.After(start) {
		start = idle
	}
	return timeout - now.Sub(start)
}

// heartbeat pings every interval and closes the connection when the matching
// pong does not arrive within the timeout of the read loop being free to
// process it.
func (s *Supervisor) heartbeat(conn *websocket.Conn, done <-chan struct{}, lv *liveness) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}

		sent := time.Now()
		if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), sent.Add(s.cfg.HeartbeatTimeout)); err != nil {
			log.Printf("[ws] ping write error: %v", err)
			conn.Close()
			return
		}

		wait := s.cfg.HeartbeatTimeout
		for {
			if !sleep(done, wait) {
				return
			}
			if lv.answered(sent) {
				break
			}
			if wait = lv.pongWait(sent, time.Now(), s.cfg.HeartbeatTimeout); wait <= 0 {
				log.Printf("[ws] no pong within %s, closing connection", s.cfg.HeartbeatTimeout)
				lv.failed.Store(true)
				conn.Close()
				return
			}
		}
	}
}

// sleep waits for d and reports false if done closed first.
func sleep(done <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-done:
		return false
	case <-t.C:
		return true
	}
}
