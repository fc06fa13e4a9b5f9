// cmd/candleserver: staging candlestick feed.
// Speaks the same public WebSocket protocol as the exchange for the
// candlestick channel, so gapsignal can run end to end without a live feed:
//
//	-> {"type":"subscribe","payload":{"channels":[{"name":"candlestick_5m","symbols":["BTCUSD"]}]}}
//	<- {"type":"subscriptions","channels":[...]}
//	<- {"type":"candlestick_5m","symbol":"BTCUSD","candle_start_time":...,"timestamp":...,"open":"...",...}
//
// Snapshots of the forming candle are broadcast every interval; a new candle
// starts whenever the wall clock crosses a period boundary.
//
// Config (env vars):
//
//	CANDLE_SERVER_ADDR  listen address (default: ":9001")
//	CANDLE_SYMBOL       symbol to simulate (default: "BTCUSD")
//	CANDLE_START_PRICE  starting price (default: "65000")
//	CANDLE_PERIOD       candle length, shorten to see rollovers quickly (default: "5m")
//	TICK_INTERVAL_MS    broadcast interval milliseconds (default: "1000")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"gapsignal/internal/marketdata/delta"
)

// candleMsg is one candlestick_5m snapshot on the wire.
type candleMsg struct {
	Type            string          `json:"type"`
	Symbol          string          `json:"symbol"`
	CandleStartTime int64           `json:"candle_start_time"` // µs
	Timestamp       int64           `json:"timestamp"`         // µs
	Open            decimal.Decimal `json:"open"`
	High            decimal.Decimal `json:"high"`
	Low             decimal.Decimal `json:"low"`
	Close           decimal.Decimal `json:"close"`
	Volume          decimal.Decimal `json:"volume"`
}

type subscriptionsMsg struct {
	Type     string              `json:"type"`
	Channels []delta.ChannelSpec `json:"channels"`
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop snapshot
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[candleserver] upgrade error: %v", err)
			return
		}
		defer conn.Close()
		log.Printf("[candleserver] client connected: %s", r.RemoteAddr)

		// Nothing is streamed until the client subscribes.
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		var sub delta.SubscribeRequest
		if err := conn.ReadJSON(&sub); err != nil || sub.Type != delta.TypeSubscribe {
			log.Printf("[candleserver] %s: expected subscribe (%v)", r.RemoteAddr, err)
			return
		}
		conn.SetReadDeadline(time.Time{})
		if err := conn.WriteJSON(subscriptionsMsg{Type: delta.TypeSubscriptions, Channels: sub.Payload.Channels}); err != nil {
			return
		}

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			log.Printf("[candleserver] client disconnected: %s", r.RemoteAddr)
		}()

		// Read pump: keeps control frames (ping -> pong) flowing and notices
		// the client going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		// Write pump: sends snapshots to this client.
		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Candle generator ────────────────────────────────────────────────────────

// generator evolves one forming candle with a small random walk.
type generator struct {
	symbol string
	period time.Duration
	rng    *rand.Rand

	cur candleMsg
}

func newGenerator(symbol string, start decimal.Decimal, period time.Duration, seed int64) *generator {
	g := &generator{symbol: symbol, period: period, rng: rand.New(rand.NewSource(seed))}
	g.cur.Close = start
	return g
}

// next returns the snapshot for time now, opening a new candle at the prior
// close when now has crossed into the next period.
func (g *generator) next(now time.Time) candleMsg {
	start := now.Truncate(g.period).UnixMicro()
	price := g.walk(g.cur.Close)

	if start != g.cur.CandleStartTime {
		open := g.cur.Close
		g.cur = candleMsg{
			Type:            delta.TypeCandlestick5m,
			Symbol:          g.symbol,
			CandleStartTime: start,
			Open:            open,
			High:            open,
			Low:             open,
			Volume:          decimal.Zero,
		}
	}

	g.cur.Timestamp = now.UnixMicro()
	g.cur.Close = price
	g.cur.High = decimal.Max(g.cur.High, price)
	g.cur.Low = decimal.Min(g.cur.Low, price)
	g.cur.Volume = g.cur.Volume.Add(decimal.NewFromInt(int64(g.rng.Intn(100) + 1)))
	return g.cur
}

// walk applies a ±0.1% step rounded to half a unit.
func (g *generator) walk(price decimal.Decimal) decimal.Decimal {
	pct := decimal.NewFromFloat(g.rng.Float64()*0.2 - 0.1).Div(decimal.NewFromInt(100))
	next := price.Add(price.Mul(pct)).Mul(decimal.NewFromInt(2)).Round(0).Div(decimal.NewFromInt(2))
	if next.LessThan(decimal.NewFromInt(1)) {
		next = decimal.NewFromInt(1)
	}
	return next
}

func runGenerator(h *hub, g *generator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for now := range ticker.C {
		b, err := json.Marshal(g.next(now.UTC()))
		if err != nil {
			continue
		}
		h.broadcast(b)
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[candleserver] starting staging candle feed...")

	addr := envOrDefault("CANDLE_SERVER_ADDR", ":9001")
	symbol := envOrDefault("CANDLE_SYMBOL", "BTCUSD")
	intervalMs := envIntOrDefault("TICK_INTERVAL_MS", 1000)

	startPrice, err := decimal.NewFromString(envOrDefault("CANDLE_START_PRICE", "65000"))
	if err != nil {
		log.Fatalf("[candleserver] invalid CANDLE_START_PRICE: %v", err)
	}
	period, err := time.ParseDuration(envOrDefault("CANDLE_PERIOD", "5m"))
	if err != nil || period <= 0 {
		log.Fatalf("[candleserver] invalid CANDLE_PERIOD: %v", err)
	}
	log.Printf("[candleserver] symbol=%s start=%s period=%s interval=%dms", symbol, startPrice, period, intervalMs)

	h := newHub()
	go runGenerator(h, newGenerator(symbol, startPrice, period, time.Now().UnixNano()), time.Duration(intervalMs)*time.Millisecond)

	http.HandleFunc("/", wsHandler(h))
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"candleserver"}`)
	})

	log.Printf("[candleserver] ✅ listening on %s  (WebSocket: ws://localhost%s/)", addr, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[candleserver] server error: %v", err)
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
