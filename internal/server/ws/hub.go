// Package ws pushes live bet events to WebSocket clients. The hub
// subscribes once to the bus channel and fans every payload out to the
// connected clients whose bet filter matches.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Config names the bus channel and replay stream.
type Config struct {
	Channel string
	Stream  string
}

// Hub bridges a domain.SignalBus channel to WebSocket clients.
type Hub struct {
	bus    domain.SignalBus
	cfg    Config
	logger *slog.Logger

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub creates a Hub; Run must be started before clients connect.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "ws_hub")),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]struct{}),
	}
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		close(h.done)
		return err
	}
	h.logger.InfoContext(ctx, "ws: subscribed", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.DebugContext(ctx, "ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.DebugContext(ctx, "ws: client disconnected", slog.Int("total_clients", n))

		case data, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "ws: bus subscription closed")
				msgs = nil
				continue
			}
			h.fanOut(ctx, data)
		}
	}
}

func (h *Hub) fanOut(ctx context.Context, data []byte) {
	betID, ok := eventBetID(data)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if ok && !c.wants(betID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.logger.WarnContext(ctx, "ws: dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request. Query parameters: bet (repeatable) limits
// the feed to those bets; after=<stream id> replays stored events first.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	filter := make(map[uint64]bool)
	for _, v := range r.URL.Query()["bet"] {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid bet id"}`, http.StatusBadRequest)
			return
		}
		filter[id] = true
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBufferSize), bets: filter}
	if after := r.URL.Query().Get("after"); after != "" && h.cfg.Stream != "" {
		h.replay(r.Context(), c, after)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

// replay queues stored events after lastID; it is bounded by the send
// buffer.
func (h *Hub) replay(ctx context.Context, c *client, lastID string) {
	msgs, err := h.bus.StreamRead(ctx, h.cfg.Stream, lastID, min(replayLimit, sendBufferSize))
	if err != nil {
		h.logger.WarnContext(ctx, "ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		if id, ok := eventBetID(m.Payload); ok && !c.wants(id) {
			continue
		}
		select {
		case c.send <- m.Payload:
		default:
			return
		}
	}
}

// eventBetID extracts bet_id from an event payload.
func eventBetID(data []byte) (uint64, bool) {
	var ev struct {
		BetID *uint64 `json:"bet_id"`
	}
	if err := json.Unmarshal(data, &ev); err != nil || ev.BetID == nil {
		return 0, false
	}
	return *ev.BetID, true
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	bets map[uint64]bool // empty means every bet
}

// filterMsg changes the bet filter: {"action":"subscribe","bets":[1,2]}.
type filterMsg struct {
	Action string   `json:"action"`
	Bets   []uint64 `json:"bets"`
}

func (c *client) wants(betID uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.bets) == 0 || c.bets[betID]
}

func (c *client) apply(msg filterMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, id := range msg.Bets {
			c.bets[id] = true
		}
	case "unsubscribe":
		for _, id := range msg.Bets {
			delete(c.bets, id)
		}
	case "all":
		clear(c.bets)
	}
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var msg filterMsg
		if json.Unmarshal(message, &msg) == nil && msg.Action != "" {
			c.apply(msg)
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
