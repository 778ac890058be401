package game

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tickrace/price-engine/internal/animation"
	"github.com/tickrace/price-engine/internal/metrics"
	"github.com/tickrace/price-engine/internal/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64

	// DefaultFullCurveEvery is how often the whole curve is resent; frames in
	// between only carry the newest point.
	DefaultFullCurveEvery = 2 * time.Second
)

// Message types sent to WebSocket clients.
const (
	MsgCurve        = "curve"
	MsgPoint        = "point"
	MsgPrecision    = "precision"
	MsgWagerPlaced  = "wager_placed"
	MsgWagerSettled = "wager_settled"
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type      string              `json:"type"`
	Market    string              `json:"market,omitempty"`
	Points    []model.PriceSample `json:"points,omitempty"`
	Point     *model.PriceSample  `json:"point,omitempty"`
	Precision *int                `json:"precision,omitempty"`
	Wager     *model.Wager        `json:"wager,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// WSHub fans frames and events out to connected chart clients. It is the
// engine's render surface: with no clients connected it reports
// animation.ErrSurfaceUnavailable.
type WSHub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	count      atomic.Int64
	logger     *slog.Logger

	fullEvery time.Duration
	needFull  atomic.Bool
	lastFull  time.Time // guarded by curveMu
	curveMu   sync.Mutex
	curveMkt  string
	precision atomic.Int64 // last sent, -1 before the first
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &WSHub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
		fullEvery:  DefaultFullCurveEvery,
	}
	h.precision.Store(-1)
	return h
}

// Run starts the hub's main event loop until ctx is cancelled.
func (h *WSHub) Run(ctx context.Context) error {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.count.Store(0)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return nil

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := int64(len(h.clients))
			h.mu.Unlock()
			h.needFull.Store(true)
			h.count.Store(n)
			metrics.WebSocketClients.Set(float64(n))
			h.logger.Info("ws client connected", "total", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := int64(len(h.clients))
			h.mu.Unlock()
			h.count.Store(n)
			metrics.WebSocketClients.Set(float64(n))
			h.logger.Info("ws client disconnected", "total", n)

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client; it will catch up on the next full curve.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	return int(h.count.Load())
}

// Broadcast queues msg for every client. It never blocks the caller.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("ws message encode failed", "type", msg.Type, "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if buffer full to avoid blocking the frame loop.
	}
}

// SetCurve sends the full curve on a new market, to newly joined clients and
// every fullEvery; otherwise only the newest point.
func (h *WSHub) SetCurve(market string, points []model.PriceSample) error {
	if h.Clients() == 0 {
		return animation.ErrSurfaceUnavailable
	}
	if len(points) == 0 {
		return nil
	}

	h.curveMu.Lock()
	now := time.Now()
	full := h.needFull.Swap(false) || market != h.curveMkt || now.Sub(h.lastFull) >= h.fullEvery
	if market != h.curveMkt {
		// The previous market's precision does not apply to this one.
		h.precision.Store(-1)
	}
	if full {
		h.curveMkt = market
		h.lastFull = now
	}
	h.curveMu.Unlock()

	if full {
		msg := WSMessage{Type: MsgCurve, Market: market, Points: points}
		if p := int(h.precision.Load()); p >= 0 {
			msg.Precision = &p
		}
		h.Broadcast(msg)
		return nil
	}
	last := points[len(points)-1]
	h.Broadcast(WSMessage{Type: MsgPoint, Market: market, Point: &last})
	return nil
}

// SetPrecision tells clients how many decimals to show.
func (h *WSHub) SetPrecision(market string, precision int) error {
	if h.Clients() == 0 {
		return animation.ErrSurfaceUnavailable
	}
	h.precision.Store(int64(precision))
	h.Broadcast(WSMessage{Type: MsgPrecision, Market: market, Precision: &precision})
	return nil
}

// WagerPlaced broadcasts a new wager so clients can draw its entry line.
func (h *WSHub) WagerPlaced(w model.Wager) {
	h.Broadcast(WSMessage{Type: MsgWagerPlaced, Market: w.Market, Wager: &w})
}

// WagerSettled broadcasts a settled wager for the outcome overlay.
func (h *WSHub) WagerSettled(w model.Wager) {
	h.Broadcast(WSMessage{Type: MsgWagerSettled, Market: w.Market, Wager: &w})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Origin policy is enforced by the CORS layer.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client input and detects disconnects.
func (h *WSHub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws unexpected close", "err", err)
			}
			return
		}
	}
}

// writePump is the only writer on c.conn.
func (h *WSHub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
