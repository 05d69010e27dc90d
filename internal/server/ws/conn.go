// Package ws carries auction traffic over gorilla/websocket. Each connection
// is a broadcast.Subscriber; inbound JSON frames are dispatched to the
// auction engine.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/auctiond/internal/broadcast"
	"github.com/alanyoungcy/auctiond/internal/domain"
	"github.com/alanyoungcy/auctiond/internal/server/middleware"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Inbound frame types.
const (
	TypeJoinAuction  = "joinAuction"
	TypePlaceBid     = "placeBid"
	TypeLeaveAuction = "leaveAuction"
)

const (
	msgInvalidFrame = "Invalid message"
	msgUnknownType  = "Unknown event type"
)

// Engine is the subset of the auction engine driven by connections.
type Engine interface {
	Join(ctx context.Context, sub broadcast.Subscriber, who domain.Identity, auctionID string) error
	PlaceBid(ctx context.Context, sub broadcast.Subscriber, who domain.Identity, auctionID string, amount decimal.Decimal) error
	Leave(sub broadcast.Subscriber, auctionID string)
	Disconnect(sub broadcast.Subscriber)
}

// inbound is a client frame. Amount accepts a JSON number or string.
type inbound struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auctionId"`
	Amount    decimal.Decimal `json:"amount"`
}

// Handler upgrades authenticated requests and serves their connections.
type Handler struct {
	engine   Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

// NewHandler creates a Handler. allowedOrigins restricts the handshake
// Origin header; empty allows all.
func NewHandler(engine Engine, allowedOrigins []string, logger *slog.Logger) *Handler {
	return &Handler{
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
		},
		logger: logger.With(slog.String("component", "ws")),
		conns:  make(map[*Conn]struct{}),
	}
}

// HandleWS upgrades the request and blocks until the connection closes. The
// caller's identity must already be on the request context.
// GET /ws
func (h *Handler) HandleWS(w http.ResponseWriter, r *http.Request) {
	who, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, `{"error":"missing authentication token"}`, http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &Conn{
		id:     uuid.NewString(),
		who:    who,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: h.logger,
	}
	h.track(c)
	defer h.untrack(c)

	h.logger.Info("client connected",
		slog.String("conn_id", c.id),
		slog.String("user_id", who.UserID),
		slog.Int("total_clients", h.Count()),
	)

	go c.writePump()
	c.readPump(r.Context(), h.engine)

	h.engine.Disconnect(c)
	h.logger.Info("client disconnected",
		slog.String("conn_id", c.id),
		slog.String("user_id", who.UserID),
	)
}

// Count returns the number of open connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every open connection. Hijacked connections are not
// tracked by http.Server.Shutdown, so the server calls this on shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Handler) track(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(c *Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

// Conn is one observer connection.
type Conn struct {
	id     string
	who    domain.Identity
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// ID implements broadcast.Subscriber.
func (c *Conn) ID() string { return c.id }

// Deliver implements broadcast.Subscriber. It never blocks; events are
// dropped when the send buffer is full or the connection is closed.
func (c *Conn) Deliver(ev domain.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("encode event failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.ws.Close()
	})
}

func (c *Conn) readPump(ctx context.Context, engine Engine) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected close error",
					slog.String("conn_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}
		c.dispatch(ctx, engine, message)
	}
}

// dispatch handles one frame. The engine reports rule violations to the
// sender itself, so returned errors are only logged.
func (c *Conn) dispatch(ctx context.Context, engine Engine, message []byte) {
	var msg inbound
	if err := json.Unmarshal(message, &msg); err != nil {
		c.replyError(msgInvalidFrame, "")
		return
	}

	var err error
	switch msg.Type {
	case TypeJoinAuction:
		err = engine.Join(ctx, c, c.who, msg.AuctionID)
	case TypePlaceBid:
		err = engine.PlaceBid(ctx, c, c.who, msg.AuctionID, msg.Amount)
	case TypeLeaveAuction:
		engine.Leave(c, msg.AuctionID)
	default:
		c.replyError(msgUnknownType, msg.AuctionID)
		return
	}
	if err != nil {
		c.logger.Debug("request rejected",
			slog.String("conn_id", c.id),
			slog.String("type", msg.Type),
			slog.String("auction_id", msg.AuctionID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Conn) replyError(message, auctionID string) {
	ev, err := domain.NewEvent(domain.EventError, auctionID, domain.ErrorEvent{Message: message, AuctionID: auctionID})
	if err != nil {
		return
	}
	c.Deliver(ev)
}

// writePump pumps queued events to the socket as text frames and sends
// periodic pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
