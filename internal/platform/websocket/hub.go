// Package websocket streams queue events to connected dashboards. Each
// connection belongs to one tenant and only ever sees that tenant's events.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telehealth/rxdesk/internal/platform/auth"
	"github.com/telehealth/rxdesk/internal/platform/db"
	"github.com/telehealth/rxdesk/internal/platform/webhook"
)

const (
	sendBuffer   = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxReadBytes = 4096
)

// ClientMessage is what a dashboard may send after connecting.
type ClientMessage struct {
	Action string   `json:"action"`
	Events []string `json:"events"`
}

// Client is one connected dashboard. Events holds subscription patterns in
// the webhook syntax; an empty list receives everything.
type Client struct {
	ID       string
	TenantID string
	UserID   string
	Send     chan []byte

	mu     sync.Mutex
	events []string
}

func NewClient(tenantID, userID string, events []string) *Client {
	return &Client{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		UserID:   userID,
		Send:     make(chan []byte, sendBuffer),
		events:   events,
	}
}

func (c *Client) wants(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return webhook.Subscribed(c.events, eventType)
}

// Events returns a copy of the client's subscription patterns.
func (c *Client) Events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

// Hub tracks connected clients per tenant. It implements webhook.Publisher
// so the queue service can fan events out to it next to the dispatcher.
type Hub struct {
	mu      sync.RWMutex
	tenants map[string]map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		tenants: make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.tenants[c.TenantID]
	if set == nil {
		set = make(map[*Client]struct{})
		h.tenants[c.TenantID] = set
	}
	set[c] = struct{}{}
}

// Unregister removes c and closes its Send channel. Calling it twice is safe.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.tenants[c.TenantID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.tenants, c.TenantID)
	}
	close(c.Send)
}

// ProcessMessage applies a subscribe or unsubscribe request. Subscribing
// adds patterns; unsubscribing removes them.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		c.events = append(c.events, msg.Events...)
	case "unsubscribe":
		drop := make(map[string]bool, len(msg.Events))
		for _, e := range msg.Events {
			drop[e] = true
		}
		kept := c.events[:0]
		for _, e := range c.events {
			if !drop[e] {
				kept = append(kept, e)
			}
		}
		c.events = kept
	}
}

// Publish sends e to every client of e.TenantID that subscribes to its type.
// Slow clients whose buffer is full miss the event.
func (h *Hub) Publish(_ context.Context, e webhook.Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.tenants[e.TenantID] {
		if !c.wants(e.Type) {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client_id", c.ID).Str("event", e.Type).Msg("live feed client too slow, event dropped")
		}
	}
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.tenants {
		n += len(set)
	}
	return n
}

func (h *Hub) TenantCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.tenants[tenantID])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The route sits behind the auth and tenant middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades GET /rx-queue/stream to a websocket.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/rx-queue", auth.RequireRole(auth.RoleProvider, auth.RolePharmacist))
	g.GET("/stream", h.Connect)
}

// Connect registers the caller for its tenant's events. The optional events
// query parameter takes a comma-separated pattern list.
func (h *Handler) Connect(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := db.TenantFromContext(ctx)
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant is required")
	}

	var events []string
	if raw := c.QueryParam("events"); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				events = append(events, p)
			}
		}
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(tenantID, auth.UserIDFromContext(ctx), events)
	h.hub.Register(client)
	h.hub.logger.Debug().Str("client_id", client.ID).Str("tenant", tenantID).Msg("live feed connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxReadBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
