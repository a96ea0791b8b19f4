// Package notify streams a user's progression events to their open
// websocket connections.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/p-n-ai/pai-progress/internal/events"
)

const (
	outboundBuffer = 32
	writeTimeout   = 5 * time.Second
)

type client struct {
	userID   string
	outbound chan events.Event
}

// Hub fans events out to connected clients. It implements events.Publisher.
type Hub struct {
	clients map[string]map[*client]struct{}
	mu      sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
	}
}

// Publish queues the event for every connection of its user. Slow
// connections drop events rather than block the publisher.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[event.UserID] {
		select {
		case c.outbound <- event:
		default:
			slog.Warn("dropping event for slow websocket client", "user_id", event.UserID, "type", event.Type)
		}
	}
	return nil
}

// Connections returns the number of open connections of a user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Serve upgrades the request and streams the user's events until either
// side closes the connection.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("websocket accept failed", "user_id", userID, "error", err)
		return
	}
	defer conn.CloseNow()

	c := h.register(userID)
	defer h.unregister(c)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.outbound:
			if err := write(ctx, conn, event); err != nil {
				if !errors.Is(err, context.Canceled) {
					slog.Debug("websocket write failed", "user_id", userID, "error", err)
				}
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, event events.Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, event)
}

func (h *Hub) register(userID string) *client {
	c := &client{userID: userID, outbound: make(chan events.Event, outboundBuffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*client]struct{})
	}
	h.clients[userID][c] = struct{}{}
	slog.Debug("websocket client connected", "user_id", userID)
	return c
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[c.userID], c)
	if len(h.clients[c.userID]) == 0 {
		delete(h.clients, c.userID)
	}
	slog.Debug("websocket client disconnected", "user_id", c.userID)
}
