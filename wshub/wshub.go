// Package wshub broadcasts heart-rate readings to websocket clients, such
// as a bedside display in a browser.
package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cgxeiji/hrmon"
)

const writeWait = 200 * time.Millisecond

// Hub is an http.Handler upgrading every request to a websocket and an
// hrmon.Sink sending each reading to all connected clients.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger

	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New returns a hub without clients.
func New(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:   log,
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP implements http.Handler. It returns when the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("could not upgrade", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	h.add(conn)
	h.log.Info("client connected", zap.String("remote", r.RemoteAddr))
	defer func() {
		h.remove(conn)
		h.log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
	}()

	// Clients only listen; reading detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Publish implements hrmon.Sink. Clients that cannot take the frame
// within the write deadline are disconnected.
func (h *Hub) Publish(ctx context.Context, r hrmon.Reading) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("wshub: could not encode reading: %w", err)
	}
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range h.snapshot() {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, b); err != nil {
			h.log.Debug("dropping client", zap.String("remote", c.RemoteAddr().String()), zap.Error(err))
			h.remove(c)
		}
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() error {
	for _, c := range h.snapshot() {
		h.remove(c)
	}
	return nil
}

func (h *Hub) add(c *websocket.Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		_ = c.Close()
	}
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	return clients
}
