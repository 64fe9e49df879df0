package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/pagewright/pagewright/internal/interfaces"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Local tooling connects from arbitrary origins
	},
}

// broadcastEvents is the set of bus events forwarded to WebSocket clients
var broadcastEvents = []interfaces.EventType{
	interfaces.EventJobStarted,
	interfaces.EventJobProgress,
	interfaces.EventJobCompleted,
	interfaces.EventJobFailed,
	interfaces.EventJobCancelled,
	interfaces.EventWorkerOnline,
	interfaces.EventWorkerDead,
}

// WebSocketHandler streams job and worker events to connected clients.
// Each client gets its own write mutex; gorilla connections do not allow
// concurrent writers.
type WebSocketHandler struct {
	logger arbor.ILogger

	mu          sync.RWMutex
	clients     map[*websocket.Conn]bool
	clientMutex map[*websocket.Conn]*sync.Mutex

	progressThrottle *rate.Limiter
}

// NewWebSocketHandler creates the handler and subscribes it to the event bus
func NewWebSocketHandler(eventService interfaces.EventService, logger arbor.ILogger) (*WebSocketHandler, error) {
	h := &WebSocketHandler{
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		clientMutex: make(map[*websocket.Conn]*sync.Mutex),

		// Progress events can arrive per-action; cap the fan-out rate
		progressThrottle: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}

	for _, eventType := range broadcastEvents {
		if err := eventService.Subscribe(eventType, h.handleEvent); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// ServeWS upgrades the connection and registers the client
// GET /ws
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	count := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().Int("clients", count).Msg("WebSocket client connected")
	go h.readLoop(conn)
}

// readLoop drains client frames until the connection closes. Clients only
// send pings and close frames; payloads are ignored.
func (h *WebSocketHandler) readLoop(conn *websocket.Conn) {
	defer h.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *WebSocketHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.clients, conn)
	delete(h.clientMutex, conn)
	count := len(h.clients)
	h.mu.Unlock()

	conn.Close()
	h.logger.Debug().Int("clients", count).Msg("WebSocket client disconnected")
}

// handleEvent forwards a bus event to every connected client
func (h *WebSocketHandler) handleEvent(ctx context.Context, event interfaces.Event) error {
	if event.Type == interfaces.EventJobProgress && !h.progressThrottle.Allow() {
		return nil
	}

	message := map[string]interface{}{
		"type":      string(event.Type),
		"payload":   event.Payload,
		"timestamp": time.Now().UTC(),
	}

	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		h.writeTo(conn, message)
	}
	return nil
}

func (h *WebSocketHandler) writeTo(conn *websocket.Conn, message interface{}) {
	h.mu.RLock()
	mutex, ok := h.clientMutex[conn]
	h.mu.RUnlock()
	if !ok {
		return
	}

	mutex.Lock()
	defer mutex.Unlock()

	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(message); err != nil {
		h.logger.Debug().Err(err).Msg("WebSocket write failed, dropping client")
		go h.removeClient(conn)
	}
}

// ClientCount reports the number of connected clients
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *WebSocketHandler) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		conns = append(conns, conn)
	}
	h.clients = make(map[*websocket.Conn]bool)
	h.clientMutex = make(map[*websocket.Conn]*sync.Mutex)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
