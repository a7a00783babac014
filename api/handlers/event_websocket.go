package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/arkui-x/request-task/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	clientBuffer = 64
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// EventMessage is one lifecycle event as sent to websocket clients
type EventMessage struct {
	Tid   int64            `json:"tid"`
	Event domain.EventType `json:"event"`
	Info  json.RawMessage  `json:"info"`
}

// EventHub broadcasts task lifecycle events to websocket clients. It is a
// domain.CallbackSink.
type EventHub struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool
}

type eventClient struct {
	tid  int64 // 0 follows every task
	send chan []byte
	once sync.Once
}

func (ec *eventClient) close() {
	ec.once.Do(func() { close(ec.send) })
}

// NewEventHub creates a new event hub
func NewEventHub(log *zap.Logger) *EventHub {
	return &EventHub{
		logger:  log,
		clients: make(map[*eventClient]struct{}),
	}
}

// OnRequestCallback implements domain.CallbackSink. Clients that cannot
// keep up lose events rather than stall the caller.
func (h *EventHub) OnRequestCallback(taskID int64, event domain.EventType, info string) {
	data, err := json.Marshal(EventMessage{Tid: taskID, Event: event, Info: json.RawMessage(info)})
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Int64("tid", taskID), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.tid != 0 && client.tid != taskID {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.logger.Warn("Dropped event for slow client",
				zap.Int64("tid", taskID),
				zap.String("event", string(event)))
		}
	}
}

// Clients returns the number of connected clients
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
}

func (h *EventHub) register(client *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[client] = struct{}{}
	return true
}

func (h *EventHub) unregister(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
	}
}

// HandleWebSocket handles GET /api/v1/events. The optional tid query
// parameter restricts the stream to one task.
func (h *EventHub) HandleWebSocket(c *gin.Context) {
	var tid int64
	if s := c.Query("tid"); s != "" {
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
			return
		}
		tid = parsed
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}
	defer conn.Close()

	client := &eventClient{tid: tid, send: make(chan []byte, clientBuffer)}
	if !h.register(client) {
		return
	}
	defer h.unregister(client)

	h.logger.Info("WebSocket client connected",
		zap.Int64("tid", tid),
		zap.String("remote_addr", c.Request.RemoteAddr))

	// Read messages from client (for close and pong)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Warn("Failed to send event", zap.Error(err))
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}
