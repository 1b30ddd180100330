package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LoveACE-Team/LoveACE/internal/api/middleware"
	"github.com/LoveACE-Team/LoveACE/internal/evaluation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer.
		return true
	},
}

// Event is the WebSocket message envelope.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type updatesClient struct {
	conn *websocket.Conn
	send chan []byte
}

// UpdatesHub streams evaluation task snapshots to connected clients. It
// implements evaluation.Emitter; each client only sees its own principal's
// task. Slow clients drop frames rather than stall the task loop.
type UpdatesHub struct {
	status func(ctx context.Context, principal string) (evaluation.Snapshot, error)
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*updatesClient]struct{}
}

func NewUpdatesHub(logger *slog.Logger) *UpdatesHub {
	return &UpdatesHub{
		logger:  logger,
		clients: make(map[string]map[*updatesClient]struct{}),
	}
}

// SetStatus installs the snapshot lookup used to prime new connections. The
// hub is built before the controller, which in turn emits into the hub, so
// the lookup arrives late.
func (h *UpdatesHub) SetStatus(status func(ctx context.Context, principal string) (evaluation.Snapshot, error)) {
	h.status = status
}

// Emit broadcasts a task snapshot to the principal's connected clients.
func (h *UpdatesHub) Emit(snap evaluation.Snapshot) {
	data, err := json.Marshal(Event{Type: "task", Data: snap})
	if err != nil {
		h.logger.Error("marshal task snapshot", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[snap.Principal] {
		select {
		case client.send <- data:
		default:
		}
	}
}

// Handle upgrades the connection and streams snapshots until the client
// disconnects. The current snapshot, if any, is pushed immediately.
// GET /v1/updates
func (h *UpdatesHub) Handle(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "principal", userID, "error", err)
		return
	}

	client := &updatesClient{conn: conn, send: make(chan []byte, 16)}
	h.register(userID, client)
	h.logger.Info("updates client connected", "principal", userID)

	go client.writePump()

	if h.status != nil {
		if snap, err := h.status(c.Request.Context(), userID); err == nil {
			if data, err := json.Marshal(Event{Type: "task", Data: snap}); err == nil {
				select {
				case client.send <- data:
				default:
				}
			}
		} else if !errors.Is(err, evaluation.ErrTaskNotFound) {
			h.logger.Warn("updates initial snapshot", "principal", userID, "error", err)
		}
	}

	// Inbound traffic is ignored; the read loop only detects disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("updates read", "principal", userID, "error", err)
			}
			break
		}
	}

	h.unregister(userID, client)
	h.logger.Info("updates client disconnected", "principal", userID)
}

func (c *updatesClient) writePump() {
	defer c.conn.Close()
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *UpdatesHub) register(principal string, client *updatesClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[principal] == nil {
		h.clients[principal] = make(map[*updatesClient]struct{})
	}
	h.clients[principal][client] = struct{}{}
}

func (h *UpdatesHub) unregister(principal string, client *updatesClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients[principal], client)
	if len(h.clients[principal]) == 0 {
		delete(h.clients, principal)
	}
	close(client.send)
}
