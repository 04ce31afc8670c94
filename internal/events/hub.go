package events

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/repassist-platform/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// Hub bridges the broadcaster to WebSocket connections so the rep UI can
// watch a run progress in real time.
type Hub struct {
	broadcaster *Broadcaster
	upgrader    websocket.Upgrader
	logger      *logging.Logger
}

func NewHub(broadcaster *Broadcaster, logger *logging.Logger) *Hub {
	if broadcaster == nil {
		panic("events: broadcaster cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Hub{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Auth happens upstream; the rep UI is same-origin in production
			// and a dev origin locally.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleWebSocket upgrades the connection and streams the conversation's
// events until either side goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		http.Error(w, "missing conversation_id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := h.broadcaster.Subscribe(conversationID)
	done := make(chan struct{})

	go h.readLoop(conn, done)
	h.writeLoop(conn, sub, done)

	h.broadcaster.Unsubscribe(sub)
	_ = conn.Close()
}

// readLoop drains client frames so pongs and close frames are processed.
func (h *Hub) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("websocket write failed, closing",
					"conversation_id", sub.conversationID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
