package changefeed

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
	clientBuffer = 64
)

// StreamHandler pushes the caller's changes over a websocket. Slow clients
// lose changes rather than stall the feed; they are expected to reload the
// affected documents on reconnect.
type StreamHandler struct {
	feed     *Feed
	upgrader websocket.Upgrader
}

func NewStreamHandler(feed *Feed, allowOrigin func(r *http.Request) bool) *StreamHandler {
	if allowOrigin == nil {
		allowOrigin = func(r *http.Request) bool { return true }
	}
	return &StreamHandler{
		feed: feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     allowOrigin,
		},
	}
}

func (h *StreamHandler) Stream(c *gin.Context) {
	userID := c.GetUint64("user_id")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.feed.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	out := make(chan Change, clientBuffer)
	unsubscribe := h.feed.Subscribe(func(change Change) {
		if change.UserID != userID {
			return
		}
		select {
		case out <- change:
		default:
			h.feed.log.Debug().Uint64("user_id", userID).Msg("websocket client too slow, dropping change")
		}
	})
	defer unsubscribe()

	// reader: only needed to process control frames and notice disconnects
	closed := make(chan struct{})
	go func() {
		defer close(closed)
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
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case change := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(change); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
