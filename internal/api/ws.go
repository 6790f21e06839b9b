package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/aura-live/publisher/internal/events"
	"github.com/aura-live/publisher/pkg/response"
)

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string       `json:"event"`
	Data  events.Event `json:"data"`
}

// EventsWS serves GET /runs/:id/ws: the same run events as Events, over a
// WebSocket. checkOrigin gates the handshake.
func (h *Handler) EventsWS(checkOrigin func(r *http.Request) bool) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     checkOrigin,
	}
	return func(c *gin.Context) {
		if h.events == nil {
			response.ServiceUnavailable(c, "run events are disabled")
			return
		}
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid run id")
			return
		}

		// A hijacked connection does not cancel the request context, so the
		// read side cancels ctx when the client goes away.
		ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
		defer cancel()
		ch, err := h.events.Subscribe(ctx, id.String())
		if err != nil {
			h.logger.Warn("subscribe failed", zap.Error(err), zap.String("run_id", id.String()))
			response.ServiceUnavailable(c, "event stream unavailable")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		defer conn.Close()

		go readPump(conn, cancel)
		writePump(ctx, conn, ch)
	}
}

// readPump discards client frames and keeps the read deadline alive on pongs.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func writePump(ctx context.Context, conn *websocket.Conn, ch <-chan events.Event) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	closeNormal := func() {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				closeNormal()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(WSMessage{Event: e.Kind, Data: e}); err != nil {
				return
			}
			if e.Kind == events.KindFinished {
				closeNormal()
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
