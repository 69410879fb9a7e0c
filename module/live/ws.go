package live

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"LiveHub/logger"
	"LiveHub/middleware"
	"LiveHub/service/hub"
	"LiveHub/tools/errs"
	"LiveHub/tools/safe"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleWS upgrades the request and parks the connection in the hub until the
// peer goes away. Inbound frames are drained and dropped: this gateway only
// pushes, clients talk back over HTTP.
func (h *Handlers) HandleWS(c *gin.Context) {
	id := middleware.Identity(c)
	if id == nil {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail("session_id is required"))
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[live] upgrade failed user=%s: %v", id.UserID, err)
		return
	}

	conn := hub.NewConn(id.UserID, sessionID, hub.NewWSSender(ws))
	if err := h.Hub.Register(c.Request.Context(), conn); err != nil {
		logger.Warnf("[live] register refused user=%s: %v", id.UserID, err)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	logger.Infof("[live] connected user=%s session=%s conn=%s", id.UserID, sessionID, conn.ID)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		h.Hub.TouchPresence(id.UserID)
		return nil
	})

	done := make(chan struct{})
	defer close(done)

	// WriteControl is safe alongside the data writes the sender does, so the
	// ping loop does not need the sender's write lock.
	safe.Go(func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})

	defer h.Hub.Unregister(c.Request.Context(), conn)
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			logger.Debugf("[live] read loop ended user=%s conn=%s: %v", id.UserID, conn.ID, err)
			return
		}
	}
}
