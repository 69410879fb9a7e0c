package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// wsSender adapts a gorilla connection to the Sender interface.
// gorilla conns allow a single concurrent writer, so every write goes
// through one mutex; the deadline keeps a slow peer from stalling callers
// past writeWait.
type wsSender struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewWSSender(ws *websocket.Conn) Sender {
	return &wsSender{ws: ws}
}

func (s *wsSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	return s.ws.Close()
}
