package hub

import (
	"github.com/google/uuid"
)

// Sender is the opaque send capability of one live transport handle.
// Any error from Send means the peer is unreachable; the router treats all
// causes uniformly and reaps the connection.
type Sender interface {
	Send(data []byte) error
	Close(code int, reason string) error
}

// Conn is one live client connection (one tab or device). A user may hold
// any number of them at once. The hub owns a Conn from Register until
// Unregister or reaping; nothing else mutates it.
type Conn struct {
	ID        string
	UserID    string
	SessionID string // optional chat session this tab opened

	sender Sender
}

func NewConn(userID, sessionID string, sender Sender) *Conn {
	return &Conn{
		ID:        uuid.NewString(),
		UserID:    userID,
		SessionID: sessionID,
		sender:    sender,
	}
}

func (c *Conn) Send(data []byte) error {
	return c.sender.Send(data)
}

func (c *Conn) Close(code int, reason string) error {
	return c.sender.Close(code, reason)
}
