package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"LiveHub/service/hub"
)

type recordingSender struct {
	mu   sync.Mutex
	sent int
}

func (r *recordingSender) Send([]byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent++
	return nil
}

func (r *recordingSender) Close(int, string) error { return nil }

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent
}

func newHubWithUser(t *testing.T, userID string) (*hub.Hub, *recordingSender) {
	t.Helper()
	h := hub.New(hub.Options{})
	t.Cleanup(func() { h.Shutdown(context.Background()) })
	s := &recordingSender{}
	require.NoError(t, h.Register(context.Background(), hub.NewConn(userID, "", s)))
	return h, s
}

func envelope(t *testing.T, env Envelope) []byte {
	t.Helper()
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestHandleUserScope(t *testing.T) {
	h, s := newHubWithUser(t, "u1")
	c := &Consumer{hub: h}

	c.handle(envelope(t, Envelope{
		Scope:   "user",
		Target:  "u1",
		Payload: hub.Message{"type": "ping"},
	}))
	require.Equal(t, 1, s.count())
}

func TestHandleAllScope(t *testing.T) {
	h, s := newHubWithUser(t, "u1")
	c := &Consumer{hub: h}

	c.handle(envelope(t, Envelope{Scope: "all", Payload: hub.Message{"x": 1}}))
	require.Equal(t, 1, s.count())
}

func TestHandleIgnoresBadInput(t *testing.T) {
	h, s := newHubWithUser(t, "u1")
	c := &Consumer{hub: h}

	c.handle([]byte("not json"))
	c.handle(envelope(t, Envelope{Scope: "user", Target: "u1"})) // no payload
	c.handle(envelope(t, Envelope{Scope: "warp", Target: "u1", Payload: hub.Message{"x": 1}}))
	require.Equal(t, 0, s.count())
}
