package hub

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"LiveHub/logger"
	"LiveHub/tools/safe"
)

// Hub state. One lock covers connections, the per-session index, the role
// cache and the watcher index together: unregister's cross-map cleanup and
// shutdown's clear must each observe (and leave) a consistent snapshot, so
// the maps are never locked independently.
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]map[string]*Conn // userID -> connID -> conn
	sessions map[string]map[string]*Conn // userID -> sessionID -> conn that opened it
	watchers map[string][]string         // sessionID -> admin ids, insertion order
	roles    map[string]string           // userID -> role, entry iff user connected
	closed   bool

	opts     Options
	stopOnce sync.Once
	stopCh   chan struct{}
}

// Register adds a connection to its user's set. The user's role is cached on
// first connection and the durable presence count is incremented for every
// connection. Safe to call concurrently; re-registering distinct handles for
// one user is the normal multi-tab case.
func (h *Hub) Register(ctx context.Context, conn *Conn) error {
	if conn == nil || conn.UserID == "" {
		return ErrInvalidConn
	}

	// Resolve the role before taking the lock so the directory round trip
	// never runs inside the critical section. Two tabs racing here both
	// resolve the same answer; the write below stays idempotent.
	role, cached := h.CachedRole(conn.UserID)
	if !cached {
		role = h.resolveRole(ctx, conn.UserID)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	set := h.conns[conn.UserID]
	if set == nil {
		set = make(map[string]*Conn)
		h.conns[conn.UserID] = set
	}
	set[conn.ID] = conn
	if conn.SessionID != "" {
		sess := h.sessions[conn.UserID]
		if sess == nil {
			sess = make(map[string]*Conn)
			h.sessions[conn.UserID] = sess
		}
		sess[conn.SessionID] = conn
	}
	// Role cache moves in lockstep with the connection set.
	h.roles[conn.UserID] = role
	total := len(set)
	h.mu.Unlock()

	h.presenceConnect(conn.UserID)

	logger.Debugf("[hub] connected user=%s conn=%s session=%s tabs=%d",
		conn.UserID, conn.ID, conn.SessionID, total)
	return nil
}

// Unregister removes a connection. When the user's last connection goes, the
// user entry, its role cache entry and every watch the user held are dropped
// in the same critical section. Removing a connection that is already gone is
// a no-op: the explicit-disconnect path and the failed-send reaper may both
// get here for the same handle.
func (h *Hub) Unregister(ctx context.Context, conn *Conn) {
	if conn == nil || conn.UserID == "" {
		return
	}

	h.mu.Lock()
	set := h.conns[conn.UserID]
	if set == nil {
		h.mu.Unlock()
		return
	}
	if _, ok := set[conn.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, conn.ID)

	// Strip this handle from the per-session index.
	if sess := h.sessions[conn.UserID]; sess != nil {
		for sid, c := range sess {
			if c.ID == conn.ID {
				delete(sess, sid)
			}
		}
		if len(sess) == 0 {
			delete(h.sessions, conn.UserID)
		}
	}

	last := len(set) == 0
	if last {
		delete(h.conns, conn.UserID)
		delete(h.roles, conn.UserID)
		// A watcher with no connections must stop receiving: demote the
		// user from every session it was observing.
		for sid, admins := range h.watchers {
			h.watchers[sid] = removeID(admins, conn.UserID)
			if len(h.watchers[sid]) == 0 {
				delete(h.watchers, sid)
			}
		}
	}
	remaining := len(set)
	h.mu.Unlock()

	h.presenceDisconnect(conn.UserID)
	if last && h.opts.Audit != nil {
		adminID := conn.UserID
		safe.Go(func() {
			auditCtx, cancel := contextWithTimeout(h.opts.CollaboratorTimeout)
			defer cancel()
			if err := h.opts.Audit.DeleteAdminWatches(auditCtx, adminID); err != nil {
				logger.Errorf("[hub] watcher audit cleanup failed admin=%s err=%v", adminID, err)
			}
		})
	}

	logger.Debugf("[hub] disconnected user=%s conn=%s remaining=%d", conn.UserID, conn.ID, remaining)
}

// IsOnline reports whether the user holds at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// ConnectionCount is the total number of live connections across all users.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.conns {
		n += len(set)
	}
	return n
}

// UniqueUserCount is the number of distinct users with at least one connection.
func (h *Hub) UniqueUserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// OnlineUserIDs lists the connected users.
func (h *Hub) OnlineUserIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.conns))
	for uid := range h.conns {
		out = append(out, uid)
	}
	return out
}

// UserConnectionCount is the number of live connections one user holds.
func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}

// SessionsOf lists the chat sessions the user currently has open here.
func (h *Hub) SessionsOf(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions[userID]))
	for sid := range h.sessions[userID] {
		out = append(out, sid)
	}
	return out
}

// CachedRole reports the role recorded for a connected user. The cache only
// holds entries for users with at least one live connection here, so a miss
// means "not connected to this process", not "role unknown".
func (h *Hub) CachedRole(userID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	role, ok := h.roles[userID]
	return role, ok
}

// Shutdown closes every live connection with a "server shutdown" close frame
// and clears all state. The close frames go out while the lock is held so no
// interleaved Register can resurrect a connection into a half-cleared map;
// afterwards the hub refuses new registrations. Idempotent.
func (h *Hub) Shutdown(ctx context.Context) {
	h.stopOnce.Do(func() {
		close(h.stopCh)

		h.mu.Lock()
		h.closed = true
		total := 0
		for uid, set := range h.conns {
			for _, c := range set {
				total++
				if err := c.Close(websocket.CloseGoingAway, "server shutdown"); err != nil {
					logger.Warnf("[hub] close failed during shutdown user=%s conn=%s err=%v", uid, c.ID, err)
				}
			}
		}
		h.conns = make(map[string]map[string]*Conn)
		h.sessions = make(map[string]map[string]*Conn)
		h.watchers = make(map[string][]string)
		h.roles = make(map[string]string)
		h.mu.Unlock()

		logger.Infof("[hub] shutdown complete, closed %d connections", total)
	})
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
