package hub

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"LiveHub/logger"
)

// Delivery router: resolves a logical target (user, session, role, everyone)
// to concrete connections and writes to each outside the registry lock.
// Delivery is at-most-once and best-effort: no queueing, no retry; callers
// get a delivered flag and decide what to surface. This is the only place a
// transport failure turns into a reap.

// SendToUser fans a message out to every live connection of one user.
// Returns true when at least one tab received it; false also covers a user
// with no connections, which is a silent drop.
func (h *Hub) SendToUser(ctx context.Context, userID string, msg Message) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[router] marshal failed user=%s err=%v", userID, err)
		return false
	}
	delivered, failed := h.sendRaw(ctx, userID, data)
	h.report("send_to_user", userID, delivered, failed)
	return delivered > 0
}

// sendRaw writes pre-marshalled bytes to every connection of one user.
// The connection set is snapshotted under the read lock; the writes run
// concurrently per tab so one blocked peer cannot stall the others. Any
// write error marks that connection dead; dead connections are closed and
// unregistered after the fan-out.
func (h *Hub) sendRaw(ctx context.Context, userID string, data []byte) (delivered, failed int) {
	h.mu.RLock()
	set := h.conns[userID]
	conns := make([]*Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		logger.Debugf("[router] user %s not connected, dropping message", userID)
		return 0, 0
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		dead []*Conn
		ok   int64
	)
	for _, c := range conns {
		wg.Add(1)
		go func(c *Conn) {
			defer wg.Done()
			if err := c.Send(data); err != nil {
				logger.Warnf("[router] send failed user=%s conn=%s err=%v", userID, c.ID, err)
				mu.Lock()
				dead = append(dead, c)
				mu.Unlock()
				return
			}
			atomic.AddInt64(&ok, 1)
		}(c)
	}
	wg.Wait()

	for _, c := range dead {
		_ = c.Close(websocket.CloseAbnormalClosure, "send failed")
		h.Unregister(ctx, c)
	}
	return int(atomic.LoadInt64(&ok)), len(dead)
}

// SendToSession delivers to the session's owner and every admin watching it,
// skipping excludeUserID (usually the author, who already has the message).
// An unresolvable session aborts just this delivery: logged, not an error.
func (h *Hub) SendToSession(ctx context.Context, sessionID string, msg Message, excludeUserID string) bool {
	owner, found := h.SessionOwner(ctx, sessionID)
	if !found {
		logger.Infof("[router] session %s unresolvable, dropping message", sessionID)
		return false
	}

	targets := make([]string, 0, 4)
	seen := map[string]bool{excludeUserID: true}
	if !seen[owner] {
		targets = append(targets, owner)
		seen[owner] = true
	}
	for _, adminID := range h.WatchersOf(sessionID) {
		if !seen[adminID] {
			targets = append(targets, adminID)
			seen[adminID] = true
		}
	}
	if len(targets) == 0 {
		return false
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[router] marshal failed session=%s err=%v", sessionID, err)
		return false
	}

	var (
		wg        sync.WaitGroup
		delivered int64
		failed    int64
	)
	for _, uid := range targets {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			d, f := h.sendRaw(ctx, uid, data)
			atomic.AddInt64(&delivered, int64(d))
			atomic.AddInt64(&failed, int64(f))
		}(uid)
	}
	wg.Wait()

	h.report("send_to_session", sessionID, int(delivered), int(failed))
	return delivered > 0
}

// BroadcastToRole delivers to every connected user whose cached role matches,
// or to everyone when role is "all". Each target is handled in its own
// goroutine; one target's failure never blocks or fails the others.
// Returns the number of users that received at least one copy.
func (h *Hub) BroadcastToRole(ctx context.Context, role string, msg Message) int {
	h.mu.RLock()
	targets := make([]string, 0, len(h.roles))
	for uid, r := range h.roles {
		if role == RoleAll || r == role {
			targets = append(targets, uid)
		}
	}
	h.mu.RUnlock()

	logger.Infof("[router] broadcasting to role %q: %d users", role, len(targets))
	if len(targets) == 0 {
		return 0
	}

	data, err := json.Marshal(msg)
	if err != nil {
		logger.Errorf("[router] marshal failed role=%s err=%v", role, err)
		return 0
	}

	var (
		wg      sync.WaitGroup
		reached int64
		failed  int64
	)
	for _, uid := range targets {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			d, f := h.sendRaw(ctx, uid, data)
			if d > 0 {
				atomic.AddInt64(&reached, 1)
			}
			atomic.AddInt64(&failed, int64(f))
		}(uid)
	}
	wg.Wait()

	h.report("broadcast_role", role, int(reached), int(failed))
	return int(reached)
}

// BroadcastAll delivers to every connected user.
func (h *Hub) BroadcastAll(ctx context.Context, msg Message) int {
	return h.BroadcastToRole(ctx, RoleAll, msg)
}
