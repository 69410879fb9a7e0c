package hub

import (
	"context"

	"LiveHub/logger"
	"LiveHub/tools/safe"
)

// Watcher index: which admins observe which chat session. The index only
// enforces structure (uniqueness, entry-iff-non-empty); whether an admin is
// allowed to watch a given user is the caller's policy, decided before the
// call ever gets here.

// AddWatcher subscribes an admin to a session's traffic. Idempotent.
func (h *Hub) AddWatcher(ctx context.Context, sessionID, adminID string) {
	if sessionID == "" || adminID == "" {
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	added := false
	if !containsID(h.watchers[sessionID], adminID) {
		h.watchers[sessionID] = append(h.watchers[sessionID], adminID)
		added = true
	}
	h.mu.Unlock()

	if !added {
		return
	}
	logger.Infof("[hub] admin %s now watching session %s", adminID, sessionID)
	if h.opts.Audit != nil {
		safe.Go(func() {
			auditCtx, cancel := contextWithTimeout(h.opts.CollaboratorTimeout)
			defer cancel()
			if err := h.opts.Audit.SaveWatcher(auditCtx, sessionID, adminID); err != nil {
				logger.Errorf("[hub] watcher audit save failed session=%s admin=%s err=%v", sessionID, adminID, err)
			}
		})
	}
}

// RemoveWatcher unsubscribes an admin; the session entry disappears with its
// last watcher. Removing an absent watcher is a no-op.
func (h *Hub) RemoveWatcher(ctx context.Context, sessionID, adminID string) {
	h.mu.Lock()
	admins, ok := h.watchers[sessionID]
	removed := false
	if ok && containsID(admins, adminID) {
		h.watchers[sessionID] = removeID(admins, adminID)
		if len(h.watchers[sessionID]) == 0 {
			delete(h.watchers, sessionID)
		}
		removed = true
	}
	h.mu.Unlock()

	if !removed {
		return
	}
	logger.Infof("[hub] admin %s stopped watching session %s", adminID, sessionID)
	if h.opts.Audit != nil {
		safe.Go(func() {
			auditCtx, cancel := contextWithTimeout(h.opts.CollaboratorTimeout)
			defer cancel()
			if err := h.opts.Audit.DeleteWatcher(auditCtx, sessionID, adminID); err != nil {
				logger.Errorf("[hub] watcher audit delete failed session=%s admin=%s err=%v", sessionID, adminID, err)
			}
		})
	}
}

// WatchersOf lists the admins observing a session, in the order they
// subscribed. Empty slice when nobody watches.
func (h *Hub) WatchersOf(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	admins := h.watchers[sessionID]
	out := make([]string, len(admins))
	copy(out, admins)
	return out
}

// WatchedSessionCount is the number of sessions with at least one watcher.
func (h *Hub) WatchedSessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
