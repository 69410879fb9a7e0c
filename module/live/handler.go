// Package live exposes the hub over HTTP: the websocket endpoint, session
// watching, presence queries and notification dispatch.
package live

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"LiveHub/logger"
	"LiveHub/middleware"
	"LiveHub/service/hub"
	"LiveHub/service/storage"
	"LiveHub/tools/errs"
)

// PresenceReader is the durable-presence view the listing endpoints need.
type PresenceReader interface {
	OnlineUserIDs(ctx context.Context) ([]string, error)
	Record(ctx context.Context, userID string) (*storage.PresenceRecord, bool, error)
}

type Handlers struct {
	Hub      *hub.Hub
	Presence PresenceReader // optional; hub state is the fallback
}

func NewHandlers(h *hub.Hub, presence PresenceReader) *Handlers {
	return &Handlers{Hub: h, Presence: presence}
}

// Mount attaches all routes to the (already authenticated) router group.
func (h *Handlers) Mount(r gin.IRoutes) {
	r.GET("/ws", h.HandleWS)

	r.POST("/sessions/:id/watch", h.HandleWatch)
	r.POST("/sessions/:id/unwatch", h.HandleUnwatch)
	r.GET("/sessions/:id/watchers", h.HandleWatchers)

	r.GET("/presence/online", h.HandleOnline)
	r.GET("/stats", h.HandleStats)

	r.POST("/notify/user/:id", h.HandleNotifyUser)
	r.POST("/notify/session/:id", h.HandleNotifySession)
	r.POST("/notify/role/:role", h.HandleNotifyRole)
	r.POST("/notify/all", h.HandleNotifyAll)
}

// canWatch is the structural gate for the watch endpoints. The finer
// rank-vs-rank rule (an admin may not watch an equal-or-higher admin) is the
// identity service's call and happens before a token with this role is ever
// issued for the watch.
func canWatch(role string) bool {
	return role == hub.RoleAdmin || role == hub.RoleLead
}

func (h *Handlers) HandleWatch(c *gin.Context) {
	id := middleware.Identity(c)
	if id == nil || !canWatch(id.Role) {
		c.JSON(http.StatusForbidden, errs.ErrUnauthorized.WithDetail("watching requires an admin role"))
		return
	}
	sessionID := c.Param("id")
	h.Hub.AddWatcher(c.Request.Context(), sessionID, id.UserID)
	h.notifyOwner(c, sessionID, id.UserID, "admin_joined")
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "watching": true})
}

// notifyOwner tells the session's owner that an admin appeared or left.
// Nothing to do when the session is unresolvable or the owner is offline.
func (h *Handlers) notifyOwner(c *gin.Context, sessionID, adminID, event string) {
	owner, found := h.Hub.SessionOwner(c.Request.Context(), sessionID)
	if !found {
		return
	}
	h.Hub.SendToUser(c.Request.Context(), owner, hub.Message{
		"type":       event,
		"admin_id":   adminID,
		"session_id": sessionID,
		"ts":         time.Now().Unix(),
	})
}

func (h *Handlers) HandleUnwatch(c *gin.Context) {
	id := middleware.Identity(c)
	if id == nil {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	sessionID := c.Param("id")
	h.Hub.RemoveWatcher(c.Request.Context(), sessionID, id.UserID)
	h.notifyOwner(c, sessionID, id.UserID, "admin_left")
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "watching": false})
}

func (h *Handlers) HandleWatchers(c *gin.Context) {
	sessionID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"watchers":   h.Hub.WatchersOf(sessionID),
	})
}

// HandleOnline lists online users from the durable presence store (which
// sees every gateway process), falling back to this process's registry when
// no store is wired. ?role= filters by the hub's cached roles.
func (h *Handlers) HandleOnline(c *gin.Context) {
	roleFilter := c.Query("role")

	var ids []string
	if h.Presence != nil {
		var err error
		ids, err = h.Presence.OnlineUserIDs(c.Request.Context())
		if err != nil {
			logger.Errorf("[live] online listing failed: %v", err)
			c.JSON(http.StatusInternalServerError, errs.ErrInternal)
			return
		}
	} else {
		ids = h.Hub.OnlineUserIDs()
	}

	out := make([]gin.H, 0, len(ids))
	for _, uid := range ids {
		entry := gin.H{"user_id": uid}
		if role, ok := h.Hub.CachedRole(uid); ok {
			if roleFilter != "" && roleFilter != hub.RoleAll && role != roleFilter {
				continue
			}
			entry["role"] = role
			entry["sessions"] = h.Hub.SessionsOf(uid)
		} else if roleFilter != "" && roleFilter != hub.RoleAll {
			// Role unknown here (connected to another gateway); filtered
			// listings only include users this process can vouch for.
			continue
		}
		if h.Presence != nil {
			if rec, found, err := h.Presence.Record(c.Request.Context(), uid); err == nil && found {
				entry["connection_count"] = rec.ConnectionCount
				entry["connected_at"] = rec.ConnectedAt.Unix()
				entry["last_seen"] = rec.LastSeen.Unix()
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"online": out, "count": len(out)})
}

func (h *Handlers) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"connections":      h.Hub.ConnectionCount(),
		"unique_users":     h.Hub.UniqueUserCount(),
		"watched_sessions": h.Hub.WatchedSessionCount(),
	})
}

type notifyRequest struct {
	Payload     hub.Message `json:"payload" binding:"required"`
	ExcludeUser string      `json:"exclude_user"`
}

func (h *Handlers) HandleNotifyUser(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	delivered := h.Hub.SendToUser(c.Request.Context(), c.Param("id"), req.Payload)
	c.JSON(http.StatusOK, gin.H{"is_delivered": delivered})
}

func (h *Handlers) HandleNotifySession(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	delivered := h.Hub.SendToSession(c.Request.Context(), c.Param("id"), req.Payload, req.ExcludeUser)
	c.JSON(http.StatusOK, gin.H{"is_delivered": delivered})
}

func (h *Handlers) HandleNotifyRole(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	reached := h.Hub.BroadcastToRole(c.Request.Context(), c.Param("role"), req.Payload)
	c.JSON(http.StatusOK, gin.H{"reached_users": reached})
}

func (h *Handlers) HandleNotifyAll(c *gin.Context) {
	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrBadRequest.WithDetail(err.Error()))
		return
	}
	reached := h.Hub.BroadcastAll(c.Request.Context(), req.Payload)
	c.JSON(http.StatusOK, gin.H{"reached_users": reached})
}
