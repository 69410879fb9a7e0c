// Package hub tracks every live client connection of the platform and fans
// outbound messages to the right sockets: all of one user's tabs, a chat
// session's owner plus the admins watching it, everyone holding a role, or
// everyone connected. It also drives the durable presence records so other
// services can ask "is this user online" without touching the hub.
package hub

import (
	"context"
	"errors"
	"time"

	"LiveHub/logger"
	"LiveHub/tools/safe"
)

// Message is an opaque payload; the hub never interprets its content.
type Message map[string]any

// Role vocabulary. RoleMentee is the least-privileged fallback used whenever
// the directory cannot answer.
const (
	RoleAll    = "all"
	RoleAdmin  = "admin"
	RoleLead   = "lead"
	RoleMentor = "mentor"
	RoleMentee = "mentee"
)

var (
	ErrHubClosed   = errors.New("hub is shut down")
	ErrInvalidConn = errors.New("connection needs a user id")
)

func contextWithTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), d)
}

// Directory resolves identity facts from the platform store.
type Directory interface {
	LookupRole(ctx context.Context, userID string) (string, error)
	LookupSessionOwner(ctx context.Context, sessionID string) (string, bool, error)
}

// PresenceStore keeps the durable per-user presence records.
type PresenceStore interface {
	Connect(ctx context.Context, userID string) (int64, error)
	Disconnect(ctx context.Context, userID string) (int64, error)
	Touch(ctx context.Context, userID string) error
	Sweep(ctx context.Context, staleness time.Duration) (int, error)
}

// WatcherAudit mirrors watch/unwatch transitions into durable storage,
// best-effort. The in-memory index stays authoritative for delivery.
type WatcherAudit interface {
	SaveWatcher(ctx context.Context, sessionID, adminID string) error
	DeleteWatcher(ctx context.Context, sessionID, adminID string) error
	DeleteAdminWatches(ctx context.Context, adminID string) error
}

// ReportSink receives one record per delivery operation.
type ReportSink interface {
	Report(op, target string, delivered, failed int)
}

type Options struct {
	Directory Directory
	Presence  PresenceStore
	Audit     WatcherAudit
	Reports   ReportSink

	// Presence maintenance. SweepEvery <= 0 disables the background sweep.
	SweepEvery time.Duration
	StaleAfter time.Duration

	// Upper bound for any collaborator call made off the hot path.
	CollaboratorTimeout time.Duration
}

func (o *Options) norm() {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 5 * time.Minute
	}
	if o.CollaboratorTimeout <= 0 {
		o.CollaboratorTimeout = 3 * time.Second
	}
}

// New builds a hub and starts its presence sweeper. The caller owns the
// lifecycle: construct at startup, inject into handlers, Shutdown on exit.
func New(opts Options) *Hub {
	opts.norm()
	h := &Hub{
		conns:    make(map[string]map[string]*Conn),
		sessions: make(map[string]map[string]*Conn),
		watchers: make(map[string][]string),
		roles:    make(map[string]string),
		opts:     opts,
		stopCh:   make(chan struct{}),
	}
	if opts.Presence != nil && opts.SweepEvery > 0 {
		go h.sweeper()
	}
	return h
}

// sweeper periodically repairs presence records left online by connections
// that vanished without a disconnect event.
func (h *Hub) sweeper() {
	t := time.NewTicker(h.opts.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-t.C:
			ctx, cancel := contextWithTimeout(h.opts.CollaboratorTimeout)
			n, err := h.opts.Presence.Sweep(ctx, h.opts.StaleAfter)
			cancel()
			if err != nil {
				logger.Errorf("[hub] presence sweep failed: %v", err)
				continue
			}
			if n > 0 {
				logger.Infof("[hub] presence sweep reset %d stale records", n)
			}
		}
	}
}

// SessionOwner resolves who a chat session belongs to. found=false covers
// a missing directory, a lookup failure and an unknown session alike;
// callers treat all three as "nobody to address".
func (h *Hub) SessionOwner(ctx context.Context, sessionID string) (string, bool) {
	if h.opts.Directory == nil {
		return "", false
	}
	lookupCtx, cancel := context.WithTimeout(ctx, h.opts.CollaboratorTimeout)
	defer cancel()
	owner, found, err := h.opts.Directory.LookupSessionOwner(lookupCtx, sessionID)
	if err != nil {
		logger.Errorf("[hub] session owner lookup failed session=%s err=%v", sessionID, err)
		return "", false
	}
	return owner, found
}

// resolveRole asks the directory once; any failure degrades to the
// least-privileged role so a dead store cannot take the hub down.
func (h *Hub) resolveRole(ctx context.Context, userID string) string {
	if h.opts.Directory == nil {
		return RoleMentee
	}
	lookupCtx, cancel := context.WithTimeout(ctx, h.opts.CollaboratorTimeout)
	defer cancel()
	role, err := h.opts.Directory.LookupRole(lookupCtx, userID)
	if err != nil {
		logger.Errorf("[hub] role lookup failed user=%s err=%v", userID, err)
		return RoleMentee
	}
	if role == "" {
		return RoleMentee
	}
	return role
}

// presenceConnect / presenceDisconnect run off the registry lock with a
// bounded timeout; presence failures are logged, never surfaced.
func (h *Hub) presenceConnect(userID string) {
	if h.opts.Presence == nil {
		return
	}
	safe.Go(func() {
		ctx, cancel := contextWithTimeout(h.opts.CollaboratorTimeout)
		defer cancel()
		if _, err := h.opts.Presence.Connect(ctx, userID); err != nil {
			logger.Errorf("[hub] presence connect failed user=%s err=%v", userID, err)
		}
	})
}

func (h *Hub) presenceDisconnect(userID string) {
	if h.opts.Presence == nil {
		return
	}
	safe.Go(func() {
		ctx, cancel := contextWithTimeout(h.opts.CollaboratorTimeout)
		defer cancel()
		if _, err := h.opts.Presence.Disconnect(ctx, userID); err != nil {
			logger.Errorf("[hub] presence disconnect failed user=%s err=%v", userID, err)
		}
	})
}

// TouchPresence refreshes the durable last-seen mark; wired to the
// websocket pong handler so the sweep only reaps genuinely dead records.
func (h *Hub) TouchPresence(userID string) {
	if h.opts.Presence == nil {
		return
	}
	safe.Go(func() {
		ctx, cancel := contextWithTimeout(h.opts.CollaboratorTimeout)
		defer cancel()
		if err := h.opts.Presence.Touch(ctx, userID); err != nil {
			logger.Errorf("[hub] presence touch failed user=%s err=%v", userID, err)
		}
	})
}

func (h *Hub) report(op, target string, delivered, failed int) {
	if h.opts.Reports == nil {
		return
	}
	safe.Go(func() { h.opts.Reports.Report(op, target, delivered, failed) })
}
