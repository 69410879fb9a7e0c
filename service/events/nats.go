// Package events is the cluster ingress: other processes publish outbound
// live events on a NATS subject, and every gateway in the queue group routes
// the ones it receives through its delivery router.
package events

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"

	"LiveHub/logger"
	"LiveHub/service/hub"
)

type Config struct {
	Servers []string
	Subject string
	Queue   string
}

// Envelope names a delivery target and carries the opaque payload.
type Envelope struct {
	Scope       string      `json:"scope"` // user | session | role | all
	Target      string      `json:"target,omitempty"`
	ExcludeUser string      `json:"exclude_user,omitempty"`
	Payload     hub.Message `json:"payload"`
}

// Consumer subscribes to the live-events subject and feeds the hub.
type Consumer struct {
	nc  *nats.Conn
	sub *nats.Subscription
	hub *hub.Hub
}

func StartConsumer(cfg Config, h *hub.Hub) (*Consumer, error) {
	nc, err := nats.Connect(strings.Join(cfg.Servers, ","), nats.Name("live-gateway"))
	if err != nil {
		return nil, errors.Wrap(err, "nats connect")
	}

	c := &Consumer{nc: nc, hub: h}
	cb := func(m *nats.Msg) { c.handle(m.Data) }

	if cfg.Queue != "" {
		c.sub, err = nc.QueueSubscribe(cfg.Subject, cfg.Queue, cb)
	} else {
		c.sub, err = nc.Subscribe(cfg.Subject, cb)
	}
	if err != nil {
		nc.Close()
		return nil, errors.Wrap(err, "nats subscribe")
	}
	logger.Infof("[events] consuming subject=%s queue=%s", cfg.Subject, cfg.Queue)
	return c, nil
}

func (c *Consumer) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warnf("[events] bad envelope: %v", err)
		return
	}
	if env.Payload == nil {
		logger.Warnf("[events] envelope without payload, scope=%s target=%s", env.Scope, env.Target)
		return
	}

	ctx := context.Background()
	switch env.Scope {
	case "user":
		c.hub.SendToUser(ctx, env.Target, env.Payload)
	case "session":
		c.hub.SendToSession(ctx, env.Target, env.Payload, env.ExcludeUser)
	case "role":
		c.hub.BroadcastToRole(ctx, env.Target, env.Payload)
	case "all":
		c.hub.BroadcastAll(ctx, env.Payload)
	default:
		logger.Warnf("[events] unknown scope %q", env.Scope)
	}
}

func (c *Consumer) Close() {
	if c == nil {
		return
	}
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}
	c.nc.Close()
}
