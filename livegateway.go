package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"LiveHub/global"
	"LiveHub/logger"
	"LiveHub/middleware"
	"LiveHub/module/live"
	"LiveHub/service/audit"
	"LiveHub/service/events"
	"LiveHub/service/hub"
	"LiveHub/service/storage"
)

// The gateway starts with whatever collaborators it can reach. Redis,
// postgres, mongo, kafka and nats are each optional: a missing one costs its
// feature (durable presence, role lookup, watch audit, delivery audit, bus
// fan-in) but never the in-memory hub itself.
func main() {
	cfg := global.Config()
	ctx := context.Background()

	opts := hub.Options{
		SweepEvery:          cfg.PresenceSweepEvery(),
		StaleAfter:          cfg.PresenceStaleAfter(),
		CollaboratorTimeout: 3 * time.Second,
	}

	var presence *storage.PresenceStore
	if rdb, err := storage.OpenRedis(ctx, storage.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}); err != nil {
		logger.Warnf("[gateway] redis unavailable, presence is in-memory only: %v", err)
	} else {
		presence = storage.NewPresenceStore(rdb)
		opts.Presence = presence
	}

	if dir, err := storage.OpenDirectory(ctx, cfg.DatabaseURL); err != nil {
		logger.Warnf("[gateway] directory unavailable, roles fall back to %s: %v", hub.RoleMentee, err)
	} else {
		opts.Directory = dir
		defer dir.Close()
	}

	if wa, err := storage.OpenWatcherAudit(ctx, cfg.MongoURI, cfg.MongoDatabase); err != nil {
		logger.Warnf("[gateway] watcher audit unavailable: %v", err)
	} else {
		opts.Audit = wa
	}

	if brokers := global.KafkaBrokerList(); len(brokers) > 0 {
		if prod, err := audit.NewProducer(audit.Config{Brokers: brokers, Topic: cfg.KafkaAuditTopic}); err != nil {
			logger.Warnf("[gateway] delivery audit unavailable: %v", err)
		} else {
			opts.Reports = prod
			defer prod.Close()
		}
	}

	h := hub.New(opts)

	if consumer, err := events.StartConsumer(events.Config{
		Servers: global.NatsServerList(),
		Subject: cfg.NatsSubject,
		Queue:   cfg.NatsQueue,
	}, h); err != nil {
		logger.Warnf("[gateway] event bus unavailable, HTTP dispatch only: %v", err)
	} else {
		defer consumer.Close()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	handlers := live.NewHandlers(h, presenceOrNil(presence))
	handlers.Mount(r.Group("/", middleware.Auth(global.GetJwtSecret())))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		logger.Infof("[gateway] %s listening on %s", cfg.GatewayNodeID, cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("[gateway] http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("[gateway] shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	h.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("[gateway] http shutdown: %v", err)
	}
	logger.Sync()
}

// presenceOrNil keeps a nil *PresenceStore from becoming a non-nil interface.
func presenceOrNil(p *storage.PresenceStore) live.PresenceReader {
	if p == nil {
		return nil
	}
	return p
}
