package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const watcherCollection = "session_watchers"

// WatcherAuditStore mirrors the in-memory watcher index into mongo so that
// "who was watching what, when" survives for audit. The mirror is
// best-effort: live delivery never consults it.
type WatcherAuditStore struct {
	col *mongo.Collection
}

func OpenWatcherAudit(ctx context.Context, uri, database string) (*WatcherAuditStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cli, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	if err := cli.Ping(connectCtx, nil); err != nil {
		return nil, errors.Wrap(err, "mongo ping")
	}
	return &WatcherAuditStore{col: cli.Database(database).Collection(watcherCollection)}, nil
}

func NewWatcherAudit(col *mongo.Collection) *WatcherAuditStore {
	return &WatcherAuditStore{col: col}
}

// SaveWatcher upserts one (session, admin) watch record.
func (w *WatcherAuditStore) SaveWatcher(ctx context.Context, sessionID, adminID string) error {
	filter := bson.M{"session_id": sessionID, "admin_id": adminID}
	update := bson.M{"$setOnInsert": bson.M{
		"session_id": sessionID,
		"admin_id":   adminID,
		"watched_at": time.Now(),
	}}
	_, err := w.col.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	return errors.Wrap(err, "save watcher")
}

// DeleteWatcher removes one (session, admin) watch record.
func (w *WatcherAuditStore) DeleteWatcher(ctx context.Context, sessionID, adminID string) error {
	_, err := w.col.DeleteOne(ctx, bson.M{"session_id": sessionID, "admin_id": adminID})
	return errors.Wrap(err, "delete watcher")
}

// DeleteAdminWatches clears every watch an admin held; used when the admin's
// last connection drops.
func (w *WatcherAuditStore) DeleteAdminWatches(ctx context.Context, adminID string) error {
	_, err := w.col.DeleteMany(ctx, bson.M{"admin_id": adminID})
	return errors.Wrap(err, "delete admin watches")
}
