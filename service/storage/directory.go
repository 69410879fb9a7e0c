package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Directory resolves identity facts the hub consumes but does not own:
// which role a user holds and which user owns a chat session. Both live in
// the platform's relational store.
type Directory struct {
	pool *pgxpool.Pool
}

func OpenDirectory(ctx context.Context, databaseURL string) (*Directory, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "directory pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "directory ping")
	}
	return &Directory{pool: pool}, nil
}

func NewDirectory(pool *pgxpool.Pool) *Directory { return &Directory{pool: pool} }

func (d *Directory) Close() { d.pool.Close() }

// LookupRole returns the user's role, or "" when the user is unknown.
// Callers decide the fallback; the hub defaults to the least-privileged role.
func (d *Directory) LookupRole(ctx context.Context, userID string) (string, error) {
	var role string
	err := d.pool.QueryRow(ctx,
		"SELECT role FROM users WHERE user_id = $1", userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "lookup role")
	}
	return role, nil
}

// LookupSessionOwner resolves the user a chat session belongs to.
// found=false means the session does not exist (or has no owner yet).
func (d *Directory) LookupSessionOwner(ctx context.Context, sessionID string) (string, bool, error) {
	var owner string
	err := d.pool.QueryRow(ctx,
		"SELECT user_id FROM chat_sessions WHERE session_id = $1 LIMIT 1", sessionID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "lookup session owner")
	}
	return owner, owner != "", nil
}
