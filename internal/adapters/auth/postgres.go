package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// permissionQuery reads the tables owned by the web app.
const permissionQuery = `
SELECT r."ownerId", rp."permission"
FROM "Room" r
LEFT JOIN "RoomPermission" rp ON rp."roomId" = r."id" AND rp."userId" = $2
WHERE r."id" = $1`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAuthorizer resolves permissions from the web app's database.
type PostgresAuthorizer struct {
	db      rowQuerier
	timeout time.Duration
}

func NewPostgresAuthorizer(db rowQuerier, timeout time.Duration) *PostgresAuthorizer {
	return &PostgresAuthorizer{db: db, timeout: timeout}
}

// Connect creates the connection pool and checks it answers.
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConns = 8

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func (a *PostgresAuthorizer) Permission(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Permission, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	var owner string
	var granted *string
	err := a.db.QueryRow(ctx, permissionQuery, string(room), string(user)).Scan(&owner, &granted)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.PermissionNone, core.ErrRoomNotFound
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.auth").Str("room", string(room)).Msg("permission lookup")
		return domain.PermissionNone, fmt.Errorf("permission lookup %s: %w", room, err)
	}

	if owner == string(user) {
		return domain.PermissionAdmin, nil
	}
	if granted == nil {
		return domain.PermissionNone, nil
	}
	return domain.ParsePermission(*granted)
}

// StaticAuthorizer grants the same permission in every room.
type StaticAuthorizer struct {
	Perm domain.Permission
}

func (s StaticAuthorizer) Permission(context.Context, domain.RoomID, domain.UserID) (domain.Permission, error) {
	return s.Perm, nil
}
