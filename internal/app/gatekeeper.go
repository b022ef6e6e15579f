package app

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog/log"
)

// Gatekeeper resolves a connection's permission in a room through the
// authorization collaborator, caching the answer on the connection until it leaves.
type Gatekeeper struct {
	Auth    core.Authorizer
	Timeout time.Duration
}

func (g *Gatekeeper) Resolve(ctx context.Context, c *Connection, room domain.RoomID) (domain.Permission, error) {
	if p, ok := c.CachedPermission(room); ok {
		return p, nil
	}
	user := c.UserID()
	if user == "" {
		return domain.PermissionNone, core.Errorf(core.Unauthorized, "connection is not authenticated")
	}
	if g.Auth == nil {
		return domain.PermissionNone, core.Errorf(core.Unauthorized, "no authorizer configured")
	}
	// the lookup ends early when the connection closes
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()
	if g.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, g.Timeout)
		defer cancelTimeout()
	}

	p, err := g.Auth.Permission(ctx, room, user)
	switch {
	case c.ctx.Err() != nil:
		return domain.PermissionNone, core.Errorf(core.Unauthorized, "connection closed during permission lookup")
	case errors.Is(err, core.ErrRoomNotFound):
		return domain.PermissionNone, core.Errorf(core.UnknownRoom, "room %s does not exist", room)
	case err != nil:
		log.Warn().Err(err).Str("module", "app.gatekeeper").Str("room", string(room)).Str("user", string(user)).Msg("permission lookup failed")
		return domain.PermissionNone, core.Wrap(core.Unauthorized, "permission lookup failed", err)
	case !p.CanRead():
		return domain.PermissionNone, core.Errorf(core.Unauthorized, "no access to room %s", room)
	}
	c.CachePermission(room, p)
	return p, nil
}
