package core

import (
	"context"
	"errors"

	"github.com/dkeye/Collab/internal/domain"
)

// ErrRoomNotFound is returned by an Authorizer for rooms the web layer does not know.
var ErrRoomNotFound = errors.New("room not found")

// Authorizer looks up a user's permission level in a room.
// Any error other than ErrRoomNotFound is treated as a denial.
type Authorizer interface {
	Permission(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.Permission, error)
}

// Authenticator turns a bearer token into a user identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	Targets int
	SendTo  int
	Dropped []domain.ConnID
}

// AllFailed reports whether there was somebody to deliver to and nobody got it.
func (r PublishResult) AllFailed() bool {
	return r.Targets > 0 && r.SendTo == 0
}
