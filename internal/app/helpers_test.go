package app

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

type fakeTransport struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
}

func (f *fakeTransport) TrySend(fr core.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return core.ErrConnectionClosed
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func newIndex() (*Registry, *Membership) {
	reg := NewRegistry()
	return reg, NewMembership(reg)
}

func activeConn(t *testing.T, reg *Registry, id domain.ConnID, user domain.UserID) *Connection {
	t.Helper()
	c := NewConnection(id, &fakeTransport{}, time.Now())
	if _, err := reg.Register(c); err != nil {
		t.Fatalf("Register(%s): %v", id, err)
	}
	if err := c.Authenticate(&domain.User{ID: user, Username: string(user)}); err != nil {
		t.Fatalf("Authenticate(%s): %v", id, err)
	}
	if err := c.Transition(StateActive); err != nil {
		t.Fatalf("activate %s: %v", id, err)
	}
	return c
}

func memberIDs(members []domain.Member) map[domain.ConnID]bool {
	out := make(map[domain.ConnID]bool, len(members))
	for _, m := range members {
		out[m.Conn] = true
	}
	return out
}

func connID(s string) domain.ConnID { return domain.ConnID(s) }
