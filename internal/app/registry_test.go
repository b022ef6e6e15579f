package app

import (
	"testing"
	"time"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
)

func TestRegistryLifecycle(t *testing.T) {
	reg, _ := newIndex()
	c := NewConnection("", &fakeTransport{}, time.Now())
	if c.ID == "" {
		t.Fatal("expected generated id")
	}

	id, err := reg.Register(c)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	got, ok := reg.Lookup(id)
	if !ok || got != c {
		t.Fatal("Lookup failed to find registered connection")
	}

	reg.Unregister(id)
	if _, ok := reg.Lookup(id); ok {
		t.Error("found connection after unregister")
	}
	if c.State() != StateClosed {
		t.Errorf("state = %s, want closed", c.State())
	}
	select {
	case <-c.Done():
	default:
		t.Error("Done not closed after unregister")
	}

	// second call is a no-op
	if left := reg.Unregister(id); left != nil {
		t.Errorf("second Unregister returned %v", left)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	reg, _ := newIndex()
	if _, err := reg.Register(NewConnection("dup", &fakeTransport{}, time.Now())); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	_, err := reg.Register(NewConnection("dup", &fakeTransport{}, time.Now()))
	if core.KindOf(err) != core.DuplicateConnection {
		t.Fatalf("expected duplicate_connection, got %v", err)
	}
	if reg.Len() != 1 {
		t.Errorf("Len = %d, want 1", reg.Len())
	}
}

func TestUnregisterLeavesEveryRoom(t *testing.T) {
	reg, rooms := newIndex()
	a := activeConn(t, reg, "a", "u1")
	activeConn(t, reg, "b", "u2")

	for _, r := range []domain.RoomID{"r1", "r2", "r3"} {
		if _, err := rooms.Join(r, "a", domain.PermissionWrite); err != nil {
			t.Fatalf("Join(%s): %v", r, err)
		}
	}
	if _, err := rooms.Join("r1", "b", domain.PermissionRead); err != nil {
		t.Fatalf("Join b: %v", err)
	}

	left := reg.Unregister(a.ID)
	if len(left) != 3 {
		t.Fatalf("left %v, want 3 rooms", left)
	}
	for _, r := range []domain.RoomID{"r1", "r2", "r3"} {
		if rooms.IsMember(r, "a") {
			t.Errorf("room %s still holds a", r)
		}
	}
	if rooms.Has("r2") || rooms.Has("r3") {
		t.Error("empty rooms should be evicted")
	}
	if !rooms.IsMember("r1", "b") {
		t.Error("b must stay in r1")
	}
}

func TestUpdateHeartbeat(t *testing.T) {
	reg, _ := newIndex()
	start := time.Unix(1000, 0)
	c := NewConnection("hb", &fakeTransport{}, start)
	reg.Register(c)

	later := start.Add(10 * time.Second)
	if !reg.UpdateHeartbeat("hb", later) {
		t.Fatal("UpdateHeartbeat returned false")
	}
	if !c.LastHeartbeat().Equal(later) {
		t.Errorf("LastHeartbeat = %v, want %v", c.LastHeartbeat(), later)
	}
	// older timestamps never move the clock back
	reg.UpdateHeartbeat("hb", start)
	if !c.LastHeartbeat().Equal(later) {
		t.Error("heartbeat moved backwards")
	}
	if reg.UpdateHeartbeat("missing", later) {
		t.Error("UpdateHeartbeat on unknown id returned true")
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateConnecting, StateAuthenticated, true},
		{StateConnecting, StateActive, false},
		{StateAuthenticated, StateActive, true},
		{StateActive, StateDraining, true},
		{StateActive, StateClosed, true},
		{StateDraining, StateClosed, true},
		{StateDraining, StateActive, false},
		{StateClosed, StateActive, false},
		{StateClosed, StateClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			if got := canTransition(tt.from, tt.to); got != tt.ok {
				t.Errorf("canTransition = %v, want %v", got, tt.ok)
			}
		})
	}
}
