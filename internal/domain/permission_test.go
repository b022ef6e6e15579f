package domain

import (
	"encoding/json"
	"testing"
)

func TestParsePermission(t *testing.T) {
	tests := []struct {
		in      string
		want    Permission
		wantErr bool
	}{
		{in: "", want: PermissionNone},
		{in: "viewer", want: PermissionRead},
		{in: "READ", want: PermissionRead},
		{in: " editor ", want: PermissionWrite},
		{in: "owner", want: PermissionAdmin},
		{in: "admin", want: PermissionAdmin},
		{in: "superuser", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePermission(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePermission(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParsePermission(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPermissionLevels(t *testing.T) {
	if PermissionNone.CanRead() {
		t.Error("none must not read")
	}
	if !PermissionRead.CanRead() || PermissionRead.CanWrite() {
		t.Error("read must read but not write")
	}
	if !PermissionAdmin.CanWrite() {
		t.Error("admin must write")
	}
}

func TestParseRoomID(t *testing.T) {
	if _, err := ParseRoomID(""); err != ErrRoomIDEmpty {
		t.Errorf("expected ErrRoomIDEmpty, got %v", err)
	}
	long := make([]byte, MaxRoomIDLen+1)
	for i := range long {
		long[i] = 'a'
	}
	if _, err := ParseRoomID(string(long)); err != ErrRoomIDTooLong {
		t.Errorf("expected ErrRoomIDTooLong, got %v", err)
	}
	id, err := ParseRoomID("r1")
	if err != nil || id != "r1" {
		t.Errorf("ParseRoomID(r1) = %q, %v", id, err)
	}
}

func TestNewUser(t *testing.T) {
	u, err := NewUser("u-1", "")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if u.Username != "guest" {
		t.Errorf("expected guest fallback, got %q", u.Username)
	}
	if _, err := NewUser("", "bob"); err != ErrUserIDEmpty {
		t.Errorf("expected ErrUserIDEmpty, got %v", err)
	}
}

func TestPermissionJSON(t *testing.T) {
	m := Member{Conn: "c1", User: "u1", Role: PermissionWrite}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(b) != `{"conn":"c1","user":"u1","role":"write"}` {
		t.Errorf("Marshal = %s", b)
	}
	var back Member
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back != m {
		t.Errorf("round trip = %+v", back)
	}
}
