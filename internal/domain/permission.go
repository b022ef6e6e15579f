package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is the access level of a user in a room, ordered from none to admin.
type Permission int

const (
	PermissionNone Permission = iota
	PermissionRead
	PermissionWrite
	PermissionAdmin
)

func (p Permission) String() string {
	switch p {
	case PermissionRead:
		return "read"
	case PermissionWrite:
		return "write"
	case PermissionAdmin:
		return "admin"
	default:
		return "none"
	}
}

func (p Permission) CanRead() bool  { return p >= PermissionRead }
func (p Permission) CanWrite() bool { return p >= PermissionWrite }

func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Permission) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePermission(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePermission accepts both the relay's names and the web app's role names.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PermissionNone, nil
	case "read", "viewer", "view":
		return PermissionRead, nil
	case "write", "editor", "edit":
		return PermissionWrite, nil
	case "admin", "owner":
		return PermissionAdmin, nil
	}
	return PermissionNone, fmt.Errorf("unknown permission %q", s)
}
