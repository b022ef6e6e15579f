package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultsWithoutFile(t *testing.T) {
	t.Setenv("COLLAB_SECRET", "session-key")
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 8080 || cfg.Mode != "release" {
		t.Errorf("port/mode = %d/%s", cfg.Port, cfg.Mode)
	}
	if cfg.WS.Overflow != OverflowDropOldest || cfg.WS.SendQueue != 64 {
		t.Errorf("ws = %+v", cfg.WS)
	}
	if cfg.Lifecycle.HeartbeatTimeout != 30*time.Second {
		t.Errorf("heartbeat_timeout = %s", cfg.Lifecycle.HeartbeatTimeout)
	}
	if cfg.Auth.Mode != AuthModeDev || cfg.Auth.DefaultPermission != "write" {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("ice_servers = %+v", cfg.ICEServers)
	}
}

func TestFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
port: 9000
ws:
  send_queue: 8
  overflow: disconnect
routing:
  include_sender: true
auth:
  mode: jwt
  jwt_secret: from-file
ice_servers:
  - urls: ["turn:turn.example.com:3478"]
    username: u
    credential: p
`)
	t.Setenv("COLLAB_AUTH_JWT_SECRET", "from-env")
	t.Setenv("COLLAB_LIFECYCLE_SHUTDOWN_GRACE", "2s")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Port != 9000 || cfg.WS.SendQueue != 8 || cfg.WS.Overflow != OverflowDisconnect {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if !cfg.Routing.IncludeSender {
		t.Error("include_sender not applied")
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt_secret = %q, want env override", cfg.Auth.JWTSecret)
	}
	if cfg.Lifecycle.ShutdownGrace != 2*time.Second {
		t.Errorf("shutdown_grace = %s", cfg.Lifecycle.ShutdownGrace)
	}
	if len(cfg.ICEServers) != 1 || cfg.ICEServers[0].Username != "u" {
		t.Errorf("ice_servers = %+v", cfg.ICEServers)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"overflow", "ws:\n  overflow: block\n", "ws.overflow"},
		{"jwt secret", "auth:\n  mode: jwt\n", "jwt_secret"},
		{"pong wait", "ws:\n  ping_period: 30s\n  pong_wait: 10s\n", "pong_wait"},
		{"permission", "auth:\n  default_permission: superuser\n", "default_permission"},
		{"auth mode", "auth:\n  mode: ldap\n", "auth.mode"},
		{"send queue", "ws:\n  send_queue: 0\n", "send_queue"},
		{"session secret", "auth:\n  mode: dev\n", "secret is required in dev mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}
