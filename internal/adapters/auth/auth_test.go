package auth

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims SupabaseClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func validClaims() SupabaseClaims {
	return SupabaseClaims{
		Email: "ada@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "0b6a4c1e-5f1e-4f7e-9d55-2f3c7d1a9e10",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestAuthenticate(t *testing.T) {
	a := NewJWTAuthenticator(testSecret, "authenticated")
	user, err := a.Authenticate(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims()))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.ID != "0b6a4c1e-5f1e-4f7e-9d55-2f3c7d1a9e10" || user.Username != "ada" {
		t.Errorf("user = %+v", user)
	}
}

func TestAuthenticateUsesMetadataName(t *testing.T) {
	claims := validClaims()
	claims.UserMetadata.Username = "lovelace"
	a := NewJWTAuthenticator(testSecret, "")
	user, err := a.Authenticate(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if user.Username != "lovelace" {
		t.Errorf("username = %q", user.Username)
	}
}

func TestAuthenticateTruncatesLongNamesOnRuneBoundary(t *testing.T) {
	claims := validClaims()
	claims.UserMetadata.Name = strings.Repeat("é", 20) // 40 bytes
	a := NewJWTAuthenticator(testSecret, "")
	user, err := a.Authenticate(context.Background(), sign(t, jwt.SigningMethodHS256, []byte(testSecret), claims))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !utf8.ValidString(user.Username) {
		t.Errorf("username %q is not valid utf-8", user.Username)
	}
	if user.Username != strings.Repeat("é", 18) {
		t.Errorf("username = %q, want 18 runes", user.Username)
	}
}

func TestAuthenticateRejects(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	noSubject := validClaims()
	noSubject.Subject = ""
	otherAudience := validClaims()
	otherAudience.Audience = jwt.ClaimStrings{"service_role"}
	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	cases := map[string]string{
		"empty":          "",
		"garbage":        "not.a.token",
		"wrong secret":   sign(t, jwt.SigningMethodHS256, []byte("another-secret"), validClaims()),
		"wrong method":   sign(t, jwt.SigningMethodHS512, []byte(testSecret), validClaims()),
		"expired":        sign(t, jwt.SigningMethodHS256, []byte(testSecret), expired),
		"no subject":     sign(t, jwt.SigningMethodHS256, []byte(testSecret), noSubject),
		"other audience": sign(t, jwt.SigningMethodHS256, []byte(testSecret), otherAudience),
		"no expiry":      sign(t, jwt.SigningMethodHS256, []byte(testSecret), noExpiry),
	}
	a := NewJWTAuthenticator(testSecret, "authenticated")
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := a.Authenticate(context.Background(), token)
			if core.KindOf(err) != core.Unauthorized {
				t.Errorf("err = %v, want unauthorized", err)
			}
		})
	}
}

type fakeRow struct {
	owner   string
	granted *string
	err     error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.owner
	*dest[1].(**string) = r.granted
	return nil
}

type fakeDB struct {
	rows map[string]fakeRow
	args []any
}

func (db *fakeDB) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	db.args = args
	room := args[0].(string)
	if row, ok := db.rows[room]; ok {
		return row
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func ptr(s string) *string { return &s }

func TestPostgresAuthorizer(t *testing.T) {
	db := &fakeDB{rows: map[string]fakeRow{
		"owned":   {owner: "u1"},
		"shared":  {owner: "u2", granted: ptr("editor")},
		"viewing": {owner: "u2", granted: ptr("read")},
		"private": {owner: "u2"},
		"broken":  {err: errors.New("connection reset")},
		"odd":     {owner: "u2", granted: ptr("superuser")},
	}}
	a := NewPostgresAuthorizer(db, time.Second)

	cases := []struct {
		room    domain.RoomID
		want    domain.Permission
		wantErr bool
	}{
		{"owned", domain.PermissionAdmin, false},
		{"shared", domain.PermissionWrite, false},
		{"viewing", domain.PermissionRead, false},
		{"private", domain.PermissionNone, false},
		{"broken", domain.PermissionNone, true},
		{"odd", domain.PermissionNone, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.room), func(t *testing.T) {
			got, err := a.Permission(context.Background(), tc.room, "u1")
			if (err != nil) != tc.wantErr {
				t.Fatalf("err = %v", err)
			}
			if got != tc.want {
				t.Errorf("permission = %s, want %s", got, tc.want)
			}
		})
	}

	if _, err := a.Permission(context.Background(), "missing", "u1"); !errors.Is(err, core.ErrRoomNotFound) {
		t.Errorf("missing room: %v", err)
	}
	if db.args[1] != "u1" {
		t.Errorf("user arg = %v", db.args[1])
	}
}

func TestStaticAuthorizer(t *testing.T) {
	a := StaticAuthorizer{Perm: domain.PermissionRead}
	got, err := a.Permission(context.Background(), "any", "anyone")
	if err != nil || got != domain.PermissionRead {
		t.Errorf("Permission = %s, %v", got, err)
	}
}
