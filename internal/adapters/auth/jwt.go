package auth

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

// SupabaseClaims is the subset of a Supabase access token we read.
type SupabaseClaims struct {
	Email        string       `json:"email,omitempty"`
	Role         string       `json:"role,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

type UserMetadata struct {
	Name     string `json:"name,omitempty"`
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// JWTAuthenticator verifies HS256 access tokens signed with the project secret.
type JWTAuthenticator struct {
	secret   []byte
	audience string
}

func NewJWTAuthenticator(secret, audience string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret), audience: audience}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, core.Errorf(core.Unauthorized, "missing token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}

	claims := &SupabaseClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		log.Warn().Err(err).Str("module", "adapters.auth").Msg("invalid token")
		return nil, core.Wrap(core.Unauthorized, "invalid token", err)
	}
	if claims.Subject == "" {
		return nil, core.Errorf(core.Unauthorized, "token has no subject")
	}

	user, err := domain.NewUser(claims.Subject, displayName(claims))
	if err != nil {
		return nil, core.Wrap(core.Unauthorized, "bad identity", err)
	}
	return user, nil
}

func displayName(c *SupabaseClaims) string {
	name := c.UserMetadata.Username
	if name == "" {
		name = c.UserMetadata.Name
	}
	if name == "" {
		name = c.UserMetadata.FullName
	}
	if name == "" && c.Email != "" {
		name, _, _ = strings.Cut(c.Email, "@")
	}
	return truncate(name, domain.MaxUsernameLen)
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	for len(s) > limit {
		_, size := utf8.DecodeLastRuneInString(s)
		s = s[:len(s)-size]
	}
	return s
}
