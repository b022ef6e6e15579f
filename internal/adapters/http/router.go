package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/Collab/internal/adapters/signal"
	"github.com/dkeye/Collab/internal/app/orch"
	"github.com/dkeye/Collab/internal/config"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	sessionName     = "CollabSessions"
	sessionUserKey  = "client_token"
	supabaseCookie  = "sb-access-token"
	tokenQueryParam = "token"
)

// DevIdentityMiddleware gives every browser a stable anonymous identity kept
// in the signed session cookie.
func DevIdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, _ := session.Get(sessionUserKey).(string)
		if id == "" {
			id = string(domain.NewGuest().ID)
			session.Set(sessionUserKey, id)
			if err := session.Save(); err != nil {
				log.Error().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		user, err := domain.NewUser(id, c.Query("name"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Set(signal.UserKey, user)
		c.Next()
	}
}

// TokenIdentityMiddleware authenticates the access token carried by the request.
func TokenIdentityMiddleware(authn core.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := authn.Authenticate(c.Request.Context(), bearerToken(c))
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("authentication failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": core.MessageOf(err)})
			return
		}
		c.Set(signal.UserKey, user)
		c.Next()
	}
}

// bearerToken looks in the Authorization header, then ?token=, then the
// Supabase cookie. Browsers cannot set headers on a websocket upgrade.
func bearerToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if token := c.Query(tokenQueryParam); token != "" {
		return token
	}
	token, _ := c.Cookie(supabaseCookie)
	return token
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctrl *signal.SignalWSController, authn core.Authenticator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	var identity gin.HandlerFunc
	if cfg.Auth.Mode == config.AuthModeJWT {
		identity = TokenIdentityMiddleware(authn)
	} else {
		store := cookie.NewStore([]byte(cfg.Secret))
		store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
		r.Use(sessions.Sessions(sessionName, store))
		identity = DevIdentityMiddleware()
	}

	log.Info().Str("module", "adapters.http").Str("auth", cfg.Auth.Mode).Msg("router setup")

	api := r.Group("/api")

	api.GET("/ws", identity, func(c *gin.Context) {
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"rooms": o.Rooms.List()})
	})

	api.GET("/healthz", func(c *gin.Context) {
		status, code := "ok", http.StatusOK
		if o.Draining() {
			status, code = "draining", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":      status,
			"connections": o.Registry.Len(),
			"draining":    o.Draining(),
		})
	})

	return r
}
