package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/Collab/internal/adapters/auth"
	router "github.com/dkeye/Collab/internal/adapters/http"
	"github.com/dkeye/Collab/internal/adapters/rtc"
	wssignal "github.com/dkeye/Collab/internal/adapters/signal"
	"github.com/dkeye/Collab/internal/app"
	"github.com/dkeye/Collab/internal/app/orch"
	"github.com/dkeye/Collab/internal/config"
	"github.com/dkeye/Collab/internal/core"
	"github.com/dkeye/Collab/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	authz, closeAuthz, err := authorizer(ctx, cfg.Auth)
	if err != nil {
		return err
	}
	defer closeAuthz()

	iceServers, err := rtc.ICEServers(cfg.ICEServers)
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	o := orch.New(authz, app.PolicyFor(cfg.WS.Overflow), orch.Options{
		IncludeSender: cfg.Routing.IncludeSender,
		ICEServers:    iceServers,
	})
	o.Gate.Timeout = cfg.Auth.LookupTimeout

	sup := &orch.Supervisor{
		Orch:             o,
		HeartbeatTimeout: cfg.Lifecycle.HeartbeatTimeout,
		SweepInterval:    cfg.Lifecycle.SweepInterval,
		Grace:            cfg.Lifecycle.ShutdownGrace,
	}

	ctrl := wssignal.NewSignalWSController(o,
		wssignal.NewRateLimiter(cfg.WS.RateLimit, cfg.WS.RateInterval),
		wssignal.Options{
			ReadLimit:  cfg.WS.ReadLimit,
			PingPeriod: cfg.WS.PingPeriod,
			PongWait:   cfg.WS.PongWait,
			WriteWait:  cfg.WS.WriteWait,
			SendQueue:  cfg.WS.SendQueue,
			DropOldest: cfg.WS.Overflow == config.OverflowDropOldest,
		})

	var authn core.Authenticator
	if cfg.Auth.Mode == config.AuthModeJWT {
		authn = auth.NewJWTAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Audience)
	}

	// connections outlive the signal context so they can be drained
	connCtx, stopConns := context.WithCancel(context.Background())
	defer stopConns()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(connCtx, cfg, o, ctrl, authn),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Collab server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		return nil
	})
	g.Go(func() error {
		return sup.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownGrace+5*time.Second)
		defer shutdownCancel()
		if err := sup.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("drain failed")
		}
		stopConns()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}

// authorizer picks Postgres when a database is configured and the static
// default permission otherwise.
func authorizer(ctx context.Context, cfg config.AuthConfig) (core.Authorizer, func(), error) {
	if cfg.DatabaseURL == "" {
		perm, err := domain.ParsePermission(cfg.DefaultPermission)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("module", "main").Str("permission", perm.String()).Msg("static authorizer")
		return auth.StaticAuthorizer{Perm: perm}, func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := auth.Connect(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect authorization database: %w", err)
	}
	log.Info().Str("module", "main").Msg("postgres authorizer")
	return auth.NewPostgresAuthorizer(pool, cfg.LookupTimeout), pool.Close, nil
}
