package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Collab/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	OverflowDropOldest = "drop_oldest"
	OverflowDisconnect = "disconnect"

	AuthModeJWT = "jwt"
	AuthModeDev = "dev"
)

type Config struct {
	Mode       string            `mapstructure:"mode"`
	Port       int               `mapstructure:"port"`
	Secret     string            `mapstructure:"secret"`
	LogLevel   string            `mapstructure:"log_level"`
	WS         WSConfig          `mapstructure:"ws"`
	Lifecycle  LifecycleConfig   `mapstructure:"lifecycle"`
	Routing    RoutingConfig     `mapstructure:"routing"`
	Auth       AuthConfig        `mapstructure:"auth"`
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
}

type WSConfig struct {
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	PongWait     time.Duration `mapstructure:"pong_wait"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendQueue    int           `mapstructure:"send_queue"`
	Overflow     string        `mapstructure:"overflow"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
}

type LifecycleConfig struct {
	HeartbeatTimeout time.Duration `mapstructure:"heartbeat_timeout"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	ShutdownGrace    time.Duration `mapstructure:"shutdown_grace"`
}

type RoutingConfig struct {
	IncludeSender bool `mapstructure:"include_sender"`
}

type AuthConfig struct {
	Mode              string        `mapstructure:"mode"`
	JWTSecret         string        `mapstructure:"jwt_secret"`
	Audience          string        `mapstructure:"audience"`
	DatabaseURL       string        `mapstructure:"database_url"`
	LookupTimeout     time.Duration `mapstructure:"lookup_timeout"`
	DefaultPermission string        `mapstructure:"default_permission"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("ws.read_limit", 32768)
	v.SetDefault("ws.ping_period", "54s")
	v.SetDefault("ws.pong_wait", "60s")
	v.SetDefault("ws.write_wait", "5s")
	v.SetDefault("ws.send_queue", 64)
	v.SetDefault("ws.overflow", OverflowDropOldest)
	v.SetDefault("ws.rate_limit", 50)
	v.SetDefault("ws.rate_interval", "1s")

	v.SetDefault("lifecycle.heartbeat_timeout", "30s")
	v.SetDefault("lifecycle.sweep_interval", "5s")
	v.SetDefault("lifecycle.shutdown_grace", "10s")

	v.SetDefault("routing.include_sender", false)

	v.SetDefault("auth.mode", AuthModeDev)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.database_url", "")
	v.SetDefault("auth.lookup_timeout", "3s")
	v.SetDefault("auth.default_permission", "write")

	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of the
// defaults. COLLAB_* variables override both, e.g. COLLAB_WS_SEND_QUEUE.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("collab")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", fileName, err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("auth", cfg.Auth.Mode).Str("overflow", cfg.WS.Overflow).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	switch c.WS.Overflow {
	case OverflowDropOldest, OverflowDisconnect:
	default:
		errs = append(errs, fmt.Errorf("ws.overflow %q must be %s or %s", c.WS.Overflow, OverflowDropOldest, OverflowDisconnect))
	}
	if c.WS.SendQueue <= 0 {
		errs = append(errs, errors.New("ws.send_queue must be positive"))
	}
	if c.WS.ReadLimit <= 0 {
		errs = append(errs, errors.New("ws.read_limit must be positive"))
	}
	if c.WS.PingPeriod <= 0 || c.WS.PongWait <= c.WS.PingPeriod {
		errs = append(errs, fmt.Errorf("ws.pong_wait (%s) must exceed ws.ping_period (%s)", c.WS.PongWait, c.WS.PingPeriod))
	}
	if c.WS.RateLimit <= 0 || c.WS.RateInterval <= 0 {
		errs = append(errs, errors.New("ws.rate_limit and ws.rate_interval must be positive"))
	}

	if c.Lifecycle.HeartbeatTimeout <= 0 || c.Lifecycle.SweepInterval <= 0 {
		errs = append(errs, errors.New("lifecycle.heartbeat_timeout and lifecycle.sweep_interval must be positive"))
	}
	if c.Lifecycle.ShutdownGrace < 0 {
		errs = append(errs, errors.New("lifecycle.shutdown_grace must not be negative"))
	}

	switch c.Auth.Mode {
	case AuthModeJWT:
		if c.Auth.JWTSecret == "" {
			errs = append(errs, errors.New("auth.jwt_secret is required in jwt mode"))
		}
	case AuthModeDev:
		if c.Secret == "" {
			errs = append(errs, errors.New("secret is required in dev mode to sign session cookies"))
		}
	default:
		errs = append(errs, fmt.Errorf("auth.mode %q must be %s or %s", c.Auth.Mode, AuthModeJWT, AuthModeDev))
	}
	if _, err := domain.ParsePermission(c.Auth.DefaultPermission); err != nil {
		errs = append(errs, fmt.Errorf("auth.default_permission: %w", err))
	}

	for i, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			errs = append(errs, fmt.Errorf("ice_servers[%d] has no urls", i))
		}
	}
	return errors.Join(errs...)
}
