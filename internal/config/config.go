// Package config loads process configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration required by the API process.
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	Call      CallConfig
	WebSocket WebSocketConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
}

type AppConfig struct {
	Env  string
	Port int
	// LogLevel overrides the env-derived level (debug, info, warn, error).
	LogLevel string
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
}

type CallConfig struct {
	RingTimeout  time.Duration
	ConnectDelay time.Duration
	// RejectBusy refuses a call when either party is already in a live call.
	RejectBusy bool
}

type WebSocketConfig struct {
	MaxMessageBytes   int64
	MessagesPerSecond int
	PingInterval      time.Duration
	PongWait          time.Duration
	WriteTimeout      time.Duration
	SendQueue         int
	AllowedOrigins    []string
	// MaxConnsPerIP caps concurrent sockets per client IP in Redis. Zero disables it.
	MaxConnsPerIP int
}

// DBConfig is optional. When Host is empty call history stays in memory.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
	Migrate bool
}

// RedisConfig is optional. When Host is empty the presence mirror and the
// per-IP connection cap are off.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig is optional. When JWTSecret is empty the admin API is not mounted.
type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// Load reads .env (if present) and the environment, applies defaults and
// validates the result. Env vars override .env.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // a missing .env is fine
	v.AutomaticEnv()
	setDefaults(v)

	c := fromViper(v)
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "local")
	v.SetDefault("APP_PORT", 3001)
	v.SetDefault("APP_SHUTDOWN_TIMEOUT", "10s")

	v.SetDefault("CALL_RING_TIMEOUT", "30s")
	v.SetDefault("CALL_CONNECT_DELAY", "2s")
	v.SetDefault("CALL_REJECT_BUSY", true)

	v.SetDefault("WS_MAX_MESSAGE_BYTES", 64<<10)
	v.SetDefault("WS_MESSAGES_PER_SECOND", 50)
	v.SetDefault("WS_PING_INTERVAL", "25s")
	v.SetDefault("WS_PONG_WAIT", "60s")
	v.SetDefault("WS_WRITE_TIMEOUT", "5s")
	v.SetDefault("WS_SEND_QUEUE", 64)
	v.SetDefault("WS_ALLOWED_ORIGINS", "")
	v.SetDefault("WS_MAX_CONNS_PER_IP", 0)

	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_MIGRATE", true)
	v.SetDefault("REDIS_PORT", 6379)

	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h")
}

func fromViper(v *viper.Viper) Config {
	var c Config

	c.App.Env = strings.TrimSpace(v.GetString("APP_ENV"))
	c.App.Port = v.GetInt("APP_PORT")
	c.App.LogLevel = strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL")))
	c.App.ShutdownTimeout = v.GetDuration("APP_SHUTDOWN_TIMEOUT")

	c.Call.RingTimeout = v.GetDuration("CALL_RING_TIMEOUT")
	c.Call.ConnectDelay = v.GetDuration("CALL_CONNECT_DELAY")
	c.Call.RejectBusy = v.GetBool("CALL_REJECT_BUSY")

	c.WebSocket.MaxMessageBytes = v.GetInt64("WS_MAX_MESSAGE_BYTES")
	c.WebSocket.MessagesPerSecond = v.GetInt("WS_MESSAGES_PER_SECOND")
	c.WebSocket.PingInterval = v.GetDuration("WS_PING_INTERVAL")
	c.WebSocket.PongWait = v.GetDuration("WS_PONG_WAIT")
	c.WebSocket.WriteTimeout = v.GetDuration("WS_WRITE_TIMEOUT")
	c.WebSocket.SendQueue = v.GetInt("WS_SEND_QUEUE")
	c.WebSocket.AllowedOrigins = splitList(v.GetString("WS_ALLOWED_ORIGINS"))
	c.WebSocket.MaxConnsPerIP = v.GetInt("WS_MAX_CONNS_PER_IP")

	c.DB.Host = strings.TrimSpace(v.GetString("DB_HOST"))
	c.DB.Port = v.GetInt("DB_PORT")
	c.DB.User = strings.TrimSpace(v.GetString("DB_USER"))
	c.DB.Password = v.GetString("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(v.GetString("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(v.GetString("DB_SSLMODE"))
	c.DB.Migrate = v.GetBool("DB_MIGRATE")

	c.Redis.Host = strings.TrimSpace(v.GetString("REDIS_HOST"))
	c.Redis.Port = v.GetInt("REDIS_PORT")
	c.Redis.Password = v.GetString("REDIS_PASSWORD")
	c.Redis.DB = v.GetInt("REDIS_DB")

	c.Auth.JWTSecret = v.GetString("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(v.GetString("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(v.GetString("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL = v.GetDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = v.GetDuration("JWT_REFRESH_TTL")

	return c
}

// Validate fills local-friendly defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}
	if c.App.LogLevel != "" && !isValidLogLevel(c.App.LogLevel) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.App.LogLevel))
	}
	if c.App.ShutdownTimeout <= 0 {
		c.App.ShutdownTimeout = 10 * time.Second
	}

	if c.Call.RingTimeout <= 0 {
		errs = append(errs, errors.New("CALL_RING_TIMEOUT must be a positive duration"))
	}
	if c.Call.ConnectDelay < 0 {
		errs = append(errs, errors.New("CALL_CONNECT_DELAY must not be negative"))
	}
	if c.Call.RingTimeout > 0 && c.Call.ConnectDelay >= c.Call.RingTimeout {
		errs = append(errs, errors.New("CALL_CONNECT_DELAY must be shorter than CALL_RING_TIMEOUT"))
	}

	if c.WebSocket.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("WS_MAX_MESSAGE_BYTES must be positive"))
	}
	if c.WebSocket.MessagesPerSecond <= 0 {
		errs = append(errs, errors.New("WS_MESSAGES_PER_SECOND must be positive"))
	}
	if c.WebSocket.PongWait <= 0 {
		errs = append(errs, errors.New("WS_PONG_WAIT must be a positive duration"))
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		errs = append(errs, errors.New("WS_PING_INTERVAL must be positive and shorter than WS_PONG_WAIT"))
	}
	if c.WebSocket.WriteTimeout <= 0 {
		errs = append(errs, errors.New("WS_WRITE_TIMEOUT must be a positive duration"))
	}
	if c.WebSocket.SendQueue <= 0 {
		errs = append(errs, errors.New("WS_SEND_QUEUE must be positive"))
	}
	if c.WebSocket.MaxConnsPerIP < 0 {
		errs = append(errs, errors.New("WS_MAX_CONNS_PER_IP must not be negative"))
	}
	if c.WebSocket.MaxConnsPerIP > 0 && !c.RedisEnabled() {
		errs = append(errs, errors.New("WS_MAX_CONNS_PER_IP requires REDIS_HOST"))
	}

	if c.DatabaseEnabled() {
		if c.DB.Port <= 0 || c.DB.Port > 65535 {
			errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
		}
		if c.DB.User == "" {
			errs = append(errs, errors.New("DB_USER is required when DB_HOST is set"))
		}
		if c.DB.Name == "" {
			errs = append(errs, errors.New("DB_NAME is required when DB_HOST is set"))
		}
		if c.DB.SSLMode == "" {
			if c.IsProduction() {
				errs = append(errs, errors.New("DB_SSLMODE is required in production"))
			} else {
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
	}

	if c.RedisEnabled() && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.AuthEnabled() {
		if c.IsProduction() {
			if len(c.Auth.JWTSecret) < 32 {
				errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes in production"))
			}
			if c.Auth.JWTIssuer == "" {
				errs = append(errs, errors.New("JWT_ISSUER is required in production"))
			}
			if c.Auth.JWTAudience == "" {
				errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
			}
		}
		if c.Auth.AccessTokenTTL <= 0 {
			c.Auth.AccessTokenTTL = 15 * time.Minute
		}
		if c.Auth.RefreshTokenTTL <= 0 {
			c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
		}
		if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
			errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
		}
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

// IsDevelopment reports whether dev-only routes (token issuing) may be mounted.
func (c Config) IsDevelopment() bool {
	return c.App.Env == "local" || c.App.Env == "dev"
}

func (c Config) DatabaseEnabled() bool { return c.DB.Host != "" }
func (c Config) RedisEnabled() bool    { return c.Redis.Host != "" }
func (c Config) AuthEnabled() bool     { return c.Auth.JWTSecret != "" }

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

// PostgresURL is the URL form golang-migrate expects. Also secret.
func (c Config) PostgresURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     "/" + c.DB.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.DB.SSLMode),
	}
	return u.String()
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidLogLevel(v string) bool {
	switch v {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
