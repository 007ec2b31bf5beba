// Package config provides Viper-based configuration loading for the game server.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP server.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// RedisConfig points at the Redis instance backing the leaderboard. An empty
// URL disables Redis.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

func (r RedisConfig) Enabled() bool { return r.URL != "" }

// StatsConfig configures delivery of finished-game results.
type StatsConfig struct {
	// URL is the statistics endpoint receiving one POST per player and game.
	// Empty disables the HTTP reporter.
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Buffer is the number of reports queued before new ones are dropped.
	Buffer int `mapstructure:"buffer"`
}

type MatchmakingConfig struct {
	// DuplicatePolicy is "reject" or "replace".
	DuplicatePolicy string `mapstructure:"duplicate_policy"`
}

type GameConfig struct {
	// RematchPolicy is "keep" or "swap".
	RematchPolicy string `mapstructure:"rematch_policy"`
	// LeaderboardSize is the default number of leaderboard entries returned.
	LeaderboardSize int `mapstructure:"leaderboard_size"`
}

type RoomsConfig struct {
	// AllowCreate lets the game channel open rooms that do not exist yet.
	AllowCreate bool `mapstructure:"allow_create"`
	// ReconnectGrace is how long a matched player's seat survives the close
	// of its matchmaking connection.
	ReconnectGrace time.Duration `mapstructure:"reconnect_grace"`
}

// WebsocketConfig tunes the per-connection pumps.
type WebsocketConfig struct {
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Config is the top-level application configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Stats       StatsConfig       `mapstructure:"stats"`
	Matchmaking MatchmakingConfig `mapstructure:"matchmaking"`
	Game        GameConfig        `mapstructure:"game"`
	Rooms       RoomsConfig       `mapstructure:"rooms"`
	Websocket   WebsocketConfig   `mapstructure:"websocket"`
	CORS        CORSConfig        `mapstructure:"cors"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string
	for _, check := range []func() []string{
		c.validateServer,
		c.validateLogging,
		c.validateStats,
		c.validatePolicies,
		c.validateWebsocket,
	} {
		errs = append(errs, check()...)
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) validateServer() []string {
	var errs []string
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, "server.shutdown_timeout must not be negative")
	}
	return errs
}

func (c Config) validateLogging() []string {
	var errs []string
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of [debug, info, warn, error], got %q", c.Logging.Level))
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format must be one of [json, console], got %q", c.Logging.Format))
	}
	return errs
}

func (c Config) validateStats() []string {
	var errs []string
	if c.Stats.URL != "" {
		u, err := url.Parse(c.Stats.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Sprintf("stats.url must be an absolute http(s) URL, got %q", c.Stats.URL))
		}
	}
	if c.Stats.Timeout <= 0 {
		errs = append(errs, "stats.timeout must be positive")
	}
	if c.Stats.Buffer < 1 {
		errs = append(errs, fmt.Sprintf("stats.buffer must be >= 1, got %d", c.Stats.Buffer))
	}
	return errs
}

func (c Config) validatePolicies() []string {
	var errs []string
	switch c.Matchmaking.DuplicatePolicy {
	case "reject", "replace":
	default:
		errs = append(errs, fmt.Sprintf("matchmaking.duplicate_policy must be one of [reject, replace], got %q", c.Matchmaking.DuplicatePolicy))
	}
	switch c.Game.RematchPolicy {
	case "keep", "swap":
	default:
		errs = append(errs, fmt.Sprintf("game.rematch_policy must be one of [keep, swap], got %q", c.Game.RematchPolicy))
	}
	if c.Game.LeaderboardSize < 1 {
		errs = append(errs, fmt.Sprintf("game.leaderboard_size must be >= 1, got %d", c.Game.LeaderboardSize))
	}
	if c.Rooms.ReconnectGrace <= 0 {
		errs = append(errs, "rooms.reconnect_grace must be positive")
	}
	return errs
}

func (c Config) validateWebsocket() []string {
	var errs []string
	w := c.Websocket
	if w.PongWait <= 0 || w.WriteWait <= 0 || w.PingPeriod <= 0 {
		errs = append(errs, "websocket timeouts must be positive")
	} else if w.PingPeriod >= w.PongWait {
		errs = append(errs, fmt.Sprintf("websocket.ping_period (%s) must be shorter than websocket.pong_wait (%s)", w.PingPeriod, w.PongWait))
	}
	if w.MaxMessageSize < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_size must be >= 1, got %d", w.MaxMessageSize))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	return errs
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result. An empty path uses defaults
// and the environment only.
//
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()

	// Environment variable overrides with TICTACTOE_ prefix
	v.SetEnvPrefix("TICTACTOE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Deployment platforms set these unprefixed.
	if err := v.BindEnv("server.port", "TICTACTOE_SERVER_PORT", "PORT"); err != nil {
		return Config{}, fmt.Errorf("binding server.port: %w", err)
	}
	if err := v.BindEnv("redis.url", "TICTACTOE_REDIS_URL", "REDIS_URL"); err != nil {
		return Config{}, fmt.Errorf("binding redis.url: %w", err)
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}
	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.url", "")

	v.SetDefault("stats.url", "")
	v.SetDefault("stats.timeout", "5s")
	v.SetDefault("stats.buffer", 64)

	v.SetDefault("matchmaking.duplicate_policy", "reject")

	v.SetDefault("game.rematch_policy", "keep")
	v.SetDefault("game.leaderboard_size", 10)

	v.SetDefault("rooms.allow_create", true)
	v.SetDefault("rooms.reconnect_grace", "10s")

	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)

	v.SetDefault("cors.allowed_origins", []string{"*"})
}
