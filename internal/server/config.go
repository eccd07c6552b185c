// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the room relay.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/rooms"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port              string
	AllowedOrigins    []string
	MaxMessageSize    int64
	RateLimit         RateLimitConfig
	MaxRoomSize       int
	OutboxSize        int
	MaxUsernameLength int
	ReapInterval      time.Duration
	EmptyRoomGrace    time.Duration
	ShutdownTimeout   time.Duration
	LogLevel          string
	LogFormat         string
}

const (
	defaultPort              = ":8080"
	defaultMaxMessageSize    = 4096
	defaultRateBurst         = 5
	defaultRefillInterval    = time.Second
	defaultOutboxSize        = 256
	defaultMaxUsernameLength = 32
	defaultShutdownTimeout   = 10 * time.Second
)

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateBurst,
			RefillInterval: defaultRefillInterval,
		},
		MaxRoomSize:       rooms.MaxRoomSize,
		OutboxSize:        defaultOutboxSize,
		MaxUsernameLength: defaultMaxUsernameLength,
		ReapInterval:      rooms.DefaultReapInterval,
		EmptyRoomGrace:    0,
		ShutdownTimeout:   defaultShutdownTimeout,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize returns a copy of the configuration with invalid values replaced
// by defaults and origins normalized.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.MaxRoomSize <= 0 {
		c.MaxRoomSize = def.MaxRoomSize
	}
	if c.OutboxSize <= 0 {
		c.OutboxSize = def.OutboxSize
	}
	if c.MaxUsernameLength <= 0 {
		c.MaxUsernameLength = def.MaxUsernameLength
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = def.ReapInterval
	}
	if c.EmptyRoomGrace < 0 {
		c.EmptyRoomGrace = 0
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = normalizePort(port)
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseDuration(interval, cfg.RateLimit.RefillInterval)
	}

	if size := os.Getenv("MAX_ROOM_SIZE"); size != "" {
		cfg.MaxRoomSize = parseIntValue(size, cfg.MaxRoomSize)
	}

	if size := os.Getenv("OUTBOX_SIZE"); size != "" {
		cfg.OutboxSize = parseIntValue(size, cfg.OutboxSize)
	}

	if length := os.Getenv("MAX_USERNAME_LENGTH"); length != "" {
		cfg.MaxUsernameLength = parseIntValue(length, cfg.MaxUsernameLength)
	}

	if interval := os.Getenv("REAP_INTERVAL"); interval != "" {
		cfg.ReapInterval = parseDuration(interval, cfg.ReapInterval)
	}

	if grace := os.Getenv("EMPTY_ROOM_GRACE"); grace != "" {
		cfg.EmptyRoomGrace = parseGrace(grace, cfg.EmptyRoomGrace)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(level))
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(format))
	}

	return &cfg
}

// normalizePort accepts "8080" as well as ":8080" or "host:8080".
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port != "" && !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("90s") or a bare number of seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// parseGrace is parseDuration that also accepts zero.
func parseGrace(value string, defaultValue time.Duration) time.Duration {
	if value == "0" {
		return 0
	}
	if d, err := time.ParseDuration(value); err == nil && d == 0 {
		return 0
	}
	return parseDuration(value, defaultValue)
}
