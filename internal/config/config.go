// Package config loads the server configuration from the environment.
package config

import (
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the runtime settings. Every field maps to a CHAT_-prefixed
// environment variable, e.g. DatabaseDSN is CHAT_DATABASE_DSN.
type Config struct {
	Addr string `envconfig:"ADDR" default:":8080"`

	// DatabaseDSN selects the PostgreSQL store; empty keeps chats in memory.
	DatabaseDSN string `envconfig:"DATABASE_DSN"`

	// RedisAddr enables cross-instance fan-out; empty means this instance only.
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// JWTSecret enables verified identities on both surfaces.
	JWTSecret string `envconfig:"JWT_SECRET"`

	SendBuffer     int      `envconfig:"SEND_BUFFER" default:"256"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Error loading .env file")
	}

	var cfg Config
	if err := envconfig.Process("chat", &cfg); err != nil {
		return nil, err
	}
	cfg.sanitize()
	return &cfg, nil
}

func (c *Config) sanitize() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	origins := c.AllowedOrigins[:0]
	for _, o := range c.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			origins = append(origins, o)
		}
	}
	c.AllowedOrigins = origins
}

// OriginAllowed reports whether a websocket Origin header is accepted.
// An empty allow-list or a "*" entry accepts any origin.
func (c *Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}
