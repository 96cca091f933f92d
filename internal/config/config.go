// Package config loads pairchat server configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vovakirdan/pairchat/internal/log"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Log       log.Config      `mapstructure:"log"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Token, when set, is required as a bearer token by the api and in the
	// relay hello.
	Token string `mapstructure:"token"`
	// JWTSecret switches auth to HS256 tokens bound to a user. It wins over
	// Token.
	JWTSecret string `mapstructure:"jwt_secret"`

	// CORSOrigins lists browser origins allowed to call the api.
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StoreConfig struct {
	Backend string `mapstructure:"backend"` // memory or redis
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	HelloTimeout    time.Duration `mapstructure:"hello_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.token", "")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("store.backend", "memory")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "pairchat")
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 64*1024)
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.hello_timeout", "10s")
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

// Load reads the YAML file at path, if any, on top of the defaults.
// Environment variables override both: PAIRCHAT_SERVER_PORT sets
// server.port, and the bare PORT, REDIS_ADDRESS and REDIS_PASSWORD are
// honored for container deployments, as is JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("pairchat")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "PAIRCHAT_SERVER_PORT", "PORT")
	_ = v.BindEnv("redis.address", "PAIRCHAT_REDIS_ADDRESS", "REDIS_ADDRESS")
	_ = v.BindEnv("redis.password", "PAIRCHAT_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("server.jwt_secret", "PAIRCHAT_SERVER_JWT_SECRET", "JWT_SECRET")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.WebSocket.PingInterval >= c.WebSocket.PongWait {
		return errors.New("websocket.ping_interval must be shorter than websocket.pong_wait")
	}
	return nil
}
