// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the chat service.
package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/store"
	"github.com/Tyrowin/roomchat/internal/upload"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `mapstructure:"burst"`
	RefillInterval time.Duration `mapstructure:"refill_interval"`
}

// Config holds the transport settings including security controls.
type Config struct {
	Port           string          `mapstructure:"port"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	MaxMessageSize int64           `mapstructure:"max_message_size"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	PongWait       time.Duration   `mapstructure:"pong_wait"`
	PingPeriod     time.Duration   `mapstructure:"ping_period"`
	WriteWait      time.Duration   `mapstructure:"write_wait"`
	SendBufferSize int             `mapstructure:"send_buffer_size"`
}

// StoreConfig selects the durable store and bounds the fallback.
type StoreConfig struct {
	Enabled          bool                 `mapstructure:"enabled"`
	Database         store.DatabaseConfig `mapstructure:",squash"`
	OperationTimeout time.Duration        `mapstructure:"operation_timeout"`
	BufferSize       int                  `mapstructure:"buffer_size"`
}

// RoomsConfig lists the rooms created at startup.
type RoomsConfig struct {
	Defaults []chat.RoomSeed `mapstructure:"defaults"`
}

// AppConfig is the whole process configuration.
type AppConfig struct {
	Server Config         `mapstructure:"server"`
	Store  StoreConfig    `mapstructure:"store"`
	Upload upload.Config  `mapstructure:"upload"`
	Rooms  RoomsConfig    `mapstructure:"rooms"`
	Log    logging.Config `mapstructure:"log"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		SendBufferSize: 256,
	}
}

func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}

	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingPeriod <= 0 || cfg.PingPeriod >= cfg.PongWait {
		cfg.PingPeriod = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func setDefaults(v *viper.Viper) {
	def := defaultConfig()
	v.SetDefault("server.port", def.Port)
	v.SetDefault("server.allowed_origins", def.AllowedOrigins)
	v.SetDefault("server.max_message_size", def.MaxMessageSize)
	v.SetDefault("server.rate_limit.burst", def.RateLimit.Burst)
	v.SetDefault("server.rate_limit.refill_interval", def.RateLimit.RefillInterval.String())
	v.SetDefault("server.pong_wait", def.PongWait.String())
	v.SetDefault("server.ping_period", def.PingPeriod.String())
	v.SetDefault("server.write_wait", def.WriteWait.String())
	v.SetDefault("server.send_buffer_size", def.SendBufferSize)

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.user", "")
	v.SetDefault("store.password", "")
	v.SetDefault("store.dbname", "roomchat")
	v.SetDefault("store.sslmode", "disable")
	v.SetDefault("store.file_path", "roomchat.db")
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.max_open_conns", 20)
	v.SetDefault("store.conn_max_lifetime", "30m")
	v.SetDefault("store.operation_timeout", store.DefaultOperationTimeout.String())
	v.SetDefault("store.buffer_size", store.DefaultBufferSize)

	v.SetDefault("upload.backend", "local")
	v.SetDefault("upload.max_size", upload.DefaultMaxSize)
	v.SetDefault("upload.allowed_extensions", upload.DefaultAllowedExtensions())
	v.SetDefault("upload.url_expiry", "24h")
	v.SetDefault("upload.local.base_path", "uploads")
	v.SetDefault("upload.local.public_prefix", "/uploads")
	v.SetDefault("upload.s3.region", "us-east-1")

	seeds := chat.DefaultRoomSeeds()
	defaults := make([]map[string]interface{}, 0, len(seeds))
	for _, s := range seeds {
		defaults = append(defaults, map[string]interface{}{"name": s.Name, "description": s.Description})
	}
	v.SetDefault("rooms.defaults", defaults)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "roomchat")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")
	_ = v.BindEnv("server.max_message_size", "MAX_MESSAGE_SIZE")
	_ = v.BindEnv("server.rate_limit.burst", "RATE_LIMIT_BURST")
	_ = v.BindEnv("server.rate_limit.refill_interval", "RATE_LIMIT_REFILL_INTERVAL")
	_ = v.BindEnv("store.enabled", "DATABASE_ENABLED")
	_ = v.BindEnv("store.driver", "DATABASE_DRIVER")
	_ = v.BindEnv("store.dsn", "DATABASE_DSN")
	_ = v.BindEnv("upload.backend", "UPLOAD_BACKEND")
	_ = v.BindEnv("upload.s3.bucket", "S3_BUCKET")
	_ = v.BindEnv("upload.s3.endpoint", "S3_ENDPOINT")
	_ = v.BindEnv("upload.s3.access_key_id", "S3_ACCESS_KEY_ID")
	_ = v.BindEnv("upload.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
}

// secondsKeys accept a bare integer number of seconds for compatibility with
// older deployments.
var secondsKeys = []string{"server.rate_limit.refill_interval"}

// Load reads config.yaml from path (optional) and the environment. The server
// section becomes the active transport configuration.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	for _, key := range secondsKeys {
		if n, err := strconv.Atoi(strings.TrimSpace(v.GetString(key))); err == nil && n > 0 {
			v.Set(key, (time.Duration(n) * time.Second).String())
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Server = sanitizeConfig(cfg.Server)
	if len(cfg.Rooms.Defaults) == 0 {
		cfg.Rooms.Defaults = chat.DefaultRoomSeeds()
	}
	if cfg.Store.OperationTimeout <= 0 {
		cfg.Store.OperationTimeout = store.DefaultOperationTimeout
	}
	if cfg.Store.BufferSize <= 0 {
		cfg.Store.BufferSize = store.DefaultBufferSize
	}
	return &cfg, nil
}
