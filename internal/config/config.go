package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration. Precedence when loading:
// file > environment > defaults.
type Config struct {
	HTTP     *HTTPConfig     `json:"http"`
	Database *DatabaseConfig `json:"database"`
	Redis    *RedisConfig    `json:"redis"`
	Auth     *AuthConfig     `json:"auth"`
	Chat     *ChatConfig     `json:"chat"`
}

type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// RedisConfig selects the shared fan-out and participant-count backend.
// An empty Addr switches both to their in-process implementations,
// which is correct only when a single process serves every connection.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type AuthConfig struct {
	// JWTSecret verifies connection tokens issued by the forum.
	JWTSecret string `json:"jwt_secret"`
}

type ChatConfig struct {
	// MasterKeys is the comma-separated, base64-encoded master key list,
	// primary first. Rotation: prepend a new primary, keep old keys
	// until their ciphertext has aged out.
	MasterKeys string `json:"master_keys"`

	RateLimitInterval time.Duration `json:"rate_limit_interval"`
	OperationTimeout  time.Duration `json:"operation_timeout"`
	PingInterval      time.Duration `json:"ping_interval"`
	ReadTimeout       time.Duration `json:"read_timeout"`
}

// DefaultConfig returns production defaults. JWTSecret and MasterKeys
// have no defaults and must come from the environment or a file.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Database: &DatabaseConfig{
			Path:    "./backchannel.db",
			Timeout: 30 * time.Second,
		},
		Redis: &RedisConfig{},
		Auth:  &AuthConfig{},
		Chat: &ChatConfig{
			RateLimitInterval: 200 * time.Millisecond,
			OperationTimeout:  10 * time.Second,
			PingInterval:      30 * time.Second,
			ReadTimeout:       60 * time.Second,
		},
	}
}

// Validate rejects configurations that cannot serve.
func (c *Config) Validate() error {
	if c.HTTP == nil || c.Database == nil || c.Redis == nil || c.Auth == nil || c.Chat == nil {
		return fmt.Errorf("all configuration sections are required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Chat.MasterKeys == "" {
		return fmt.Errorf("at least one master key is required")
	}
	if c.Chat.RateLimitInterval <= 0 {
		return fmt.Errorf("rate limit interval must be positive")
	}
	if c.Chat.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive")
	}
	if c.Chat.PingInterval <= 0 || c.Chat.ReadTimeout <= 0 {
		return fmt.Errorf("heartbeat intervals must be positive")
	}
	return nil
}

// LoadFromEnv overlays BACKCHANNEL_* environment variables onto the
// defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if host := os.Getenv("BACKCHANNEL_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("BACKCHANNEL_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if path := os.Getenv("BACKCHANNEL_DATABASE_PATH"); path != "" {
		config.Database.Path = path
	}
	if addr := os.Getenv("BACKCHANNEL_REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("BACKCHANNEL_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("BACKCHANNEL_REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = n
		}
	}
	if secret := os.Getenv("BACKCHANNEL_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if keys := os.Getenv("BACKCHANNEL_MASTER_KEYS"); keys != "" {
		config.Chat.MasterKeys = keys
	}
	for env, target := range map[string]*time.Duration{
		"BACKCHANNEL_HTTP_READ_TIMEOUT":    &config.HTTP.ReadTimeout,
		"BACKCHANNEL_HTTP_WRITE_TIMEOUT":   &config.HTTP.WriteTimeout,
		"BACKCHANNEL_DATABASE_TIMEOUT":     &config.Database.Timeout,
		"BACKCHANNEL_RATE_LIMIT_INTERVAL":  &config.Chat.RateLimitInterval,
		"BACKCHANNEL_OPERATION_TIMEOUT":    &config.Chat.OperationTimeout,
		"BACKCHANNEL_WS_PING_INTERVAL":     &config.Chat.PingInterval,
		"BACKCHANNEL_WS_READ_TIMEOUT":      &config.Chat.ReadTimeout,
	} {
		if value := os.Getenv(env); value != "" {
			if d, err := time.ParseDuration(value); err == nil {
				*target = d
			}
		}
	}

	return config
}

// configFile mirrors Config with string durations for JSON parsing.
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	Database *struct {
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	Redis *RedisConfig `json:"redis"`
	Auth  *AuthConfig  `json:"auth"`
	Chat  *struct {
		MasterKeys        string `json:"master_keys"`
		RateLimitInterval string `json:"rate_limit_interval"`
		OperationTimeout  string `json:"operation_timeout"`
		PingInterval      string `json:"ping_interval"`
		ReadTimeout       string `json:"read_timeout"`
	} `json:"chat"`
}

// LoadFromFile overlays a JSON config file onto the environment-loaded
// configuration and validates the result.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config := LoadFromEnv()

	if file.HTTP != nil {
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		overlayDuration(&config.HTTP.ReadTimeout, file.HTTP.ReadTimeout)
		overlayDuration(&config.HTTP.WriteTimeout, file.HTTP.WriteTimeout)
	}
	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		overlayDuration(&config.Database.Timeout, file.Database.Timeout)
	}
	if file.Redis != nil {
		config.Redis = file.Redis
	}
	if file.Auth != nil && file.Auth.JWTSecret != "" {
		config.Auth.JWTSecret = file.Auth.JWTSecret
	}
	if file.Chat != nil {
		if file.Chat.MasterKeys != "" {
			config.Chat.MasterKeys = file.Chat.MasterKeys
		}
		overlayDuration(&config.Chat.RateLimitInterval, file.Chat.RateLimitInterval)
		overlayDuration(&config.Chat.OperationTimeout, file.Chat.OperationTimeout)
		overlayDuration(&config.Chat.PingInterval, file.Chat.PingInterval)
		overlayDuration(&config.Chat.ReadTimeout, file.Chat.ReadTimeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// Load resolves configuration with file > environment > defaults
// precedence. path may be empty.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFromFile(path)
	}
	config := LoadFromEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overlayDuration(target *time.Duration, value string) {
	if value == "" {
		return
	}
	if d, err := time.ParseDuration(value); err == nil {
		*target = d
	}
}
