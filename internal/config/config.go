// Package config loads service configuration in layers: built-in defaults,
// an optional YAML file, then NETCREW_* environment variables. A .env file
// in the working directory is read into the environment first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix = "NETCREW_"
	// PathEnvVar overrides the config file location.
	PathEnvVar = "NETCREW_CONFIG"
)

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{"netcrew.yaml", "netcrew.yml", "/etc/netcrew/config.yaml"}

type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	PG        PGConfig        `koanf:"pg"`
	Redis     RedisConfig     `koanf:"redis"`
	Session   SessionConfig   `koanf:"session"`
	TOTP      TOTPConfig      `koanf:"totp"`
	App       AppConfig       `koanf:"app"`
	SMTP      SMTPConfig      `koanf:"smtp"`
	Log       LogConfig       `koanf:"log"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	CORS      CORSConfig      `koanf:"cors"`
	Tasks     TasksConfig     `koanf:"tasks"`
	Password  PasswordConfig  `koanf:"password"`
}

type HTTPConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

// PGConfig selects the postgres store. An empty DSN runs on the in-memory store.
type PGConfig struct {
	DSN          string `koanf:"dsn"`
	MaxOpenConns int    `koanf:"max_open_conns"`
}

// RedisConfig selects the redis cache. An empty Addr uses go-cache in process.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Prefix   string `koanf:"prefix"`
}

type SessionConfig struct {
	Secret       string        `koanf:"secret"`
	TTL          time.Duration `koanf:"ttl"`
	CookieName   string        `koanf:"cookie_name"`
	CookieSecure bool          `koanf:"cookie_secure"`
}

type TOTPConfig struct {
	// Key encrypts stored TOTP secrets: 64 hex chars, base64 of 32 bytes,
	// or any passphrase.
	Key    string `koanf:"key"`
	Issuer string `koanf:"issuer"`
}

type AppConfig struct {
	BaseURL string `koanf:"base_url"`
}

// SMTPConfig configures outgoing mail. An empty Host logs messages instead.
type SMTPConfig struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	TLSMode  string `koanf:"tls_mode"`
}

type LogConfig struct {
	Env   string `koanf:"env"`
	Level string `koanf:"level"`
}

type RateLimitConfig struct {
	RPS   float64 `koanf:"rps"`
	Burst int     `koanf:"burst"`
}

type CORSConfig struct {
	Origins []string `koanf:"origins"`
}

type TasksConfig struct {
	Workers int `koanf:"workers"`
	Buffer  int `koanf:"buffer"`
}

type PasswordConfig struct {
	BlacklistPath string `koanf:"blacklist_path"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		PG:      PGConfig{MaxOpenConns: 10},
		Redis:   RedisConfig{Prefix: "netcrew"},
		Session: SessionConfig{TTL: 7 * 24 * time.Hour, CookieName: "netcrew_session", CookieSecure: true},
		TOTP:    TOTPConfig{Issuer: "netcrew"},
		App:     AppConfig{BaseURL: "http://localhost:3000"},
		SMTP:    SMTPConfig{Port: 587, From: "netcrew <no-reply@netcrew.io>", TLSMode: "auto"},
		Log:     LogConfig{Env: "prod", Level: "info"},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Tasks: TasksConfig{Workers: 4, Buffer: 256},
	}
}

// Load reads the layered configuration and validates it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(findConfigFile())
}

func load(path string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}
	if err := splitList(k, "cors.origins"); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envKey maps NETCREW_SESSION_COOKIE_NAME to session.cookie_name: the first
// segment names the section.
func envKey(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if key == "config" {
		return ""
	}
	return strings.Replace(key, "_", ".", 1)
}

// splitList turns a comma separated env value into a list.
func splitList(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if err := k.Set(path, out); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Validate fails fast on missing secrets and nonsensical limits.
func (c Config) Validate() error {
	var errs []error
	if len(strings.TrimSpace(c.Session.Secret)) < 32 {
		errs = append(errs, errors.New("session.secret must be at least 32 characters"))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session.ttl must be positive"))
	}
	if strings.TrimSpace(c.Session.CookieName) == "" {
		errs = append(errs, errors.New("session.cookie_name is required"))
	}
	if strings.TrimSpace(c.TOTP.Key) == "" {
		errs = append(errs, errors.New("totp.key is required"))
	}
	if strings.TrimSpace(c.App.BaseURL) == "" {
		errs = append(errs, errors.New("app.base_url is required"))
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("ratelimit values must not be negative"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("smtp.from is required when smtp.host is set"))
	}
	switch c.Log.Env {
	case "dev", "prod":
	default:
		errs = append(errs, fmt.Errorf("log.env must be dev or prod, got %q", c.Log.Env))
	}
	return errors.Join(errs...)
}
