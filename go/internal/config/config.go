// Package config loads matchdesk settings from an optional YAML file overlaid
// with environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/socrefy/matchdesk/go/clients/matches_client"
	"github.com/socrefy/matchdesk/go/internal/console"
	"github.com/socrefy/matchdesk/go/internal/dbconfig"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/controlroom"
	"github.com/socrefy/matchdesk/go/internal/matchcontrol/polling"
)

const (
	DriverReverb = "reverb"
	DriverNATS   = "nats"
	DriverNone   = "none"
)

type Config struct {
	Environment string         `yaml:"environment"`
	API         APIConfig      `yaml:"api"`
	Realtime    RealtimeConfig `yaml:"realtime"`
	Polling     PollingConfig  `yaml:"polling"`
	Timeouts    TimeoutsConfig `yaml:"timeouts"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Log         LogConfig      `yaml:"log"`
}

type APIConfig struct {
	BaseURL     string        `yaml:"base_url"`
	MatchesPath string        `yaml:"matches_path"`
	BearerToken string        `yaml:"bearer_token"`
	Timeout     time.Duration `yaml:"timeout"`
}

type RealtimeConfig struct {
	Driver string       `yaml:"driver"`
	Reverb ReverbConfig `yaml:"reverb"`
	NATS   NATSConfig   `yaml:"nats"`
}

type ReverbConfig struct {
	AppKey       string `yaml:"app_key"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Scheme       string `yaml:"scheme"`
	AuthEndpoint string `yaml:"auth_endpoint"`
	CSRFURL      string `yaml:"csrf_url"`
}

type NATSConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type TimeoutsConfig struct {
	TeamTimeout time.Duration `yaml:"team_timeout"`
	// RoomIdle closes a control room nobody has used or watched for this long.
	RoomIdle time.Duration `yaml:"room_idle"`
}

type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Enabled         bool `yaml:"enabled"`
	dbconfig.Config `yaml:",inline"`
}

type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Default returns the settings used when neither file nor environment set a key.
func Default() Config {
	return Config{
		Environment: "development",
		API: APIConfig{
			BaseURL:     "https://api.socrefy.localhost",
			MatchesPath: matches_client.DefaultMatchesPath,
			Timeout:     30 * time.Second,
		},
		Realtime: RealtimeConfig{
			Driver: DriverReverb,
			Reverb: ReverbConfig{Port: 443, Scheme: "https"},
			NATS:   NATSConfig{URL: "nats://127.0.0.1:4222"},
		},
		Polling:  PollingConfig{Interval: polling.DefaultInterval},
		Timeouts: TimeoutsConfig{
			TeamTimeout: controlroom.DefaultTeamTimeout,
			RoomIdle:    console.DefaultRoomIdleTimeout,
		},
		Server:   ServerConfig{Port: "8081", AllowedOrigins: []string{"*"}},
		Database: DatabaseConfig{Config: dbconfig.Defaults()},
		Log:      LogConfig{Level: "info", Console: true},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty), then
// environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("APP_ENV", c.Environment)

	c.API.BaseURL = getEnv("API_BASE_URL", c.API.BaseURL)
	c.API.MatchesPath = getEnv("MATCHES_PATH", c.API.MatchesPath)
	c.API.BearerToken = getEnv("API_BEARER_TOKEN", c.API.BearerToken)
	c.API.Timeout = getEnvAsDuration("API_TIMEOUT", c.API.Timeout)

	c.Realtime.Driver = strings.ToLower(getEnv("REALTIME_DRIVER", c.Realtime.Driver))
	c.Realtime.Reverb.AppKey = getEnv("REVERB_APP_KEY", c.Realtime.Reverb.AppKey)
	c.Realtime.Reverb.Host = getEnv("REVERB_HOST", c.Realtime.Reverb.Host)
	c.Realtime.Reverb.Port = getEnvAsInt("REVERB_PORT", c.Realtime.Reverb.Port)
	c.Realtime.Reverb.Scheme = getEnv("REVERB_SCHEME", c.Realtime.Reverb.Scheme)
	c.Realtime.Reverb.AuthEndpoint = getEnv("ECHO_AUTH_ENDPOINT", c.Realtime.Reverb.AuthEndpoint)
	c.Realtime.Reverb.CSRFURL = getEnv("SANCTUM_CSRF_URL", c.Realtime.Reverb.CSRFURL)
	c.Realtime.NATS.URL = getEnv("NATS_URL", c.Realtime.NATS.URL)
	c.Realtime.NATS.Token = getEnv("NATS_TOKEN", c.Realtime.NATS.Token)

	c.Polling.Interval = getEnvAsDuration("POLL_INTERVAL", c.Polling.Interval)
	c.Timeouts.TeamTimeout = getEnvAsDuration("TEAM_TIMEOUT", c.Timeouts.TeamTimeout)
	c.Timeouts.RoomIdle = getEnvAsDuration("ROOM_IDLE_TIMEOUT", c.Timeouts.RoomIdle)

	c.Server.Port = getEnv("CONSOLE_PORT", c.Server.Port)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	c.Database.Enabled = getEnvAsBool("JOURNAL_ENABLED", c.Database.Enabled)
	c.Database.ApplyEnv()

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Console = getEnvAsBool("LOG_CONSOLE", c.Log.Console)
}

// Validate checks the settings that would otherwise fail at first use.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}
	switch c.Realtime.Driver {
	case DriverReverb, DriverNATS, DriverNone:
	default:
		return fmt.Errorf("unknown realtime driver %q", c.Realtime.Driver)
	}
	if c.Polling.Interval <= 0 {
		return errors.New("polling.interval must be positive")
	}
	return nil
}

// IsProduction reports whether network failures should be logged quietly.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
