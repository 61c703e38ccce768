package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	DefaultPort          = 8080
	DefaultMaxUploadMB   = 64
	DefaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel         = "gemini-2.5-flash"
	DefaultTemperature   = 0.2
	DefaultMaxTokens     = 4096
	DefaultSchemaVariant = "full"
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// Env vars checked for the analysis credential, first non-empty wins.
var APIKeyEnv = []string{"INSPECTOR_API_KEY", "GEMINI_API_KEY", "API_KEY"}

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		MaxUploadMB     int64         `yaml:"maxUploadMB"`
		AllowedOrigins  []string      `yaml:"allowedOrigins"`
		ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	} `yaml:"server"`

	Analysis struct {
		APIKey        string  `yaml:"apiKey"`
		BaseURL       string  `yaml:"baseURL"`
		Model         string  `yaml:"model"`
		Temperature   float32 `yaml:"temperature"`
		MaxTokens     int     `yaml:"maxTokens"`
		SchemaVariant string  `yaml:"schemaVariant"`
	} `yaml:"analysis"`

	Export struct {
		FontPath     string `yaml:"fontPath"`
		BoldFontPath string `yaml:"boldFontPath"`
	} `yaml:"export"`

	Session struct {
		IdleTTL       time.Duration `yaml:"idleTTL"`
		SweepInterval time.Duration `yaml:"sweepInterval"`
	} `yaml:"session"`

	Log struct {
		Level  string    `yaml:"level"`
		Format LogFormat `yaml:"format"`
	} `yaml:"log"`
}

// Load baca file config.yaml, lalu env override, lalu default.
// A missing file is not an error; everything can come from env and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	for _, key := range APIKeyEnv {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			c.Analysis.APIKey = v
			break
		}
	}
	if v := os.Getenv("INSPECTOR_BASE_URL"); v != "" {
		c.Analysis.BaseURL = v
	}
	if v := os.Getenv("INSPECTOR_MODEL"); v != "" {
		c.Analysis.Model = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Log.Format = LogFormat(v)
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = DefaultMaxUploadMB
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Analysis.BaseURL == "" {
		c.Analysis.BaseURL = DefaultBaseURL
	}
	if c.Analysis.Model == "" {
		c.Analysis.Model = DefaultModel
	}
	if c.Analysis.Temperature == 0 {
		c.Analysis.Temperature = DefaultTemperature
	}
	if c.Analysis.MaxTokens <= 0 {
		c.Analysis.MaxTokens = DefaultMaxTokens
	}
	if c.Analysis.SchemaVariant == "" {
		c.Analysis.SchemaVariant = DefaultSchemaVariant
	}
	if c.Session.IdleTTL <= 0 {
		c.Session.IdleTTL = DefaultIdleTTL
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = DefaultSweepInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = LogFormatText
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Analysis.Temperature < 0 || c.Analysis.Temperature > 2 {
		return fmt.Errorf("analysis.temperature out of range: %v", c.Analysis.Temperature)
	}
	switch c.Analysis.SchemaVariant {
	case "full", "compact":
	default:
		return fmt.Errorf("analysis.schemaVariant must be full or compact, got %q", c.Analysis.SchemaVariant)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

func (c *Config) LogLevel() (log.Level, error) {
	return log.ParseLevel(c.Log.Level)
}

// ConfigureLogging applies level and formatter to the standard logrus logger.
func (c *Config) ConfigureLogging() {
	if level, err := c.LogLevel(); err == nil {
		log.SetLevel(level)
	}
	switch c.Log.Format {
	case LogFormatJSON:
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// Addr returns the listen address, e.g. ":8080".
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}
