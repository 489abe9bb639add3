package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/yegors/cdec-series/internal/cdec"
)

// Config represents the main application configuration structure
type Config struct {
	Server  ServerConfig  `toml:"server"`  // HTTP API settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
	CDEC    cdec.Config   `toml:"cdec"`    // CDEC data service settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port             int    `toml:"port"`                  // HTTP port for the API
	Host             string `toml:"host"`                  // Host address to bind to
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs  int    `toml:"idle_timeout_seconds"`  // Keep-alive idle timeout
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Default returns a configuration with every field set to its default
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:             8080,
			Host:             "127.0.0.1",
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 90,
			IdleTimeoutSecs:  60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		CDEC: cdec.DefaultConfig(),
	}
}

// Load reads the TOML file at path on top of the defaults, then applies
// environment overrides
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadWithFallback tries the preferred path, then the standard locations.
// When no file exists anywhere the defaults plus environment are used.
func LoadWithFallback(preferredPath string) (*Config, error) {
	if preferredPath != "" {
		return Load(preferredPath)
	}

	for _, path := range []string{"configs/config.toml", "config.toml"} {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	config := Default()
	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnv loads .env if present and overlays CDEC_* variables
func (c *Config) applyEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if v, ok := os.LookupEnv("CDEC_BASE_URL"); ok {
		c.CDEC.BaseURL = v
	}
	if v, ok := os.LookupEnv("CDEC_LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if err := envBool("CDEC_INSECURE_SKIP_VERIFY", &c.CDEC.InsecureSkipVerify); err != nil {
		return err
	}
	if err := envBool("CDEC_VERBOSE", &c.CDEC.Verbose); err != nil {
		return err
	}
	if err := envInt("CDEC_REQUEST_TIMEOUT_SECONDS", &c.CDEC.RequestTimeoutSeconds); err != nil {
		return err
	}
	if err := envInt("CDEC_SERVER_PORT", &c.Server.Port); err != nil {
		return err
	}
	return nil
}

func envBool(key string, dst *bool) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = b
	return nil
}

func envInt(key string, dst *int) error {
	v, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("invalid %s: %q", key, v)
	}
	*dst = n
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return c.ValidateCDEC()
}

// ValidateCDEC validates the CDEC client configuration
func (c *Config) ValidateCDEC() error {
	if c.CDEC.BaseURL == "" {
		return fmt.Errorf("cdec base_url cannot be empty")
	}
	u, err := url.Parse(c.CDEC.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid cdec base_url: %s", c.CDEC.BaseURL)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("cdec base_url must not carry a query string: %s", c.CDEC.BaseURL)
	}

	if c.CDEC.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("cdec request_timeout_seconds must be 0 or greater: %d", c.CDEC.RequestTimeoutSeconds)
	}

	return nil
}
