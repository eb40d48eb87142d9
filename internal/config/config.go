package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/scoutware/scanrelay/internal/settings"
)

// Config is the full service configuration tree.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Logging LoggingConfig `toml:"logging"`
	Storage StorageConfig `toml:"storage"`
	Schema  SchemaConfig  `toml:"schema"`
	Uplink  UplinkConfig  `toml:"uplink"`
	Spool   SpoolConfig   `toml:"spool"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	Driver string `toml:"driver"` // sqlite, jsonfile
	Path   string `toml:"path"`
}

// SchemaConfig overrides the record layout. Empty lists keep the built-in
// defaults. The identity fields and the trailing comment are fixed; only
// the metric columns between them are configurable.
type SchemaConfig struct {
	MetricFields      []string `toml:"metric_fields"`
	ContinuationWords []string `toml:"continuation_words"`
}

// UplinkConfig holds the initial delivery settings. Once the service has
// persisted operator settings, those take precedence on the next start.
type UplinkConfig struct {
	EndpointURL           string `toml:"endpoint_url"`
	ForceCompact          bool   `toml:"force_compact"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// SpoolConfig configures the drop-directory intake for decoders that can
// only write files.
type SpoolConfig struct {
	Enabled    bool   `toml:"enabled"`
	Dir        string `toml:"dir"`
	ArchiveDir string `toml:"archive_dir"`
}

// Default returns the configuration used when no file overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			CORSAllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "scanrelay.db",
		},
		Uplink: UplinkConfig{
			RequestTimeoutSeconds: 30,
		},
		Spool: SpoolConfig{
			Dir:        "spool",
			ArchiveDir: "spool/archive",
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is an
// error; pass an empty path to run on pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to find config file: %w", err)
		}
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the services cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Storage.Driver {
	case "sqlite", "jsonfile":
	default:
		return fmt.Errorf("unsupported storage driver: %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path must be set")
	}

	if err := settings.ValidateEndpointURL(c.Uplink.EndpointURL); err != nil {
		return fmt.Errorf("invalid uplink endpoint: %w", err)
	}
	if c.Uplink.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("invalid uplink request timeout: %d", c.Uplink.RequestTimeoutSeconds)
	}

	if c.Spool.Enabled && c.Spool.Dir == "" {
		return fmt.Errorf("spool intake enabled but no spool dir configured")
	}

	return nil
}
