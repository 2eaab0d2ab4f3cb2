package config

import (
	"errors"
	"fmt"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"os"
	"rmfs/common"
	"strconv"
	"strings"
)

// FileName is the name of the configuration file looked up next to the image.
const FileName = "rmfs.toml"

const (
	EnvImage    = "RMFS_IMAGE"
	EnvLogLevel = "RMFS_LOG_LEVEL"
	EnvLogJSON  = "RMFS_LOG_JSON"
	EnvNoColor  = "RMFS_NO_COLOR"
)

var ValidLogLevels = []string{"debug", "info", "warn", "error"}

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Image is the path of the pool image on the host.
	Image string `toml:"image"`

	// geometry of images created by init; existing images carry their own
	PoolSize  int `toml:"pool_size"`
	MaxBlocks int `toml:"max_blocks"`
	MaxNames  int `toml:"max_names"`

	MaxOpenFiles int `toml:"max_open_files"`

	LogLevel string `toml:"log_level"`
	LogJSON  bool   `toml:"log_json"`
	NoColor  bool   `toml:"no_color"`
}

func Default() *Config {
	return &Config{
		Image:        "rmfs.img",
		PoolSize:     common.DefaultPoolSize,
		MaxBlocks:    common.DefaultMaxBlocks,
		MaxNames:     common.DefaultMaxNames,
		MaxOpenFiles: common.DefaultMaxOpenFiles,
		LogLevel:     "info",
	}
}

// Load reads path over the defaults and applies environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err == nil {
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("invalid TOML in %s: %w", path, err)
			}
		}
	}

	applyEnvVars(cfg)
	return cfg, nil
}

func applyEnvVars(cfg *Config) {
	if v := os.Getenv(EnvImage); v != "" {
		cfg.Image = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LogJSON = b
		}
	}
	if v := os.Getenv(EnvNoColor); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NoColor = b
		}
	}
}

// Save writes cfg as TOML to path.
func Save(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	var errs []string

	if c.Image == "" {
		errs = append(errs, "image must be set")
	}
	if c.PoolSize <= 0 {
		errs = append(errs, "pool_size must be positive")
	}
	if c.MaxBlocks < 1 {
		errs = append(errs, "max_blocks must be at least 1")
	}
	if c.MaxNames < 0 || c.MaxNames >= 0xFFFF {
		errs = append(errs, "max_names must be between 0 and 65534")
	}
	if c.MaxOpenFiles < 1 {
		errs = append(errs, "max_open_files must be at least 1")
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log_level %q (must be one of: %s)",
			c.LogLevel, strings.Join(ValidLogLevels, ", ")))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}
	return nil
}

// Level is the zerolog level named by LogLevel.
func (c *Config) Level() (zerolog.Level, error) {
	for _, l := range ValidLogLevels {
		if l == c.LogLevel {
			return zerolog.ParseLevel(l)
		}
	}
	return zerolog.NoLevel, fmt.Errorf("%w: log level %q", ErrInvalid, c.LogLevel)
}
