// Package config loads the service settings with viper.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"go-easm/models"
)

// EnvPrefix prefixes every environment variable, e.g. EASM_NUCLEI_PATH.
const EnvPrefix = "EASM"

// Deployment tiers.
const (
	TierOpenSource = "A"
	TierOnPrem     = "B"
	TierCloud      = "C"
)

// Config defines the service settings.
type Config struct {
	Tier     string         `mapstructure:"tier"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Nuclei   NucleiConfig   `mapstructure:"nuclei"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Listen       string   `mapstructure:"listen"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type NucleiConfig struct {
	Path          string `mapstructure:"path"`
	TemplatesPath string `mapstructure:"templates_path"`
	RateLimit     int    `mapstructure:"rate_limit"`
	BulkSize      int    `mapstructure:"bulk_size"`
	Threads       int    `mapstructure:"threads"`
}

type ScanConfig struct {
	Timeout       int `mapstructure:"timeout"` // seconds
	MaxConcurrent int `mapstructure:"max_concurrent"`
	Backlog       int `mapstructure:"backlog"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tier", TierOpenSource)
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.allow_origins", []string{"http://localhost:5173"})
	v.SetDefault("database.path", "easm.db")
	v.SetDefault("nuclei.path", "/usr/local/bin/nuclei")
	v.SetDefault("nuclei.templates_path", "./nuclei-templates")
	v.SetDefault("nuclei.rate_limit", 150)
	v.SetDefault("nuclei.bulk_size", 25)
	v.SetDefault("nuclei.threads", 25)
	v.SetDefault("scan.timeout", 3600)
	v.SetDefault("scan.max_concurrent", 5)
	v.SetDefault("scan.backlog", 100)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a *viper.Viper with defaults and environment lookup set up.
// A non-empty file is read as the config file.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}
	return v, nil
}

// Load decodes and validates the settings held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings.
func (c *Config) Validate() error {
	c.Tier = strings.ToUpper(strings.TrimSpace(c.Tier))
	switch c.Tier {
	case TierOpenSource, TierOnPrem, TierCloud:
	default:
		return fmt.Errorf("%w: unknown tier %q", models.ErrValidation, c.Tier)
	}
	if c.Scan.MaxConcurrent < 1 {
		return fmt.Errorf("%w: scan.max_concurrent must be positive", models.ErrValidation)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	return c.ScanDefaults().Validate()
}

// MultiUser reports whether the tier supports several users.
func (c *Config) MultiUser() bool {
	return c.Tier == TierOnPrem || c.Tier == TierCloud
}

// ScanDefaults returns the global scan configuration defaults.
func (c *Config) ScanDefaults() models.ScanConfig {
	cfg := models.DefaultScanConfig()
	cfg.RateLimit = c.Nuclei.RateLimit
	cfg.BulkSize = c.Nuclei.BulkSize
	cfg.Concurrency = c.Nuclei.Threads
	cfg.Timeout = c.Scan.Timeout
	return cfg
}

// ConfigureLogging applies the log settings to the standard logrus logger.
func ConfigureLogging(c LogConfig) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch strings.ToLower(c.Format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}
