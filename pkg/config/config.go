// Package config loads romc configuration from YAML, defaults and ROMC_* environment
// variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ROMC_WORKER_COUNT.
const EnvPrefix = "ROMC"

// Config holds all configuration for romc.
type Config struct {
	Compile     CompileConfig     `mapstructure:"compile"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Worker      WorkerConfig      `mapstructure:"worker"`
	Log         LogConfig         `mapstructure:"log"`
	Compression CompressionConfig `mapstructure:"compression"`

	// File is the config file that was read, empty when only defaults apply.
	File string `mapstructure:"-"`
}

// CompileConfig mirrors the builder options.
type CompileConfig struct {
	PreserveLineNumbers          bool     `mapstructure:"preserve_line_numbers"`
	PreserveLocalVariables       bool     `mapstructure:"preserve_local_variables"`
	PreserveSourceFileName       bool     `mapstructure:"preserve_source_file_name"`
	PreserveSourceDebugExtension bool     `mapstructure:"preserve_source_debug_extension"`
	OutOfLineDebugInfo           bool     `mapstructure:"out_of_line_debug_info"`
	OutOfLineUTF8                bool     `mapstructure:"out_of_line_utf8"`
	ArenaCapacity                int      `mapstructure:"arena_capacity"`
	ByteOrder                    string   `mapstructure:"byte_order"` // little or big
	VerifyExclude                string   `mapstructure:"verify_exclude"`
	BootstrapLoader              bool     `mapstructure:"bootstrap_loader"`
	Include                      []string `mapstructure:"include"`
	Exclude                      []string `mapstructure:"exclude"`
}

// StorageConfig selects where compiled artifacts go.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // local or cos
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
}

// CatalogConfig selects the compilation catalog database. An empty Type disables it.
type CatalogConfig struct {
	Type     string `mapstructure:"type"` // sqlite, mysql or postgres
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Path     string `mapstructure:"path"` // sqlite file
	MaxConns int    `mapstructure:"max_conns"`
}

// WorkerConfig sizes the batch compile pool.
type WorkerConfig struct {
	Count   int           `mapstructure:"count"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // text or json
	OutputPath string `mapstructure:"output_path"`
}

// CompressionConfig selects how artifacts are compressed before upload.
type CompressionConfig struct {
	Type  string `mapstructure:"type"` // none, gzip or zstd
	Level int    `mapstructure:"level"`
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config at configPath, or ./romc.yaml, ./configs/romc.yaml or
// /etc/romc/romc.yaml when configPath is empty. A missing file leaves the defaults.
func Load(configPath string) (*Config, error) {
	v := newViper()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("romc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/romc")
	}

	file := ""
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		file = v.ConfigFileUsed()
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.File = file
	return cfg, nil
}

// LoadFromReader reads configuration of the given type from content.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return decode(v)
}

// Default returns the configuration used when no file and no environment is present.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := decode(v)
	if err != nil {
		panic(err)
	}
	return cfg
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Every key has a default so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("compile.preserve_line_numbers", true)
	v.SetDefault("compile.preserve_local_variables", true)
	v.SetDefault("compile.preserve_source_file_name", true)
	v.SetDefault("compile.preserve_source_debug_extension", true)
	v.SetDefault("compile.out_of_line_debug_info", false)
	v.SetDefault("compile.out_of_line_utf8", false)
	v.SetDefault("compile.arena_capacity", 0)
	v.SetDefault("compile.byte_order", "little")
	v.SetDefault("compile.verify_exclude", "")
	v.SetDefault("compile.bootstrap_loader", false)
	v.SetDefault("compile.include", []string{})
	v.SetDefault("compile.exclude", []string{})

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.secret_id", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.domain", "myqcloud.com")
	v.SetDefault("storage.scheme", "https")
	v.SetDefault("storage.local_path", "./artifacts")

	v.SetDefault("catalog.type", "")
	v.SetDefault("catalog.host", "localhost")
	v.SetDefault("catalog.port", 0)
	v.SetDefault("catalog.database", "romc")
	v.SetDefault("catalog.user", "")
	v.SetDefault("catalog.password", "")
	v.SetDefault("catalog.path", "./romc.db")
	v.SetDefault("catalog.max_conns", 10)

	v.SetDefault("worker.count", 4)
	v.SetDefault("worker.timeout", "30s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.output_path", "")

	v.SetDefault("compression.type", "none")
	v.SetDefault("compression.level", 0)
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	switch c.Compile.ByteOrder {
	case "little", "big":
	default:
		return fmt.Errorf("unsupported byte order: %s", c.Compile.ByteOrder)
	}
	if c.Compile.ArenaCapacity < 0 {
		return fmt.Errorf("arena capacity must not be negative")
	}
	switch c.Storage.Type {
	case "local", "cos":
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}
	switch c.Catalog.Type {
	case "", "sqlite", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported catalog type: %s", c.Catalog.Type)
	}
	if c.Catalog.Type == "mysql" || c.Catalog.Type == "postgres" {
		if c.Catalog.Host == "" {
			return fmt.Errorf("catalog host is required")
		}
	}
	switch c.Compression.Type {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("unsupported compression type: %s", c.Compression.Type)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}
	return nil
}
