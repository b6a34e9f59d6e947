package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"rkv/utils/log"
)

const (
	EngineMemory = "memory"
	EngineLog    = "log"
	EngineBolt   = "bolt"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Tester TesterConfig `yaml:"tester"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr    string `yaml:"addr"`
	Engine  string `yaml:"engine"`
	DataDir string `yaml:"data_dir"`
	// CompactionThreshold is the number of stale bytes the log engine
	// tolerates before rewriting its files. Zero means the engine default.
	CompactionThreshold uint64 `yaml:"compaction_threshold"`
}

type TesterConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Addr is host:port of the store under test.
func (c TesterConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// Options converts the section into logger options.
func (c LogConfig) Options() (log.Options, error) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return log.Options{}, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	return log.Options{
		Level:      level,
		File:       c.File,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}, nil
}

// Default returns the configuration used when nothing else is given:
// a memory-backed server on port 8080 and a tester aimed at localhost:8080, db 0.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:    "0.0.0.0:8080",
			Engine:  EngineMemory,
			DataDir: "./data",
		},
		Tester: TesterConfig{
			Host:         "localhost",
			Port:         8080,
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Load is Read followed by Validate.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read builds a Config from defaults, then the YAML file at path (if path
// is not empty), then RKV_* environment variables. Callers that apply
// flags on top validate afterwards.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("RKV_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("RKV_ENGINE"); v != "" {
		cfg.Server.Engine = v
	}
	if v := os.Getenv("RKV_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("RKV_HOST"); v != "" {
		cfg.Tester.Host = v
	}
	if v := os.Getenv("RKV_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RKV_PORT value: %w", err)
		}
		cfg.Tester.Port = port
	}
	if v := os.Getenv("RKV_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RKV_DB value: %w", err)
		}
		cfg.Tester.DB = db
	}
	if v := os.Getenv("RKV_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("RKV_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Server.Engine {
	case EngineMemory, EngineLog, EngineBolt:
	default:
		return fmt.Errorf("unknown engine %q (want %s, %s or %s)", c.Server.Engine, EngineMemory, EngineLog, EngineBolt)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr is required")
	}
	if c.Server.Engine != EngineMemory && c.Server.DataDir == "" {
		return fmt.Errorf("data_dir is required for the %s engine", c.Server.Engine)
	}
	if c.Tester.Host == "" {
		return fmt.Errorf("tester host is required")
	}
	if c.Tester.Port <= 0 || c.Tester.Port > 65535 {
		return fmt.Errorf("tester port %d out of range", c.Tester.Port)
	}
	if c.Tester.DB < 0 {
		return fmt.Errorf("tester db %d must not be negative", c.Tester.DB)
	}
	if _, err := c.Log.Options(); err != nil {
		return err
	}
	return nil
}
