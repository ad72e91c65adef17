package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Interface names a config may select
const (
	InterfaceJSON  = "json"
	InterfaceRedis = "redis"
)

// Config represents the main configuration structure
type Config struct {
	DBI     DBIConfig     `yaml:"dbi"`
	DocDB   DocDBConfig   `yaml:"docdb"`
	Logging LoggingConfig `yaml:"logging"`
	Admin   AdminConfig   `yaml:"admin"`
	GRPC    GRPCConfig    `yaml:"grpc"`
}

// DBIConfig selects the backend and the profile documents loaded at start
type DBIConfig struct {
	Interface   string          `yaml:"interface"`
	APNCapacity int             `yaml:"apn_capacity"`
	Profiles    []ProfileSource `yaml:"profiles"`
	// WatchProfiles reloads a profile document when it changes on disk
	WatchProfiles bool `yaml:"watch_profiles"`
}

// ProfileSource is one APN profile document
type ProfileSource struct {
	APN  string `yaml:"apn"`
	File string `yaml:"file"`
}

// DocDBConfig contains the redis subscriber store connection
type DocDBConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	KeyPrefix   string        `yaml:"key_prefix"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file"`
}

// AdminConfig contains admin API configuration
type AdminConfig struct {
	Enabled      bool            `yaml:"enabled"`
	Port         int             `yaml:"port"`
	ReadTimeout  time.Duration   `yaml:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	IdleTimeout  time.Duration   `yaml:"idle_timeout"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
	JWT          JWTConfig       `yaml:"jwt"`
}

// RateLimitConfig bounds the admin API request rate per client
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

// JWTConfig guards mutating admin routes
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
	Issuer  string `yaml:"issuer"`
}

// GRPCConfig contains the gRPC health endpoint configuration
type GRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DBI: DBIConfig{
			Interface:   InterfaceJSON,
			APNCapacity: 10,
		},
		DocDB: DocDBConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			KeyPrefix:   "dbi:",
			DialTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Admin: AdminConfig{
			Enabled:      true,
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerSecond: 50,
				BurstSize:         100,
			},
			JWT: JWTConfig{
				Enabled: false,
				Issuer:  "subscriber-dbi",
			},
		},
		GRPC: GRPCConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(filename string) (*Config, error) {
	config, err := loadFile(filename)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// loadFile decodes filename over the defaults without validating
func loadFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filename, err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filename, err)
	}
	return config, nil
}

// Validate validates the configuration for correctness
func (c *Config) Validate() error {
	switch strings.ToLower(c.DBI.Interface) {
	case "", InterfaceJSON:
	case InterfaceRedis:
		if !c.DocDB.Enabled {
			return fmt.Errorf("interface %q requires docdb.enabled", c.DBI.Interface)
		}
	default:
		return fmt.Errorf("unsupported dbi interface: %s", c.DBI.Interface)
	}

	if c.DBI.APNCapacity <= 0 {
		return fmt.Errorf("apn_capacity must be positive: %d", c.DBI.APNCapacity)
	}
	if len(c.DBI.Profiles) > c.DBI.APNCapacity {
		return fmt.Errorf("%d profile documents configured but apn_capacity is %d",
			len(c.DBI.Profiles), c.DBI.APNCapacity)
	}

	apns := make(map[string]bool)
	for i, p := range c.DBI.Profiles {
		if p.APN == "" {
			return fmt.Errorf("profiles[%d]: apn cannot be empty", i)
		}
		if p.File == "" {
			return fmt.Errorf("profiles[%d]: file cannot be empty", i)
		}
		key := strings.ToLower(p.APN)
		if apns[key] {
			return fmt.Errorf("profiles[%d]: duplicate apn '%s'", i, p.APN)
		}
		apns[key] = true
	}

	if c.DocDB.Enabled {
		if c.DocDB.Addr == "" {
			return fmt.Errorf("docdb.addr cannot be empty")
		}
		if c.DocDB.DB < 0 {
			return fmt.Errorf("docdb.db cannot be negative: %d", c.DocDB.DB)
		}
	}

	if c.Admin.Enabled {
		if err := validPort("admin.port", c.Admin.Port); err != nil {
			return err
		}
		if c.Admin.RateLimit.Enabled {
			if c.Admin.RateLimit.RequestsPerSecond <= 0 {
				return fmt.Errorf("rate_limit.requests_per_second must be positive")
			}
			if c.Admin.RateLimit.BurstSize <= 0 {
				return fmt.Errorf("rate_limit.burst_size must be positive")
			}
		}
		if c.Admin.JWT.Enabled && c.Admin.JWT.Secret == "" {
			return fmt.Errorf("jwt.secret is required when jwt is enabled")
		}
	}

	if c.GRPC.Enabled {
		if err := validPort("grpc.port", c.GRPC.Port); err != nil {
			return err
		}
		if c.Admin.Enabled && c.GRPC.Port == c.Admin.Port {
			return fmt.Errorf("grpc.port and admin.port must differ: %d", c.GRPC.Port)
		}
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	validOutputs := map[string]bool{"stdout": true, "stderr": true, "file": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.File == "" {
		return fmt.Errorf("logging.file is required when output is file")
	}

	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %d", name, port)
	}
	return nil
}

// SaveToFile saves the configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", filename, err)
	}

	return nil
}
