package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment variable read by this package
const EnvPrefix = "DBI_"

// LoadFromEnvironment returns the defaults overridden by environment
// variables. Unparseable values keep their defaults; Load reports them.
func LoadFromEnvironment() *Config {
	config := DefaultConfig()
	_ = applyEnvironment(config)
	return config
}

// envErrors collects the variables whose values could not be parsed
type envErrors []error

func (e *envErrors) add(key, value string, err error) {
	*e = append(*e, fmt.Errorf("invalid %s%s=%q: %w", EnvPrefix, key, value, err))
}

// applyEnvironment overrides fields whose variables are set. A variable that
// does not parse leaves its field unchanged and is reported in the error.
func applyEnvironment(config *Config) error {
	var errs envErrors
	setInt := func(dst *int, key string) { parseEnv(dst, key, strconv.Atoi, &errs) }
	setBool := func(dst *bool, key string) { parseEnv(dst, key, strconv.ParseBool, &errs) }
	setDuration := func(dst *time.Duration, key string) { parseEnv(dst, key, time.ParseDuration, &errs) }

	// DBI
	if v := getEnv("INTERFACE"); v != "" {
		config.DBI.Interface = v
	}
	setInt(&config.DBI.APNCapacity, "APN_CAPACITY")
	setBool(&config.DBI.WatchProfiles, "WATCH_PROFILES")
	if v := getEnv("PROFILES"); v != "" {
		profiles, err := parseProfilesFromEnv(v)
		if err != nil {
			errs.add("PROFILES", v, err)
		}
		config.DBI.Profiles = profiles
	}

	// Subscriber store
	setBool(&config.DocDB.Enabled, "DOCDB_ENABLED")
	if v := getEnv("DOCDB_ADDR"); v != "" {
		config.DocDB.Addr = v
	}
	if v := getEnv("DOCDB_PASSWORD"); v != "" {
		config.DocDB.Password = v
	}
	setInt(&config.DocDB.DB, "DOCDB_DB")
	if v := getEnv("DOCDB_KEY_PREFIX"); v != "" {
		config.DocDB.KeyPrefix = v
	}
	setDuration(&config.DocDB.DialTimeout, "DOCDB_DIAL_TIMEOUT")

	// Logging
	if v := getEnv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := getEnv("LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}
	if v := getEnv("LOG_OUTPUT"); v != "" {
		config.Logging.Output = v
	}
	if v := getEnv("LOG_FILE"); v != "" {
		config.Logging.File = v
	}

	// Admin API
	setBool(&config.Admin.Enabled, "ADMIN_ENABLED")
	setInt(&config.Admin.Port, "ADMIN_PORT")
	setBool(&config.Admin.RateLimit.Enabled, "RATE_LIMIT_ENABLED")
	if v := getEnv("RATE_LIMIT_RPS"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		switch {
		case err != nil:
			errs.add("RATE_LIMIT_RPS", v, err)
		case r <= 0:
			errs.add("RATE_LIMIT_RPS", v, errors.New("must be positive"))
		default:
			config.Admin.RateLimit.RequestsPerSecond = r
		}
	}
	setInt(&config.Admin.RateLimit.BurstSize, "RATE_LIMIT_BURST")
	setBool(&config.Admin.JWT.Enabled, "JWT_ENABLED")
	if v := getEnv("JWT_SECRET"); v != "" {
		config.Admin.JWT.Secret = v
	}
	if v := getEnv("JWT_ISSUER"); v != "" {
		config.Admin.JWT.Issuer = v
	}

	// gRPC health
	setBool(&config.GRPC.Enabled, "GRPC_ENABLED")
	setInt(&config.GRPC.Port, "GRPC_PORT")

	return errors.Join(errs...)
}

// getEnv reads DBI_<key>
func getEnv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

func parseEnv[T any](dst *T, key string, parse func(string) (T, error), errs *envErrors) {
	v := getEnv(key)
	if v == "" {
		return
	}
	parsed, err := parse(v)
	if err != nil {
		errs.add(key, v, err)
		return
	}
	*dst = parsed
}

// parseProfilesFromEnv parses profile documents from an environment variable
// Format: "apn1=file1,apn2=file2"
// Example: "internet=/etc/dbi/internet.json,*=/etc/dbi/default.json"
// Malformed entries are skipped and reported.
func parseProfilesFromEnv(profiles string) ([]ProfileSource, error) {
	var sources []ProfileSource
	var bad []string

	for _, spec := range strings.Split(profiles, ",") {
		spec = strings.TrimSpace(spec)
		apn, file, ok := strings.Cut(spec, "=")
		if !ok || apn == "" || file == "" {
			bad = append(bad, spec)
			continue
		}
		sources = append(sources, ProfileSource{APN: apn, File: file})
	}

	if len(bad) > 0 {
		return sources, fmt.Errorf("malformed entries %q, want apn=file", bad)
	}
	return sources, nil
}

// LoadConfig loads configuration with priority: env vars > config file > defaults.
// The file is DBI_CONFIG_FILE, or dbi.yaml when that is unset.
func LoadConfig() (*Config, error) {
	return Load(getEnv("CONFIG_FILE"))
}

// Load is LoadConfig with an explicit file. An empty path falls back to
// dbi.yaml, which may be missing.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = "dbi.yaml"
	}

	config := DefaultConfig()
	if _, err := os.Stat(path); err == nil || explicit {
		loaded, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if err := applyEnvironment(config); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}
