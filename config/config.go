package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"lead_viewer/dataset"
)

// Config holds service configuration derived from the config file and
// environment variables.
type Config struct {
	DataSource      string
	HTTPPort        string
	WorkDir         string
	DBPath          string
	FetchTimeoutSec int
	PageSize        int
	Timezone        string
	Location        *time.Location
	Dialect         dataset.Dialect
	WatchEnabled    bool
	ReloadQueueSize int
	ReloadTimeout   int
	LogLevel        string
	LogJSON         bool
	ExportFilename  string
	ConfigPath      string
	StrictConfig    bool

	// Warnings collects problems tolerated outside strict mode so the
	// caller can log them once a logger exists.
	Warnings []string
}

type fileConfig struct {
	DataSource      string `json:"data_source" yaml:"data_source"`
	HTTPPort        string `json:"http_port" yaml:"http_port"`
	WorkDir         string `json:"work_dir" yaml:"work_dir"`
	DBPath          string `json:"db_path" yaml:"db_path"`
	FetchTimeoutSec *int   `json:"fetch_timeout_sec" yaml:"fetch_timeout_sec"`
	PageSize        *int   `json:"page_size" yaml:"page_size"`
	Timezone        string `json:"timezone" yaml:"timezone"`
	Dialect         string `json:"csv_dialect" yaml:"csv_dialect"`
	WatchEnabled    *bool  `json:"watch_enabled" yaml:"watch_enabled"`
	ExportFilename  string `json:"export_filename" yaml:"export_filename"`
}

const (
	defaultPort            = ":8001"
	defaultDataSource      = "data/leads.csv"
	defaultWorkDir         = "runtime/work"
	defaultDBFile          = "lead_viewer.db"
	defaultFetchTimeoutSec = 10
	defaultPageSize        = 50
	maxPageSize            = 1000
	defaultTimezone        = "UTC"
	minQueueSize           = 1
	defaultQueueSize       = 4
	maxQueueSize           = 64
	defaultReloadTimeout   = 30
	defaultExportFilename  = "filtered_data.csv"
)

// Load reads configuration from the optional config file and environment
// variables and applies sane defaults.
func Load() (Config, error) {
	cfg := Config{
		FetchTimeoutSec: defaultFetchTimeoutSec,
		PageSize:        defaultPageSize,
		ReloadQueueSize: defaultQueueSize,
		ReloadTimeout:   defaultReloadTimeout,
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogJSON:         parseBoolEnvDefault("LOG_JSON", true),
		StrictConfig:    parseBoolEnv("STRICT_CONFIG"),
	}

	cfg.ConfigPath = getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(cfg.ConfigPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", cfg.ConfigPath, fileErr)
		}
		cfg.warnf("config load failed (%s): %v (using defaults)", cfg.ConfigPath, fileErr)
	}

	cfg.DataSource = firstNonEmpty(os.Getenv("DATA_SOURCE"), fileCfg.DataSource, defaultDataSource)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	cfg.DBPath = firstNonEmpty(os.Getenv("DB_PATH"), fileCfg.DBPath, filepath.Join(cfg.WorkDir, defaultDBFile))
	cfg.ExportFilename = firstNonEmpty(os.Getenv("EXPORT_FILENAME"), fileCfg.ExportFilename, defaultExportFilename)
	cfg.Timezone = firstNonEmpty(os.Getenv("DATA_TIMEZONE"), fileCfg.Timezone, defaultTimezone)

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") && !strings.Contains(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	if fileCfg.FetchTimeoutSec != nil && *fileCfg.FetchTimeoutSec > 0 {
		cfg.FetchTimeoutSec = *fileCfg.FetchTimeoutSec
	}
	if fileCfg.PageSize != nil && *fileCfg.PageSize > 0 {
		cfg.PageSize = *fileCfg.PageSize
	}
	cfg.WatchEnabled = true
	if fileCfg.WatchEnabled != nil {
		cfg.WatchEnabled = *fileCfg.WatchEnabled
	}
	cfg.WatchEnabled = parseBoolEnvDefault("WATCH_ENABLED", cfg.WatchEnabled)

	if v, ok, err := parseIntEnv("FETCH_TIMEOUT_SEC"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid FETCH_TIMEOUT_SEC: %w", err)
		}
		cfg.warnf("invalid FETCH_TIMEOUT_SEC: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.FetchTimeoutSec = v
	}

	if v, ok, err := parseIntEnv("PAGE_SIZE"); err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid PAGE_SIZE: %w", err)
		}
		cfg.warnf("invalid PAGE_SIZE: %v (using default)", err)
	} else if ok && v > 0 {
		cfg.PageSize = v
	}
	if cfg.PageSize > maxPageSize {
		cfg.warnf("PAGE_SIZE capped at %d (was %d)", maxPageSize, cfg.PageSize)
		cfg.PageSize = maxPageSize
	}

	if v, ok, err := parseIntEnv("RELOAD_QUEUE_SIZE"); err != nil {
		cfg.warnf("invalid RELOAD_QUEUE_SIZE=%q, using default %d", os.Getenv("RELOAD_QUEUE_SIZE"), defaultQueueSize)
	} else if ok {
		if v < minQueueSize {
			cfg.warnf("RELOAD_QUEUE_SIZE raised to minimum %d (was %d)", minQueueSize, v)
			v = minQueueSize
		}
		if v > maxQueueSize {
			cfg.warnf("RELOAD_QUEUE_SIZE capped at %d (was %d)", maxQueueSize, v)
			v = maxQueueSize
		}
		cfg.ReloadQueueSize = v
	}

	if v, ok, err := parseIntEnv("RELOAD_TIMEOUT_SEC"); err != nil {
		return cfg, fmt.Errorf("invalid RELOAD_TIMEOUT_SEC: %w", err)
	} else if ok {
		if v <= 0 {
			return cfg, errors.New("RELOAD_TIMEOUT_SEC must be positive")
		}
		cfg.ReloadTimeout = v
	}

	dialectName := firstNonEmpty(os.Getenv("CSV_DIALECT"), fileCfg.Dialect)
	dialect, err := dataset.ParseDialect(dialectName)
	if err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		cfg.warnf("%v (using rfc4180)", err)
		dialect = dataset.DialectRFC4180
	}
	cfg.Dialect = dialect

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("invalid DATA_TIMEZONE %q: %w", cfg.Timezone, err)
		}
		cfg.warnf("invalid DATA_TIMEZONE %q: %v (using UTC)", cfg.Timezone, err)
		cfg.Timezone = defaultTimezone
		loc = time.UTC
	}
	cfg.Location = loc

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		cfg.warnf("config validation failed: %v (continuing)", err)
	}

	return cfg, nil
}

// FetchTimeout returns the loader timeout as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSec) * time.Second
}

// ReloadTimeoutDuration returns the per-reload job timeout.
func (c Config) ReloadTimeoutDuration() time.Duration {
	return time.Duration(c.ReloadTimeout) * time.Second
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.DataSource) == "" {
		return errors.New("DATA_SOURCE is required")
	}
	if strings.TrimSpace(cfg.HTTPPort) == "" {
		return errors.New("HTTP_PORT is required")
	}
	if cfg.FetchTimeoutSec <= 0 {
		return errors.New("fetch timeout must be positive")
	}
	if cfg.PageSize <= 0 {
		return errors.New("page size must be positive")
	}
	if strings.ContainsAny(cfg.ExportFilename, `/\`) {
		return fmt.Errorf("export filename %q must not contain a path", cfg.ExportFilename)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown LOG_LEVEL %q", cfg.LogLevel)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return defaultVal
	}
	return parseBoolEnv(key)
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}
