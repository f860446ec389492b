package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/inteldesk/pkg/bus"
	"github.com/odvcencio/inteldesk/pkg/delivery"
	"github.com/odvcencio/inteldesk/pkg/errors"
	"github.com/odvcencio/inteldesk/pkg/remote"
)

// Default configuration values exported for documentation and validation
const (
	DefaultBusName        = "inteldesk"
	DefaultBusTimeout     = 5 * time.Second
	DefaultAPIBind        = "127.0.0.1:8480"
	DefaultDBFile         = "directory.db"
	DefaultSweepInterval  = time.Minute
	DefaultIntelMaxAge    = 10 * time.Minute
	DefaultLookupTimeout  = 3 * time.Second
	DefaultLookupRetries  = 3
	DefaultLookupRate     = 50.0
	DefaultLookupBurst    = 20
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "auto"
	DefaultTraceService   = "inteldesk"
	minimumSweepInterval  = time.Second
	configDirName         = ".inteldesk"
	configFileName        = "config.yaml"
	configEnvFileName     = "config.env"
	environmentVarsPrefix = "INTELDESK_"
)

// Config represents the complete inteldesk configuration
type Config struct {
	Bus          BusConfig          `yaml:"bus"`
	API          APIConfig          `yaml:"api"`
	Directory    DirectoryConfig    `yaml:"directory"`
	Coordination CoordinationConfig `yaml:"coordination"`
	Lookups      LookupConfig       `yaml:"lookups"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// BusConfig contains NATS connection settings.
type BusConfig struct {
	URL     string        `yaml:"url"`
	Name    string        `yaml:"name"`
	Timeout time.Duration `yaml:"timeout"`
}

// APIConfig controls the HTTP/WebSocket server.
type APIConfig struct {
	Bind string `yaml:"bind"`
	// AllowedOrigins are host patterns accepted for websocket upgrades from
	// other origins.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DirectoryConfig controls the sqlite-backed directory responder.
type DirectoryConfig struct {
	DBPath   string `yaml:"db_path"`
	SeedFile string `yaml:"seed_file"`
}

// CoordinationConfig tunes the delivery coordination service.
type CoordinationConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	IntelMaxAge   time.Duration `yaml:"intel_max_age"`
}

// LookupConfig tunes directory requests made by the console.
type LookupConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     uint64        `yaml:"max_retries"`
	RateLimit      float64       `yaml:"rate_limit"`
	Burst          int           `yaml:"burst"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// LoggingConfig selects level and handler format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig enables the stdout span exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

func defaultNATSURL() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "nats://nats:4222"
	}
	return "nats://127.0.0.1:4222"
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			URL:     defaultNATSURL(),
			Name:    DefaultBusName,
			Timeout: DefaultBusTimeout,
		},
		API: APIConfig{
			Bind: DefaultAPIBind,
		},
		Directory: DirectoryConfig{
			DBPath: filepath.Join("~", configDirName, DefaultDBFile),
		},
		Coordination: CoordinationConfig{
			SweepInterval: DefaultSweepInterval,
			IntelMaxAge:   DefaultIntelMaxAge,
		},
		Lookups: LookupConfig{
			Timeout:        DefaultLookupTimeout,
			MaxRetries:     DefaultLookupRetries,
			RateLimit:      DefaultLookupRate,
			Burst:          DefaultLookupBurst,
			InitialBackoff: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultTraceService,
		},
	}
}

// Load loads configuration from default locations with proper precedence:
// defaults, ~/.inteldesk/config.yaml, ./.inteldesk/config.yaml, then
// INTELDESK_* environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, configDirName, configFileName)
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, loadErr(err, userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", configDirName, configFileName)
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, loadErr(err, projectConfigPath)
	}

	if err := applyEnvOverrides(cfg, configEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()
	configEnv := loadConfigEnvVars()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, loadErr(err, path)
	}
	if err := applyEnvOverrides(cfg, configEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadErr(err error, path string) error {
	if errors.IsCode(err, errors.ErrCodeConfigParse) {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeConfigLoad, "loading config").WithContext("path", path)
}

// applyEnvOverrides applies INTELDESK_* overrides. Values from the process
// environment win over ~/.inteldesk/config.env.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) error {
	get := func(name string) string {
		key := environmentVarsPrefix + name
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}

	if v := get("BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := get("BUS_NAME"); v != "" {
		cfg.Bus.Name = v
	}
	if v := get("API_BIND"); v != "" {
		cfg.API.Bind = v
	}
	if v := get("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitCommaList(v)
	}
	if v := get("DIRECTORY_DB"); v != "" {
		cfg.Directory.DBPath = v
	}
	if v := get("DIRECTORY_SEED"); v != "" {
		cfg.Directory.SeedFile = v
	}
	if v := get("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := get("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if val, ok := envBool(get("TRACING")); ok {
		cfg.Tracing.Enabled = val
	}

	durations := []struct {
		name  string
		field *time.Duration
	}{
		{"BUS_TIMEOUT", &cfg.Bus.Timeout},
		{"SWEEP_INTERVAL", &cfg.Coordination.SweepInterval},
		{"INTEL_MAX_AGE", &cfg.Coordination.IntelMaxAge},
		{"LOOKUP_TIMEOUT", &cfg.Lookups.Timeout},
	}
	for _, d := range durations {
		v := get(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return envErr(err, d.name, v)
		}
		*d.field = parsed
	}

	if v := get("LOOKUP_MAX_RETRIES"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return envErr(err, "LOOKUP_MAX_RETRIES", v)
		}
		cfg.Lookups.MaxRetries = n
	}
	if v := get("LOOKUP_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envErr(err, "LOOKUP_RATE_LIMIT", v)
		}
		cfg.Lookups.RateLimit = f
	}
	return nil
}

func envErr(err error, name, value string) error {
	return errors.Wrap(err, errors.ErrCodeConfigParse, "invalid environment override").
		WithContext("variable", environmentVarsPrefix+name).
		WithContext("value", value)
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(val string) (bool, bool) {
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	switch strings.ToLower(host) {
	case "localhost":
		return true
	case "0.0.0.0", "::":
		return false
	default:
		ip := net.ParseIP(host)
		if ip == nil {
			return false
		}
		return ip.IsLoopback()
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(c.Bus.URL) == "" {
		return invalid("bus.url must be set")
	}
	if c.Bus.Timeout <= 0 {
		return invalid("bus.timeout must be > 0, got %s", c.Bus.Timeout)
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return invalid("api.bind must be host:port, got %q", c.API.Bind)
	}
	if strings.TrimSpace(c.Directory.DBPath) == "" {
		return invalid("directory.db_path must be set")
	}
	if c.Coordination.SweepInterval < minimumSweepInterval {
		return invalid("coordination.sweep_interval must be >= %s, got %s", minimumSweepInterval, c.Coordination.SweepInterval)
	}
	if c.Coordination.IntelMaxAge <= 0 {
		return invalid("coordination.intel_max_age must be > 0, got %s", c.Coordination.IntelMaxAge)
	}
	if c.Lookups.Timeout <= 0 {
		return invalid("lookups.timeout must be > 0, got %s", c.Lookups.Timeout)
	}
	if c.Lookups.RateLimit < 0 {
		return invalid("lookups.rate_limit must be >= 0, got %g", c.Lookups.RateLimit)
	}
	if c.Lookups.Burst < 0 {
		return invalid("lookups.burst must be >= 0, got %d", c.Lookups.Burst)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return invalid("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	validFormats := map[string]bool{"auto": true, "json": true, "text": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return invalid("invalid log format: %s (must be auto, json, or text)", c.Logging.Format)
	}
	return nil
}

// ValidationWarnings returns non-fatal warnings about the configuration.
func (c *Config) ValidationWarnings() []string {
	var warnings []string
	if !isLoopbackBindAddress(c.API.Bind) {
		warnings = append(warnings, fmt.Sprintf("SECURITY: API binds to %s and has no authentication. Put it behind a proxy or bind to localhost.", c.API.Bind))
	}
	if c.Lookups.RateLimit == 0 {
		warnings = append(warnings, "Lookup rate limiting is disabled; a large push can flood the directory with requests.")
	}
	if c.Coordination.IntelMaxAge < c.Coordination.SweepInterval {
		warnings = append(warnings, "coordination.intel_max_age is shorter than the sweep interval; intel is refetched on every sweep.")
	}
	return warnings
}

// BusOptions returns the NATS connection settings.
func (c *Config) BusOptions() bus.Config {
	return bus.Config{URL: c.Bus.URL, Name: c.Bus.Name, Timeout: c.Bus.Timeout}
}

// RemoteConfig returns the directory client settings.
func (c *Config) RemoteConfig() remote.Config {
	return remote.Config{
		Timeout:        c.Lookups.Timeout,
		MaxRetries:     c.Lookups.MaxRetries,
		RateLimit:      c.Lookups.RateLimit,
		Burst:          c.Lookups.Burst,
		InitialBackoff: c.Lookups.InitialBackoff,
	}
}

// DeliveryConfig returns the coordination service timing.
func (c *Config) DeliveryConfig() delivery.Config {
	return delivery.Config{
		SweepInterval: c.Coordination.SweepInterval,
		IntelMaxAge:   c.Coordination.IntelMaxAge,
	}
}

func loadConfigEnvVars() map[string]string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return nil
	}

	path := filepath.Join(home, configDirName, configEnvFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	vars := make(map[string]string)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		line = strings.TrimSpace(line)
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		vars[key] = value
	}
	return vars
}
