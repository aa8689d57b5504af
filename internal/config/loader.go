package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var (
	durationType = reflect.TypeOf(time.Duration(0))
	byteSizeType = reflect.TypeOf(ByteSize(0))
)

// ByteSize is a size in bytes that reads from the environment as a plain
// number or with a KB, MB or GB suffix (powers of 1024).
type ByteSize int64

// ParseByteSize parses "1048576", "512KB", "100MB" or "1GB".
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return ByteSize(n * mult), nil
}

// Load reads configuration from environment variables, applies defaults
// and validates the result. Every missing or unparsable variable is
// reported, not just the first.
func Load() (*Config, error) {
	cfg := &Config{}

	var problems []string
	loadStruct(reflect.ValueOf(cfg).Elem(), &problems)
	if len(problems) > 0 {
		return nil, fmt.Errorf("config load:\n  - %s", strings.Join(problems, "\n  - "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// loadStruct walks nested structs and fills every field carrying an env tag.
func loadStruct(v reflect.Value, problems *[]string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field, fv := t.Field(i), v.Field(i)
		if !fv.CanSet() {
			continue
		}
		if field.Type.Kind() == reflect.Struct {
			loadStruct(fv, problems)
			continue
		}

		name := field.Tag.Get("env")
		if name == "" {
			continue
		}
		value, from := lookupEnv(name, field.Tag.Get("envAlt"))
		if value == "" {
			if field.Tag.Get("required") == "true" {
				*problems = append(*problems, fmt.Sprintf("required environment variable %s is not set", name))
				continue
			}
			value, from = field.Tag.Get("default"), "default"
		}
		if value == "" {
			continue
		}

		if err := setField(fv, value); err != nil {
			*problems = append(*problems, fmt.Sprintf("%s=%q (from %s): %v", name, value, from, err))
		}
	}
}

// lookupEnv returns the value of name, falling back to alt, and the
// variable it came from.
func lookupEnv(name, alt string) (string, string) {
	if v := os.Getenv(name); v != "" {
		return v, name
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v, alt
		}
	}
	return "", ""
}

func setField(field reflect.Value, value string) error {
	switch field.Type() {
	case durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration: %w", err)
		}
		field.SetInt(int64(d))
		return nil
	case byteSizeType:
		n, err := ParseByteSize(value)
		if err != nil {
			return err
		}
		field.SetInt(int64(n))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		var items []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// checks gathers validation failures.
type checks []string

func (c *checks) require(ok bool, format string, args ...any) {
	if !ok {
		*c = append(*c, fmt.Sprintf(format, args...))
	}
}

// Validate checks the whole configuration and reports every failure.
func (c *Config) Validate() error {
	var errs checks
	c.Database.validate(&errs)
	c.Server.validate(&errs)
	c.Import.validate(&errs)

	errs.require(!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0,
		"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	errs.require(!c.Security.RequireAPIKey || len(c.Security.APIKeys) > 0,
		"REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	errs.require(c.Security.RemoteUserHeader != "", "REMOTE_USER_HEADER must not be empty")

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs.require(false, "LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs.require(false, "LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format)
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (d *DatabaseConfig) validate(errs *checks) {
	switch strings.ToLower(d.Driver) {
	case DriverPostgres:
		errs.require(d.URL != "", "DATABASE_URL is required for the postgres driver")
		errs.require(d.MaxConns > 0, "DB_MAX_CONNS must be positive")
		errs.require(d.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
		errs.require(d.MaxConns >= d.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", d.MaxConns, d.MinConns)
	case DriverSQLite:
		errs.require(d.SQLitePath != "", "SQLITE_PATH is required for the sqlite driver")
	case DriverMemory:
	default:
		errs.require(false, "DATABASE_DRIVER (%q) must be one of: postgres, sqlite, memory", d.Driver)
	}
}

func (s *ServerConfig) validate(errs *checks) {
	errs.require(s.Port > 0 && s.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", s.Port)
	errs.require(s.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	errs.require(s.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")
}

func (i *ImportConfig) validate(errs *checks) {
	errs.require(i.MaxFileSize > 0, "IMPORT_MAX_FILE_SIZE must be positive")
	errs.require(i.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	errs.require(i.MaxWaitTime > 0, "IMPORT_MAX_WAIT_TIME must be positive")
	errs.require(i.Timeout > 0, "IMPORT_TIMEOUT must be positive")
	errs.require(i.BatchRetention > 0, "IMPORT_BATCH_RETENTION must be positive")
	errs.require(i.GCInterval >= 0, "IMPORT_GC_INTERVAL must be non-negative")
	errs.require(i.SampleRows > 0, "IMPORT_SAMPLE_ROWS must be positive")
}

// String returns the configuration for logging with the database URL and
// API keys masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: {Addr: %q}, Database: {Driver: %q, URL: [MASKED], SQLitePath: %q}, "+
		"Import: {MaxFileSize: %d, MaxConcurrent: %d, Retention: %s}, "+
		"Security: {RequireAPIKey: %v, APIKeys: %d configured}, Logging: {Level: %q, Format: %q}}",
		c.Server.Addr(), c.Database.Driver, c.Database.SQLitePath,
		c.Import.MaxFileSize, c.Import.MaxConcurrent, c.Import.BatchRetention,
		c.Security.RequireAPIKey, len(c.Security.APIKeys), c.Logging.Level, c.Logging.Format)
}
