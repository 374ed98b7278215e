package sqlgate

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/rickchristie/sqlgate-mcp/internal/policy"
)

// Defaults applied by LoadServerConfig and, for zero values, by New.
const (
	DefaultLimitSize              = 100
	DefaultExportMaxRows          = 10000
	DefaultMaxConns               = 10
	DefaultTimeoutSeconds         = 30
	DefaultMetadataTimeoutSeconds = 10
	DefaultMaxSQLLength           = 100000
	DefaultMaxValueBytes          = 1 << 20
	DefaultPort                   = 8080
	DefaultMetricsPath            = "/metrics"
)

// Config is the engine configuration used by library mode via New().
type Config struct {
	Pool         PoolConfig         `yaml:"pool" json:"pool"`
	Query        QueryConfig        `yaml:"query" json:"query"`
	Protection   ProtectionConfig   `yaml:"protection" json:"protection"`
	Access       AccessConfig       `yaml:"access" json:"access"`
	Export       ExportConfig       `yaml:"export" json:"export"`
	ErrorPrompts []ErrorPromptRule  `yaml:"error_prompts" json:"error_prompts"`
	Sanitization []SanitizationRule `yaml:"sanitization" json:"sanitization"`
	Timezone     string             `yaml:"timezone" json:"timezone"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config     `yaml:",inline"`
	Connection ConnectionConfig `yaml:"connection" json:"connection"`
	Server     ServerSettings   `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ConnectionConfig holds the connection strings used by CLI mode.
type ConnectionConfig struct {
	ConnString string `yaml:"conn_string" json:"conn_string"`

	// MetadataConnString is used for introspection; empty means the
	// primary connection is shared.
	MetadataConnString string `yaml:"metadata_conn_string" json:"metadata_conn_string"`
}

// PoolConfig holds connection pool settings. Durations use Go syntax.
type PoolConfig struct {
	MaxConns          int    `yaml:"max_conns" json:"max_conns"`
	MinConns          int    `yaml:"min_conns" json:"min_conns"`
	MetadataMaxConns  int    `yaml:"metadata_max_conns" json:"metadata_max_conns"`
	AcquireTimeout    string `yaml:"acquire_timeout" json:"acquire_timeout"`
	MaxConnLifetime   string `yaml:"max_conn_lifetime" json:"max_conn_lifetime"`
	MaxConnIdleTime   string `yaml:"max_conn_idle_time" json:"max_conn_idle_time"`
	HealthCheckPeriod string `yaml:"health_check_period" json:"health_check_period"`
}

// QueryConfig holds query execution settings.
type QueryConfig struct {
	LimitSize              int           `yaml:"limit_size" json:"limit_size"`
	DefaultTimeoutSeconds  int           `yaml:"default_timeout_seconds" json:"default_timeout_seconds"`
	MetadataTimeoutSeconds int           `yaml:"metadata_timeout_seconds" json:"metadata_timeout_seconds"`
	MaxSQLLength           int           `yaml:"max_sql_length" json:"max_sql_length"`
	MaxValueBytes          int           `yaml:"max_value_bytes" json:"max_value_bytes"`
	TimeoutRules           []TimeoutRule `yaml:"timeout_rules" json:"timeout_rules"`
}

// ProtectionConfig controls the parser verification layer that runs after
// the keyword classifier.
type ProtectionConfig struct {
	// VerifyWithParser defaults to true when unset.
	VerifyWithParser *bool `yaml:"verify_with_parser" json:"verify_with_parser"`
}

func (c ProtectionConfig) parserEnabled() bool {
	return c.VerifyWithParser == nil || *c.VerifyWithParser
}

// AccessConfig holds the table and column whitelists. Tables are NAME or
// SCHEMA.NAME, columns are TABLE.COLUMN. Empty lists allow everything.
type AccessConfig struct {
	Tables  []string `yaml:"tables" json:"tables"`
	Columns []string `yaml:"columns" json:"columns"`
}

// ExportConfig holds export settings.
type ExportConfig struct {
	MaxRows     int                `yaml:"max_rows" json:"max_rows"`
	ObjectStore *ObjectStoreConfig `yaml:"object_store" json:"object_store"`
}

// ObjectStoreConfig enables uploading exports to MinIO or S3.
type ObjectStoreConfig struct {
	Endpoint   string `yaml:"endpoint" json:"endpoint"`
	AccessKey  string `yaml:"access_key" json:"access_key"`
	SecretKey  string `yaml:"secret_key" json:"secret_key"`
	UseSSL     bool   `yaml:"use_ssl" json:"use_ssl"`
	Region     string `yaml:"region" json:"region"`
	Bucket     string `yaml:"bucket" json:"bucket"`
	Prefix     string `yaml:"prefix" json:"prefix"`
	PresignTTL string `yaml:"presign_ttl" json:"presign_ttl"`
}

// ServerSettings holds transport settings for CLI mode.
type ServerSettings struct {
	Transport          string `yaml:"transport" json:"transport"` // stdio or http
	Port               int    `yaml:"port" json:"port"`
	HealthCheckEnabled bool   `yaml:"health_check_enabled" json:"health_check_enabled"`
	HealthCheckPath    string `yaml:"health_check_path" json:"health_check_path"`
	MetricsEnabled     bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsPath        string `yaml:"metrics_path" json:"metrics_path"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`   // debug, info, warn, error
	Format string `yaml:"format" json:"format"` // json, text
	Output string `yaml:"output" json:"output"` // stderr, stdout, or file path
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `yaml:"pattern" json:"pattern"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Message string `yaml:"message" json:"message"`
}

// SanitizationRule defines a regex-based redaction of string values.
// Columns limits the rule to the named result columns.
type SanitizationRule struct {
	Pattern     string   `yaml:"pattern" json:"pattern"`
	Replacement string   `yaml:"replacement" json:"replacement"`
	Columns     []string `yaml:"columns" json:"columns"`
	Description string   `yaml:"description" json:"description"`
}

// Environment variables read by LoadServerConfig.
const (
	EnvConfigPath            = "SQLGATE_CONFIG_PATH"
	EnvConnString            = "DB_CONNECTION_STRING"
	EnvMetadataConnString    = "COMMENT_DB_CONNECTION_STRING"
	EnvTableWhiteList        = "TABLE_WHITE_LIST"
	EnvColumnWhiteList       = "COLUMN_WHITE_LIST"
	EnvQueryLimitSize        = "QUERY_LIMIT_SIZE"
	EnvMaxRowsExport         = "MAX_ROWS_EXPORT"
	EnvDebug                 = "DEBUG"
	EnvObjectStoreAccessKey  = "EXPORT_S3_ACCESS_KEY"
	EnvObjectStoreSecretKey  = "EXPORT_S3_SECRET_KEY"
	defaultTransport         = "stdio"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultAcquireTimeoutStr = "10s"
)

// DefaultServerConfig returns a ServerConfig with every default applied and
// no connection string.
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// LoadServerConfig reads the YAML file at path, overlays the environment
// read through getenv and applies defaults. An empty path skips the file.
// The result is validated.
func LoadServerConfig(path string, getenv func(string) string) (*ServerConfig, error) {
	cfg := &ServerConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ServerConfig) applyEnv(getenv func(string) string) error {
	if getenv == nil {
		return nil
	}
	if v := getenv(EnvConnString); v != "" {
		c.Connection.ConnString = v
	}
	if v := getenv(EnvMetadataConnString); v != "" {
		c.Connection.MetadataConnString = v
	}
	if v := getenv(EnvTableWhiteList); v != "" {
		c.Access.Tables = splitList(v)
	}
	if v := getenv(EnvColumnWhiteList); v != "" {
		c.Access.Columns = splitList(v)
	}
	if v := getenv(EnvQueryLimitSize); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n < 0 {
			return fmt.Errorf("%s must be a non-negative integer, got %q", EnvQueryLimitSize, v)
		}
		c.Query.LimitSize = n
	}
	if v := getenv(EnvMaxRowsExport); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", EnvMaxRowsExport, v)
		}
		c.Export.MaxRows = n
	}
	if isTruthy(getenv(EnvDebug)) {
		c.Logging.Level = "debug"
	}
	if c.Export.ObjectStore != nil {
		if v := getenv(EnvObjectStoreAccessKey); v != "" {
			c.Export.ObjectStore.AccessKey = v
		}
		if v := getenv(EnvObjectStoreSecretKey); v != "" {
			c.Export.ObjectStore.SecretKey = v
		}
	}
	return nil
}

// ApplyDefaults fills zero values.
func (c *ServerConfig) ApplyDefaults() {
	c.Config.applyDefaults()
	if c.Server.Transport == "" {
		c.Server.Transport = defaultTransport
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

func (c *Config) applyDefaults() {
	if c.Pool.MaxConns == 0 {
		c.Pool.MaxConns = DefaultMaxConns
	}
	if c.Pool.AcquireTimeout == "" {
		c.Pool.AcquireTimeout = defaultAcquireTimeoutStr
	}
	if c.Query.LimitSize == 0 {
		c.Query.LimitSize = DefaultLimitSize
	}
	if c.Query.DefaultTimeoutSeconds == 0 {
		c.Query.DefaultTimeoutSeconds = DefaultTimeoutSeconds
	}
	if c.Query.MetadataTimeoutSeconds == 0 {
		c.Query.MetadataTimeoutSeconds = DefaultMetadataTimeoutSeconds
	}
	if c.Query.MaxSQLLength == 0 {
		c.Query.MaxSQLLength = DefaultMaxSQLLength
	}
	if c.Query.MaxValueBytes == 0 {
		c.Query.MaxValueBytes = DefaultMaxValueBytes
	}
	if c.Export.MaxRows == 0 {
		c.Export.MaxRows = DefaultExportMaxRows
	}
}

// Validate reports every configuration problem found, joined.
func (c *ServerConfig) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.Connection.ConnString == "" {
		add("connection.conn_string (or %s) is required", EnvConnString)
	}
	switch c.Server.Transport {
	case "stdio":
	case "http":
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Server.HealthCheckEnabled && !strings.HasPrefix(c.Server.HealthCheckPath, "/") {
			add("server.health_check_path must start with / when health_check_enabled is true")
		}
		if c.Server.MetricsEnabled && !strings.HasPrefix(c.Server.MetricsPath, "/") {
			add("server.metrics_path must start with /")
		}
	default:
		add("server.transport must be stdio or http, got %q", c.Server.Transport)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		add("logging.format must be json or text, got %q", c.Logging.Format)
	}

	problems = append(problems, c.Config.problems()...)
	return errors.Join(problems...)
}

// problems checks everything New would otherwise reject.
func (c *Config) problems() []error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if c.Pool.MaxConns <= 0 {
		add("pool.max_conns must be > 0")
	}
	if c.Pool.MinConns < 0 || c.Pool.MinConns > c.Pool.MaxConns {
		add("pool.min_conns must be between 0 and pool.max_conns")
	}
	if c.Pool.MetadataMaxConns < 0 {
		add("pool.metadata_max_conns must be >= 0")
	}
	for name, value := range map[string]string{
		"pool.acquire_timeout":     c.Pool.AcquireTimeout,
		"pool.max_conn_lifetime":   c.Pool.MaxConnLifetime,
		"pool.max_conn_idle_time":  c.Pool.MaxConnIdleTime,
		"pool.health_check_period": c.Pool.HealthCheckPeriod,
	} {
		if _, err := parseDuration(value); err != nil {
			add("invalid %s %q: %v", name, value, err)
		}
	}
	if c.Query.LimitSize < 0 {
		add("query.limit_size must be >= 0")
	}
	if c.Query.DefaultTimeoutSeconds <= 0 {
		add("query.default_timeout_seconds must be > 0")
	}
	if c.Query.MetadataTimeoutSeconds <= 0 {
		add("query.metadata_timeout_seconds must be > 0")
	}
	if c.Query.MaxSQLLength <= 0 {
		add("query.max_sql_length must be > 0")
	}
	if c.Query.MaxValueBytes <= 0 {
		add("query.max_value_bytes must be > 0")
	}
	if c.Export.MaxRows <= 0 {
		add("export.max_rows must be > 0")
	}
	if store := c.Export.ObjectStore; store != nil {
		if store.Endpoint == "" || store.Bucket == "" {
			add("export.object_store requires endpoint and bucket")
		}
		if _, err := parseDuration(store.PresignTTL); err != nil {
			add("invalid export.object_store.presign_ttl %q: %v", store.PresignTTL, err)
		}
	}
	if _, err := policy.New(c.Access.Tables, c.Access.Columns); err != nil {
		problems = append(problems, err)
	}
	for i, rule := range c.Query.TimeoutRules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			add("query.timeout_rules[%d] regex does not compile: %v", i, err)
		}
		if rule.TimeoutSeconds <= 0 {
			add("query.timeout_rules[%d] timeout_seconds must be > 0", i)
		}
	}
	for i, rule := range c.ErrorPrompts {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			add("error_prompts[%d] regex does not compile: %v", i, err)
		}
	}
	for i, rule := range c.Sanitization {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			add("sanitization[%d] regex does not compile: %v", i, err)
		}
	}
	return problems
}

// parseDuration accepts an empty string as zero.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
