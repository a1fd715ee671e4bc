package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/servicedesk/internal/deadletter"
)

// Config is the main configuration structure for servicedesk.
type Config struct {
	Version     int               `yaml:"version"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Tracing     TracingConfig     `yaml:"tracing"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Sinks       SinksConfig       `yaml:"sinks"`
	CalendarID  string            `yaml:"calendar_id"`
	Performance PerformanceConfig `yaml:"performance"`
	DeadLetter  DeadLetterConfig  `yaml:"dead_letter"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	HTTPPort          int           `yaml:"http_port"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
	Auth              AuthConfig    `yaml:"auth"`
}

// AuthConfig guards the tool routes with HS256 bearer tokens. An empty
// secret leaves them open.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type LoggingConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// TracingConfig controls OpenTelemetry tracing. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint     string            `yaml:"endpoint"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	SamplingRate float64           `yaml:"sampling_rate"`
	Insecure     bool              `yaml:"insecure"`
	Attributes   map[string]string `yaml:"attributes"`
}

// SessionsConfig selects the session store.
type SessionsConfig struct {
	// Backend is "memory" or "postgres".
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	EnsureSchema    *bool         `yaml:"ensure_schema"`
}

type SinksConfig struct {
	Row      SinkConfig `yaml:"row"`
	Calendar SinkConfig `yaml:"calendar"`
}

// SinkConfig configures one webhook sink and its reliability stack.
type SinkConfig struct {
	URL       string            `yaml:"url"`
	Method    string            `yaml:"method"`
	Token     string            `yaml:"token"`
	Headers   map[string]string `yaml:"headers"`
	RateLimit float64           `yaml:"rate_limit"`
	Burst     int               `yaml:"burst"`

	// Timeout bounds each attempt.
	Timeout time.Duration `yaml:"timeout"`
	Retry   RetryConfig   `yaml:"retry"`
	Breaker BreakerConfig `yaml:"breaker"`
}

type RetryConfig struct {
	// MaxRetries counts retries after the first attempt. Unset means 3.
	MaxRetries *int          `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Multiplier float64       `yaml:"multiplier"`
}

type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

type PerformanceConfig struct {
	BufferSize        int           `yaml:"buffer_size"`
	SlowThreshold     time.Duration `yaml:"slow_threshold"`
	VerySlowThreshold time.Duration `yaml:"very_slow_threshold"`
	SummaryWindow     time.Duration `yaml:"summary_window"`
}

// DeadLetterConfig configures where failed sink writes are kept and how they
// are replayed.
type DeadLetterConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`

	// ReplaySchedule is a cron expression; empty disables scheduled replay.
	ReplaySchedule string     `yaml:"replay_schedule"`
	MaxAttempts    int        `yaml:"max_attempts"`
	BatchSize      int        `yaml:"batch_size"`
	AMQP           AMQPConfig `yaml:"amqp"`
}

// AMQPConfig mirrors dead letters to a broker. An empty URL disables it.
type AMQPConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "invalid config: " + strings.Join(e.Issues, "; ")
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads path (resolving $include and ${ENV}), applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MinJWTSecretLength is the shortest accepted HS256 signing secret.
const MinJWTSecretLength = 16

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.ToolTimeout == 0 {
		cfg.Server.ToolTimeout = 60 * time.Second
	}
	if cfg.Server.Auth.TokenTTL == 0 {
		cfg.Server.Auth.TokenTTL = 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "servicedesk"
	}
	if cfg.Tracing.SamplingRate == 0 {
		cfg.Tracing.SamplingRate = 1
	}

	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	pg := &cfg.Sessions.Postgres
	if pg.MaxOpenConns == 0 {
		pg.MaxOpenConns = 10
	}
	if pg.MaxIdleConns == 0 {
		pg.MaxIdleConns = 5
	}
	if pg.ConnMaxLifetime == 0 {
		pg.ConnMaxLifetime = 5 * time.Minute
	}
	if pg.ConnectTimeout == 0 {
		pg.ConnectTimeout = 10 * time.Second
	}
	if pg.EnsureSchema == nil {
		ensure := true
		pg.EnsureSchema = &ensure
	}

	applySinkDefaults(&cfg.Sinks.Row)
	applySinkDefaults(&cfg.Sinks.Calendar)

	perf := &cfg.Performance
	if perf.BufferSize == 0 {
		perf.BufferSize = 1000
	}
	if perf.SlowThreshold == 0 {
		perf.SlowThreshold = 2 * time.Second
	}
	if perf.VerySlowThreshold == 0 {
		perf.VerySlowThreshold = 5 * time.Second
	}
	if perf.SummaryWindow == 0 {
		perf.SummaryWindow = 5 * time.Minute
	}

	dl := &cfg.DeadLetter
	if dl.Backend == "" {
		dl.Backend = "memory"
	}
	if dl.Backend == "sqlite" && dl.Path == "" {
		dl.Path = "servicedesk-deadletters.db"
	}
	if dl.MaxAttempts == 0 {
		dl.MaxAttempts = 5
	}
	if dl.BatchSize == 0 {
		dl.BatchSize = 100
	}
	if dl.AMQP.URL != "" && dl.AMQP.Exchange == "" {
		dl.AMQP.Exchange = "servicedesk.dead_letters"
	}
}

func applySinkDefaults(s *SinkConfig) {
	if s.Method == "" {
		s.Method = "POST"
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Second
	}
	if s.Retry.MaxRetries == nil {
		retries := 3
		s.Retry.MaxRetries = &retries
	}
	if s.Retry.BaseDelay == 0 {
		s.Retry.BaseDelay = 200 * time.Millisecond
	}
	if s.Retry.MaxDelay == 0 {
		s.Retry.MaxDelay = 5 * time.Second
	}
	if s.Retry.Multiplier == 0 {
		s.Retry.Multiplier = 2
	}
	if s.Breaker.FailureThreshold == 0 {
		s.Breaker.FailureThreshold = 5
	}
	if s.Breaker.RecoveryTimeout == 0 {
		s.Breaker.RecoveryTimeout = 30 * time.Second
	}
}

// Validate reports every problem in cfg. Call it after defaults are applied.
func (c *Config) Validate() error {
	var issues []string
	add := func(format string, args ...any) {
		issues = append(issues, fmt.Sprintf(format, args...))
	}

	if err := ValidateVersion(c.Version); err != nil {
		add("version: %v", err)
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		add("server.http_port must be between 0 and 65535")
	}
	if secret := c.Server.Auth.JWTSecret; secret != "" && len(secret) < MinJWTSecretLength {
		add("server.auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Server.Auth.TokenTTL < 0 {
		add("server.auth.token_ttl must not be negative")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level must be debug, info, warn or error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		add("logging.format must be json or text")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		add("tracing.sampling_rate must be between 0 and 1")
	}

	switch c.Sessions.Backend {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Sessions.Postgres.DSN) == "" {
			add("sessions.postgres.dsn is required for the postgres backend")
		}
	default:
		add("sessions.backend must be memory or postgres")
	}

	validateSink("sinks.row", c.Sinks.Row, add)
	validateSink("sinks.calendar", c.Sinks.Calendar, add)

	if c.Performance.BufferSize < 1 {
		add("performance.buffer_size must be positive")
	}
	if c.Performance.VerySlowThreshold < c.Performance.SlowThreshold {
		add("performance.very_slow_threshold must not be below slow_threshold")
	}

	switch c.DeadLetter.Backend {
	case "memory", "sqlite":
	default:
		add("dead_letter.backend must be memory or sqlite")
	}
	if c.DeadLetter.ReplaySchedule != "" {
		if err := deadletter.ValidateSchedule(c.DeadLetter.ReplaySchedule); err != nil {
			add("dead_letter.replay_schedule: %v", err)
		}
	}
	if c.DeadLetter.MaxAttempts < 1 {
		add("dead_letter.max_attempts must be positive")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func validateSink(prefix string, s SinkConfig, add func(string, ...any)) {
	if strings.TrimSpace(s.URL) == "" {
		add("%s.url is required", prefix)
	} else if u, err := url.Parse(s.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("%s.url must be an http or https URL", prefix)
	}
	if s.Timeout < 0 {
		add("%s.timeout must not be negative", prefix)
	}
	if s.RateLimit < 0 {
		add("%s.rate_limit must not be negative", prefix)
	}
	if s.Retry.MaxRetries != nil && *s.Retry.MaxRetries < 0 {
		add("%s.retry.max_retries must not be negative", prefix)
	}
	if s.Retry.Multiplier < 1 {
		add("%s.retry.multiplier must be at least 1", prefix)
	}
	if s.Retry.MaxDelay < s.Retry.BaseDelay {
		add("%s.retry.max_delay must not be below base_delay", prefix)
	}
	if s.Breaker.FailureThreshold < 1 {
		add("%s.breaker.failure_threshold must be positive", prefix)
	}
}
