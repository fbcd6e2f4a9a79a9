package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	ERP       ERPConfig
	NFSe      NFSeConfig
	Security  SecurityConfig
	Storage   StorageConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings. When disabled, nonces are
// kept in process memory.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ERPConfig holds the ERP API and OAuth2 endpoints
type ERPConfig struct {
	BaseURL         string
	AuthorizeURL    string
	TokenURL        string
	RedirectURI     string
	Scopes          []string
	Timeout         time.Duration // generic per-call deadline
	PaymentMethodID int64         // fixed payment method sent with every NFSe
	ServiceCode     string        // municipal service code of the NFSe lines
	BatchDelay      time.Duration // delay between two items of a batch
	UserKey         string        // credential row used by this deployment
}

// NFSeConfig holds emission, submission and polling deadlines
type NFSeConfig struct {
	Series        string
	EmitTimeout   time.Duration
	SubmitTimeout time.Duration
	PollAttempts  int
	PollDelay     time.Duration
	PollTimeout   time.Duration

	// PollAfterSubmit waits for the municipal number after an accepted submission
	PollAfterSubmit bool
}

// SecurityConfig holds secrets used at rest and on the operator API
type SecurityConfig struct {
	CredentialKey string // 32-byte key, hex encoded
	JWTSecret     string // empty disables bearer authentication
	JWTIssuer     string
}

// StorageConfig holds the S3 payload archive settings
type StorageConfig struct {
	Enabled         bool
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	Prefix          string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	CORSAllowOrigins []string
	MetricsEnabled   bool
	MaxBodySize      int64

	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// SchedulerConfig holds the periodic sync configuration
type SchedulerConfig struct {
	SyncEnabled  bool
	SyncInterval time.Duration
	RunTimeout   time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	LogsEnabled       bool
	DBTraceEnabled    bool
	DBSlowQueryThresh time.Duration

	ProfilingEnabled bool
	ProfilingServer  string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with NFSE_ prefix (e.g., NFSE_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("NFSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		ERP: ERPConfig{
			BaseURL:         v.GetString("erp.base_url"),
			AuthorizeURL:    v.GetString("erp.authorize_url"),
			TokenURL:        v.GetString("erp.token_url"),
			RedirectURI:     v.GetString("erp.redirect_uri"),
			Scopes:          v.GetStringSlice("erp.scopes"),
			Timeout:         v.GetDuration("erp.timeout"),
			PaymentMethodID: v.GetInt64("erp.payment_method_id"),
			ServiceCode:     v.GetString("erp.service_code"),
			BatchDelay:      v.GetDuration("erp.batch_delay"),
			UserKey:         v.GetString("erp.user_key"),
		},
		NFSe: NFSeConfig{
			Series:        v.GetString("nfse.series"),
			EmitTimeout:   v.GetDuration("nfse.emit_timeout"),
			SubmitTimeout: v.GetDuration("nfse.submit_timeout"),
			PollAttempts:  v.GetInt("nfse.poll_attempts"),
			PollDelay:     v.GetDuration("nfse.poll_delay"),
			PollTimeout:   v.GetDuration("nfse.poll_timeout"),

			PollAfterSubmit: v.GetBool("nfse.poll_after_submit"),
		},
		Security: SecurityConfig{
			CredentialKey: v.GetString("security.credential_key"),
			JWTSecret:     v.GetString("security.jwt_secret"),
			JWTIssuer:     v.GetString("security.jwt_issuer"),
		},
		Storage: StorageConfig{
			Enabled:         v.GetBool("storage.enabled"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			UsePathStyle:    v.GetBool("storage.use_path_style"),
			Prefix:          v.GetString("storage.prefix"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			MetricsEnabled:   v.GetBool("http.metrics_enabled"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),

			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
		},
		Scheduler: SchedulerConfig{
			SyncEnabled:  v.GetBool("scheduler.sync_enabled"),
			SyncInterval: v.GetDuration("scheduler.sync_interval"),
			RunTimeout:   v.GetDuration("scheduler.run_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			ProfilingServer:   v.GetString("telemetry.profiling_server"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "nfse-bridge"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "nfse"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	// ERP defaults follow the Bling v3 API
	if cfg.ERP.BaseURL == "" {
		cfg.ERP.BaseURL = "https://api.bling.com.br/Api/v3"
	}
	if cfg.ERP.AuthorizeURL == "" {
		cfg.ERP.AuthorizeURL = "https://www.bling.com.br/Api/v3/oauth/authorize"
	}
	if cfg.ERP.TokenURL == "" {
		cfg.ERP.TokenURL = "https://www.bling.com.br/Api/v3/oauth/token"
	}
	if cfg.ERP.Timeout == 0 {
		cfg.ERP.Timeout = 30 * time.Second
	}
	if cfg.ERP.UserKey == "" {
		cfg.ERP.UserKey = "default"
	}
	if cfg.ERP.BatchDelay == 0 {
		cfg.ERP.BatchDelay = 1500 * time.Millisecond
	}

	if cfg.NFSe.Series == "" {
		cfg.NFSe.Series = "1"
	}
	if cfg.NFSe.EmitTimeout == 0 {
		cfg.NFSe.EmitTimeout = 45 * time.Second
	}
	if cfg.NFSe.SubmitTimeout == 0 {
		cfg.NFSe.SubmitTimeout = 120 * time.Second
	}
	if cfg.NFSe.PollAttempts == 0 {
		cfg.NFSe.PollAttempts = 5
	}
	if cfg.NFSe.PollDelay == 0 {
		cfg.NFSe.PollDelay = 40 * time.Second
	}
	if cfg.NFSe.PollTimeout == 0 {
		cfg.NFSe.PollTimeout = 30 * time.Second
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "nfse"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// batch endpoints run sequentially with per-call deadlines up to 120s
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 30
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	if cfg.Scheduler.SyncInterval == 0 {
		cfg.Scheduler.SyncInterval = 15 * time.Minute
	}
	if cfg.Scheduler.RunTimeout == 0 {
		cfg.Scheduler.RunTimeout = 30 * time.Minute
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if _, err := url.ParseRequestURI(c.ERP.BaseURL); err != nil {
		return fmt.Errorf("erp.base_url is invalid: %w", err)
	}
	if c.ERP.BatchDelay < 0 {
		return fmt.Errorf("erp.batch_delay cannot be negative")
	}
	if c.NFSe.PollAttempts < 1 {
		return fmt.Errorf("nfse.poll_attempts must be at least 1")
	}
	if c.Security.CredentialKey != "" {
		if _, err := c.Security.CredentialKeyBytes(); err != nil {
			return err
		}
	}
	if c.Storage.Enabled && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket is required when storage is enabled")
	}

	if c.App.Env == "production" {
		if c.Security.CredentialKey == "" {
			return fmt.Errorf("security.credential_key is required in production")
		}
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.ERP.RedirectURI == "" {
			return fmt.Errorf("erp.redirect_uri is required in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// CredentialKeyBytes decodes the hex credential key. An empty key yields nil.
func (s *SecurityConfig) CredentialKeyBytes() ([]byte, error) {
	if s.CredentialKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(s.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("security.credential_key must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("security.credential_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
