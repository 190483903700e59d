// Package config handles configuration loading for the certificate service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/db"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/template"
)

// EnvPrefix prefixes every environment override, e.g. CERT_DATABASE_HOST
const EnvPrefix = "CERT"

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig         `mapstructure:"server"`
	Database    DatabaseConfig       `mapstructure:"database"`
	Auth        AuthConfig           `mapstructure:"auth"`
	Logging     LoggingConfig        `mapstructure:"logging"`
	Quickwit    audit.QuickwitConfig `mapstructure:"quickwit"`
	Certificate CertificateConfig    `mapstructure:"certificate"`
	Metrics     MetricsConfig        `mapstructure:"metrics"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Debug           bool          `mapstructure:"debug"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
}

// DatabaseConfig contains MySQL connection settings
type DatabaseConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	Name               string        `mapstructure:"name"`
	MaxConnections     int           `mapstructure:"max_connections"`
	MaxIdleConnections int           `mapstructure:"max_idle_connections"`
	ConnectionLifetime time.Duration `mapstructure:"connection_lifetime"`
	LogLevel           string        `mapstructure:"log_level"`
}

// AuthConfig contains token settings
type AuthConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	Issuer         string        `mapstructure:"issuer"`
	TokenExpiry    time.Duration `mapstructure:"token_expiry"`
	APIKeysEnabled bool          `mapstructure:"api_keys_enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// CertificateConfig contains the template and issuing behaviour switches
type CertificateConfig struct {
	BaseURL               string   `mapstructure:"base_url"`
	CodeLength            int      `mapstructure:"code_length"`
	MaxCodeAttempts       int      `mapstructure:"max_code_attempts"`
	CascadeIssuesOnDelete bool     `mapstructure:"cascade_issues_on_delete"`
	ScopedVerification    bool     `mapstructure:"scoped_verification"`
	VerifyExpiredFails    bool     `mapstructure:"verify_expired_fails"`
	PublicVerification    bool     `mapstructure:"public_verification"`
	DisabledElements      []string `mapstructure:"disabled_elements"`
	PageWidth             float64  `mapstructure:"page_width"`
	PageHeight            float64  `mapstructure:"page_height"`
	PageMargin            float64  `mapstructure:"page_margin"`
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Path           string        `mapstructure:"path"`
	UpdateInterval time.Duration `mapstructure:"update_interval"`
}

// Loader handles configuration loading from multiple sources
type Loader struct {
	v          *viper.Viper
	configPath string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// SetConfigPath sets the configuration file path
func (l *Loader) SetConfigPath(path string) {
	l.configPath = path
}

// Load loads the configuration from defaults, the config file and the environment
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("/etc/certificate-service/")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Server defaults
	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 8080)
	l.v.SetDefault("server.debug", false)
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "60s")
	l.v.SetDefault("server.shutdown_timeout", "30s")
	l.v.SetDefault("server.max_upload_size", 10<<20)

	// Database defaults
	l.v.SetDefault("database.host", "localhost")
	l.v.SetDefault("database.port", 3306)
	l.v.SetDefault("database.username", "root")
	l.v.SetDefault("database.password", "")
	l.v.SetDefault("database.name", "certificates")
	l.v.SetDefault("database.max_connections", 25)
	l.v.SetDefault("database.max_idle_connections", 5)
	l.v.SetDefault("database.connection_lifetime", "5m")
	l.v.SetDefault("database.log_level", "warn")

	// Auth defaults
	l.v.SetDefault("auth.jwt_secret", "")
	l.v.SetDefault("auth.issuer", "certificate-service")
	l.v.SetDefault("auth.token_expiry", "24h")
	l.v.SetDefault("auth.api_keys_enabled", true)

	// Logging defaults
	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.development", false)

	// Quickwit defaults
	qw := audit.DefaultQuickwitConfig()
	l.v.SetDefault("quickwit.enabled", false)
	l.v.SetDefault("quickwit.base_url", qw.BaseURL)
	l.v.SetDefault("quickwit.index_id", qw.IndexID)
	l.v.SetDefault("quickwit.timeout", qw.Timeout)
	l.v.SetDefault("quickwit.enable_batch", qw.EnableBatch)
	l.v.SetDefault("quickwit.batch_size", qw.BatchSize)
	l.v.SetDefault("quickwit.flush_interval", qw.FlushInterval)

	// Certificate defaults
	tpl := template.DefaultConfig()
	issuing := certificate.DefaultConfig()
	l.v.SetDefault("certificate.base_url", "http://localhost:8080/api/v1")
	l.v.SetDefault("certificate.code_length", issuing.CodeLength)
	l.v.SetDefault("certificate.max_code_attempts", issuing.MaxCodeAttempts)
	l.v.SetDefault("certificate.cascade_issues_on_delete", tpl.CascadeIssues)
	l.v.SetDefault("certificate.scoped_verification", false)
	l.v.SetDefault("certificate.verify_expired_fails", false)
	l.v.SetDefault("certificate.public_verification", true)
	l.v.SetDefault("certificate.disabled_elements", []string{})
	l.v.SetDefault("certificate.page_width", tpl.PageWidth)
	l.v.SetDefault("certificate.page_height", tpl.PageHeight)
	l.v.SetDefault("certificate.page_margin", tpl.PageMargin)

	// Metrics defaults
	l.v.SetDefault("metrics.enabled", true)
	l.v.SetDefault("metrics.path", "/metrics")
	l.v.SetDefault("metrics.update_interval", "1m")
}

// GetConfigPath returns the path to the configuration file being used
func (l *Loader) GetConfigPath() string {
	return l.v.ConfigFileUsed()
}

// SaveConfig writes cfg as YAML to path
func (l *Loader) SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	l.v.Set("server", cfg.Server)
	l.v.Set("database", cfg.Database)
	l.v.Set("auth", cfg.Auth)
	l.v.Set("logging", cfg.Logging)
	l.v.Set("quickwit", cfg.Quickwit)
	l.v.Set("certificate", cfg.Certificate)
	l.v.Set("metrics", cfg.Metrics)

	return l.v.WriteConfigAs(path)
}

// DB converts the database section into connection settings
func (c DatabaseConfig) DB() *db.Config {
	return &db.Config{
		Host:               c.Host,
		Port:               c.Port,
		Username:           c.Username,
		Password:           c.Password,
		Database:           c.Name,
		MaxConnections:     c.MaxConnections,
		MaxIdleConnections: c.MaxIdleConnections,
		ConnectionLifetime: c.ConnectionLifetime,
		LogLevel:           c.LogLevel,
	}
}

// Links returns the URL builder rooted at the public API base
func (c CertificateConfig) Links() element.Links {
	return element.Links{BaseURL: strings.TrimSuffix(c.BaseURL, "/")}
}

// Template returns the template manager configuration
func (c CertificateConfig) Template() template.Config {
	return template.Config{
		PageWidth:     c.PageWidth,
		PageHeight:    c.PageHeight,
		PageMargin:    c.PageMargin,
		CascadeIssues: c.CascadeIssuesOnDelete,
		Links:         c.Links(),
	}
}

// Issuing returns the certificate service configuration
func (c CertificateConfig) Issuing() certificate.Config {
	return certificate.Config{
		CodeLength:         c.CodeLength,
		MaxCodeAttempts:    c.MaxCodeAttempts,
		ScopedVerification: c.ScopedVerification,
		VerifyExpiredFails: c.VerifyExpiredFails,
		Links:              c.Links(),
	}
}

// NewLogger builds the service logger. Stderr-only output keeps stdout free
// for the JSON-RPC transport.
func (c LoggingConfig) NewLogger(stderrOnly bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if c.Development {
		config = zap.NewDevelopmentConfig()
	}

	if c.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(c.Level)); err == nil {
			config.Level.SetLevel(level)
		}
	}

	if stderrOnly {
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
	}

	return config.Build()
}
