package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/yourorg/certificate-service/pkg/element"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validator validates configuration
type Validator struct {
	errors   ValidationErrors
	validate *validator.Validate
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate validates the configuration and returns any errors
func (v *Validator) Validate(cfg *Config) error {
	v.errors = nil

	v.validateServer(cfg.Server)
	v.validateDatabase(cfg.Database)
	v.validateAuth(cfg.Auth)
	v.validateLogging(cfg.Logging)
	v.validateQuickwit(cfg)
	v.validateCertificate(cfg.Certificate)
	v.validateMetrics(cfg.Metrics)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// validateServer validates server configuration
func (v *Validator) validateServer(cfg ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", "must be between 1 and 65535")
	}
	if cfg.ShutdownTimeout <= 0 {
		v.addError("server.shutdown_timeout", "must be positive")
	}
	if cfg.MaxUploadSize <= 0 {
		v.addError("server.max_upload_size", "must be positive")
	}
}

// validateDatabase validates database configuration
func (v *Validator) validateDatabase(cfg DatabaseConfig) {
	if cfg.Host == "" {
		v.addError("database.host", "database host is required")
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("database.port", "must be between 1 and 65535")
	}
	if cfg.Name == "" {
		v.addError("database.name", "database name is required")
	}
	if cfg.MaxIdleConnections > cfg.MaxConnections {
		v.addError("database.max_idle_connections", "must not exceed max_connections")
	}
	if err := v.validate.Var(cfg.LogLevel, "omitempty,oneof=silent error warn info"); err != nil {
		v.addError("database.log_level", "must be one of silent, error, warn, info")
	}
}

// validateAuth validates token configuration
func (v *Validator) validateAuth(cfg AuthConfig) {
	if cfg.JWTSecret == "" {
		v.addError("auth.jwt_secret", "JWT secret is required")
	} else if len(cfg.JWTSecret) < 32 {
		v.addError("auth.jwt_secret", "must be at least 32 characters")
	}
	if cfg.TokenExpiry <= 0 {
		v.addError("auth.token_expiry", "must be positive")
	}
}

// validateLogging validates logging configuration
func (v *Validator) validateLogging(cfg LoggingConfig) {
	if err := v.validate.Var(cfg.Level, "omitempty,oneof=debug info warn error dpanic panic fatal"); err != nil {
		v.addError("logging.level", "unknown log level")
	}
}

// validateQuickwit validates the audit sink configuration
func (v *Validator) validateQuickwit(cfg *Config) {
	qw := cfg.Quickwit
	if !qw.Enabled {
		return
	}
	if err := v.validate.Var(qw.BaseURL, "required,url"); err != nil {
		v.addError("quickwit.base_url", "invalid URL format")
	}
	if qw.IndexID == "" {
		v.addError("quickwit.index_id", "index ID is required")
	}
	if qw.EnableBatch {
		if qw.BatchSize < 1 {
			v.addError("quickwit.batch_size", "must be at least 1")
		}
		if qw.FlushInterval <= 0 {
			v.addError("quickwit.flush_interval", "must be positive")
		}
	}
}

// validateCertificate validates issuing and template settings
func (v *Validator) validateCertificate(cfg CertificateConfig) {
	if err := v.validate.Var(cfg.BaseURL, "required,url"); err != nil {
		v.addError("certificate.base_url", "invalid URL format")
	}
	if cfg.CodeLength < 6 || cfg.CodeLength > 40 {
		v.addError("certificate.code_length", "must be between 6 and 40")
	}
	if cfg.MaxCodeAttempts < 1 {
		v.addError("certificate.max_code_attempts", "must be at least 1")
	}
	if cfg.PageWidth <= 0 {
		v.addError("certificate.page_width", "must be positive")
	}
	if cfg.PageHeight <= 0 {
		v.addError("certificate.page_height", "must be positive")
	}
	if cfg.PageMargin < 0 {
		v.addError("certificate.page_margin", "must not be negative")
	}

	known := element.DefaultRegistry()
	for _, t := range cfg.DisabledElements {
		if _, err := known.Get(t); err != nil {
			v.addError("certificate.disabled_elements", fmt.Sprintf("unknown element type %q", t))
		}
	}
}

// validateMetrics validates metrics configuration
func (v *Validator) validateMetrics(cfg MetricsConfig) {
	if !cfg.Enabled {
		return
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}
	if cfg.UpdateInterval <= 0 {
		v.addError("metrics.update_interval", "must be positive")
	}
}

// addError adds a validation error
func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}
