// Package db provides database connectivity for the certificate service.
package db

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yourorg/certificate-service/pkg/db/models"
)

// Config contains database configuration
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	Database           string
	MaxConnections     int
	MaxIdleConnections int
	ConnectionLifetime time.Duration
	LogLevel           string
}

// DSN builds the MySQL data source name
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

// Connection wraps the GORM database connection
type Connection struct {
	db     *gorm.DB
	config *Config
	logger *zap.Logger
}

// NewConnection creates a new database connection
func NewConnection(cfg *Config, zapLogger *zap.Logger) (*Connection, error) {
	gormConfig := &gorm.Config{
		Logger:         logger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		TranslateError: true,
	}

	db, err := gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxConnections)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConnections)
	sqlDB.SetConnMaxLifetime(cfg.ConnectionLifetime)

	zapLogger.Info("database connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database))

	return &Connection{
		db:     db,
		config: cfg,
		logger: zapLogger,
	}, nil
}

// Wrap builds a Connection around an already opened gorm handle
func Wrap(db *gorm.DB, zapLogger *zap.Logger) *Connection {
	return &Connection{db: db, logger: zapLogger}
}

func gormLogLevel(level string) logger.LogLevel {
	switch level {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "info":
		return logger.Info
	default:
		return logger.Warn
	}
}

// DB returns the underlying GORM database instance
func (c *Connection) DB() *gorm.DB {
	return c.db
}

// Close closes the database connection
func (c *Connection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks the database connection
func (c *Connection) Ping() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// AllModels lists every persisted model in dependency order
func AllModels() []interface{} {
	return []interface{}{
		&models.Tenant{},
		&models.TenantAPIKey{},
		&models.Template{},
		&models.Page{},
		&models.Element{},
		&models.Issue{},
		&models.StoredFile{},
		&models.User{},
		&models.GroupMember{},
	}
}

// AutoMigrate runs auto-migration for all models
func (c *Connection) AutoMigrate() error {
	return c.db.AutoMigrate(AllModels()...)
}

// Transaction executes a function within a transaction
func (c *Connection) Transaction(fn func(tx *gorm.DB) error) error {
	return c.db.Transaction(fn)
}

// Stats returns database connection statistics
type Stats struct {
	MaxOpenConnections int `json:"max_open_connections"`
	OpenConnections    int `json:"open_connections"`
	InUse              int `json:"in_use"`
	Idle               int `json:"idle"`
}

// GetStats returns connection pool statistics
func (c *Connection) GetStats() (*Stats, error) {
	sqlDB, err := c.db.DB()
	if err != nil {
		return nil, err
	}

	stats := sqlDB.Stats()
	return &Stats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
	}, nil
}
