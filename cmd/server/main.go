// Package main provides the certificate service entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yourorg/certificate-service/internal/version"
	"github.com/yourorg/certificate-service/pkg/api"
	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/config"
	"github.com/yourorg/certificate-service/pkg/db"
	"github.com/yourorg/certificate-service/pkg/directory"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/filestore"
	"github.com/yourorg/certificate-service/pkg/mcp"
	"github.com/yourorg/certificate-service/pkg/metrics"
	"github.com/yourorg/certificate-service/pkg/pdf"
	"github.com/yourorg/certificate-service/pkg/template"
	"github.com/yourorg/certificate-service/pkg/tenant"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "certificate-service",
		Short: "Certificate templates, issuing and verification",
		Long:  `Multi-tenant service for designing certificate templates, issuing them to users and verifying issued codes.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start the MCP tool server (stdio)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrations()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetInfo().String())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	loader := config.NewLoader()
	if cfgFile != "" {
		loader.SetConfigPath(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// services holds everything the serve and mcp commands share
type services struct {
	conn         *db.Connection
	events       *audit.Logger
	policy       auth.Policy
	resolver     *tenant.DBResolver
	tenants      *tenant.Manager
	files        *filestore.Store
	users        *directory.DB
	registry     *element.Registry
	templates    *template.Manager
	certificates *certificate.Service
	jwt          *auth.JWTManager
}

func buildServices(cfg *config.Config, logger *zap.Logger) (*services, error) {
	conn, err := db.NewConnection(cfg.Database.DB(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	gdb := conn.DB()

	events := newAuditLogger(cfg, logger)
	policy := auth.NewCapabilityPolicy()
	resolver := tenant.NewDBResolver(gdb)
	files := filestore.NewStore(gdb, logger)
	users := directory.NewDB(gdb)
	registry := element.DefaultRegistry(cfg.Certificate.DisabledElements...)

	return &services{
		conn:     conn,
		events:   events,
		policy:   policy,
		resolver: resolver,
		tenants:  tenant.NewManager(gdb, logger),
		files:    files,
		users:    users,
		registry: registry,
		templates: template.NewManager(gdb, logger, template.Dependencies{
			Files:    files,
			Registry: registry,
			Policy:   policy,
			Tenants:  resolver,
			Events:   events,
		}, cfg.Certificate.Template()),
		certificates: certificate.NewService(gdb, logger, certificate.Dependencies{
			Users:   users,
			Groups:  users,
			Policy:  policy,
			Tenants: resolver,
			Events:  events,
		}, cfg.Certificate.Issuing()),
		jwt: auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry),
	}, nil
}

// close flushes pending audit events before the database goes away
func (s *services) close(logger *zap.Logger) {
	if err := s.events.Close(); err != nil {
		logger.Error("failed to close audit logger", zap.Error(err))
	}
	if err := s.conn.Close(); err != nil {
		logger.Error("failed to close database", zap.Error(err))
	}
}

func newAuditLogger(cfg *config.Config, logger *zap.Logger) *audit.Logger {
	qw := cfg.Quickwit
	if !qw.Enabled {
		return audit.NewLogger(audit.NewZapSink(logger), &qw, logger)
	}

	client := audit.NewQuickwitClient(&qw, logger)
	events := audit.NewLogger(client, &qw, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := events.EnsureIndex(ctx); err != nil {
		logger.Warn("failed to ensure audit index", zap.Error(err))
	}
	return events
}

func migrate(conn *db.Connection, logger *zap.Logger) error {
	if err := conn.AutoMigrate(); err != nil {
		return fmt.Errorf("failed to auto-migrate: %w", err)
	}
	return db.NewMigrationRunner(conn.DB(), logger).Run(db.Migrations())
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := cfg.Logging.NewLogger(false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting certificate service", zap.String("version", version.Version))

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	if err := migrate(svc.conn, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	serverConfig := api.DefaultServerConfig()
	serverConfig.Host = cfg.Server.Host
	serverConfig.Port = cfg.Server.Port
	serverConfig.Debug = cfg.Server.Debug
	serverConfig.ReadTimeout = cfg.Server.ReadTimeout
	serverConfig.WriteTimeout = cfg.Server.WriteTimeout
	serverConfig.ShutdownTimeout = cfg.Server.ShutdownTimeout
	serverConfig.MaxUploadSize = cfg.Server.MaxUploadSize
	serverConfig.PublicVerification = cfg.Certificate.PublicVerification
	serverConfig.MetricsPath = ""
	if cfg.Metrics.Enabled {
		serverConfig.MetricsPath = cfg.Metrics.Path
	}

	deps := &api.Dependencies{
		DB:            svc.conn.DB(),
		Logger:        logger,
		JWTManager:    svc.jwt,
		Policy:        svc.policy,
		Tenants:       svc.resolver,
		TenantManager: svc.tenants,
		Templates:     svc.templates,
		Certificates:  svc.certificates,
		Generator:     pdf.NewGenerator(svc.registry, svc.files, cfg.Certificate.Links(), logger),
		Files:         svc.files,
		Users:         svc.users,
		AuditSearch:   svc.events,
	}
	if cfg.Auth.APIKeysEnabled {
		deps.APIKeys = svc.tenants
	}
	server := api.NewServer(serverConfig, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Enabled {
		go updateMetrics(ctx, svc, cfg.Metrics.UpdateInterval, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()

		if err := server.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown server", zap.Error(err))
		}
	}()

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.Start()
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return nil
	}
}

// updateMetrics refreshes the pool and registration gauges until ctx ends
func updateMetrics(ctx context.Context, svc *services, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := metrics.UpdateDatabaseConnections(svc.conn.DB()); err != nil {
				logger.Warn("failed to update connection metrics", zap.Error(err))
			}
			if _, err := svc.certificates.Stats(ctx); err != nil {
				logger.Warn("failed to update registration metrics", zap.Error(err))
			}
		}
	}
}

func runMCP() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the protocol
	logger, err := cfg.Logging.NewLogger(true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close(logger)

	mcpServer := mcp.NewServer(&mcp.ServerConfig{
		Logger:       logger,
		JWTManager:   svc.jwt,
		Tenants:      svc.resolver,
		Templates:    svc.templates,
		Certificates: svc.certificates,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	return mcpServer.Run(ctx)
}

func runMigrations() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := cfg.Logging.NewLogger(false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	conn, err := db.NewConnection(cfg.Database.DB(), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close()

	return migrate(conn, logger)
}
