// Package api provides the HTTP API of the certificate service.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/directory"
	"github.com/yourorg/certificate-service/pkg/filestore"
	"github.com/yourorg/certificate-service/pkg/metrics"
	"github.com/yourorg/certificate-service/pkg/pdf"
	"github.com/yourorg/certificate-service/pkg/template"
	"github.com/yourorg/certificate-service/pkg/tenant"
)

// RequestIDHeader carries the request correlation id
const RequestIDHeader = "X-Request-ID"

// ServerConfig represents server configuration
type ServerConfig struct {
	Host               string        `json:"host" yaml:"host"`
	Port               int           `json:"port" yaml:"port"`
	ReadTimeout        time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	Debug              bool          `json:"debug" yaml:"debug"`
	TrustedProxies     []string      `json:"trusted_proxies" yaml:"trusted_proxies"`
	MaxUploadSize      int64         `json:"max_upload_size" yaml:"max_upload_size"`
	PublicVerification bool          `json:"public_verification" yaml:"public_verification"`
	MetricsPath        string        `json:"metrics_path" yaml:"metrics_path"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       60 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		Debug:              false,
		MaxUploadSize:      10 << 20,
		PublicVerification: true,
		MetricsPath:        "/metrics",
	}
}

// Server represents the HTTP server
type Server struct {
	config   *ServerConfig
	logger   *zap.Logger
	db       *gorm.DB
	router   *gin.Engine
	server   *http.Server
	handlers *Handlers
	auth     *auth.Middleware
}

// Dependencies contains all dependencies needed by the server
type Dependencies struct {
	DB            *gorm.DB
	Logger        *zap.Logger
	JWTManager    *auth.JWTManager
	Policy        auth.Policy
	Tenants       tenant.Resolver
	TenantManager *tenant.Manager
	Templates     *template.Manager
	Certificates  *certificate.Service
	Generator     *pdf.Generator
	Files         *filestore.Store
	Users         directory.UserDirectory
	// AuditSearch is nil when no searchable sink is configured
	AuditSearch audit.Searcher
	// APIKeys is nil when API key authentication is disabled
	APIKeys auth.APIKeyValidator
}

// NewServer creates a new HTTP server
func NewServer(config *ServerConfig, deps *Dependencies) *Server {
	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(RequestLogger(deps.Logger))
	router.Use(CORS())

	if len(config.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(config.TrustedProxies); err != nil {
			deps.Logger.Warn("invalid trusted proxies", zap.Error(err))
		}
	}

	s := &Server{
		config:   config,
		logger:   deps.Logger,
		db:       deps.DB,
		router:   router,
		handlers: NewHandlers(deps, config),
		auth:     auth.NewMiddleware(deps.JWTManager, deps.APIKeys, deps.Tenants, deps.Logger),
	}

	s.setupRoutes()

	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	h := s.handlers

	// Health checks (no auth)
	s.router.GET("/health", h.HealthCheck)
	s.router.GET("/ready", h.Readiness)
	if s.config.MetricsPath != "" {
		s.router.GET(s.config.MetricsPath, gin.WrapH(metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")

	if s.config.PublicVerification {
		v1.GET("/verify", s.auth.OptionalAuthenticate(), h.Verify)
	} else {
		v1.GET("/verify", s.auth.Authenticate(), h.Verify)
	}

	authenticated := v1.Group("")
	authenticated.Use(s.auth.Authenticate())
	{
		templates := authenticated.Group("/templates")
		{
			templates.GET("", h.ListTemplates)
			templates.POST("", h.CreateTemplate)
			templates.GET("/:id", h.GetTemplate)
			templates.PUT("/:id", h.UpdateTemplate)
			templates.DELETE("/:id", h.DeleteTemplate)
			templates.POST("/:id/duplicate", h.DuplicateTemplate)
			templates.GET("/:id/preview", h.PreviewTemplate)

			templates.POST("/:id/pages", h.AddPage)
			templates.PUT("/:id/pages", h.SavePages)
			templates.PUT("/:id/pages/:page_id", h.SavePage)
			templates.DELETE("/:id/pages/:page_id", h.DeletePage)

			templates.POST("/:id/elements/positions", h.UpdatePositions)

			templates.POST("/:id/issues", h.IssueCertificates)
			templates.GET("/:id/issues", h.ListTemplateIssues)
			templates.POST("/:id/issuable", h.FilterIssuable)
		}

		authenticated.POST("/pages/:page_id/elements", h.AddElement)
		authenticated.PUT("/elements/:id", h.SaveElement)
		authenticated.DELETE("/elements/:id", h.DeleteElement)
		authenticated.GET("/elements/:id/html", h.ElementHTML)
		authenticated.GET("/element-types", h.ElementTypes)

		authenticated.GET("/issues", h.ListUserIssues)
		authenticated.DELETE("/issues/:id", h.RevokeIssue)
		authenticated.GET("/issues/:code/pdf", h.IssuePDF)
		authenticated.GET("/courses/:course_id/issues", h.ListCourseIssues)
		authenticated.GET("/stats", h.Stats)

		authenticated.POST("/drafts", h.NewDraft)
		authenticated.POST("/drafts/:draft_key/files", h.UploadDraftFile)
		authenticated.GET("/files/:context_id/:area/:item_id/*path", h.ServeFile)
		authenticated.PUT("/files/:context_id/:area/:item_id/*path", h.PutSharedFile)

		authenticated.GET("/audit/events", h.SearchAuditEvents)

		tenants := authenticated.Group("/tenants")
		tenants.Use(s.auth.RequireCapability(auth.CapManageForAllTenants))
		{
			tenants.GET("", h.ListTenants)
			tenants.POST("", h.CreateTenant)
			tenants.GET("/:tenant_id", h.GetTenant)
			tenants.GET("/:tenant_id/stats", h.GetTenantStats)
			tenants.POST("/:tenant_id/suspend", h.SuspendTenant)
			tenants.POST("/:tenant_id/activate", h.ActivateTenant)
			tenants.POST("/:tenant_id/api-keys", h.CreateAPIKey)
			tenants.DELETE("/:tenant_id/api-keys/:key_id", h.RevokeAPIKey)
		}
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("starting HTTP server", zap.String("address", addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// RequestID tags every request with a correlation id that audit events pick up
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(audit.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// RequestLogger returns a gin middleware for logging requests
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, route, status, latency)

		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", audit.RequestIDFromContext(c.Request.Context())),
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		if status >= 500 {
			logger.Error("request completed", fields...)
		} else if status >= 400 {
			logger.Warn("request completed", fields...)
		} else {
			logger.Info("request completed", fields...)
		}
	}
}

// CORS returns a gin middleware for CORS
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-API-Key, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
