package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const ginPrincipalKey = "principal"

// APIKeyValidator resolves an X-API-Key header value to a principal
type APIKeyValidator interface {
	ValidateAPIKey(ctx context.Context, key string) (*Principal, error)
}

// TenantResolver resolves and checks the tenant a principal acts in
type TenantResolver interface {
	CurrentTenant(ctx context.Context, p *Principal) (uint64, error)
}

// Middleware provides authentication middleware
type Middleware struct {
	jwtManager *JWTManager
	apiKeys    APIKeyValidator
	tenants    TenantResolver
	logger     *zap.Logger
}

// NewMiddleware creates a new authentication middleware. apiKeys may be nil
// to disable API key authentication.
func NewMiddleware(jwtManager *JWTManager, apiKeys APIKeyValidator, tenants TenantResolver, logger *zap.Logger) *Middleware {
	return &Middleware{
		jwtManager: jwtManager,
		apiKeys:    apiKeys,
		tenants:    tenants,
		logger:     logger,
	}
}

// Authenticate returns a Gin middleware that requires a valid token or API key
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return m.authenticate(true)
}

// OptionalAuthenticate lets anonymous requests through but still rejects
// malformed credentials.
func (m *Middleware) OptionalAuthenticate() gin.HandlerFunc {
	return m.authenticate(false)
}

func (m *Middleware) authenticate(required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, present, err := m.resolve(c)
		if !present {
			if required {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "missing authorization token",
				})
				return
			}
			c.Next()
			return
		}
		if err != nil {
			m.logger.Debug("authentication failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		if m.tenants != nil {
			tenantID, err := m.tenants.CurrentTenant(c.Request.Context(), principal)
			if err != nil {
				m.logger.Debug("tenant not found or inactive",
					zap.Uint64("tenant_id", principal.TenantID),
					zap.Error(err))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "tenant not found or suspended",
				})
				return
			}
			principal.TenantID = tenantID
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

func (m *Middleware) resolve(c *gin.Context) (*Principal, bool, error) {
	if key := c.GetHeader("X-API-Key"); key != "" && m.apiKeys != nil {
		p, err := m.apiKeys.ValidateAPIKey(c.Request.Context(), key)
		return p, true, err
	}

	token := ExtractBearer(c.GetHeader("Authorization"))
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		return nil, false, nil
	}

	p, err := m.jwtManager.Authenticate(token)
	return p, true, err
}

// RequireCapability rejects principals holding none of capabilities
func (m *Middleware) RequireCapability(capabilities ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal := GetPrincipal(c)
		if principal == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		if !principal.HasAny(capabilities...) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":               "insufficient permissions",
				"required_capability": capabilities,
			})
			return
		}

		c.Next()
	}
}

// ExtractBearer returns the token of a "Bearer <token>" header value
func ExtractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// SetPrincipal stores the principal on the Gin and request contexts
func SetPrincipal(c *gin.Context, p *Principal) {
	c.Set(ginPrincipalKey, p)
	c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
}

// GetPrincipal extracts the principal from the Gin context, or nil
func GetPrincipal(c *gin.Context) *Principal {
	if v, exists := c.Get(ginPrincipalKey); exists {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}
