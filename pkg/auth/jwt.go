// Package auth provides authentication and the permission policy for the certificate service.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType represents the type of token
type TokenType string

const (
	TokenTypeUser TokenType = "user"
	TokenTypeAPI  TokenType = "api"
)

// Claims represents JWT claims
type Claims struct {
	jwt.RegisteredClaims
	TenantID uint64    `json:"tenant_id"`
	UserID   uint64    `json:"user_id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Caps     []string  `json:"caps,omitempty"`
	Type     TokenType `json:"type"`
}

// Principal converts validated claims into a principal
func (c *Claims) Principal() *Principal {
	return &Principal{
		UserID:       c.UserID,
		TenantID:     c.TenantID,
		FullName:     c.Name,
		Capabilities: append([]string(nil), c.Caps...),
		Type:         c.Type,
	}
}

// JWTManager manages JWT token operations
type JWTManager struct {
	secret        []byte
	issuer        string
	defaultExpiry time.Duration
}

// NewJWTManager creates a new JWT manager
func NewJWTManager(secret, issuer string, defaultExpiry time.Duration) *JWTManager {
	return &JWTManager{
		secret:        []byte(secret),
		issuer:        issuer,
		defaultExpiry: defaultExpiry,
	}
}

// GenerateToken signs a token carrying the principal's identity and capabilities
func (m *JWTManager) GenerateToken(p *Principal, expiry time.Duration) (string, error) {
	if expiry == 0 {
		expiry = m.defaultExpiry
	}
	tokenType := p.Type
	if tokenType == "" {
		tokenType = TokenTypeUser
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", p.UserID),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		TenantID: p.TenantID,
		UserID:   p.UserID,
		Name:     p.FullName,
		Caps:     p.Capabilities,
		Type:     tokenType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken validates a JWT token and returns the claims
func (m *JWTManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}

// Authenticate validates a token and returns its principal
func (m *JWTManager) Authenticate(tokenString string) (*Principal, error) {
	claims, err := m.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return claims.Principal(), nil
}
