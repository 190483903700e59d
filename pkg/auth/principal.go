package auth

import "context"

// Principal is the authenticated caller
type Principal struct {
	UserID       uint64    `json:"user_id"`
	TenantID     uint64    `json:"tenant_id"`
	FullName     string    `json:"full_name"`
	Capabilities []string  `json:"capabilities"`
	Type         TokenType `json:"type"`
}

// Has reports whether the principal holds capability
func (p *Principal) Has(capability string) bool {
	if p == nil {
		return false
	}
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// HasAny reports whether the principal holds at least one of capabilities
func (p *Principal) HasAny(capabilities ...string) bool {
	for _, c := range capabilities {
		if p.Has(c) {
			return true
		}
	}
	return false
}

type principalKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored in ctx, or nil
func PrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok {
		return p
	}
	return nil
}
