package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/tenant"
)

// Tenant handlers

// ListTenants lists all tenants
func (h *Handlers) ListTenants(c *gin.Context) {
	var req tenant.ListTenantsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}

	tenants, total, err := h.tenantManager.List(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenants": tenants,
		"total":   total,
		"limit":   req.Limit,
		"offset":  req.Offset,
	})
}

// GetTenant gets a tenant by ID
func (h *Handlers) GetTenant(c *gin.Context) {
	id, ok := paramID(c, "tenant_id")
	if !ok {
		return
	}

	t, err := h.tenantManager.Get(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, t)
}

// CreateTenant creates a new tenant
func (h *Handlers) CreateTenant(c *gin.Context) {
	var req tenant.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	t, err := h.tenantManager.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, t)
}

// GetTenantStats returns template, issue and user counts for a tenant
func (h *Handlers) GetTenantStats(c *gin.Context) {
	id, ok := paramID(c, "tenant_id")
	if !ok {
		return
	}

	stats, err := h.tenantManager.GetStats(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

// SuspendTenant suspends a tenant
func (h *Handlers) SuspendTenant(c *gin.Context) {
	id, ok := paramID(c, "tenant_id")
	if !ok {
		return
	}

	if err := h.tenantManager.Suspend(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "suspended"})
}

// ActivateTenant reactivates a tenant
func (h *Handlers) ActivateTenant(c *gin.Context) {
	id, ok := paramID(c, "tenant_id")
	if !ok {
		return
	}

	if err := h.tenantManager.Activate(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// CreateAPIKey mints an API key; the secret is only returned here
func (h *Handlers) CreateAPIKey(c *gin.Context) {
	id, ok := paramID(c, "tenant_id")
	if !ok {
		return
	}

	var req tenant.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	key, secret, err := h.tenantManager.CreateAPIKey(c.Request.Context(), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"api_key": key,
		"key":     secret,
	})
}

// RevokeAPIKey revokes an API key
func (h *Handlers) RevokeAPIKey(c *gin.Context) {
	id, ok := paramID(c, "tenant_id")
	if !ok {
		return
	}

	if err := h.tenantManager.RevokeAPIKey(c.Request.Context(), id, c.Param("key_id")); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Audit handlers

type auditQuery struct {
	Query  string `form:"q"`
	Events string `form:"events"`
	Code   string `form:"code"`
	Start  string `form:"start"`
	End    string `form:"end"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

// SearchAuditEvents queries shipped domain events. Principals without
// manageforalltenants only see their own tenant.
func (h *Handlers) SearchAuditEvents(c *gin.Context) {
	p := auth.GetPrincipal(c)
	if !p.HasAny(auth.CapManage, auth.CapManageForAllTenants) {
		h.respondError(c, apperr.Forbidden("search audit events"))
		return
	}
	if h.auditSearch == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": audit.ErrSearchUnsupported.Error()})
		return
	}

	var q auditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	query := &audit.SearchQuery{
		Query:       q.Query,
		Code:        q.Code,
		MaxHits:     q.Limit,
		StartOffset: q.Offset,
	}
	if query.MaxHits <= 0 {
		query.MaxHits = 100
	}
	if q.Events != "" {
		query.EventNames = strings.Split(q.Events, ",")
	}
	if !p.Has(auth.CapManageForAllTenants) {
		tenantID := p.TenantID
		query.TenantID = &tenantID
	}
	var err error
	if query.StartTime, err = parseTime("start", q.Start); err != nil {
		h.respondError(c, err)
		return
	}
	if query.EndTime, err = parseTime("end", q.End); err != nil {
		h.respondError(c, err)
		return
	}

	result, err := h.auditSearch.Search(c.Request.Context(), query)
	if err != nil {
		if errors.Is(err, audit.ErrSearchUnsupported) {
			c.JSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
			return
		}
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func parseTime(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, apperr.Invalid(field, "must be an RFC 3339 timestamp")
	}
	return &t, nil
}
