package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/directory"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/filestore"
	"github.com/yourorg/certificate-service/pkg/pdf"
	"github.com/yourorg/certificate-service/pkg/template"
	"github.com/yourorg/certificate-service/pkg/tenant"
)

// Handlers contains all API handlers
type Handlers struct {
	db            *gorm.DB
	logger        *zap.Logger
	policy        auth.Policy
	tenantManager *tenant.Manager
	templates     *template.Manager
	certificates  *certificate.Service
	generator     *pdf.Generator
	files         *filestore.Store
	users         directory.UserDirectory
	auditSearch   audit.Searcher
	maxUpload     int64
}

// NewHandlers creates new API handlers
func NewHandlers(deps *Dependencies, config *ServerConfig) *Handlers {
	return &Handlers{
		db:            deps.DB,
		logger:        deps.Logger,
		policy:        deps.Policy,
		tenantManager: deps.TenantManager,
		templates:     deps.Templates,
		certificates:  deps.Certificates,
		generator:     deps.Generator,
		files:         deps.Files,
		users:         deps.Users,
		auditSearch:   deps.AuditSearch,
		maxUpload:     config.MaxUploadSize,
	}
}

// Health check handlers

// HealthCheck returns the health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// Readiness reports whether the database answers
func (h *Handlers) Readiness(c *gin.Context) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		h.logger.Warn("readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ready": true,
	})
}

// Template handlers

// ListTemplates lists the templates visible to the caller
func (h *Handlers) ListTemplates(c *gin.Context) {
	var req template.ListTemplatesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, err)
		return
	}

	templates, total, err := h.templates.List(c.Request.Context(), auth.GetPrincipal(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"templates": templates,
		"total":     total,
		"limit":     req.Limit,
		"offset":    req.Offset,
	})
}

// CreateTemplate creates a new template
func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req template.CreateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	tpl, err := h.templates.Create(c.Request.Context(), auth.GetPrincipal(c), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tpl)
}

// GetTemplate returns a template with its pages and elements
func (h *Handlers) GetTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p := auth.GetPrincipal(c)

	design, err := h.templates.LoadDesign(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.policy.CanManage(p, design.TenantID) && !h.policy.CanViewIssues(p, design) {
		h.respondError(c, apperr.Forbidden("view template"))
		return
	}

	c.JSON(http.StatusOK, element.RedactTemplate(design))
}

// UpdateTemplate renames a template
func (h *Handlers) UpdateTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req template.UpdateTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	tpl, err := h.templates.Update(c.Request.Context(), auth.GetPrincipal(c), id, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tpl)
}

// DeleteTemplate deletes a template with its pages and elements
func (h *Handlers) DeleteTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.templates.Delete(c.Request.Context(), auth.GetPrincipal(c), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// DuplicateTemplate copies a template, optionally into another tenant
func (h *Handlers) DuplicateTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req template.DuplicateTemplateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	tpl, err := h.templates.Duplicate(c.Request.Context(), auth.GetPrincipal(c), id, req.TenantID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, tpl)
}

// PreviewTemplate renders the template with placeholder data
func (h *Handlers) PreviewTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p := auth.GetPrincipal(c)

	design, err := h.templates.LoadDesign(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.policy.CanManage(p, design.TenantID) {
		h.respondError(c, apperr.Forbidden("preview template"))
		return
	}

	opts := pdf.Options{Preview: true, User: h.previewUser(c, p)}
	content, err := h.generator.Generate(ctx, design, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}

	sendPDF(c, pdf.Filename(design, opts), content)
}

// previewUser is the caller's directory record, or a stand-in built from the token
func (h *Handlers) previewUser(c *gin.Context, p *auth.Principal) *models.User {
	if u, err := h.users.GetUser(c.Request.Context(), p.UserID); err == nil {
		return u
	}
	return &models.User{ID: p.UserID, TenantID: p.TenantID, FirstName: p.FullName}
}

func sendPDF(c *gin.Context, filename string, content []byte) {
	c.Header("Content-Disposition", `inline; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/pdf", content)
}

// Page handlers

// AddPage appends a page with the default geometry
func (h *Handlers) AddPage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	page, err := h.templates.AddPage(c.Request.Context(), auth.GetPrincipal(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, page)
}

// SavePages applies the bulk page form, e.g. {"pagewidth_12": 210}
func (h *Handlers) SavePages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var form map[string]float64
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.templates.SavePages(c.Request.Context(), auth.GetPrincipal(c), id, form); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// SavePage changes the geometry of one page
func (h *Handlers) SavePage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	pageID, ok := paramID(c, "page_id")
	if !ok {
		return
	}

	var req template.SavePageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.templates.SavePage(c.Request.Context(), auth.GetPrincipal(c), id, pageID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, page)
}

// DeletePage removes a page and its elements
func (h *Handlers) DeletePage(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	pageID, ok := paramID(c, "page_id")
	if !ok {
		return
	}

	if err := h.templates.DeletePage(c.Request.Context(), auth.GetPrincipal(c), id, pageID); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Element handlers

// AddElement places a new element on a page
func (h *Handlers) AddElement(c *gin.Context) {
	pageID, ok := paramID(c, "page_id")
	if !ok {
		return
	}

	var req template.AddElementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	el, err := h.templates.AddElement(c.Request.Context(), auth.GetPrincipal(c), pageID, &req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, element.Redact(*el))
}

// SaveElement saves the flat element form. Fields left out keep their value.
func (h *Handlers) SaveElement(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var form element.FormData
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, err)
		return
	}

	el, err := h.templates.SaveElementForm(c.Request.Context(), auth.GetPrincipal(c), id, form)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, element.Redact(*el))
}

// DeleteElement removes an element and its files
func (h *Handlers) DeleteElement(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.templates.DeleteElement(c.Request.Context(), auth.GetPrincipal(c), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ElementHTML returns the editor markup of an element
func (h *Handlers) ElementHTML(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	html, err := h.templates.ElementHTML(c.Request.Context(), auth.GetPrincipal(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"html": html})
}

// ElementTypes describes the element types that can be created
func (h *Handlers) ElementTypes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"types": h.templates.Registry().Describe()})
}

type positionsRequest struct {
	Positions []template.Position `json:"positions" binding:"required,dive"`
}

// UpdatePositions moves elements after a drag in the editor
func (h *Handlers) UpdatePositions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req positionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.templates.UpdatePositions(c.Request.Context(), auth.GetPrincipal(c), id, req.Positions); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
