// Package template manages certificate templates: their pages, the
// elements placed on them and the files those elements own.
package template

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/filestore"
	"github.com/yourorg/certificate-service/pkg/tenant"
)

// DuplicateSuffix is appended to the name of a duplicated template
const DuplicateSuffix = " (duplicate)"

// Config holds the template defaults and switches
type Config struct {
	PageWidth     float64
	PageHeight    float64
	PageMargin    float64
	CascadeIssues bool
	Links         element.Links
}

// DefaultConfig returns an A4 landscape page and cascading deletes
func DefaultConfig() Config {
	return Config{
		PageWidth:     297,
		PageHeight:    210,
		CascadeIssues: true,
	}
}

// Dependencies are the collaborators of the manager
type Dependencies struct {
	Files    *filestore.Store
	Registry *element.Registry
	Policy   auth.Policy
	Tenants  tenant.Resolver
	Events   audit.Publisher
}

// Manager manages templates
type Manager struct {
	db       *gorm.DB
	logger   *zap.Logger
	files    *filestore.Store
	registry *element.Registry
	policy   auth.Policy
	tenants  tenant.Resolver
	events   audit.Publisher
	config   Config
}

// NewManager creates a new template manager
func NewManager(db *gorm.DB, logger *zap.Logger, deps Dependencies, config Config) *Manager {
	return &Manager{
		db:       db,
		logger:   logger,
		files:    deps.Files,
		registry: deps.Registry,
		policy:   deps.Policy,
		tenants:  deps.Tenants,
		events:   deps.Events,
		config:   config,
	}
}

// Registry returns the element registry the manager creates elements from
func (m *Manager) Registry() *element.Registry {
	return m.registry
}

// CreateTemplateRequest represents a request to create a template
type CreateTemplateRequest struct {
	Name      string  `json:"name" binding:"required"`
	TenantID  *uint64 `json:"tenant_id"`
	ContextID uint64  `json:"context_id"`
}

// Create creates a new template
func (m *Manager) Create(ctx context.Context, p *auth.Principal, req *CreateTemplateRequest) (*models.Template, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "required")
	}

	tenantID, err := m.targetTenant(ctx, p, req.TenantID)
	if err != nil {
		return nil, err
	}
	if !m.policy.CanManage(p, tenantID) {
		return nil, apperr.Forbidden("manage templates")
	}

	tpl := &models.Template{
		Name:      name,
		TenantID:  tenantID,
		ContextID: req.ContextID,
	}
	if err := m.db.WithContext(ctx).Create(tpl).Error; err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}

	m.logger.Info("template created",
		zap.Uint64("template_id", tpl.ID),
		zap.Uint64("tenant_id", tenantID),
		zap.String("name", name))

	m.emit(ctx, audit.EventTemplateCreated, audit.ActionCreate, p, tpl, "")
	return tpl, nil
}

func (m *Manager) targetTenant(ctx context.Context, p *auth.Principal, requested *uint64) (uint64, error) {
	if requested != nil {
		return *requested, nil
	}
	tenantID, err := m.tenants.CurrentTenant(ctx, p)
	if err != nil {
		return 0, apperr.Forbidden(err.Error())
	}
	return tenantID, nil
}

// Get retrieves a template by ID
func (m *Manager) Get(ctx context.Context, templateID uint64) (*models.Template, error) {
	return m.get(m.db.WithContext(ctx), templateID)
}

func (m *Manager) get(db *gorm.DB, templateID uint64) (*models.Template, error) {
	var tpl models.Template
	if err := db.First(&tpl, "id = ?", templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("template")
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

// FindByName returns the oldest template with the given name
func (m *Manager) FindByName(ctx context.Context, name string) (*models.Template, error) {
	var tpl models.Template
	if err := m.db.WithContext(ctx).Where("name = ?", name).Order("id ASC").First(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("template")
		}
		return nil, fmt.Errorf("failed to find template: %w", err)
	}
	return &tpl, nil
}

// FindByElementID returns the template an element belongs to
func (m *Manager) FindByElementID(ctx context.Context, elementID uint64) (*models.Template, error) {
	var tpl models.Template
	err := m.db.WithContext(ctx).
		Select("templates.*").
		Joins("JOIN template_pages ON template_pages.template_id = templates.id").
		Joins("JOIN template_elements ON template_elements.page_id = template_pages.id").
		Where("template_elements.id = ?", elementID).
		First(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("template")
		}
		return nil, fmt.Errorf("failed to find template: %w", err)
	}
	return &tpl, nil
}

// LoadDesign returns the template with its pages and their elements, each in
// drawing order
func (m *Manager) LoadDesign(ctx context.Context, templateID uint64) (*models.Template, error) {
	var tpl models.Template
	err := m.db.WithContext(ctx).
		Preload("Pages", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		Preload("Pages.Elements", func(db *gorm.DB) *gorm.DB {
			return db.Order("sequence ASC, id ASC")
		}).
		First(&tpl, "id = ?", templateID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("template")
		}
		return nil, fmt.Errorf("failed to load template design: %w", err)
	}
	return &tpl, nil
}

// ListTemplatesRequest represents a request to list templates
type ListTemplatesRequest struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

// List lists the templates the principal can see
func (m *Manager) List(ctx context.Context, p *auth.Principal, req *ListTemplatesRequest) ([]models.Template, int64, error) {
	query := m.db.WithContext(ctx).Model(&models.Template{})

	if !p.HasAny(auth.CapManageForAllTenants, auth.CapViewForAllTenants) {
		tenantID, err := m.tenants.CurrentTenant(ctx, p)
		if err != nil {
			return nil, 0, apperr.Forbidden(err.Error())
		}
		query = query.Scopes(tenant.VisibleScope(tenantID))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count templates: %w", err)
	}

	if req.Limit > 0 {
		query = query.Limit(req.Limit)
	}
	if req.Offset > 0 {
		query = query.Offset(req.Offset)
	}

	var templates []models.Template
	if err := query.Order("created_at DESC, id DESC").Find(&templates).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, total, nil
}

// CountInContexts counts the templates that live in any of the contexts
func (m *Manager) CountInContexts(ctx context.Context, contextIDs ...uint64) (int64, error) {
	if len(contextIDs) == 0 {
		return 0, nil
	}
	var count int64
	if err := m.db.WithContext(ctx).Model(&models.Template{}).Where("context_id IN ?", contextIDs).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count templates: %w", err)
	}
	return count, nil
}

// UpdateTemplateRequest represents a request to update a template
type UpdateTemplateRequest struct {
	Name *string `json:"name"`
}

// Update updates a template
func (m *Manager) Update(ctx context.Context, p *auth.Principal, templateID uint64, req *UpdateTemplateRequest) (*models.Template, error) {
	tpl, err := m.manageable(ctx, p, templateID)
	if err != nil {
		return nil, err
	}

	if req.Name == nil {
		return tpl, nil
	}
	name := strings.TrimSpace(*req.Name)
	if name == "" {
		return nil, apperr.Invalid("name", "required")
	}

	updates := map[string]interface{}{
		"name":       name,
		"updated_at": time.Now(),
	}
	if err := m.db.WithContext(ctx).Model(tpl).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	m.logger.Info("template updated",
		zap.Uint64("template_id", templateID),
		zap.String("name", name))

	m.emit(ctx, audit.EventTemplateUpdated, audit.ActionUpdate, p, tpl, "")
	return m.Get(ctx, templateID)
}

// Delete removes a template with its pages, elements and element files.
// Issues go too when cascading is configured.
func (m *Manager) Delete(ctx context.Context, p *auth.Principal, templateID uint64) error {
	tpl, err := m.manageable(ctx, p, templateID)
	if err != nil {
		return err
	}

	var issuesDeleted int64
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pageIDs []uint64
		if err := tx.Model(&models.Page{}).Where("template_id = ?", templateID).Pluck("id", &pageIDs).Error; err != nil {
			return fmt.Errorf("failed to list pages: %w", err)
		}
		if err := m.deletePageContents(ctx, tx, tpl, pageIDs); err != nil {
			return err
		}
		if err := tx.Where("template_id = ?", templateID).Delete(&models.Page{}).Error; err != nil {
			return fmt.Errorf("failed to delete pages: %w", err)
		}

		if m.config.CascadeIssues {
			result := tx.Where("template_id = ?", templateID).Delete(&models.Issue{})
			if result.Error != nil {
				return fmt.Errorf("failed to delete issues: %w", result.Error)
			}
			issuesDeleted = result.RowsAffected
		}

		if err := tx.Delete(&models.Template{}, templateID).Error; err != nil {
			return fmt.Errorf("failed to delete template: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.logger.Info("template deleted",
		zap.Uint64("template_id", templateID),
		zap.Int64("issues_deleted", issuesDeleted))

	m.emit(ctx, audit.EventTemplateDeleted, audit.ActionDelete, p, tpl, "")
	return nil
}

// deletePageContents removes the elements of the pages and their files
func (m *Manager) deletePageContents(ctx context.Context, tx *gorm.DB, tpl *models.Template, pageIDs []uint64) error {
	if len(pageIDs) == 0 {
		return nil
	}
	var elementIDs []uint64
	if err := tx.Model(&models.Element{}).Where("page_id IN ?", pageIDs).Pluck("id", &elementIDs).Error; err != nil {
		return fmt.Errorf("failed to list elements: %w", err)
	}
	for _, id := range elementIDs {
		if err := m.deleteElementFiles(ctx, tx, tpl, id); err != nil {
			return err
		}
	}
	if err := tx.Where("page_id IN ?", pageIDs).Delete(&models.Element{}).Error; err != nil {
		return fmt.Errorf("failed to delete elements: %w", err)
	}
	return nil
}

func (m *Manager) deleteElementFiles(ctx context.Context, tx *gorm.DB, tpl *models.Template, elementID uint64) error {
	for _, area := range elementAreas {
		if err := m.files.DeleteArea(ctx, tx, tpl.ContextID, area, elementID); err != nil {
			return err
		}
	}
	return nil
}

var elementAreas = []string{models.FileAreaElement, models.FileAreaElementAux}

// DuplicateTemplateRequest represents a request to duplicate a template
type DuplicateTemplateRequest struct {
	TenantID *uint64 `json:"tenant_id"`
}

// Duplicate deep-copies a template, its pages, elements and element files
func (m *Manager) Duplicate(ctx context.Context, p *auth.Principal, templateID uint64, targetTenant *uint64) (*models.Template, error) {
	src, err := m.LoadDesign(ctx, templateID)
	if err != nil {
		return nil, err
	}

	target := src.TenantID
	if targetTenant != nil && *targetTenant != src.TenantID {
		if !p.Has(auth.CapManageForAllTenants) {
			return nil, apperr.Forbidden("duplicate into another tenant")
		}
		target = *targetTenant
	}
	if !m.policy.CanDuplicate(p, src, target) {
		return nil, apperr.Forbidden("duplicate template")
	}

	dup := &models.Template{
		Name:      src.Name + DuplicateSuffix,
		TenantID:  target,
		ContextID: src.ContextID,
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(dup).Error; err != nil {
			return fmt.Errorf("failed to create template: %w", err)
		}
		for _, page := range src.Pages {
			if err := m.copyPage(ctx, tx, src, dup, page); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("template duplicated",
		zap.Uint64("source_id", src.ID),
		zap.Uint64("template_id", dup.ID),
		zap.Uint64("tenant_id", target))

	m.emit(ctx, audit.EventTemplateCreated, audit.ActionCreate, p, dup, fmt.Sprintf("duplicated from template %d", src.ID))
	return dup, nil
}

func (m *Manager) copyPage(ctx context.Context, tx *gorm.DB, src, dup *models.Template, page models.Page) error {
	elements := page.Elements

	page.ID = 0
	page.TemplateID = dup.ID
	page.Elements = nil
	page.CreatedAt, page.UpdatedAt = time.Time{}, time.Time{}
	if err := tx.Create(&page).Error; err != nil {
		return fmt.Errorf("failed to copy page: %w", err)
	}

	for _, el := range elements {
		oldID := el.ID
		el.ID = 0
		el.PageID = page.ID
		el.CreatedAt, el.UpdatedAt = time.Time{}, time.Time{}
		if err := tx.Create(&el).Error; err != nil {
			return fmt.Errorf("failed to copy element: %w", err)
		}

		for _, area := range elementAreas {
			if _, err := m.files.CopyArea(ctx, tx, src.ContextID, area, oldID, el.ID); err != nil {
				return err
			}
		}

		payload, err := element.DecodeStored(el.Data)
		if err != nil {
			return err
		}
		if rewriteItemRefs(payload, oldID, el.ID) {
			data, err := payload.JSON()
			if err != nil {
				return err
			}
			if err := tx.Model(&models.Element{}).Where("id = ?", el.ID).Update("data", data).Error; err != nil {
				return fmt.Errorf("failed to update element data: %w", err)
			}
		}
	}
	return nil
}

// rewriteItemRefs points file references at the copied element's own areas
func rewriteItemRefs(payload element.Payload, oldID, newID uint64) bool {
	changed := false
	refs := [][2]string{
		{"filearea", "itemid"},
		{"signaturefilearea", "signatureitemid"},
	}
	for _, ref := range refs {
		area := payload.String(ref[0])
		if area != models.FileAreaElement && area != models.FileAreaElementAux {
			continue
		}
		if id, ok := payload.Uint(ref[1]); ok && id == oldID {
			payload[ref[1]] = newID
			changed = true
		}
	}
	return changed
}

// manageable loads a template the principal may edit
func (m *Manager) manageable(ctx context.Context, p *auth.Principal, templateID uint64) (*models.Template, error) {
	tpl, err := m.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !m.policy.CanManage(p, tpl.TenantID) {
		return nil, apperr.Forbidden("manage template")
	}
	return tpl, nil
}

func (m *Manager) touch(tx *gorm.DB, templateID uint64) error {
	if err := tx.Model(&models.Template{}).Where("id = ?", templateID).Update("updated_at", time.Now()).Error; err != nil {
		return fmt.Errorf("failed to update template: %w", err)
	}
	return nil
}

func (m *Manager) emit(ctx context.Context, name string, action audit.EventAction, p *auth.Principal, tpl *models.Template, description string) {
	err := audit.NewEvent(name, audit.EventTypeTemplate, action).
		WithTenant(tpl.TenantID).
		WithActor(p).
		WithResource("template", tpl.ID).
		WithContext(tpl.ContextID).
		WithDescription(description).
		Publish(ctx, m.events)
	if err != nil {
		m.logger.Warn("failed to publish template event",
			zap.String("event", name),
			zap.Uint64("template_id", tpl.ID),
			zap.Error(err))
	}
}
