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
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/element"
)

// AddElementRequest represents a request to place a new element on a page
type AddElementRequest struct {
	Type string           `json:"type" binding:"required"`
	Name string           `json:"name"`
	PosX float64          `json:"pos_x"`
	PosY float64          `json:"pos_y"`
	Data element.FormData `json:"data"`
}

// AddElement creates an element on top of the page's existing elements
func (m *Manager) AddElement(ctx context.Context, p *auth.Principal, pageID uint64, req *AddElementRequest) (*models.Element, error) {
	if !m.registry.Enabled(req.Type) {
		return nil, apperr.Invalid("type", "unknown or disabled element type")
	}
	variant, err := m.registry.Get(req.Type)
	if err != nil {
		return nil, apperr.Invalid("type", err.Error())
	}

	var page models.Page
	if err := m.db.WithContext(ctx).First(&page, "id = ?", pageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("page")
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	tpl, err := m.manageable(ctx, p, page.TemplateID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Type
	}

	ve := &apperr.ValidationError{}
	if req.PosX < 0 {
		ve.Add(element.FieldPosX, "must be at least 0")
	}
	if req.PosY < 0 {
		ve.Add(element.FieldPosY, "must be at least 0")
	}
	data := element.Merge(nil, req.Data)
	vc := &element.ValidateContext{Template: tpl, Files: m.files}
	for field, msg := range variant.Validate(ctx, vc, data) {
		ve.Add(field, msg)
	}
	if ve.HasErrors() {
		return nil, ve
	}

	el := &models.Element{
		PageID: page.ID,
		Type:   req.Type,
		Name:   name,
		PosX:   req.PosX,
		PosY:   req.PosY,
		Data:   []byte("{}"),
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&models.Element{}).Where("page_id = ?", page.ID).
			Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to read element sequence: %w", err)
		}
		el.Sequence = maxSeq + 1
		if err := tx.Create(el).Error; err != nil {
			return fmt.Errorf("failed to create element: %w", err)
		}

		sc := &element.SaveContext{Tx: tx, Element: el, Template: tpl, Files: m.files}
		payload, err := variant.Save(ctx, sc, data)
		if err != nil {
			return err
		}
		if el.Data, err = payload.JSON(); err != nil {
			return err
		}
		if err := tx.Model(el).Update("data", el.Data).Error; err != nil {
			return fmt.Errorf("failed to save element data: %w", err)
		}
		return m.touch(tx, tpl.ID)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("element added",
		zap.Uint64("template_id", tpl.ID),
		zap.Uint64("element_id", el.ID),
		zap.String("type", el.Type))

	return el, nil
}

// SaveElementRequest carries the element fields to change. Nil fields and
// data keys that are not present keep their stored value.
type SaveElementRequest struct {
	ID       uint64           `json:"id"`
	Name     *string          `json:"name"`
	PosX     *float64         `json:"pos_x"`
	PosY     *float64         `json:"pos_y"`
	Sequence *int             `json:"sequence"`
	Data     element.FormData `json:"data"`
}

// SaveElementForm saves a flat form that mixes the shared and variant fields
func (m *Manager) SaveElementForm(ctx context.Context, p *auth.Principal, elementID uint64, form element.FormData) (*models.Element, error) {
	common, rest, errs := element.SplitCommon(form)
	if len(errs) > 0 {
		return nil, element.ToValidationError(errs)
	}
	return m.SaveElement(ctx, p, &SaveElementRequest{
		ID:       elementID,
		Name:     common.Name,
		PosX:     common.PosX,
		PosY:     common.PosY,
		Sequence: common.Sequence,
		Data:     rest,
	})
}

// SaveElement merges the request into a stored element
func (m *Manager) SaveElement(ctx context.Context, p *auth.Principal, req *SaveElementRequest) (*models.Element, error) {
	el, tpl, err := m.loadElement(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if !m.policy.CanManage(p, tpl.TenantID) {
		return nil, apperr.Forbidden("manage template")
	}
	variant, err := m.registry.Get(el.Type)
	if err != nil {
		return nil, err
	}

	ve := &apperr.ValidationError{}
	updates := make(map[string]interface{})
	if req.Name != nil {
		if name := strings.TrimSpace(*req.Name); name == "" {
			ve.Add(element.FieldName, "required")
		} else {
			updates["name"] = name
		}
	}
	if req.PosX != nil {
		if *req.PosX < 0 {
			ve.Add(element.FieldPosX, "must be at least 0")
		}
		updates["pos_x"] = *req.PosX
	}
	if req.PosY != nil {
		if *req.PosY < 0 {
			ve.Add(element.FieldPosY, "must be at least 0")
		}
		updates["pos_y"] = *req.PosY
	}
	if req.Sequence != nil {
		if *req.Sequence < 1 {
			ve.Add(element.FieldSequence, "must be at least 1")
		}
		updates["sequence"] = *req.Sequence
	}

	var merged element.Payload
	if len(req.Data) > 0 {
		stored, err := element.DecodeStored(el.Data)
		if err != nil {
			return nil, err
		}
		merged = element.Merge(stored, req.Data)
		vc := &element.ValidateContext{Element: el, Template: tpl, Files: m.files}
		for field, msg := range variant.Validate(ctx, vc, merged) {
			ve.Add(field, msg)
		}
	}
	if ve.HasErrors() {
		return nil, ve
	}
	if len(updates) == 0 && merged == nil {
		return el, nil
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if merged != nil {
			sc := &element.SaveContext{Tx: tx, Element: el, Template: tpl, Files: m.files}
			payload, err := variant.Save(ctx, sc, merged)
			if err != nil {
				return err
			}
			data, err := payload.JSON()
			if err != nil {
				return err
			}
			updates["data"] = data
		}
		updates["updated_at"] = time.Now()
		if err := tx.Model(&models.Element{}).Where("id = ?", el.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update element: %w", err)
		}
		return m.touch(tx, tpl.ID)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("element saved",
		zap.Uint64("template_id", tpl.ID),
		zap.Uint64("element_id", el.ID))

	saved, _, err := m.loadElement(ctx, el.ID)
	return saved, err
}

// DeleteElement removes an element and the files it owns
func (m *Manager) DeleteElement(ctx context.Context, p *auth.Principal, elementID uint64) error {
	el, tpl, err := m.loadElement(ctx, elementID)
	if err != nil {
		return err
	}
	if !m.policy.CanManage(p, tpl.TenantID) {
		return apperr.Forbidden("manage template")
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.deleteElementFiles(ctx, tx, tpl, el.ID); err != nil {
			return err
		}
		if err := tx.Delete(&models.Element{}, el.ID).Error; err != nil {
			return fmt.Errorf("failed to delete element: %w", err)
		}
		return m.touch(tx, tpl.ID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("element deleted",
		zap.Uint64("template_id", tpl.ID),
		zap.Uint64("element_id", el.ID))
	return nil
}

// Position is the new location of one element
type Position struct {
	ID   uint64  `json:"id" binding:"required"`
	PosX float64 `json:"pos_x"`
	PosY float64 `json:"pos_y"`
}

// UpdatePositions moves several elements of a template at once
func (m *Manager) UpdatePositions(ctx context.Context, p *auth.Principal, templateID uint64, positions []Position) error {
	if _, err := m.manageable(ctx, p, templateID); err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	ids := make([]uint64, 0, len(positions))
	seen := make(map[uint64]bool, len(positions))
	ve := &apperr.ValidationError{}
	for _, pos := range positions {
		if pos.PosX < 0 || pos.PosY < 0 {
			ve.Add(fmt.Sprintf("positions.%d", pos.ID), "coordinates must be at least 0")
		}
		if !seen[pos.ID] {
			seen[pos.ID] = true
			ids = append(ids, pos.ID)
		}
	}
	if ve.HasErrors() {
		return ve
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		err := tx.Model(&models.Element{}).
			Joins("JOIN template_pages ON template_pages.id = template_elements.page_id").
			Where("template_pages.template_id = ? AND template_elements.id IN ?", templateID, ids).
			Count(&count).Error
		if err != nil {
			return fmt.Errorf("failed to check elements: %w", err)
		}
		if count != int64(len(ids)) {
			return apperr.NotFound("element")
		}

		now := time.Now()
		for _, pos := range positions {
			updates := map[string]interface{}{"pos_x": pos.PosX, "pos_y": pos.PosY, "updated_at": now}
			if err := tx.Model(&models.Element{}).Where("id = ?", pos.ID).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update element position: %w", err)
			}
		}
		return m.touch(tx, templateID)
	})
}

// ElementHTML returns the editor preview markup of an element
func (m *Manager) ElementHTML(ctx context.Context, p *auth.Principal, elementID uint64) (string, error) {
	el, tpl, err := m.loadElement(ctx, elementID)
	if err != nil {
		return "", err
	}
	if !m.policy.CanManage(p, tpl.TenantID) {
		return "", apperr.Forbidden("manage template")
	}
	variant, err := m.registry.Get(el.Type)
	if err != nil {
		return "", err
	}

	rc := &element.RenderContext{
		Element:  el,
		Template: tpl,
		Preview:  true,
		User:     previewUser(p),
		Files:    m.files,
		Links:    m.config.Links,
	}
	html, err := variant.RenderHTML(ctx, rc)
	if err != nil {
		return "", fmt.Errorf("failed to render element %d: %w", el.ID, err)
	}
	return html, nil
}

func previewUser(p *auth.Principal) *models.User {
	if p == nil {
		return nil
	}
	return &models.User{ID: p.UserID, TenantID: p.TenantID, FirstName: p.FullName}
}

// loadElement returns an element with the template it belongs to
func (m *Manager) loadElement(ctx context.Context, elementID uint64) (*models.Element, *models.Template, error) {
	var el models.Element
	if err := m.db.WithContext(ctx).First(&el, "id = ?", elementID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, apperr.NotFound("element")
		}
		return nil, nil, fmt.Errorf("failed to get element: %w", err)
	}
	tpl, err := m.FindByElementID(ctx, elementID)
	if err != nil {
		return nil, nil, err
	}
	return &el, tpl, nil
}
