package template

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// AddPage appends a page with the default geometry
func (m *Manager) AddPage(ctx context.Context, p *auth.Principal, templateID uint64) (*models.Page, error) {
	if _, err := m.manageable(ctx, p, templateID); err != nil {
		return nil, err
	}

	page := &models.Page{
		TemplateID:   templateID,
		Width:        m.config.PageWidth,
		Height:       m.config.PageHeight,
		LeftMargin:   m.config.PageMargin,
		RightMargin:  m.config.PageMargin,
		TopMargin:    m.config.PageMargin,
		BottomMargin: m.config.PageMargin,
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int
		if err := tx.Model(&models.Page{}).Where("template_id = ?", templateID).
			Select("COALESCE(MAX(sequence), 0)").Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("failed to read page sequence: %w", err)
		}
		page.Sequence = maxSeq + 1
		if err := tx.Create(page).Error; err != nil {
			return fmt.Errorf("failed to create page: %w", err)
		}
		return m.touch(tx, templateID)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("page added",
		zap.Uint64("template_id", templateID),
		zap.Uint64("page_id", page.ID),
		zap.Int("sequence", page.Sequence))

	return page, nil
}

// SavePageRequest carries the page geometry to change
type SavePageRequest struct {
	Width        *float64 `json:"width"`
	Height       *float64 `json:"height"`
	LeftMargin   *float64 `json:"left_margin"`
	RightMargin  *float64 `json:"right_margin"`
	TopMargin    *float64 `json:"top_margin"`
	BottomMargin *float64 `json:"bottom_margin"`
}

func (r *SavePageRequest) updates() (map[string]interface{}, *apperr.ValidationError) {
	ve := &apperr.ValidationError{}
	updates := make(map[string]interface{})

	dim := func(column string, v *float64) {
		if v == nil {
			return
		}
		if *v <= 0 {
			ve.Add(column, "must be greater than 0")
			return
		}
		updates[column] = *v
	}
	margin := func(column string, v *float64) {
		if v == nil {
			return
		}
		if *v < 0 {
			ve.Add(column, "must be at least 0")
			return
		}
		updates[column] = *v
	}

	dim("width", r.Width)
	dim("height", r.Height)
	margin("left_margin", r.LeftMargin)
	margin("right_margin", r.RightMargin)
	margin("top_margin", r.TopMargin)
	margin("bottom_margin", r.BottomMargin)

	if ve.HasErrors() {
		return nil, ve
	}
	return updates, nil
}

// SavePage changes the geometry of one page. Absent fields keep their value.
func (m *Manager) SavePage(ctx context.Context, p *auth.Principal, templateID, pageID uint64, req *SavePageRequest) (*models.Page, error) {
	if _, err := m.manageable(ctx, p, templateID); err != nil {
		return nil, err
	}

	page, err := m.pageOf(m.db.WithContext(ctx), templateID, pageID)
	if err != nil {
		return nil, err
	}

	updates, ve := req.updates()
	if ve != nil {
		return nil, ve
	}
	if len(updates) == 0 {
		return page, nil
	}
	updates["updated_at"] = time.Now()

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(page).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update page: %w", err)
		}
		return m.touch(tx, templateID)
	})
	if err != nil {
		return nil, err
	}

	return m.pageOf(m.db.WithContext(ctx), templateID, pageID)
}

var pageFormFields = map[string]func(r *SavePageRequest, v float64){
	"pagewidth":        func(r *SavePageRequest, v float64) { r.Width = &v },
	"pageheight":       func(r *SavePageRequest, v float64) { r.Height = &v },
	"pageleftmargin":   func(r *SavePageRequest, v float64) { r.LeftMargin = &v },
	"pagerightmargin":  func(r *SavePageRequest, v float64) { r.RightMargin = &v },
	"pagetopmargin":    func(r *SavePageRequest, v float64) { r.TopMargin = &v },
	"pagebottommargin": func(r *SavePageRequest, v float64) { r.BottomMargin = &v },
}

// ParsePagesForm groups bulk form keys such as pagewidth_12 by page id
func ParsePagesForm(form map[string]float64) (map[uint64]*SavePageRequest, error) {
	reqs := make(map[uint64]*SavePageRequest)
	for key, value := range form {
		idx := strings.LastIndex(key, "_")
		if idx < 0 {
			return nil, apperr.Invalid(key, "unknown field")
		}
		set, ok := pageFormFields[key[:idx]]
		if !ok {
			return nil, apperr.Invalid(key, "unknown field")
		}
		pageID, err := strconv.ParseUint(key[idx+1:], 10, 64)
		if err != nil {
			return nil, apperr.Invalid(key, "invalid page id")
		}
		if reqs[pageID] == nil {
			reqs[pageID] = &SavePageRequest{}
		}
		set(reqs[pageID], value)
	}
	return reqs, nil
}

// SavePages applies the bulk page form of the template editor
func (m *Manager) SavePages(ctx context.Context, p *auth.Principal, templateID uint64, form map[string]float64) error {
	if _, err := m.manageable(ctx, p, templateID); err != nil {
		return err
	}

	reqs, err := ParsePagesForm(form)
	if err != nil {
		return err
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for pageID, req := range reqs {
			page, err := m.pageOf(tx, templateID, pageID)
			if err != nil {
				return err
			}
			updates, ve := req.updates()
			if ve != nil {
				return ve
			}
			if len(updates) == 0 {
				continue
			}
			updates["updated_at"] = time.Now()
			if err := tx.Model(page).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update page: %w", err)
			}
		}
		return m.touch(tx, templateID)
	})
}

// DeletePage removes a page with its elements and renumbers the rest
func (m *Manager) DeletePage(ctx context.Context, p *auth.Principal, templateID, pageID uint64) error {
	tpl, err := m.manageable(ctx, p, templateID)
	if err != nil {
		return err
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		page, err := m.pageOf(tx, templateID, pageID)
		if err != nil {
			return err
		}
		if err := m.deletePageContents(ctx, tx, tpl, []uint64{page.ID}); err != nil {
			return err
		}
		if err := tx.Delete(page).Error; err != nil {
			return fmt.Errorf("failed to delete page: %w", err)
		}

		var remaining []models.Page
		if err := tx.Where("template_id = ?", templateID).Order("sequence ASC, id ASC").Find(&remaining).Error; err != nil {
			return fmt.Errorf("failed to list pages: %w", err)
		}
		for i, rp := range remaining {
			if rp.Sequence == i+1 {
				continue
			}
			if err := tx.Model(&models.Page{}).Where("id = ?", rp.ID).Update("sequence", i+1).Error; err != nil {
				return fmt.Errorf("failed to renumber pages: %w", err)
			}
		}
		return m.touch(tx, templateID)
	})
	if err != nil {
		return err
	}

	m.logger.Info("page deleted",
		zap.Uint64("template_id", templateID),
		zap.Uint64("page_id", pageID))
	return nil
}

// pageOf loads a page and checks that it belongs to the template
func (m *Manager) pageOf(db *gorm.DB, templateID, pageID uint64) (*models.Page, error) {
	var page models.Page
	if err := db.Where("id = ? AND template_id = ?", pageID, templateID).First(&page).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("page")
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}
	return &page, nil
}
