package models

import (
	"time"

	"gorm.io/datatypes"
)

// SharedTenantID is the tenant of templates visible to every tenant
const SharedTenantID uint64 = 0

// SiteContextID is the context of site-wide templates
const SiteContextID uint64 = 0

// Template represents a certificate design made of ordered pages
type Template struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	TenantID  uint64    `gorm:"not null;default:0;index" json:"tenant_id"`
	ContextID uint64    `gorm:"not null;default:0;index" json:"context_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Relationships
	Pages []Page `gorm:"foreignKey:TemplateID" json:"pages,omitempty"`
}

// TableName returns the table name for Template
func (Template) TableName() string {
	return "templates"
}

// IsShared reports whether the template belongs to the shared tenant
func (t *Template) IsShared() bool {
	return t.TenantID == SharedTenantID
}

// Page represents one page of a template with its geometry in millimetres
type Page struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID   uint64    `gorm:"not null;index" json:"template_id"`
	Sequence     int       `gorm:"not null;default:1" json:"sequence"`
	Width        float64   `gorm:"not null" json:"width"`
	Height       float64   `gorm:"not null" json:"height"`
	LeftMargin   float64   `gorm:"not null;default:0" json:"left_margin"`
	RightMargin  float64   `gorm:"not null;default:0" json:"right_margin"`
	TopMargin    float64   `gorm:"not null;default:0" json:"top_margin"`
	BottomMargin float64   `gorm:"not null;default:0" json:"bottom_margin"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Relationships
	Elements []Element `gorm:"foreignKey:PageID" json:"elements,omitempty"`
}

// TableName returns the table name for Page
func (Page) TableName() string {
	return "template_pages"
}

// Element represents one positioned item on a page. Data is owned by the
// element variant named by Type and is never interpreted here.
type Element struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	PageID    uint64         `gorm:"not null;index" json:"page_id"`
	Type      string         `gorm:"size:64;not null" json:"type"`
	Name      string         `gorm:"size:255;not null" json:"name"`
	PosX      float64        `gorm:"not null;default:0" json:"pos_x"`
	PosY      float64        `gorm:"not null;default:0" json:"pos_y"`
	Sequence  int            `gorm:"not null;default:1" json:"sequence"`
	Data      datatypes.JSON `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// TableName returns the table name for Element
func (Element) TableName() string {
	return "template_elements"
}
