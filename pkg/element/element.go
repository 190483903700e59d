// Package element implements the positioned, typed items drawn on certificate pages.
//
// Each element type is a Variant registered in a Registry. The stored
// element row is a thin envelope; only the variant interprets its data.
package element

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/db/models"
)

// FormData holds submitted form values. Only present keys are applied.
type FormData map[string]interface{}

// Payload is the decoded variant data of an element
type Payload map[string]interface{}

// FieldErrors maps a form field to its validation message
type FieldErrors map[string]string

// Variant is one element type
type Variant interface {
	Type() string
	FormFields() []FormField
	// Validate and Save receive the stored payload with the submitted form merged over it.
	Validate(ctx context.Context, vc *ValidateContext, data Payload) FieldErrors
	Save(ctx context.Context, sc *SaveContext, data Payload) (Payload, error)
	Render(ctx context.Context, s Surface, rc *RenderContext) error
	RenderHTML(ctx context.Context, rc *RenderContext) (string, error)
}

// FileStore is the slice of the file store that variants use
type FileStore interface {
	Get(ctx context.Context, ref models.FileRef) (*models.StoredFile, error)
	GetByID(ctx context.Context, id uint64) (*models.StoredFile, error)
	List(ctx context.Context, contextID uint64, area string, itemID uint64) ([]models.StoredFile, error)
	ListDraft(ctx context.Context, tx *gorm.DB, draftKey string) ([]models.StoredFile, error)
	CommitDraft(ctx context.Context, tx *gorm.DB, draftKey string, contextID uint64, area string, itemID uint64) ([]models.StoredFile, error)
}

// ValidateContext carries what a variant may consult while validating
type ValidateContext struct {
	Element  *models.Element
	Template *models.Template
	Files    FileStore
}

// SaveContext carries the transaction the element row is written in
type SaveContext struct {
	Tx       *gorm.DB
	Element  *models.Element
	Template *models.Template
	Files    FileStore
}

// RenderContext describes what an element is drawn for
type RenderContext struct {
	Element  *models.Element
	Template *models.Template
	Preview  bool
	// User is the previewing user; issue rendering reads the issue snapshot instead.
	User  *models.User
	Issue *models.Issue
	Files FileStore
	Links Links
	Now   time.Time
}

// PreviewCode is shown where a verification code would appear in previews
const PreviewCode = "PREVIEW123"

// UserFullName returns the recipient name for this rendering
func (rc *RenderContext) UserFullName() string {
	if rc.Issue != nil && !rc.Preview {
		return rc.Issue.UserFullName()
	}
	if rc.User != nil {
		return rc.User.FullName()
	}
	return "Preview User"
}

// Code returns the verification code for this rendering
func (rc *RenderContext) Code() string {
	if rc.Issue != nil && !rc.Preview {
		return rc.Issue.Code
	}
	return PreviewCode
}

// IssueData returns the issue snapshot, or nil in previews
func (rc *RenderContext) IssueData() map[string]interface{} {
	if rc.Issue == nil || rc.Preview {
		return nil
	}
	return rc.Issue.Data
}

// TemplateName returns the template name as captured for this rendering
func (rc *RenderContext) TemplateName() string {
	if rc.Issue != nil && !rc.Preview {
		if name := rc.Issue.TemplateName(); name != "" {
			return name
		}
	}
	if rc.Template != nil {
		return rc.Template.Name
	}
	return ""
}

func (rc *RenderContext) now() time.Time {
	if rc.Now.IsZero() {
		return time.Now()
	}
	return rc.Now
}

// TextStyle describes how a piece of text is set
type TextStyle struct {
	Font     string  `json:"font" validate:"omitempty,oneof=helvetica times courier"`
	FontSize float64 `json:"fontsize" validate:"gte=0,lte=200"`
	Colour   string  `json:"colour" validate:"omitempty,hexcolor"`
	Width    float64 `json:"width" validate:"gte=0"`
	Align    string  `json:"align" validate:"omitempty,oneof=L C R"`
}

// DefaultTextStyle is applied to text-like elements saved without style fields
var DefaultTextStyle = TextStyle{
	Font:     "helvetica",
	FontSize: 12,
	Colour:   "#000000",
	Align:    "L",
}

func (ts TextStyle) withDefaults() TextStyle {
	if ts.Font == "" {
		ts.Font = DefaultTextStyle.Font
	}
	if ts.FontSize == 0 {
		ts.FontSize = DefaultTextStyle.FontSize
	}
	if ts.Colour == "" {
		ts.Colour = DefaultTextStyle.Colour
	}
	if ts.Align == "" {
		ts.Align = DefaultTextStyle.Align
	}
	return ts
}

// SignatureInfo is the signer data attached over a signature appearance
type SignatureInfo struct {
	Name        string
	Location    string
	Reason      string
	ContactInfo string
	Filename    string
	// Certificate is the PEM encoded signer certificate
	Certificate []byte
}

// Surface is what elements draw on. Coordinates and sizes are millimetres
// from the top-left corner of the current page.
type Surface interface {
	DrawText(x, y float64, text string, style TextStyle) error
	DrawImage(x, y, w, h float64, name string, content []byte, mimeType string) error
	AttachSignature(x, y, w, h float64, sig SignatureInfo) error
}
