package element

import (
	"context"
	"time"
)

// TypeDate prints a date related to the issue
const TypeDate = "date"

// Date items
const (
	DateIssued  = "issued"
	DateExpires = "expires"
	DateCurrent = "current"
)

// DefaultDateFormat is used when an element has no format
const DefaultDateFormat = "2 January 2006"

type dateData struct {
	DateItem string `json:"dateitem" validate:"required,oneof=issued expires current"`
	Format   string `json:"format" validate:"max=100"`
	TextStyle
}

type dateVariant struct{}

// NewDateVariant returns the date element
func NewDateVariant() Variant { return dateVariant{} }

func (dateVariant) Type() string { return TypeDate }

func (dateVariant) FormFields() []FormField {
	return append([]FormField{
		{Name: "dateitem", Label: "Date", Kind: FieldSelect, Required: true,
			Options: []string{DateIssued, DateExpires, DateCurrent}, Default: DateIssued},
		{Name: "format", Label: "Format", Kind: FieldText, Default: DefaultDateFormat,
			Help: "A layout written as the reference date Mon Jan 2 15:04:05 2006"},
	}, textStyleFields()...)
}

func (dateVariant) Validate(_ context.Context, _ *ValidateContext, data Payload) FieldErrors {
	var d dateData
	return Decode(data, &d)
}

func (dateVariant) Save(_ context.Context, _ *SaveContext, data Payload) (Payload, error) {
	var d dateData
	if errs := Decode(data, &d); len(errs) > 0 {
		return nil, validationError(errs)
	}
	if d.Format == "" {
		d.Format = DefaultDateFormat
	}
	d.TextStyle = d.TextStyle.withDefaults()
	return Encode(d)
}

func (v dateVariant) Render(_ context.Context, s Surface, rc *RenderContext) error {
	text, style, err := v.resolve(rc)
	if err != nil || text == "" {
		return err
	}
	return s.DrawText(rc.Element.PosX, rc.Element.PosY, text, style)
}

func (v dateVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	text, style, err := v.resolve(rc)
	if err != nil {
		return "", err
	}
	return styledSpan(TypeDate, text, style)
}

func (dateVariant) resolve(rc *RenderContext) (string, TextStyle, error) {
	var d dateData
	if err := decodeElement(rc, &d); err != nil {
		return "", TextStyle{}, err
	}
	format := d.Format
	if format == "" {
		format = DefaultDateFormat
	}

	var when *time.Time
	now := rc.now()
	switch {
	case rc.Preview || rc.Issue == nil || d.DateItem == DateCurrent:
		when = &now
	case d.DateItem == DateExpires:
		when = rc.Issue.ExpiresAt
	default:
		when = &rc.Issue.CreatedAt
	}
	if when == nil {
		return "", d.TextStyle.withDefaults(), nil
	}
	return when.Format(format), d.TextStyle.withDefaults(), nil
}
