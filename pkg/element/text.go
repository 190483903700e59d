package element

import (
	"context"
	"strings"
)

// TypeText is the free text element with placeholders
const TypeText = "text"

type textData struct {
	Text string `json:"text" validate:"required"`
	TextStyle
}

type textVariant struct{}

// NewTextVariant returns the text element
func NewTextVariant() Variant { return textVariant{} }

func (textVariant) Type() string { return TypeText }

func (textVariant) FormFields() []FormField {
	return append([]FormField{
		{Name: "text", Label: "Text", Kind: FieldTextArea, Required: true,
			Help: "Placeholders: {{ user.fullname }}, {{ issue.code }}, {{ template.name }}, {{ data.<key> }}"},
	}, textStyleFields()...)
}

func (textVariant) Validate(_ context.Context, _ *ValidateContext, data Payload) FieldErrors {
	var d textData
	if errs := Decode(data, &d); len(errs) > 0 {
		return errs
	}
	if strings.TrimSpace(d.Text) == "" {
		return FieldErrors{"text": "required"}
	}
	if err := CompileText(d.Text); err != nil {
		return FieldErrors{"text": "invalid placeholder: " + err.Error()}
	}
	return nil
}

func (textVariant) Save(_ context.Context, _ *SaveContext, data Payload) (Payload, error) {
	var d textData
	if errs := Decode(data, &d); len(errs) > 0 {
		return nil, validationError(errs)
	}
	d.TextStyle = d.TextStyle.withDefaults()
	return Encode(d)
}

func (v textVariant) Render(_ context.Context, s Surface, rc *RenderContext) error {
	text, style, err := v.resolve(rc)
	if err != nil || text == "" {
		return err
	}
	return s.DrawText(rc.Element.PosX, rc.Element.PosY, text, style)
}

func (v textVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	text, style, err := v.resolve(rc)
	if err != nil {
		return "", err
	}
	return styledSpan(TypeText, text, style)
}

func (textVariant) resolve(rc *RenderContext) (string, TextStyle, error) {
	var d textData
	if err := decodeElement(rc, &d); err != nil {
		return "", TextStyle{}, err
	}
	text, err := RenderText(d.Text, rc)
	if err != nil {
		return "", TextStyle{}, err
	}
	return text, d.TextStyle.withDefaults(), nil
}
