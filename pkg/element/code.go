package element

import "context"

// TypeCode prints the verification code and/or URL
const TypeCode = "code"

// Code display modes
const (
	DisplayCode    = "code"
	DisplayURL     = "url"
	DisplayCodeURL = "codeurl"
)

type codeData struct {
	Display string `json:"display" validate:"omitempty,oneof=code url codeurl"`
	TextStyle
}

type codeVariant struct{}

// NewCodeVariant returns the verification code element
func NewCodeVariant() Variant { return codeVariant{} }

func (codeVariant) Type() string { return TypeCode }

func (codeVariant) FormFields() []FormField {
	return append([]FormField{
		{Name: "display", Label: "Display", Kind: FieldSelect,
			Options: []string{DisplayCode, DisplayURL, DisplayCodeURL}, Default: DisplayCode},
	}, textStyleFields()...)
}

func (codeVariant) Validate(_ context.Context, _ *ValidateContext, data Payload) FieldErrors {
	var d codeData
	return Decode(data, &d)
}

func (codeVariant) Save(_ context.Context, _ *SaveContext, data Payload) (Payload, error) {
	var d codeData
	if errs := Decode(data, &d); len(errs) > 0 {
		return nil, validationError(errs)
	}
	if d.Display == "" {
		d.Display = DisplayCode
	}
	d.TextStyle = d.TextStyle.withDefaults()
	return Encode(d)
}

func (v codeVariant) Render(_ context.Context, s Surface, rc *RenderContext) error {
	text, style, err := v.resolve(rc)
	if err != nil {
		return err
	}
	return s.DrawText(rc.Element.PosX, rc.Element.PosY, text, style)
}

func (v codeVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	text, style, err := v.resolve(rc)
	if err != nil {
		return "", err
	}
	return styledSpan(TypeCode, text, style)
}

func (codeVariant) resolve(rc *RenderContext) (string, TextStyle, error) {
	var d codeData
	if err := decodeElement(rc, &d); err != nil {
		return "", TextStyle{}, err
	}
	code := rc.Code()
	switch d.Display {
	case DisplayURL:
		return rc.Links.VerifyURL(code), d.TextStyle.withDefaults(), nil
	case DisplayCodeURL:
		return code + "\n" + rc.Links.VerifyURL(code), d.TextStyle.withDefaults(), nil
	default:
		return code, d.TextStyle.withDefaults(), nil
	}
}
