package element

import (
	"context"
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// TypeQRCode draws a QR code linking to the verification page
const TypeQRCode = "qrcode"

// QR code content modes
const (
	QRContentURL  = "url"
	QRContentCode = "code"
)

const (
	defaultQRSize = 35.0
	qrPixels      = 256
)

type qrData struct {
	Width   float64 `json:"width" validate:"gte=0,lte=500"`
	Height  float64 `json:"height" validate:"gte=0,lte=500"`
	Content string  `json:"content" validate:"omitempty,oneof=url code"`
}

type qrVariant struct{}

// NewQRCodeVariant returns the QR code element
func NewQRCodeVariant() Variant { return qrVariant{} }

func (qrVariant) Type() string { return TypeQRCode }

func (qrVariant) FormFields() []FormField {
	return []FormField{
		{Name: "width", Label: "Width (mm)", Kind: FieldNumber, Default: defaultQRSize},
		{Name: "height", Label: "Height (mm)", Kind: FieldNumber, Default: defaultQRSize},
		{Name: "content", Label: "Content", Kind: FieldSelect, Options: []string{QRContentURL, QRContentCode}, Default: QRContentURL},
	}
}

func (qrVariant) Validate(_ context.Context, _ *ValidateContext, data Payload) FieldErrors {
	var d qrData
	return Decode(data, &d)
}

func (qrVariant) Save(_ context.Context, _ *SaveContext, data Payload) (Payload, error) {
	var d qrData
	if errs := Decode(data, &d); len(errs) > 0 {
		return nil, validationError(errs)
	}
	if d.Width == 0 {
		d.Width = defaultQRSize
	}
	if d.Height == 0 {
		d.Height = defaultQRSize
	}
	if d.Content == "" {
		d.Content = QRContentURL
	}
	return Encode(d)
}

func (v qrVariant) Render(_ context.Context, s Surface, rc *RenderContext) error {
	d, value, png, err := v.encode(rc)
	if err != nil {
		return err
	}
	return s.DrawImage(rc.Element.PosX, rc.Element.PosY, d.Width, d.Height, "qr-"+d.Content+"-"+value, png, "image/png")
}

func (v qrVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	d, value, png, err := v.encode(rc)
	if err != nil {
		return "", err
	}
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
	return imageTag(TypeQRCode, src, value, d.Width, d.Height, "")
}

func (qrVariant) encode(rc *RenderContext) (qrData, string, []byte, error) {
	var d qrData
	if err := decodeElement(rc, &d); err != nil {
		return d, "", nil, err
	}
	if d.Width == 0 {
		d.Width = defaultQRSize
	}
	if d.Height == 0 {
		d.Height = d.Width
	}

	value := rc.Links.VerifyURL(rc.Code())
	if d.Content == QRContentCode {
		value = rc.Code()
	}
	png, err := qrcode.Encode(value, qrcode.Medium, qrPixels)
	if err != nil {
		return d, "", nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return d, value, png, nil
}
