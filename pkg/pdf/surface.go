// Package pdf renders certificate designs into PDF documents.
package pdf

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/yourorg/certificate-service/pkg/element"
)

const (
	// ptToMM converts a font size in points to millimetres
	ptToMM = 25.4 / 72
	// lineSpacing is the line height as a multiple of the font size
	lineSpacing = 1.2

	defaultSignatureWidth  = 40
	defaultSignatureHeight = 20
)

// Surface draws elements on the current page of an fpdf document
type Surface struct {
	doc       *fpdf.Fpdf
	translate func(string) string
}

// NewSurface wraps an fpdf document
func NewSurface(doc *fpdf.Fpdf) *Surface {
	return &Surface{
		doc:       doc,
		translate: doc.UnicodeTranslatorFromDescriptor(""),
	}
}

// DrawText writes text at (x, y). A zero width runs to the right margin.
func (s *Surface) DrawText(x, y float64, text string, style element.TextStyle) error {
	if style.Font == "" {
		style = element.DefaultTextStyle
	}
	size := style.FontSize
	if size <= 0 {
		size = element.DefaultTextStyle.FontSize
	}
	r, g, b := hexColour(style.Colour)

	s.doc.SetFont(style.Font, "", size)
	s.doc.SetTextColor(r, g, b)
	s.doc.SetXY(x, y)
	s.doc.MultiCell(style.Width, size*ptToMM*lineSpacing, s.translate(text), "", alignment(style.Align), false)
	return s.doc.Error()
}

// DrawImage places an image. Zero width or height keeps the aspect ratio.
func (s *Surface) DrawImage(x, y, w, h float64, name string, content []byte, mimeType string) error {
	imageType, ok := element.ImageType(mimeType)
	if !ok {
		return fmt.Errorf("unsupported image type %q", mimeType)
	}
	opts := fpdf.ImageOptions{ImageType: imageType, ReadDpi: true}
	s.doc.RegisterImageOptionsReader(name, opts, bytes.NewReader(content))
	s.doc.ImageOptions(name, x, y, w, h, false, opts, 0, "")
	return s.doc.Error()
}

// AttachSignature embeds the signer certificate as a file annotation over the
// signature appearance
func (s *Surface) AttachSignature(x, y, w, h float64, sig element.SignatureInfo) error {
	if w <= 0 {
		w = defaultSignatureWidth
	}
	if h <= 0 {
		h = defaultSignatureHeight
	}
	filename := sig.Filename
	if filename == "" {
		filename = "signer.crt"
	}
	if !strings.HasSuffix(strings.ToLower(filename), ".pem") && !strings.HasSuffix(strings.ToLower(filename), ".crt") {
		filename += ".pem"
	}

	s.doc.AddAttachmentAnnotation(&fpdf.Attachment{
		Content:     sig.Certificate,
		Filename:    filename,
		Description: signatureDescription(sig),
	}, x, y, w, h)
	return s.doc.Error()
}

func signatureDescription(sig element.SignatureInfo) string {
	var parts []string
	add := func(label, value string) {
		if value != "" {
			parts = append(parts, label+": "+value)
		}
	}
	add("Name", sig.Name)
	add("Location", sig.Location)
	add("Reason", sig.Reason)
	add("ContactInfo", sig.ContactInfo)
	return strings.Join(parts, "\n")
}

func alignment(align string) string {
	switch strings.ToUpper(align) {
	case "C", "R", "J":
		return strings.ToUpper(align)
	default:
		return "L"
	}
}

// hexColour parses #rrggbb or #rgb, falling back to black
func hexColour(colour string) (int, int, int) {
	c := strings.TrimPrefix(strings.TrimSpace(colour), "#")
	if len(c) == 3 {
		c = string([]byte{c[0], c[0], c[1], c[1], c[2], c[2]})
	}
	if len(c) != 6 {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(c, 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
