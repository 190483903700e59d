package element

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/yourorg/certificate-service/pkg/db/models"
)

// TypeUserPicture is the recipient's profile picture
const TypeUserPicture = "userpicture"

type userPictureData struct {
	Width  float64 `json:"width" validate:"gte=0,lte=2000"`
	Height float64 `json:"height" validate:"gte=0,lte=2000"`
}

type userPictureVariant struct{}

// NewUserPictureVariant returns the user picture element
func NewUserPictureVariant() Variant { return userPictureVariant{} }

func (userPictureVariant) Type() string { return TypeUserPicture }

func (userPictureVariant) FormFields() []FormField {
	return []FormField{
		{Name: "width", Label: "Width (mm)", Kind: FieldNumber, Default: 0},
		{Name: "height", Label: "Height (mm)", Kind: FieldNumber, Default: 0},
	}
}

func (userPictureVariant) Validate(_ context.Context, _ *ValidateContext, data Payload) FieldErrors {
	var d userPictureData
	return Decode(data, &d)
}

func (userPictureVariant) Save(_ context.Context, _ *SaveContext, data Payload) (Payload, error) {
	var d userPictureData
	if errs := Decode(data, &d); len(errs) > 0 {
		return nil, validationError(errs)
	}
	return Encode(d)
}

func (userPictureVariant) Render(ctx context.Context, s Surface, rc *RenderContext) error {
	var d userPictureData
	if err := decodeElement(rc, &d); err != nil {
		return err
	}

	if pic, err := recipientPicture(ctx, rc); err != nil {
		return err
	} else if pic != nil {
		return s.DrawImage(rc.Element.PosX, rc.Element.PosY, d.Width, d.Height, "file-"+pic.ContentHash, pic.Content, pic.MimeType)
	}

	if !rc.Preview {
		return nil
	}
	return s.DrawImage(rc.Element.PosX, rc.Element.PosY, d.Width, d.Height, "userpicture-placeholder", PlaceholderPicture(), "image/png")
}

func (userPictureVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	var d userPictureData
	if err := decodeElement(rc, &d); err != nil {
		return "", err
	}
	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(PlaceholderPicture())
	return imageTag(TypeUserPicture, src, "User picture", d.Width, d.Height, "")
}

func recipientPicture(ctx context.Context, rc *RenderContext) (*models.StoredFile, error) {
	if rc.Files == nil {
		return nil, nil
	}

	var userID uint64
	switch {
	case rc.Issue != nil && !rc.Preview:
		userID = rc.Issue.UserID
	case rc.User != nil:
		userID = rc.User.ID
	default:
		return nil, nil
	}

	files, err := rc.Files.List(ctx, models.SiteContextID, models.FileAreaUserPicture, userID)
	if err != nil {
		return nil, err
	}
	for i := range files {
		if _, ok := ImageType(files[i].MimeType); ok {
			return &files[i], nil
		}
	}
	return nil, nil
}

var (
	placeholderOnce sync.Once
	placeholderPNG  []byte
)

// PlaceholderPicture returns a generic silhouette PNG
func PlaceholderPicture() []byte {
	placeholderOnce.Do(func() {
		const size = 100
		img := image.NewRGBA(image.Rect(0, 0, size, size))
		bg := color.RGBA{R: 0xe9, G: 0xec, B: 0xef, A: 0xff}
		fg := color.RGBA{R: 0xad, G: 0xb5, B: 0xbd, A: 0xff}

		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				c := bg
				// head
				if dx, dy := x-50, y-38; dx*dx+dy*dy <= 18*18 {
					c = fg
				}
				// shoulders
				if dx, dy := x-50, y-100; dx*dx+dy*dy <= 38*38 {
					c = fg
				}
				img.Set(x, y, c)
			}
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err == nil {
			placeholderPNG = buf.Bytes()
		}
	})
	return placeholderPNG
}
