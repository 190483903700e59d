package element

import (
	"context"
	"fmt"
	"strings"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// TypeImage is the static image element
const TypeImage = "image"

// Form inputs that select the image file
const (
	InputFileID     = "fileid"
	InputImageDraft = "certificateimage"
)

type imageData struct {
	Width  float64 `json:"width" validate:"gte=0,lte=2000"`
	Height float64 `json:"height" validate:"gte=0,lte=2000"`
	models.FileRef
}

type imageVariant struct{}

// NewImageVariant returns the image element
func NewImageVariant() Variant { return imageVariant{} }

func (imageVariant) Type() string { return TypeImage }

func (imageVariant) FormFields() []FormField {
	return []FormField{
		{Name: "width", Label: "Width (mm)", Kind: FieldNumber, Default: 0, Help: "0 keeps the image proportions"},
		{Name: "height", Label: "Height (mm)", Kind: FieldNumber, Default: 0, Help: "0 keeps the image proportions"},
		{Name: InputFileID, Label: "Shared image", Kind: FieldFile, Help: "A file from the shared image area"},
		{Name: InputImageDraft, Label: "Upload image", Kind: FieldDraft},
	}
}

func (v imageVariant) Validate(ctx context.Context, vc *ValidateContext, data Payload) FieldErrors {
	var d imageData
	if errs := Decode(data, &d); len(errs) > 0 {
		return errs
	}
	errs := FieldErrors{}
	checkSource(ctx, vc.Files, data, InputFileID, InputImageDraft, models.FileAreaImage, errs)
	return nilIfEmpty(errs)
}

func (v imageVariant) Save(ctx context.Context, sc *SaveContext, data Payload) (Payload, error) {
	d, err := v.save(ctx, sc, data)
	if err != nil {
		return nil, err
	}
	return Encode(d)
}

func (imageVariant) save(ctx context.Context, sc *SaveContext, data Payload) (imageData, error) {
	var d imageData
	if errs := Decode(data, &d); len(errs) > 0 {
		return d, validationError(errs)
	}
	ref, err := resolveSource(ctx, sc, data, InputFileID, InputImageDraft, models.FileAreaElement)
	if err != nil {
		return d, err
	}
	if ref != nil {
		d.FileRef = *ref
	}
	return d, nil
}

func (v imageVariant) Render(ctx context.Context, s Surface, rc *RenderContext) error {
	var d imageData
	if err := decodeElement(rc, &d); err != nil {
		return err
	}
	return drawStoredImage(ctx, s, rc, d)
}

func (imageVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	var d imageData
	if err := decodeElement(rc, &d); err != nil {
		return "", err
	}
	if d.FileRef.IsZero() {
		return "", nil
	}
	return imageTag(TypeImage, rc.Links.FileURL(d.FileRef), d.Filename, d.Width, d.Height, "")
}

func drawStoredImage(ctx context.Context, s Surface, rc *RenderContext, d imageData) error {
	if d.FileRef.IsZero() || rc.Files == nil {
		return nil
	}
	f, err := rc.Files.Get(ctx, d.FileRef)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}
	if _, ok := ImageType(f.MimeType); !ok {
		return nil
	}
	return s.DrawImage(rc.Element.PosX, rc.Element.PosY, d.Width, d.Height, "file-"+f.ContentHash, f.Content, f.MimeType)
}

// ImageType maps a MIME type to the image formats a certificate can embed
func ImageType(mimeType string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "image/png":
		return "PNG", true
	case "image/jpeg", "image/jpg":
		return "JPG", true
	case "image/gif":
		return "GIF", true
	default:
		return "", false
	}
}

// checkSource validates the optional file id and draft inputs of a file field
func checkSource(ctx context.Context, files FileStore, data Payload, idKey, draftKey, sharedArea string, errs FieldErrors) {
	if data.Has(idKey) {
		id, ok := data.Uint(idKey)
		if !ok {
			errs[idKey] = "must be a file id"
		} else if _, err := sharedFile(ctx, files, id, sharedArea); err != nil {
			errs[idKey] = err.Error()
		}
	}
	if data.Has(draftKey) {
		staged, err := files.ListDraft(ctx, nil, data.String(draftKey))
		if err != nil || len(staged) == 0 {
			errs[draftKey] = "no file uploaded"
		}
	}
}

func sharedFile(ctx context.Context, files FileStore, id uint64, area string) (*models.StoredFile, error) {
	f, err := files.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("file not found")
	}
	if f.Area != area || f.DraftKey != nil {
		return nil, fmt.Errorf("file is not in the %s area", area)
	}
	return f, nil
}

// resolveSource commits a draft upload into the element's own area, or
// points at a shared file. It returns nil when neither input was given.
func resolveSource(ctx context.Context, sc *SaveContext, data Payload, idKey, draftKey, ownArea string) (*models.FileRef, error) {
	if data.Has(draftKey) {
		committed, err := sc.Files.CommitDraft(ctx, sc.Tx, data.String(draftKey), templateContext(sc.Template), ownArea, sc.Element.ID)
		if err != nil {
			return nil, err
		}
		if len(committed) > 0 {
			ref := committed[0].FileRef()
			return &ref, nil
		}
	}
	if data.Has(idKey) {
		id, _ := data.Uint(idKey)
		f, err := sc.Files.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		ref := f.FileRef()
		return &ref, nil
	}
	return nil, nil
}

func templateContext(tpl *models.Template) uint64 {
	if tpl == nil {
		return models.SiteContextID
	}
	return tpl.ContextID
}

func nilIfEmpty(errs FieldErrors) FieldErrors {
	if len(errs) == 0 {
		return nil
	}
	return errs
}
