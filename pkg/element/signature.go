package element

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"golang.org/x/crypto/pkcs12"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// TypeDigitalSignature is an image carrying a signer certificate
const TypeDigitalSignature = "digitalsignature"

// Form inputs that select the signer certificate
const (
	InputSignatureFileID   = "signaturefileid"
	InputSignatureDraft    = "digitalsignature"
	InputSignaturePassword = "signaturepassword"
)

// ErrNoCertificate means a signature file holds no usable certificate
var ErrNoCertificate = errors.New("no certificate found")

type signatureData struct {
	imageData
	SignatureName        string `json:"signaturename" validate:"max=255"`
	SignaturePassword    string `json:"signaturepassword"`
	SignatureLocation    string `json:"signaturelocation" validate:"max=255"`
	SignatureReason      string `json:"signaturereason" validate:"max=255"`
	SignatureContactInfo string `json:"signaturecontactinfo" validate:"max=255"`
	SignatureContextID   uint64 `json:"signaturecontextid"`
	SignatureFileArea    string `json:"signaturefilearea"`
	SignatureItemID      uint64 `json:"signatureitemid"`
	SignatureFilePath    string `json:"signaturefilepath"`
	SignatureFileName    string `json:"signaturefilename"`
}

func (d signatureData) signatureRef() models.FileRef {
	return models.FileRef{
		ContextID: d.SignatureContextID,
		Area:      d.SignatureFileArea,
		ItemID:    d.SignatureItemID,
		FilePath:  d.SignatureFilePath,
		Filename:  d.SignatureFileName,
	}
}

func (d *signatureData) setSignatureRef(ref models.FileRef) {
	d.SignatureContextID = ref.ContextID
	d.SignatureFileArea = ref.Area
	d.SignatureItemID = ref.ItemID
	d.SignatureFilePath = ref.FilePath
	d.SignatureFileName = ref.Filename
}

type signatureVariant struct {
	image imageVariant
}

// NewDigitalSignatureVariant returns the digital signature element
func NewDigitalSignatureVariant() Variant { return signatureVariant{} }

func (signatureVariant) Type() string { return TypeDigitalSignature }

func (v signatureVariant) FormFields() []FormField {
	return append(v.image.FormFields(),
		FormField{Name: "signaturename", Label: "Signer name", Kind: FieldText},
		FormField{Name: InputSignaturePassword, Label: "Certificate password", Kind: FieldPassword},
		FormField{Name: "signaturelocation", Label: "Location", Kind: FieldText},
		FormField{Name: "signaturereason", Label: "Reason", Kind: FieldText},
		FormField{Name: "signaturecontactinfo", Label: "Contact info", Kind: FieldText},
		FormField{Name: InputSignatureFileID, Label: "Shared signer certificate", Kind: FieldFile},
		FormField{Name: InputSignatureDraft, Label: "Upload signer certificate", Kind: FieldDraft, Required: true,
			Help: "A PEM certificate or a PKCS#12 bundle"},
	)
}

func (v signatureVariant) Validate(ctx context.Context, vc *ValidateContext, data Payload) FieldErrors {
	var d signatureData
	if errs := Decode(data, &d); len(errs) > 0 {
		return errs
	}

	errs := v.image.Validate(ctx, vc, data)
	if errs == nil {
		errs = FieldErrors{}
	}
	checkSource(ctx, vc.Files, data, InputSignatureFileID, InputSignatureDraft, models.FileAreaSignature, errs)
	if _, failed := errs[InputSignatureFileID]; failed {
		return errs
	}
	if _, failed := errs[InputSignatureDraft]; failed {
		return errs
	}

	content, err := v.pendingSignature(ctx, vc.Files, data, d)
	switch {
	case err != nil:
		errs[InputSignatureDraft] = err.Error()
	case content == nil:
		errs[InputSignatureDraft] = "required"
	default:
		if _, err := SignerCertificatePEM(content, d.SignaturePassword); err != nil {
			if errors.Is(err, pkcs12.ErrIncorrectPassword) {
				errs["signaturepassword"] = "incorrect password for the signature file"
			} else {
				errs[InputSignatureDraft] = "not a valid certificate"
			}
		}
	}
	return nilIfEmpty(errs)
}

// pendingSignature returns the signature file content the element would end
// up with: a new upload, a shared file, or the stored reference.
func (signatureVariant) pendingSignature(ctx context.Context, files FileStore, data Payload, d signatureData) ([]byte, error) {
	if data.Has(InputSignatureDraft) {
		staged, err := files.ListDraft(ctx, nil, data.String(InputSignatureDraft))
		if err != nil {
			return nil, err
		}
		if len(staged) > 0 {
			return staged[0].Content, nil
		}
	}
	if data.Has(InputSignatureFileID) {
		id, _ := data.Uint(InputSignatureFileID)
		f, err := files.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		return f.Content, nil
	}
	ref := d.signatureRef()
	if ref.IsZero() {
		return nil, nil
	}
	f, err := files.Get(ctx, ref)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return f.Content, nil
}

func (v signatureVariant) Save(ctx context.Context, sc *SaveContext, data Payload) (Payload, error) {
	var d signatureData
	if errs := Decode(data, &d); len(errs) > 0 {
		return nil, validationError(errs)
	}

	img, err := v.image.save(ctx, sc, data)
	if err != nil {
		return nil, err
	}
	d.imageData = img

	ref, err := resolveSource(ctx, sc, data, InputSignatureFileID, InputSignatureDraft, models.FileAreaElementAux)
	if err != nil {
		return nil, err
	}
	if ref != nil {
		d.setSignatureRef(*ref)
	}
	if d.signatureRef().IsZero() {
		return nil, apperr.Invalid(InputSignatureDraft, "required")
	}
	return Encode(d)
}

func (v signatureVariant) Render(ctx context.Context, s Surface, rc *RenderContext) error {
	var d signatureData
	if err := decodeElement(rc, &d); err != nil {
		return err
	}
	if err := drawStoredImage(ctx, s, rc, d.imageData); err != nil {
		return err
	}

	ref := d.signatureRef()
	if ref.IsZero() || rc.Files == nil {
		return nil
	}
	f, err := rc.Files.Get(ctx, ref)
	if err != nil {
		if apperr.IsNotFound(err) {
			return nil
		}
		return err
	}
	cert, err := SignerCertificatePEM(f.Content, d.SignaturePassword)
	if err != nil {
		return fmt.Errorf("failed to read signer certificate of element %d: %w", rc.Element.ID, err)
	}

	return s.AttachSignature(rc.Element.PosX, rc.Element.PosY, d.Width, d.Height, SignatureInfo{
		Name:        d.SignatureName,
		Location:    d.SignatureLocation,
		Reason:      d.SignatureReason,
		ContactInfo: d.SignatureContactInfo,
		Filename:    f.Filename,
		Certificate: cert,
	})
}

func (signatureVariant) RenderHTML(_ context.Context, rc *RenderContext) (string, error) {
	var d signatureData
	if err := decodeElement(rc, &d); err != nil {
		return "", err
	}
	if d.FileRef.IsZero() {
		return "", nil
	}
	caption := d.SignatureName
	if caption == "" {
		caption = "Digital signature"
	}
	return imageTag(TypeDigitalSignature, rc.Links.FileURL(d.FileRef), d.Filename, d.Width, d.Height, caption)
}

// SignerCertificatePEM extracts the signer certificate from a PEM file or a
// PKCS#12 bundle and returns it PEM encoded.
func SignerCertificatePEM(content []byte, password string) ([]byte, error) {
	if bytes.Contains(content, []byte("-----BEGIN")) {
		rest := content
		for {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				return nil, ErrNoCertificate
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			if _, err := x509.ParseCertificate(block.Bytes); err != nil {
				return nil, fmt.Errorf("failed to parse certificate: %w", err)
			}
			return pem.EncodeToMemory(block), nil
		}
	}

	_, cert, err := pkcs12.Decode(content, password)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw}), nil
}
