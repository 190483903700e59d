package element_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/filestore"
	"github.com/yourorg/certificate-service/pkg/testutil"
)

type drawCall struct {
	Op   string
	X, Y float64
	W, H float64
	Text string
	Name string
	Data []byte
	Sig  element.SignatureInfo
}

type recordingSurface struct {
	calls []drawCall
}

func (s *recordingSurface) DrawText(x, y float64, text string, style element.TextStyle) error {
	s.calls = append(s.calls, drawCall{Op: "text", X: x, Y: y, Text: text})
	return nil
}

func (s *recordingSurface) DrawImage(x, y, w, h float64, name string, content []byte, mimeType string) error {
	s.calls = append(s.calls, drawCall{Op: "image", X: x, Y: y, W: w, H: h, Name: name, Data: content})
	return nil
}

func (s *recordingSurface) AttachSignature(x, y, w, h float64, sig element.SignatureInfo) error {
	s.calls = append(s.calls, drawCall{Op: "signature", X: x, Y: y, W: w, H: h, Sig: sig})
	return nil
}

var pngBytes = element.PlaceholderPicture()

func newFiles(t *testing.T) (*filestore.Store, *gorm.DB) {
	gdb := testutil.NewDB(t)
	return filestore.NewStore(gdb, zap.NewNop()), gdb
}

func elementWith(t *testing.T, id uint64, typ string, data element.Payload) *models.Element {
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return &models.Element{ID: id, Type: typ, Name: typ, PosX: 10, PosY: 20, Data: datatypes.JSON(raw)}
}

func issueRender(el *models.Element, issue *models.Issue) *element.RenderContext {
	return &element.RenderContext{
		Element:  el,
		Template: &models.Template{ID: 1, Name: "Live name"},
		Issue:    issue,
		Links:    element.Links{BaseURL: "https://certs.example.com/api/v1/"},
		Now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func sampleIssue() *models.Issue {
	return &models.Issue{
		ID:        5,
		UserID:    42,
		Code:      "ABCDEF1234",
		CreatedAt: time.Date(2025, 6, 15, 9, 0, 0, 0, time.UTC),
		Data: datatypes.JSONMap{
			models.IssueDataUserFullName: "Ada Lovelace",
			models.IssueDataTemplateName: "Snapshot name",
			"coursefullname":             "Analytical Engines",
		},
	}
}

func selfSignedPEM(t *testing.T) []byte {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Registrar"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestRegistry(t *testing.T) {
	r := element.DefaultRegistry(element.TypeQRCode)

	assert.Equal(t, []string{"code", "coursename", "date", "digitalsignature", "image", "text", "userpicture"}, r.Types())
	assert.False(t, r.Enabled(element.TypeQRCode))
	assert.True(t, r.Enabled(element.TypeText))

	// disabled types still render
	_, err := r.Get(element.TypeQRCode)
	assert.NoError(t, err)

	_, err = r.Get("border")
	assert.Error(t, err)

	for _, info := range r.Describe() {
		assert.Equal(t, element.FieldName, info.Fields[0].Name, info.Type)
	}
}

func TestSplitCommon(t *testing.T) {
	cv, rest, errs := element.SplitCommon(element.FormData{
		"name":     "Title",
		"pos_x":    12.5,
		"sequence": float64(3),
		"text":     "Hello",
	})
	assert.Empty(t, errs)
	require.NotNil(t, cv.Name)
	assert.Equal(t, "Title", *cv.Name)
	require.NotNil(t, cv.PosX)
	assert.Equal(t, 12.5, *cv.PosX)
	assert.Nil(t, cv.PosY)
	require.NotNil(t, cv.Sequence)
	assert.Equal(t, 3, *cv.Sequence)
	assert.Equal(t, element.FormData{"text": "Hello"}, rest)

	_, _, errs = element.SplitCommon(element.FormData{"name": " ", "pos_y": "abc", "sequence": 0})
	assert.Equal(t, "required", errs["name"])
	assert.Equal(t, "must be a number", errs["pos_y"])
	assert.Contains(t, errs, "sequence")
}

func TestMerge_OnlySubmittedKeysChange(t *testing.T) {
	stored := element.Payload{"text": "Hello", "fontsize": 14.0, "colour": "#ff0000"}
	merged := element.Merge(stored, element.FormData{"fontsize": 20.0})

	assert.Equal(t, "Hello", merged["text"])
	assert.Equal(t, 20.0, merged["fontsize"])
	assert.Equal(t, "#ff0000", merged["colour"])
	assert.Equal(t, 14.0, stored["fontsize"])
}

func TestTextVariant_Validate(t *testing.T) {
	ctx := context.Background()
	v := element.NewTextVariant()

	tests := []struct {
		name  string
		data  element.Payload
		field string
	}{
		{"missing text", element.Payload{}, "text"},
		{"blank text", element.Payload{"text": "  "}, "text"},
		{"bad font size type", element.Payload{"text": "x", "fontsize": "big"}, "fontsize"},
		{"bad colour", element.Payload{"text": "x", "colour": "red"}, "colour"},
		{"bad align", element.Payload{"text": "x", "align": "J"}, "align"},
		{"include banned", element.Payload{"text": `{% include "/etc/passwd" %}`}, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.Validate(ctx, &element.ValidateContext{}, tt.data)
			assert.Contains(t, errs, tt.field)
		})
	}

	assert.Empty(t, v.Validate(ctx, &element.ValidateContext{}, element.Payload{"text": "Awarded to {{ user.fullname }}"}))
}

func TestTextVariant_RenderUsesIssueSnapshot(t *testing.T) {
	ctx := context.Background()
	v := element.NewTextVariant()

	saved, err := v.Save(ctx, &element.SaveContext{}, element.Payload{"text": "{{ user.fullname }} / {{ template.name }} / {{ issue.code }} / {{ data.coursefullname }}"})
	require.NoError(t, err)
	assert.Equal(t, "helvetica", saved["font"])

	el := elementWith(t, 1, element.TypeText, saved)
	s := &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, issueRender(el, sampleIssue())))

	require.Len(t, s.calls, 1)
	assert.Equal(t, "Ada Lovelace / Snapshot name / ABCDEF1234 / Analytical Engines", s.calls[0].Text)
	assert.Equal(t, 10.0, s.calls[0].X)
	assert.Equal(t, 20.0, s.calls[0].Y)

	preview := issueRender(el, nil)
	preview.Preview = true
	preview.User = &models.User{ID: 7, FirstName: "Grace", LastName: "Hopper"}
	s = &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, preview))
	assert.Equal(t, "Grace Hopper / Live name / "+element.PreviewCode+" / ", s.calls[0].Text)
}

func TestTextVariant_HTMLEscapes(t *testing.T) {
	ctx := context.Background()
	el := elementWith(t, 1, element.TypeText, element.Payload{"text": "<b>{{ user.fullname }}</b>\nline"})
	rc := issueRender(el, sampleIssue())

	html, err := element.NewTextVariant().RenderHTML(ctx, rc)
	require.NoError(t, err)
	assert.Contains(t, html, "&lt;b&gt;Ada Lovelace&lt;/b&gt;<br />line")
	assert.NotContains(t, html, "<b>")
}

func TestCodeVariant_DisplayModes(t *testing.T) {
	ctx := context.Background()
	v := element.NewCodeVariant()

	tests := []struct {
		display string
		want    string
	}{
		{element.DisplayCode, "ABCDEF1234"},
		{element.DisplayURL, "https://certs.example.com/api/v1/verify?code=ABCDEF1234"},
		{element.DisplayCodeURL, "ABCDEF1234\nhttps://certs.example.com/api/v1/verify?code=ABCDEF1234"},
	}
	for _, tt := range tests {
		t.Run(tt.display, func(t *testing.T) {
			s := &recordingSurface{}
			el := elementWith(t, 1, element.TypeCode, element.Payload{"display": tt.display})
			require.NoError(t, v.Render(ctx, s, issueRender(el, sampleIssue())))
			require.Len(t, s.calls, 1)
			assert.Equal(t, tt.want, s.calls[0].Text)
		})
	}

	errs := v.Validate(ctx, &element.ValidateContext{}, element.Payload{"display": "barcode"})
	assert.Contains(t, errs, "display")
}

func TestDateVariant(t *testing.T) {
	ctx := context.Background()
	v := element.NewDateVariant()

	assert.Contains(t, v.Validate(ctx, &element.ValidateContext{}, element.Payload{}), "dateitem")

	issue := sampleIssue()
	el := elementWith(t, 1, element.TypeDate, element.Payload{"dateitem": element.DateIssued, "format": "2006-01-02"})
	s := &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, issueRender(el, issue)))
	require.Len(t, s.calls, 1)
	assert.Equal(t, "2025-06-15", s.calls[0].Text)

	// no expiry, nothing drawn
	el = elementWith(t, 1, element.TypeDate, element.Payload{"dateitem": element.DateExpires})
	s = &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, issueRender(el, issue)))
	assert.Empty(t, s.calls)

	expires := time.Date(2027, 1, 2, 0, 0, 0, 0, time.UTC)
	issue.ExpiresAt = &expires
	require.NoError(t, v.Render(ctx, s, issueRender(el, issue)))
	assert.Equal(t, "2 January 2027", s.calls[0].Text)

	el = elementWith(t, 1, element.TypeDate, element.Payload{"dateitem": element.DateCurrent, "format": "02/01/2006"})
	s = &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, issueRender(el, issue)))
	assert.Equal(t, "01/03/2026", s.calls[0].Text)
}

func TestCourseNameVariant(t *testing.T) {
	ctx := context.Background()
	v := element.NewCourseNameVariant()
	el := elementWith(t, 1, element.TypeCourseName, element.Payload{})

	s := &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, issueRender(el, sampleIssue())))
	assert.Equal(t, "Analytical Engines", s.calls[0].Text)

	rc := issueRender(el, nil)
	rc.Preview = true
	s = &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, rc))
	assert.Equal(t, "Course name", s.calls[0].Text)
}

func TestQRCodeVariant(t *testing.T) {
	ctx := context.Background()
	v := element.NewQRCodeVariant()

	saved, err := v.Save(ctx, &element.SaveContext{}, element.Payload{})
	require.NoError(t, err)
	assert.Equal(t, 35.0, saved["width"])
	assert.Equal(t, element.QRContentURL, saved["content"])

	el := elementWith(t, 1, element.TypeQRCode, saved)
	s := &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, issueRender(el, sampleIssue())))
	require.Len(t, s.calls, 1)
	assert.True(t, bytes.HasPrefix(s.calls[0].Data, []byte("\x89PNG")))
	assert.Equal(t, 35.0, s.calls[0].W)

	html, err := v.RenderHTML(ctx, issueRender(el, sampleIssue()))
	require.NoError(t, err)
	assert.Contains(t, html, `src="data:image/png;base64,`)
}

func TestImageVariant_CommitsDraftInTransaction(t *testing.T) {
	ctx := context.Background()
	files, gdb := newFiles(t)
	v := element.NewImageVariant()

	draft := files.NewDraft()
	_, err := files.PutDraft(ctx, draft, "seal.png", pngBytes, "")
	require.NoError(t, err)

	vc := &element.ValidateContext{Files: files}
	assert.Contains(t, v.Validate(ctx, vc, element.Payload{element.InputImageDraft: files.NewDraft()}), element.InputImageDraft)
	assert.Contains(t, v.Validate(ctx, vc, element.Payload{element.InputFileID: 999}), element.InputFileID)

	data := element.Payload{"width": 40.0, element.InputImageDraft: draft}
	require.Empty(t, v.Validate(ctx, vc, data))

	el := &models.Element{ID: 77, Type: element.TypeImage}
	tpl := &models.Template{ID: 1, ContextID: 3}
	var saved element.Payload
	err = gdb.Transaction(func(tx *gorm.DB) error {
		var err error
		saved, err = v.Save(ctx, &element.SaveContext{Tx: tx, Element: el, Template: tpl, Files: files}, data)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, models.FileAreaElement, saved["filearea"])
	assert.EqualValues(t, 77, saved["itemid"])
	assert.EqualValues(t, 3, saved["contextid"])
	assert.Equal(t, "seal.png", saved["filename"])
	assert.NotContains(t, saved, element.InputImageDraft)

	el = elementWith(t, 77, element.TypeImage, saved)
	rc := issueRender(el, sampleIssue())
	rc.Files = files
	s := &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, rc))
	require.Len(t, s.calls, 1)
	assert.Equal(t, pngBytes, s.calls[0].Data)
	assert.Equal(t, 40.0, s.calls[0].W)

	html, err := v.RenderHTML(ctx, rc)
	require.NoError(t, err)
	assert.Contains(t, html, "https://certs.example.com/api/v1/files/3/element/77/seal.png")
}

func TestImageVariant_SharedFile(t *testing.T) {
	ctx := context.Background()
	files, _ := newFiles(t)
	v := element.NewImageVariant()

	shared, err := files.Put(ctx, nil, models.FileRef{Area: models.FileAreaImage, Filename: "logo.png"}, pngBytes, "")
	require.NoError(t, err)
	other, err := files.Put(ctx, nil, models.FileRef{Area: models.FileAreaSignature, Filename: "cert.pem"}, []byte("x"), "")
	require.NoError(t, err)

	vc := &element.ValidateContext{Files: files}
	assert.Empty(t, v.Validate(ctx, vc, element.Payload{element.InputFileID: float64(shared.ID)}))
	assert.Contains(t, v.Validate(ctx, vc, element.Payload{element.InputFileID: float64(other.ID)}), element.InputFileID)

	saved, err := v.Save(ctx, &element.SaveContext{Element: &models.Element{ID: 1}, Files: files}, element.Payload{element.InputFileID: float64(shared.ID)})
	require.NoError(t, err)
	assert.Equal(t, models.FileAreaImage, saved["filearea"])
	assert.EqualValues(t, 0, saved["itemid"])
	assert.NotContains(t, saved, element.InputFileID)
}

func TestSignatureVariant(t *testing.T) {
	ctx := context.Background()
	files, gdb := newFiles(t)
	v := element.NewDigitalSignatureVariant()
	vc := &element.ValidateContext{Files: files}

	errs := v.Validate(ctx, vc, element.Payload{"signaturename": "Registrar"})
	assert.Equal(t, "required", errs[element.InputSignatureDraft])

	bad := files.NewDraft()
	_, err := files.PutDraft(ctx, bad, "junk.p12", []byte("not a certificate"), "")
	require.NoError(t, err)
	errs = v.Validate(ctx, vc, element.Payload{element.InputSignatureDraft: bad})
	assert.NotEmpty(t, errs)

	certPEM := selfSignedPEM(t)
	draft := files.NewDraft()
	_, err = files.PutDraft(ctx, draft, "signer.crt", certPEM, "")
	require.NoError(t, err)
	image := files.NewDraft()
	_, err = files.PutDraft(ctx, image, "sig.png", pngBytes, "")
	require.NoError(t, err)

	data := element.Payload{
		"signaturename":            "Registrar",
		"signaturereason":          "Certified",
		"width":                    30.0,
		"height":                   15.0,
		element.InputImageDraft:     image,
		element.InputSignatureDraft: draft,
	}
	require.Empty(t, v.Validate(ctx, vc, data))

	el := &models.Element{ID: 9, Type: element.TypeDigitalSignature}
	var saved element.Payload
	err = gdb.Transaction(func(tx *gorm.DB) error {
		var err error
		saved, err = v.Save(ctx, &element.SaveContext{Tx: tx, Element: el, Template: &models.Template{ID: 1}, Files: files}, data)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, models.FileAreaElement, saved["filearea"])
	assert.Equal(t, models.FileAreaElementAux, saved["signaturefilearea"])
	assert.Equal(t, "signer.crt", saved["signaturefilename"])

	// stored reference satisfies validation on later saves
	assert.Empty(t, v.Validate(ctx, vc, element.Merge(saved, element.FormData{"signaturename": "Dean"})))

	rc := issueRender(elementWith(t, 9, element.TypeDigitalSignature, saved), sampleIssue())
	rc.Files = files
	s := &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, rc))
	require.Len(t, s.calls, 2)
	assert.Equal(t, "image", s.calls[0].Op)
	assert.Equal(t, "signature", s.calls[1].Op)
	assert.Equal(t, "Registrar", s.calls[1].Sig.Name)
	assert.Equal(t, "Certified", s.calls[1].Sig.Reason)
	assert.Equal(t, certPEM, s.calls[1].Sig.Certificate)
}

func TestSignerCertificatePEM(t *testing.T) {
	certPEM := selfSignedPEM(t)
	keyBlock := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: []byte{1, 2, 3}})

	got, err := element.SignerCertificatePEM(append(keyBlock, certPEM...), "")
	require.NoError(t, err)
	assert.Equal(t, certPEM, got)

	_, err = element.SignerCertificatePEM(keyBlock, "")
	assert.ErrorIs(t, err, element.ErrNoCertificate)

	_, err = element.SignerCertificatePEM([]byte("garbage"), "secret")
	assert.Error(t, err)
}

func TestUserPictureVariant(t *testing.T) {
	ctx := context.Background()
	files, _ := newFiles(t)
	v := element.NewUserPictureVariant()
	el := elementWith(t, 1, element.TypeUserPicture, element.Payload{"width": 25.0, "height": 25.0})

	rc := issueRender(el, sampleIssue())
	rc.Files = files
	s := &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, rc))
	assert.Empty(t, s.calls, "no picture and not a preview")

	rc.Preview = true
	require.NoError(t, v.Render(ctx, s, rc))
	require.Len(t, s.calls, 1)
	assert.Equal(t, "userpicture-placeholder", s.calls[0].Name)

	_, err := files.Put(ctx, nil, models.FileRef{Area: models.FileAreaUserPicture, ItemID: 42, Filename: "f1.png"}, pngBytes, "")
	require.NoError(t, err)
	rc.Preview = false
	s = &recordingSurface{}
	require.NoError(t, v.Render(ctx, s, rc))
	require.Len(t, s.calls, 1)
	assert.Equal(t, "file-"+models.HashContent(pngBytes), s.calls[0].Name)
}

func TestLinks(t *testing.T) {
	l := element.Links{BaseURL: "https://certs.example.com/api/v1/"}
	assert.Equal(t, "https://certs.example.com/api/v1/verify?code=AB+C", l.VerifyURL("AB C"))
	assert.Equal(t, "https://certs.example.com/api/v1/issues/ABC/pdf", l.IssuePDFURL("ABC"))
	assert.Equal(t, "https://certs.example.com/api/v1/files/0/image/0/logos/a%20b.png",
		l.FileURL(models.FileRef{Area: "image", FilePath: "/logos/", Filename: "a b.png"}))
}

func TestRedact(t *testing.T) {
	el := models.Element{
		ID:   4,
		Type: element.TypeDigitalSignature,
		Data: datatypes.JSON(`{"signaturename":"Registrar","signaturepassword":"s3cret","width":40}`),
	}

	out := element.Redact(el)
	assert.NotContains(t, string(out.Data), "s3cret")
	data, err := element.DecodeStored(out.Data)
	require.NoError(t, err)
	assert.Equal(t, "Registrar", data.String("signaturename"))
	assert.False(t, data.Has(element.InputSignaturePassword))
	assert.Contains(t, string(el.Data), "s3cret", "input element is left untouched")

	plain := models.Element{Type: element.TypeText, Data: datatypes.JSON(`{"text":"Hello"}`)}
	assert.Equal(t, plain.Data, element.Redact(plain).Data)

	broken := models.Element{Data: datatypes.JSON(`{"signaturepassword":`)}
	assert.Nil(t, element.Redact(broken).Data)

	tpl := &models.Template{ID: 1, Pages: []models.Page{{ID: 2, Elements: []models.Element{el, plain}}}}
	redacted := element.RedactTemplate(tpl)
	raw, err := json.Marshal(redacted)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cret")
	assert.Contains(t, string(raw), "Hello")
	assert.Contains(t, string(tpl.Pages[0].Elements[0].Data), "s3cret")
	assert.Nil(t, element.RedactTemplate(nil))
}
