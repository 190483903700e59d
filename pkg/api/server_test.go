package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/api"
	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/directory"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/filestore"
	"github.com/yourorg/certificate-service/pkg/pdf"
	"github.com/yourorg/certificate-service/pkg/template"
	"github.com/yourorg/certificate-service/pkg/tenant"
	"github.com/yourorg/certificate-service/pkg/testutil"
)

const baseURL = "https://certs.example.com/api/v1"

type testServer struct {
	router *gin.Engine
	db     *gorm.DB
	jwt    *auth.JWTManager
	sink   *audit.RecordingSink
}

func newTestServer(t *testing.T, mutate ...func(*api.ServerConfig)) *testServer {
	gin.SetMode(gin.TestMode)

	gdb := testutil.NewDB(t)
	logger := zap.NewNop()
	events, sink := audit.NewRecordingLogger()
	files := filestore.NewStore(gdb, logger)
	dir := directory.NewDB(gdb)
	registry := element.DefaultRegistry()
	policy := auth.NewCapabilityPolicy()
	links := element.Links{BaseURL: baseURL}
	jwt := auth.NewJWTManager("test-secret-0123456789abcdef0123", "test", time.Hour)

	tplCfg := template.DefaultConfig()
	tplCfg.Links = links
	templates := template.NewManager(gdb, logger, template.Dependencies{
		Files:    files,
		Registry: registry,
		Policy:   policy,
		Tenants:  tenant.StaticResolver{},
		Events:   events,
	}, tplCfg)

	certCfg := certificate.DefaultConfig()
	certCfg.Links = links
	certs := certificate.NewService(gdb, logger, certificate.Dependencies{
		Users:   dir,
		Groups:  dir,
		Policy:  policy,
		Tenants: tenant.StaticResolver{},
		Events:  events,
	}, certCfg)

	cfg := api.DefaultServerConfig()
	cfg.Debug = true
	for _, fn := range mutate {
		fn(cfg)
	}

	srv := api.NewServer(cfg, &api.Dependencies{
		DB:            gdb,
		Logger:        logger,
		JWTManager:    jwt,
		Policy:        policy,
		Tenants:       tenant.StaticResolver{},
		TenantManager: tenant.NewManager(gdb, logger),
		Templates:     templates,
		Certificates:  certs,
		Generator:     pdf.NewGenerator(registry, files, links, logger),
		Files:         files,
		Users:         dir,
		AuditSearch:   events,
	})

	return &testServer{router: srv.Router(), db: gdb, jwt: jwt, sink: sink}
}

var (
	manager5  = &auth.Principal{UserID: 10, TenantID: 5, FullName: "Manager", Capabilities: []string{auth.CapManage, auth.CapIssue}}
	issuer5   = &auth.Principal{UserID: 11, TenantID: 5, Capabilities: []string{auth.CapIssue}}
	recipient = &auth.Principal{UserID: 1, TenantID: 5}
	outsider  = &auth.Principal{UserID: 99, TenantID: 6}
	admin     = &auth.Principal{UserID: 12, Capabilities: []string{auth.CapManageForAllTenants}}
)

func (s *testServer) token(t *testing.T, p *auth.Principal) string {
	tok, err := s.jwt.GenerateToken(p, 0)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(t *testing.T, p *auth.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p != nil {
		req.Header.Set("Authorization", "Bearer "+s.token(t, p))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, p *auth.Principal, method, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(t, p))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(api.RequestIDHeader))

	w = s.do(t, nil, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, nil, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "certificate_http_requests_total")
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, nil, http.MethodGet, "/api/v1/templates", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, issuer5, http.MethodGet, "/api/v1/tenants", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCertificateLifecycle(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.db.Create(&models.User{ID: 1, TenantID: 5, FirstName: "Ada", LastName: "Lovelace"}).Error)

	w := s.do(t, issuer5, http.MethodPost, "/api/v1/templates", gin.H{"name": "Nope"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, manager5, http.MethodPost, "/api/v1/templates", gin.H{"name": "Completion"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tpl models.Template
	decode(t, w, &tpl)
	assert.EqualValues(t, 5, tpl.TenantID)

	w = s.do(t, manager5, http.MethodPost, fmt.Sprintf("/api/v1/templates/%d/pages", tpl.ID), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var page models.Page
	decode(t, w, &page)
	assert.Equal(t, 297.0, page.Width)

	// Missing text is a field error
	w = s.do(t, manager5, http.MethodPost, fmt.Sprintf("/api/v1/pages/%d/elements", page.ID), gin.H{"type": "text"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var verr struct {
		Fields map[string]string `json:"fields"`
	}
	decode(t, w, &verr)
	assert.Contains(t, verr.Fields, "text")

	w = s.do(t, manager5, http.MethodPost, fmt.Sprintf("/api/v1/pages/%d/elements", page.ID), gin.H{
		"type":  "text",
		"pos_x": 20,
		"pos_y": 30,
		"data":  gin.H{"text": "Awarded to {{ user.fullname }}"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var el models.Element
	decode(t, w, &el)

	w = s.do(t, manager5, http.MethodPut, fmt.Sprintf("/api/v1/elements/%d", el.ID), gin.H{"pos_x": 55})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &el)
	assert.Equal(t, 55.0, el.PosX)
	assert.Equal(t, 30.0, el.PosY)

	w = s.do(t, manager5, http.MethodGet, fmt.Sprintf("/api/v1/elements/%d/html", el.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Awarded to")

	w = s.do(t, manager5, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d/preview", tpl.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = s.do(t, manager5, http.MethodPost, fmt.Sprintf("/api/v1/templates/%d/issuable", tpl.ID), gin.H{"user_ids": []uint64{1}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"user_ids":[1]}`, w.Body.String())

	w = s.do(t, issuer5, http.MethodPost, fmt.Sprintf("/api/v1/templates/%d/issues", tpl.ID), gin.H{"user_ids": []uint64{1}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issued struct {
		Issues []models.Issue `json:"issues"`
	}
	decode(t, w, &issued)
	require.Len(t, issued.Issues, 1)
	issue := issued.Issues[0]

	// Public verification needs no token
	w = s.do(t, nil, http.MethodGet, "/api/v1/verify?code="+issue.Code, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var result certificate.VerificationResult
	decode(t, w, &result)
	assert.True(t, result.Success)
	assert.Equal(t, "Ada Lovelace", result.UserFullName)

	w = s.do(t, nil, http.MethodGet, "/api/v1/verify?code=UNKNOWN000", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &result)
	assert.False(t, result.Success)

	w = s.do(t, recipient, http.MethodGet, "/api/v1/issues/"+issue.Code+"/pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), issue.Code+".pdf")

	w = s.do(t, outsider, http.MethodGet, "/api/v1/issues/"+issue.Code+"/pdf", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, manager5, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d/issues?sort=code", tpl.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Issues []models.Issue `json:"issues"`
		Total  int64          `json:"total"`
	}
	decode(t, w, &listed)
	assert.EqualValues(t, 1, listed.Total)

	w = s.do(t, manager5, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d/issues?sort=data", tpl.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, recipient, http.MethodGet, "/api/v1/issues?user_id=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &listed)
	assert.EqualValues(t, 1, listed.Total)

	w = s.do(t, issuer5, http.MethodDelete, fmt.Sprintf("/api/v1/issues/%d", issue.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, issuer5, http.MethodDelete, fmt.Sprintf("/api/v1/issues/%d", issue.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Len(t, s.sink.Named(audit.EventCertificateIssued), 1)
	assert.Len(t, s.sink.Named(audit.EventCertificateVerified), 1)
	assert.Len(t, s.sink.Named(audit.EventCertificateRevoked), 1)

	w = s.do(t, manager5, http.MethodDelete, fmt.Sprintf("/api/v1/templates/%d", tpl.ID), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = s.do(t, manager5, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d", tpl.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestElementResponsesHideSignaturePassword(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, manager5, http.MethodPost, "/api/v1/templates", gin.H{"name": "Signed"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var tpl models.Template
	decode(t, w, &tpl)

	w = s.do(t, manager5, http.MethodPost, fmt.Sprintf("/api/v1/templates/%d/pages", tpl.ID), nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var page models.Page
	decode(t, w, &page)

	w = s.do(t, manager5, http.MethodPost, fmt.Sprintf("/api/v1/pages/%d/elements", page.ID), gin.H{
		"type": "text",
		"data": gin.H{"text": "Registrar"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var el models.Element
	decode(t, w, &el)

	require.NoError(t, s.db.Model(&models.Element{}).Where("id = ?", el.ID).
		Update("data", datatypes.JSON(`{"text":"Registrar","signaturepassword":"s3cret"}`)).Error)

	w = s.do(t, manager5, http.MethodGet, fmt.Sprintf("/api/v1/templates/%d", tpl.ID), nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Registrar")
	assert.NotContains(t, w.Body.String(), "s3cret")

	w = s.do(t, manager5, http.MethodPut, fmt.Sprintf("/api/v1/elements/%d", el.ID), gin.H{"pos_x": 12})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "s3cret")

	var stored models.Element
	require.NoError(t, s.db.First(&stored, el.ID).Error)
	assert.Contains(t, string(stored.Data), "s3cret")
}

func TestRequestIDReachesAuditEvents(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/templates", bytes.NewBufferString(`{"name":"Traced"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(t, manager5))
	req.Header.Set(api.RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	assert.Equal(t, "req-123", w.Header().Get(api.RequestIDHeader))
	events := s.sink.Named(audit.EventTemplateCreated)
	require.Len(t, events, 1)
	assert.Equal(t, "req-123", events[0].RequestID)
}

func TestPrivateVerification(t *testing.T) {
	s := newTestServer(t, func(c *api.ServerConfig) { c.PublicVerification = false })

	w := s.do(t, nil, http.MethodGet, "/api/v1/verify?code=ABC", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(t, recipient, http.MethodGet, "/api/v1/verify", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFiles(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, manager5, http.MethodPost, "/api/v1/drafts", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var draft struct {
		DraftKey string `json:"draft_key"`
	}
	decode(t, w, &draft)
	require.NotEmpty(t, draft.DraftKey)

	w = s.upload(t, manager5, http.MethodPost, "/api/v1/drafts/"+draft.DraftKey+"/files", "logo.png", element.PlaceholderPicture())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var staged models.StoredFile
	decode(t, w, &staged)
	assert.Equal(t, "image/png", staged.MimeType)

	w = s.upload(t, issuer5, http.MethodPost, "/api/v1/drafts/"+draft.DraftKey+"/files", "logo.png", []byte("x"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.upload(t, manager5, http.MethodPut, "/api/v1/files/0/image/0/logos/seal.png", "ignored.png", []byte("tenant 5 logo"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.upload(t, admin, http.MethodPut, "/api/v1/files/0/image/0/logos/seal.png", "ignored.png", element.PlaceholderPicture())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, issuer5, http.MethodGet, "/api/v1/files/0/image/0/logos/seal.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, element.PlaceholderPicture(), w.Body.Bytes())

	w = s.do(t, recipient, http.MethodGet, "/api/v1/files/0/image/0/logos/seal.png", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.upload(t, manager5, http.MethodPut, "/api/v1/files/0/element/0/x.png", "x.png", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// the image area stays readable to verifiers of any tenant, but never writable by them
	verifier6 := &auth.Principal{UserID: 60, TenantID: 6, Capabilities: []string{auth.CapVerifyAll}}
	manager6 := &auth.Principal{UserID: 61, TenantID: 6, Capabilities: []string{auth.CapManage}}

	w = s.do(t, verifier6, http.MethodGet, "/api/v1/files/0/image/0/logos/seal.png", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.upload(t, manager6, http.MethodPut, "/api/v1/files/0/image/0/logos/seal.png", "seal.png", []byte("evil"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, issuer5, http.MethodGet, "/api/v1/files/0/image/0/logos/seal.png", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, element.PlaceholderPicture(), w.Body.Bytes())

	// signer bundles are only served to site-wide managers
	bundle := []byte("PKCS12-BUNDLE")
	w = s.upload(t, admin, http.MethodPut, "/api/v1/files/0/signature/0/signer.p12", "signer.p12", bundle)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.upload(t, manager6, http.MethodPut, "/api/v1/files/0/signature/0/signer.p12", "signer.p12", []byte("evil"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	for _, p := range []*auth.Principal{verifier6, manager6, manager5, issuer5} {
		w = s.do(t, p, http.MethodGet, "/api/v1/files/0/signature/0/signer.p12", nil)
		assert.Equal(t, http.StatusForbidden, w.Code, "user %d", p.UserID)
		assert.NotContains(t, w.Body.String(), "PKCS12")
	}

	w = s.do(t, admin, http.MethodGet, "/api/v1/files/0/signature/0/signer.p12", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, bundle, w.Body.Bytes())

	w = s.do(t, issuer5, http.MethodGet, "/api/v1/files/0/unknown/0/x.png", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTenants(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, admin, http.MethodPost, "/api/v1/tenants", gin.H{"name": "acme"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Tenant
	decode(t, w, &created)

	w = s.do(t, admin, http.MethodGet, "/api/v1/tenants", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "acme")

	w = s.do(t, admin, http.MethodPost, fmt.Sprintf("/api/v1/tenants/%d/api-keys", created.ID), gin.H{"name": "lms", "capabilities": []string{"issue"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.do(t, admin, http.MethodPost, fmt.Sprintf("/api/v1/tenants/%d/suspend", created.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, admin, http.MethodGet, "/api/v1/tenants/4242", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestElementTypesAndStats(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, manager5, http.MethodGet, "/api/v1/element-types", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"digitalsignature"`)

	w = s.do(t, manager5, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"templates":0,"issues":0,"active_issues":0}`, w.Body.String())

	w = s.do(t, recipient, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, manager5, http.MethodGet, "/api/v1/audit/events", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
