package api

import (
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
)

// NewDraft opens a draft area for element uploads
func (h *Handlers) NewDraft(c *gin.Context) {
	if !canEditTemplates(auth.GetPrincipal(c)) {
		h.respondError(c, apperr.Forbidden("upload files"))
		return
	}
	c.JSON(http.StatusCreated, gin.H{"draft_key": h.files.NewDraft()})
}

// UploadDraftFile stages the multipart "file" field under a draft key
func (h *Handlers) UploadDraftFile(c *gin.Context) {
	if !canEditTemplates(auth.GetPrincipal(c)) {
		h.respondError(c, apperr.Forbidden("upload files"))
		return
	}

	filename, content, ok := h.readUpload(c)
	if !ok {
		return
	}

	file, err := h.files.PutDraft(c.Request.Context(), c.Param("draft_key"), filename, content, "")
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, file)
}

// PutSharedFile stores a file in the shared image or signature area
func (h *Handlers) PutSharedFile(c *gin.Context) {
	ref, ok := fileRef(c)
	if !ok {
		return
	}
	if ref.Area != models.FileAreaImage && ref.Area != models.FileAreaSignature {
		h.respondError(c, apperr.Invalid("area", "only image and signature files can be uploaded directly"))
		return
	}
	// shared areas are referenced by every tenant's templates
	if !auth.GetPrincipal(c).Has(auth.CapManageForAllTenants) {
		h.respondError(c, apperr.Forbidden("upload shared files"))
		return
	}

	name, content, ok := h.readUpload(c)
	if !ok {
		return
	}
	if ref.Filename == "" {
		ref.Filename = name
	}

	file, err := h.files.Put(c.Request.Context(), nil, ref, content, "")
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, file)
}

// ServeFile streams a stored file after checking its area's access rule
func (h *Handlers) ServeFile(c *gin.Context) {
	ref, ok := fileRef(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	p := auth.GetPrincipal(c)

	if err := h.canReadFile(c, p, ref); err != nil {
		h.respondError(c, err)
		return
	}

	file, err := h.files.Get(ctx, ref)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, file.Filename))
	c.Data(http.StatusOK, file.MimeType, file.Content)
}

func (h *Handlers) canReadFile(c *gin.Context, p *auth.Principal, ref models.FileRef) error {
	switch ref.Area {
	case models.FileAreaImage:
		if !h.policy.CanVerifyLoose(p) {
			return apperr.Forbidden("read file")
		}
	case models.FileAreaSignature:
		// signer bundles may carry private keys
		if !p.Has(auth.CapManageForAllTenants) {
			return apperr.Forbidden("read file")
		}
	case models.FileAreaElement, models.FileAreaElementAux:
		tpl, err := h.templates.FindByElementID(c.Request.Context(), ref.ItemID)
		if err != nil {
			return err
		}
		if !h.policy.CanManage(p, tpl.TenantID) {
			return apperr.Forbidden("read file")
		}
	case models.FileAreaUserPicture:
		if ref.ItemID != p.UserID && !h.policy.CanVerifyLoose(p) {
			return apperr.Forbidden("read file")
		}
	default:
		return apperr.NotFound("file")
	}
	return nil
}

// fileRef decodes /files/:context_id/:area/:item_id/*path
func fileRef(c *gin.Context) (models.FileRef, bool) {
	contextID, ok := paramID(c, "context_id")
	if !ok {
		return models.FileRef{}, false
	}
	itemID, ok := paramID(c, "item_id")
	if !ok {
		return models.FileRef{}, false
	}

	dir, name := path.Split(strings.TrimPrefix(c.Param("path"), "/"))
	return models.FileRef{
		ContextID: contextID,
		Area:      c.Param("area"),
		ItemID:    itemID,
		FilePath:  "/" + dir,
		Filename:  name,
	}, true
}

// readUpload reads the multipart "file" field within the upload limit
func (h *Handlers) readUpload(c *gin.Context) (string, []byte, bool) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, err)
		return "", nil, false
	}

	f, err := header.Open()
	if err != nil {
		badRequest(c, err)
		return "", nil, false
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		badRequest(c, err)
		return "", nil, false
	}
	return path.Base(header.Filename), content, true
}

func canEditTemplates(p *auth.Principal) bool {
	return p.HasAny(auth.CapManage, auth.CapManageForAllTenants)
}
