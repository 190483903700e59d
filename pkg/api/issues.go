package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/certificate"
	"github.com/yourorg/certificate-service/pkg/pdf"
)

type issueRequest struct {
	UserIDs   []uint64   `json:"user_ids" binding:"required,min=1"`
	ExpiresAt *time.Time `json:"expires_at"`
}

// IssueCertificates issues a template to a list of users
func (h *Handlers) IssueCertificates(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	issues, err := h.certificates.IssueToUsers(c.Request.Context(), auth.GetPrincipal(c), id, req.UserIDs, req.ExpiresAt)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"issues": issues})
}

type issuableRequest struct {
	UserIDs []uint64 `json:"user_ids" binding:"required"`
}

// FilterIssuable narrows candidate users to those who can receive the template
func (h *Handlers) FilterIssuable(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req issuableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ids, err := h.certificates.FilterIssuable(c.Request.Context(), auth.GetPrincipal(c), id, req.UserIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"user_ids": ids})
}

// ListTemplateIssues lists the issues of a template; id 0 lists every visible template
func (h *Handlers) ListTemplateIssues(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var opts certificate.ListOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	p := auth.GetPrincipal(c)

	total, err := h.certificates.CountIssuesForTemplate(ctx, p, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	issues, err := h.certificates.GetIssuesForTemplate(ctx, p, id, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}

	respondIssues(c, issues, total, opts)
}

// ListUserIssues lists the issues of ?user_id=, or of every user when absent
func (h *Handlers) ListUserIssues(c *gin.Context) {
	userID, ok := queryID(c, "user_id")
	if !ok {
		return
	}
	var opts certificate.ListOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	p := auth.GetPrincipal(c)

	total, err := h.certificates.CountIssuesForUser(ctx, p, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	issues, err := h.certificates.GetIssuesForUser(ctx, p, userID, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}

	respondIssues(c, issues, total, opts)
}

// ListCourseIssues lists the issues a course granted from one template
func (h *Handlers) ListCourseIssues(c *gin.Context) {
	courseID, ok := paramID(c, "course_id")
	if !ok {
		return
	}
	var q certificate.CourseQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.CourseID = courseID
	var opts certificate.ListOptions
	if err := c.ShouldBindQuery(&opts); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()

	tpl, err := h.templates.Get(ctx, q.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.policy.CanViewIssues(auth.GetPrincipal(c), tpl) {
		h.respondError(c, apperr.Forbidden("view certificates"))
		return
	}

	total, err := h.certificates.CountIssuesForCourse(ctx, q)
	if err != nil {
		h.respondError(c, err)
		return
	}
	issues, err := h.certificates.GetIssuesForCourse(ctx, q, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}

	respondIssues(c, issues, total, opts)
}

func respondIssues(c *gin.Context, issues interface{}, total int64, opts certificate.ListOptions) {
	c.JSON(http.StatusOK, gin.H{
		"issues": issues,
		"total":  total,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

// RevokeIssue deletes an issue
func (h *Handlers) RevokeIssue(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.certificates.RevokeIssue(c.Request.Context(), auth.GetPrincipal(c), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Verify reports whether ?code= belongs to a valid certificate
func (h *Handlers) Verify(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		h.respondError(c, apperr.Invalid("code", "required"))
		return
	}

	result, err := h.certificates.Verify(c.Request.Context(), auth.GetPrincipal(c), code)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// IssuePDF renders the certificate of an issue from its snapshot
func (h *Handlers) IssuePDF(c *gin.Context) {
	ctx := c.Request.Context()
	p := auth.GetPrincipal(c)

	issue, err := h.certificates.GetIssueByCode(ctx, c.Param("code"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	design, err := h.templates.LoadDesign(ctx, issue.TemplateID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !h.policy.CanViewIssue(p, issue, design) {
		h.respondError(c, apperr.Forbidden("view certificate"))
		return
	}

	opts := pdf.Options{Issue: issue}
	content, err := h.generator.Generate(ctx, design, opts)
	if err != nil {
		h.respondError(c, err)
		return
	}

	sendPDF(c, pdf.Filename(design, opts), content)
}

// Stats returns registration statistics
func (h *Handlers) Stats(c *gin.Context) {
	if !h.policy.CanVerifyLoose(auth.GetPrincipal(c)) {
		h.respondError(c, apperr.Forbidden("view statistics"))
		return
	}

	stats, err := h.certificates.Stats(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
