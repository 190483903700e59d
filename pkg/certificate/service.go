// Package certificate implements issuing, revoking, verifying and listing
// certificates granted from templates.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/audit"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/directory"
	"github.com/yourorg/certificate-service/pkg/element"
	"github.com/yourorg/certificate-service/pkg/metrics"
	"github.com/yourorg/certificate-service/pkg/tenant"
)

// Config holds the issuing and verification switches
type Config struct {
	CodeLength      int
	MaxCodeAttempts int
	// ScopedVerification requires the verifier to be able to verify the template's tenant
	ScopedVerification bool
	// VerifyExpiredFails reports expired issues as invalid
	VerifyExpiredFails bool
	Links              element.Links
}

// DefaultConfig returns the default issuing configuration
func DefaultConfig() Config {
	return Config{
		CodeLength:      models.DefaultCodeLength,
		MaxCodeAttempts: 5,
	}
}

// Dependencies are the collaborators of the service
type Dependencies struct {
	Users   directory.UserDirectory
	Groups  directory.GroupResolver
	Policy  auth.Policy
	Tenants tenant.Resolver
	Events  audit.Publisher
}

// Service manages issued certificates
type Service struct {
	db      *gorm.DB
	logger  *zap.Logger
	users   directory.UserDirectory
	groups  directory.GroupResolver
	policy  auth.Policy
	tenants tenant.Resolver
	events  audit.Publisher
	config  Config
	now     func() time.Time
	codes   func(length int) (string, error)
}

// NewService creates a new certificate service
func NewService(gdb *gorm.DB, logger *zap.Logger, deps Dependencies, config Config) *Service {
	if config.MaxCodeAttempts <= 0 {
		config.MaxCodeAttempts = 1
	}
	return &Service{
		db:      gdb,
		logger:  logger,
		users:   deps.Users,
		groups:  deps.Groups,
		policy:  deps.Policy,
		tenants: deps.Tenants,
		events:  deps.Events,
		config:  config,
		now:     time.Now,
		codes:   models.GenerateCode,
	}
}

// IssueRequest represents a request to issue one certificate
type IssueRequest struct {
	TemplateID uint64                 `json:"template_id"`
	UserID     uint64                 `json:"user_id" binding:"required"`
	ExpiresAt  *time.Time             `json:"expires_at"`
	Data       map[string]interface{} `json:"data"`
	Component  string                 `json:"component"`
	CourseID   *uint64                `json:"course_id"`
	GroupID    *uint64                `json:"group_id"`
}

// IssueCertificate grants a certificate to a user. Capability checks are the
// caller's; repeated issuance is allowed.
func (s *Service) IssueCertificate(ctx context.Context, req *IssueRequest) (*models.Issue, error) {
	tpl, err := s.template(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	data := make(map[string]interface{}, len(req.Data)+2)
	for k, v := range req.Data {
		data[k] = v
	}
	data[models.IssueDataUserFullName] = user.FullName()
	data[models.IssueDataTemplateName] = tpl.Name

	component := req.Component
	if component == "" {
		component = models.DefaultComponent
	}

	var issue *models.Issue
	for attempt := 1; ; attempt++ {
		code, err := s.codes(s.config.CodeLength)
		if err != nil {
			return nil, err
		}
		issue = &models.Issue{
			TemplateID: tpl.ID,
			UserID:     user.ID,
			Component:  component,
			CourseID:   req.CourseID,
			GroupID:    req.GroupID,
			Code:       code,
			ExpiresAt:  req.ExpiresAt,
			Data:       data,
		}

		err = s.db.WithContext(ctx).Create(issue).Error
		if err == nil {
			break
		}
		if !db.IsDuplicateKey(err) {
			return nil, fmt.Errorf("failed to create issue: %w", err)
		}
		metrics.RecordCodeCollision()
		s.logger.Warn("verification code collision", zap.Int("attempt", attempt))
		if attempt >= s.config.MaxCodeAttempts {
			return nil, fmt.Errorf("no unique code after %d attempts: %w", attempt, apperr.ErrConflict)
		}
	}

	metrics.RecordIssued()
	s.logger.Info("certificate issued",
		zap.Uint64("issue_id", issue.ID),
		zap.Uint64("template_id", tpl.ID),
		zap.Uint64("user_id", user.ID))

	s.emit(ctx, audit.NewEvent(audit.EventCertificateIssued, audit.EventTypeCertificate, audit.ActionIssue).
		WithActor(auth.PrincipalFromContext(ctx)).
		WithTenant(tpl.TenantID).
		WithContext(tpl.ContextID).
		WithResource("issue", issue.ID).
		WithRelatedUser(user.ID).
		WithCode(issue.Code, s.config.Links.IssuePDFURL(issue.Code)).
		WithMetadata(map[string]interface{}{"template_id": tpl.ID}))

	return issue, nil
}

// IssueToUsers issues a certificate to each user after checking that the
// principal may issue from the template to them
func (s *Service) IssueToUsers(ctx context.Context, p *auth.Principal, templateID uint64, userIDs []uint64, expiresAt *time.Time) ([]*models.Issue, error) {
	tpl, err := s.template(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanIssue(p, tpl) {
		return nil, apperr.Forbidden("issue certificates")
	}

	userIDs = dedupe(userIDs)
	users, err := s.users.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	home, err := s.issuingTenant(ctx, p, tpl)
	if err != nil {
		return nil, err
	}
	for _, id := range userIDs {
		u, ok := users[id]
		if !ok {
			return nil, apperr.NotFound(fmt.Sprintf("user %d", id))
		}
		if u.TenantID != home && !s.policy.CanIssueToAnybody(p) {
			return nil, apperr.Forbidden(fmt.Sprintf("issue to user %d outside the tenant", id))
		}
	}

	ctx = auth.WithPrincipal(ctx, p)
	issues := make([]*models.Issue, 0, len(userIDs))
	for _, id := range userIDs {
		issue, err := s.IssueCertificate(ctx, &IssueRequest{TemplateID: tpl.ID, UserID: id, ExpiresAt: expiresAt})
		if err != nil {
			return issues, err
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// issuingTenant is the tenant whose users may receive the template's
// certificates without the issue-to-anybody capability
func (s *Service) issuingTenant(ctx context.Context, p *auth.Principal, tpl *models.Template) (uint64, error) {
	if !tpl.IsShared() {
		return tpl.TenantID, nil
	}
	t, err := s.tenants.CurrentTenant(ctx, p)
	if err != nil {
		return 0, apperr.Forbidden(err.Error())
	}
	return t, nil
}

// RevokeIssue deletes one issue
func (s *Service) RevokeIssue(ctx context.Context, p *auth.Principal, issueID uint64) error {
	issue, err := s.GetIssue(ctx, issueID)
	if err != nil {
		return err
	}
	tpl, err := s.templateOrNil(ctx, issue.TemplateID)
	if err != nil {
		return err
	}

	switch {
	case tpl == nil:
		if !p.Has(auth.CapManageForAllTenants) {
			return apperr.Forbidden("revoke certificate")
		}
	case !s.inIssueScope(p, tpl):
		return apperr.NotFound("issue")
	case !s.policy.CanIssue(p, tpl):
		return apperr.Forbidden("revoke certificate")
	}

	result := s.db.WithContext(ctx).Delete(&models.Issue{}, issue.ID)
	if result.Error != nil {
		return fmt.Errorf("failed to delete issue: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("issue")
	}

	metrics.RecordRevoked()
	s.logger.Info("certificate revoked",
		zap.Uint64("issue_id", issue.ID),
		zap.Uint64("template_id", issue.TemplateID),
		zap.Uint64("user_id", issue.UserID))

	b := audit.NewEvent(audit.EventCertificateRevoked, audit.EventTypeCertificate, audit.ActionRevoke).
		WithActor(p).
		WithResource("issue", issue.ID).
		WithRelatedUser(issue.UserID).
		WithCode(issue.Code, "")
	if tpl != nil {
		b.WithTenant(tpl.TenantID).WithContext(tpl.ContextID)
	}
	s.emit(ctx, b)
	return nil
}

func (s *Service) inIssueScope(p *auth.Principal, tpl *models.Template) bool {
	if p.HasAny(auth.CapIssueForAllTenants, auth.CapManageForAllTenants) {
		return true
	}
	return p != nil && (tpl.IsShared() || tpl.TenantID == p.TenantID)
}

// VerificationResult reports the validity of a code
type VerificationResult struct {
	Success      bool             `json:"success"`
	Code         string           `json:"code"`
	Expired      bool             `json:"expired"`
	ExpiresAt    *time.Time       `json:"expires_at,omitempty"`
	IssuedAt     *time.Time       `json:"issued_at,omitempty"`
	UserFullName string           `json:"user_fullname,omitempty"`
	TemplateName string           `json:"template_name,omitempty"`
	Issue        *models.Issue    `json:"-"`
	Template     *models.Template `json:"-"`
}

// Verify looks up a code. Unknown codes fail silently; a known code is
// always recorded as one verification event.
func (s *Service) Verify(ctx context.Context, p *auth.Principal, code string) (*VerificationResult, error) {
	result := &VerificationResult{Code: code}

	issue, err := s.GetIssueByCode(ctx, code)
	if err != nil {
		if apperr.IsNotFound(err) {
			metrics.RecordVerification(metrics.VerificationUnknown)
			return result, nil
		}
		return nil, err
	}
	tpl, err := s.templateOrNil(ctx, issue.TemplateID)
	if err != nil {
		return nil, err
	}

	result.Success = true
	result.Issue = issue
	result.Template = tpl
	result.Expired = issue.IsExpired(s.now())
	result.ExpiresAt = issue.ExpiresAt
	result.IssuedAt = &issue.CreatedAt
	result.UserFullName = issue.UserFullName()
	result.TemplateName = issue.TemplateName()

	if s.config.VerifyExpiredFails && result.Expired {
		result.Success = false
	}
	if s.config.ScopedVerification && !s.policy.CanVerify(p, tpl) {
		result.Success = false
	}

	outcome := audit.OutcomeSuccess
	if result.Success {
		metrics.RecordVerification(metrics.VerificationValid)
	} else {
		outcome = audit.OutcomeFailure
		metrics.RecordVerification(metrics.VerificationInvalid)
	}

	b := audit.NewEvent(audit.EventCertificateVerified, audit.EventTypeCertificate, audit.ActionVerify).
		WithActor(p).
		WithResource("issue", issue.ID).
		WithRelatedUser(issue.UserID).
		WithCode(issue.Code, s.config.Links.VerifyURL(issue.Code)).
		WithOutcome(outcome)
	if tpl != nil {
		b.WithTenant(tpl.TenantID).WithContext(tpl.ContextID)
	}
	s.emit(ctx, b)

	return result, nil
}

// GetIssue retrieves an issue by ID
func (s *Service) GetIssue(ctx context.Context, issueID uint64) (*models.Issue, error) {
	var issue models.Issue
	if err := s.db.WithContext(ctx).First(&issue, "id = ?", issueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("issue")
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return &issue, nil
}

// GetIssueByCode retrieves an issue by its verification code
func (s *Service) GetIssueByCode(ctx context.Context, code string) (*models.Issue, error) {
	if code == "" {
		return nil, apperr.NotFound("issue")
	}
	var issue models.Issue
	if err := s.db.WithContext(ctx).Where("code = ?", code).First(&issue).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("issue")
		}
		return nil, fmt.Errorf("failed to get issue: %w", err)
	}
	return &issue, nil
}

// FilterIssuable keeps the users the principal may issue the template to who
// hold no current certificate from it. Users whose issues all expired stay.
func (s *Service) FilterIssuable(ctx context.Context, p *auth.Principal, templateID uint64, userIDs []uint64) ([]uint64, error) {
	tpl, err := s.template(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanIssue(p, tpl) {
		return nil, apperr.Forbidden("issue certificates")
	}
	userIDs = dedupe(userIDs)
	if len(userIDs) == 0 {
		return []uint64{}, nil
	}

	users, err := s.users.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	anyTenant := tpl.IsShared() && p.HasAny(auth.CapIssueForAllTenants, auth.CapManageForAllTenants)
	home, err := s.issuingTenant(ctx, p, tpl)
	if err != nil {
		return nil, err
	}

	var issues []models.Issue
	if err := s.db.WithContext(ctx).
		Select("user_id", "expires_at").
		Where("template_id = ? AND user_id IN ?", templateID, userIDs).
		Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	now := s.now()
	current := make(map[uint64]bool)
	for i := range issues {
		if !issues[i].IsExpired(now) {
			current[issues[i].UserID] = true
		}
	}

	issuable := make([]uint64, 0, len(userIDs))
	for _, id := range userIDs {
		u, ok := users[id]
		if !ok || current[id] {
			continue
		}
		if !anyTenant && u.TenantID != home {
			continue
		}
		issuable = append(issuable, id)
	}
	return issuable, nil
}

// Stats summarises what the service holds
type Stats struct {
	Templates    int64 `json:"templates"`
	Issues       int64 `json:"issues"`
	ActiveIssues int64 `json:"active_issues"`
}

// Stats returns registration statistics and refreshes the gauges
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	conn := s.db.WithContext(ctx)
	if err := conn.Model(&models.Template{}).Count(&st.Templates).Error; err != nil {
		return nil, fmt.Errorf("failed to count templates: %w", err)
	}
	if err := conn.Model(&models.Issue{}).Count(&st.Issues).Error; err != nil {
		return nil, fmt.Errorf("failed to count issues: %w", err)
	}
	if err := conn.Model(&models.Issue{}).
		Where("expires_at IS NULL OR expires_at >= ?", s.now()).
		Count(&st.ActiveIssues).Error; err != nil {
		return nil, fmt.Errorf("failed to count issues: %w", err)
	}

	metrics.UpdateRegistrationStats(st.Templates, st.Issues)
	return &st, nil
}

func (s *Service) template(ctx context.Context, templateID uint64) (*models.Template, error) {
	tpl, err := s.templateOrNil(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperr.NotFound("template")
	}
	return tpl, nil
}

func (s *Service) templateOrNil(ctx context.Context, templateID uint64) (*models.Template, error) {
	var tpl models.Template
	if err := s.db.WithContext(ctx).First(&tpl, "id = ?", templateID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}
	return &tpl, nil
}

func (s *Service) emit(ctx context.Context, b *audit.EventBuilder) {
	if err := b.Publish(ctx, s.events); err != nil {
		s.logger.Warn("failed to publish certificate event",
			zap.String("event", b.Event().Name),
			zap.Error(err))
	}
}

func dedupe(ids []uint64) []uint64 {
	seen := make(map[uint64]bool, len(ids))
	out := make([]uint64, 0, len(ids))
	for _, id := range ids {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
