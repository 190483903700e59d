package certificate

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/yourorg/certificate-service/pkg/apperr"
	"github.com/yourorg/certificate-service/pkg/auth"
	"github.com/yourorg/certificate-service/pkg/db/models"
	"github.com/yourorg/certificate-service/pkg/tenant"
)

// DefaultSort orders issue listings newest first
const DefaultSort = "created_at DESC"

var sortColumns = map[string]bool{
	"created_at": true,
	"expires_at": true,
	"code":       true,
	"user_id":    true,
}

// GroupMode controls how course listings honour groups
type GroupMode int

const (
	NoGroups       GroupMode = 0
	SeparateGroups GroupMode = 1
	VisibleGroups  GroupMode = 2
)

// ListOptions paginates and orders an issue listing
type ListOptions struct {
	Offset int    `form:"offset" json:"offset"`
	Limit  int    `form:"limit" json:"limit"`
	Sort   string `form:"sort" json:"sort"`
}

// ParseSort checks a sort expression against the allowed columns and
// returns the ORDER BY clause to use
func ParseSort(sort string) (string, error) {
	sort = strings.TrimSpace(sort)
	if sort == "" {
		return DefaultSort, nil
	}

	fields := strings.Fields(sort)
	if len(fields) > 2 || !sortColumns[strings.ToLower(fields[0])] {
		return "", apperr.Invalid("sort", fmt.Sprintf("unsupported sort %q", sort))
	}
	dir := "ASC"
	if len(fields) == 2 {
		dir = strings.ToUpper(fields[1])
		if dir != "ASC" && dir != "DESC" {
			return "", apperr.Invalid("sort", fmt.Sprintf("unsupported direction %q", fields[1]))
		}
	}
	return strings.ToLower(fields[0]) + " " + dir, nil
}

func (o ListOptions) apply(query *gorm.DB) (*gorm.DB, error) {
	order, err := ParseSort(o.Sort)
	if err != nil {
		return nil, err
	}
	query = query.Order(order).Order("id DESC")
	if o.Limit > 0 {
		query = query.Limit(o.Limit)
	}
	if o.Offset > 0 {
		query = query.Offset(o.Offset)
	}
	return query, nil
}

// CountIssuesForTemplate counts the issues of a template; template 0 counts
// every template in the principal's scope
func (s *Service) CountIssuesForTemplate(ctx context.Context, p *auth.Principal, templateID uint64) (int64, error) {
	query, err := s.templateQuery(ctx, p, templateID)
	if err != nil {
		return 0, err
	}
	return count(query)
}

// GetIssuesForTemplate lists the issues of a template
func (s *Service) GetIssuesForTemplate(ctx context.Context, p *auth.Principal, templateID uint64, opts ListOptions) ([]models.Issue, error) {
	query, err := s.templateQuery(ctx, p, templateID)
	if err != nil {
		return nil, err
	}
	return find(query, opts)
}

func (s *Service) templateQuery(ctx context.Context, p *auth.Principal, templateID uint64) (*gorm.DB, error) {
	query := s.db.WithContext(ctx).Model(&models.Issue{})
	if templateID == 0 {
		if !s.policy.CanViewIssues(p, nil) {
			return nil, apperr.Forbidden("view certificates")
		}
		return s.scoped(ctx, p, query)
	}

	tpl, err := s.template(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !s.policy.CanViewIssues(p, tpl) {
		return nil, apperr.Forbidden("view certificates")
	}
	return query.Where("template_id = ?", templateID), nil
}

// CountIssuesForUser counts the issues of a user; user 0 counts every user.
// Principals may always count their own issues.
func (s *Service) CountIssuesForUser(ctx context.Context, p *auth.Principal, userID uint64) (int64, error) {
	query, err := s.userQuery(ctx, p, userID)
	if err != nil {
		return 0, err
	}
	return count(query)
}

// GetIssuesForUser lists the issues of a user
func (s *Service) GetIssuesForUser(ctx context.Context, p *auth.Principal, userID uint64, opts ListOptions) ([]models.Issue, error) {
	query, err := s.userQuery(ctx, p, userID)
	if err != nil {
		return nil, err
	}
	return find(query, opts)
}

func (s *Service) userQuery(ctx context.Context, p *auth.Principal, userID uint64) (*gorm.DB, error) {
	query := s.db.WithContext(ctx).Model(&models.Issue{})
	if userID != 0 {
		query = query.Where("user_id = ?", userID)
		if p != nil && p.UserID == userID {
			return query, nil
		}
	}
	if !s.policy.CanViewIssues(p, nil) {
		return nil, apperr.Forbidden("view certificates")
	}
	return s.scoped(ctx, p, query)
}

// scoped restricts issues to templates of the principal's tenant and the
// shared tenant
func (s *Service) scoped(ctx context.Context, p *auth.Principal, query *gorm.DB) (*gorm.DB, error) {
	if p.HasAny(auth.CapViewForAllTenants, auth.CapManageForAllTenants) {
		return query, nil
	}
	tenantID, err := s.tenants.CurrentTenant(ctx, p)
	if err != nil {
		return nil, apperr.Forbidden(err.Error())
	}
	visible := s.db.WithContext(ctx).Model(&models.Template{}).
		Select("id").
		Scopes(tenant.VisibleScope(tenantID))
	return query.Where("template_id IN (?)", visible), nil
}

// CourseQuery selects the issues granted from a template within a course
type CourseQuery struct {
	TemplateID uint64    `form:"template_id" json:"template_id"`
	CourseID   uint64    `form:"course_id" json:"course_id"`
	Component  string    `form:"component" json:"component"`
	GroupMode  GroupMode `form:"group_mode" json:"group_mode"`
	GroupID    uint64    `form:"group_id" json:"group_id"`
}

// CountIssuesForCourse counts the issues matching q. Capability checks are
// the caller's.
func (s *Service) CountIssuesForCourse(ctx context.Context, q CourseQuery) (int64, error) {
	query, err := s.courseQuery(ctx, q)
	if err != nil {
		return 0, err
	}
	return count(query)
}

// GetIssuesForCourse lists the issues matching q
func (s *Service) GetIssuesForCourse(ctx context.Context, q CourseQuery, opts ListOptions) ([]models.Issue, error) {
	query, err := s.courseQuery(ctx, q)
	if err != nil {
		return nil, err
	}
	return find(query, opts)
}

func (s *Service) courseQuery(ctx context.Context, q CourseQuery) (*gorm.DB, error) {
	component := q.Component
	if component == "" {
		component = models.DefaultComponent
	}
	query := s.db.WithContext(ctx).Model(&models.Issue{}).
		Where("template_id = ? AND course_id = ? AND component = ?", q.TemplateID, q.CourseID, component)

	if q.GroupMode != NoGroups && q.GroupID != 0 {
		members, err := s.groups.GroupMembers(ctx, q.GroupID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve group %d: %w", q.GroupID, err)
		}
		if len(members) == 0 {
			return query.Where("1 = 0"), nil
		}
		query = query.Where("user_id IN ?", members)
	}
	return query, nil
}

func count(query *gorm.DB) (int64, error) {
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count issues: %w", err)
	}
	return n, nil
}

func find(query *gorm.DB, opts ListOptions) ([]models.Issue, error) {
	query, err := opts.apply(query)
	if err != nil {
		return nil, err
	}
	var issues []models.Issue
	if err := query.Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}
