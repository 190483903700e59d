package auth

import "github.com/yourorg/certificate-service/pkg/db/models"

// Capabilities carried in the caps claim
const (
	CapManage              = "manage"
	CapManageForAllTenants = "manageforalltenants"
	CapIssue               = "issue"
	CapIssueForAllTenants  = "issueforalltenants"
	CapViewAllCertificates = "viewallcertificates"
	CapViewForAllTenants   = "viewforalltenants"
	CapVerifyAll           = "verifyallcertificates"
	CapVerifyForAllTenants = "verifyforalltenants"
)

// AllCapabilities lists every known capability
var AllCapabilities = []string{
	CapManage,
	CapManageForAllTenants,
	CapIssue,
	CapIssueForAllTenants,
	CapViewAllCertificates,
	CapViewForAllTenants,
	CapVerifyAll,
	CapVerifyForAllTenants,
}

// Policy answers capability questions about templates and issues.
// A nil template means "any template in the principal's reach".
type Policy interface {
	CanManage(p *Principal, tenantID uint64) bool
	CanIssue(p *Principal, tpl *models.Template) bool
	CanIssueToAnybody(p *Principal) bool
	CanViewIssues(p *Principal, tpl *models.Template) bool
	CanVerify(p *Principal, tpl *models.Template) bool
	CanVerifyLoose(p *Principal) bool
	CanDuplicate(p *Principal, tpl *models.Template, targetTenantID uint64) bool
	CanViewIssue(p *Principal, issue *models.Issue, tpl *models.Template) bool
}

// CapabilityPolicy evaluates the capabilities of a principal against tenant ownership
type CapabilityPolicy struct{}

// NewCapabilityPolicy creates the default policy
func NewCapabilityPolicy() *CapabilityPolicy {
	return &CapabilityPolicy{}
}

// inReach reports whether a template owned by tenantID is the principal's own or shared
func inReach(p *Principal, tenantID uint64) bool {
	return tenantID == models.SharedTenantID || tenantID == p.TenantID
}

// CanManage reports whether p may edit templates owned by tenantID
func (CapabilityPolicy) CanManage(p *Principal, tenantID uint64) bool {
	if p == nil {
		return false
	}
	if p.Has(CapManageForAllTenants) {
		return true
	}
	return p.Has(CapManage) && tenantID == p.TenantID
}

// CanIssue reports whether p may issue certificates from tpl
func (CapabilityPolicy) CanIssue(p *Principal, tpl *models.Template) bool {
	if p == nil {
		return false
	}
	if p.HasAny(CapIssueForAllTenants, CapManageForAllTenants) {
		return true
	}
	if !p.Has(CapIssue) {
		return false
	}
	return tpl == nil || inReach(p, tpl.TenantID)
}

// CanIssueToAnybody reports whether p may issue to users of any tenant
func (CapabilityPolicy) CanIssueToAnybody(p *Principal) bool {
	return p.Has(CapIssueForAllTenants)
}

// CanViewIssues reports whether p may list issues of tpl
func (CapabilityPolicy) CanViewIssues(p *Principal, tpl *models.Template) bool {
	if p == nil {
		return false
	}
	if p.HasAny(CapViewForAllTenants, CapManageForAllTenants) {
		return true
	}
	if !p.HasAny(CapViewAllCertificates, CapIssue, CapManage) {
		return false
	}
	return tpl == nil || inReach(p, tpl.TenantID)
}

// CanVerify reports whether p may verify issues of tpl
func (CapabilityPolicy) CanVerify(p *Principal, tpl *models.Template) bool {
	if p == nil {
		return false
	}
	if p.Has(CapVerifyForAllTenants) {
		return true
	}
	if !p.Has(CapVerifyAll) {
		return false
	}
	// a deleted template has no tenant left to scope against
	return tpl != nil && inReach(p, tpl.TenantID)
}

// CanVerifyLoose reports whether p holds any capability that implies seeing certificates
func (CapabilityPolicy) CanVerifyLoose(p *Principal) bool {
	return p.HasAny(AllCapabilities...)
}

// CanDuplicate reports whether p may copy tpl into targetTenantID
func (cp CapabilityPolicy) CanDuplicate(p *Principal, tpl *models.Template, targetTenantID uint64) bool {
	return tpl != nil && cp.CanManage(p, tpl.TenantID) && cp.CanManage(p, targetTenantID)
}

// CanViewIssue reports whether p may see a single issue. tpl is nil when
// the template has been deleted.
func (cp CapabilityPolicy) CanViewIssue(p *Principal, issue *models.Issue, tpl *models.Template) bool {
	if p == nil || issue == nil {
		return false
	}
	if issue.UserID == p.UserID && p.UserID != 0 {
		return true
	}
	if tpl == nil {
		return p.HasAny(CapViewForAllTenants, CapManageForAllTenants, CapVerifyForAllTenants)
	}
	return cp.CanViewIssues(p, tpl) || cp.CanVerify(p, tpl)
}
