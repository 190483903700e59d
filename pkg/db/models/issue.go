package models

import (
	"time"

	"gorm.io/datatypes"
)

// DefaultComponent is the issuing component used when none is given
const DefaultComponent = "tool_certificate"

// Keys always present in Issue.Data
const (
	IssueDataUserFullName = "userfullname"
	IssueDataTemplateName = "templatename"
)

// Issue records one certificate granted to one user
type Issue struct {
	ID         uint64            `gorm:"primaryKey;autoIncrement" json:"id"`
	TemplateID uint64            `gorm:"not null;index" json:"template_id"`
	UserID     uint64            `gorm:"not null;index" json:"user_id"`
	Component  string            `gorm:"size:100;not null;default:'tool_certificate'" json:"component"`
	CourseID   *uint64           `gorm:"index" json:"course_id,omitempty"`
	GroupID    *uint64           `json:"group_id,omitempty"`
	Code       string            `gorm:"size:40;not null;uniqueIndex" json:"code"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Data       datatypes.JSONMap `json:"data,omitempty"`
	CreatedAt  time.Time         `gorm:"index" json:"created_at"`
}

// TableName returns the table name for Issue
func (Issue) TableName() string {
	return "issues"
}

// IsExpired reports whether the issue has an expiry that lies before now
func (i *Issue) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && i.ExpiresAt.Before(now)
}

// UserFullName returns the recipient name captured at issuance
func (i *Issue) UserFullName() string {
	return i.dataString(IssueDataUserFullName)
}

// TemplateName returns the template name captured at issuance
func (i *Issue) TemplateName() string {
	return i.dataString(IssueDataTemplateName)
}

func (i *Issue) dataString(key string) string {
	if i.Data == nil {
		return ""
	}
	if v, ok := i.Data[key].(string); ok {
		return v
	}
	return ""
}
