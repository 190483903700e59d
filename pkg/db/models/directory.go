package models

import "strings"

// User mirrors the host platform's user table
type User struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  uint64 `gorm:"not null;default:0;index" json:"tenant_id"`
	FirstName string `gorm:"size:100" json:"first_name"`
	LastName  string `gorm:"size:100" json:"last_name"`
	Email     string `gorm:"size:255" json:"email"`
}

// TableName returns the table name for User
func (User) TableName() string {
	return "users"
}

// FullName returns the display name of the user
func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// GroupMember mirrors the host platform's group membership table
type GroupMember struct {
	GroupID uint64 `gorm:"primaryKey;autoIncrement:false" json:"group_id"`
	UserID  uint64 `gorm:"primaryKey;autoIncrement:false;index" json:"user_id"`
}

// TableName returns the table name for GroupMember
func (GroupMember) TableName() string {
	return "group_members"
}
