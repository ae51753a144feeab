package auth

import "time"

// User is a subject. Users are deactivated, never deleted, so audit records
// keep pointing at a real row.
type User struct {
	ID             int64      `json:"id"`
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	FullName       string     `json:"fullName,omitempty"`
	EncryptedSSN   string     `json:"encryptedSsn,omitempty"`
	EncryptedPhone string     `json:"encryptedPhone,omitempty"`
	IsActive       bool       `json:"isActive"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastLoginAt    *time.Time `json:"lastLoginAt,omitempty"`
}

// Role groups permissions.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// Permission is a (resource, action) capability. The pair is unique.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// Key renders the permission as "Resource:Action".
func (p Permission) Key() string {
	return p.Resource + ":" + p.Action
}

// Assignment gives a user a role.
type Assignment struct {
	UserID     int64     `json:"userId"`
	RoleID     int64     `json:"roleId"`
	AssignedAt time.Time `json:"assignedAt"`
}

// Grant links a role to a permission.
type Grant struct {
	RoleID       int64     `json:"roleId"`
	PermissionID int64     `json:"permissionId"`
	GrantedAt    time.Time `json:"grantedAt"`
}

// Audited table names.
const (
	TableUsers           = "users"
	TableRoles           = "roles"
	TablePermissions     = "permissions"
	TableUserRoles       = "user_roles"
	TableRolePermissions = "role_permissions"
)
