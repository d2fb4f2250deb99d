package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin  UserRole = "SUPERADMIN"
	RoleAdmin       UserRole = "ADMIN"
	RoleCoordinator UserRole = "TIMETABLE_COORDINATOR"
	RoleViewer      UserRole = "VIEWER"
)

// JWTClaims represents the JWT payload for access tokens issued by the department portal.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
