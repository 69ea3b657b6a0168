package model

import (
	"fmt"
	"time"
)

type Role string

const (
	RoleAdmin Role = "Admin"
	RoleStaff Role = "Staff"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleStaff:
		return true
	default:
		return false
	}
}

// ParseRole maps raw input onto a Role. An empty value yields RoleStaff.
func ParseRole(raw string) (Role, error) {
	if raw == "" {
		return RoleStaff, nil
	}
	role := Role(raw)
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

type User struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-" yaml:"-"`
	Role         Role      `json:"role"`
	Phone        *string   `json:"phone"`
	City         *string   `json:"city"`
	Country      *string   `json:"country"`
	CreatedAt    time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt" yaml:"updatedAt"`
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
