// Package policy decides which caller may act on which account. Every
// function is pure: it looks only at the caller and the target id.
package policy

import (
	"errors"
	"fmt"

	"usermanager/backend/internal/model"
)

// Caller is the authenticated user a request acts on behalf of. It is built
// from the live user row once per request and passed by value.
type Caller struct {
	ID    int64
	Email string
	Name  string
	Role  model.Role
}

func CallerFromUser(u model.User) Caller {
	return Caller{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

var ErrForbidden = errors.New("forbidden")

var (
	ErrAdminRequired        = fmt.Errorf("%w: admin privileges required", ErrForbidden)
	ErrViewNotPermitted     = fmt.Errorf("%w: you can only view your own details", ErrForbidden)
	ErrUpdateNotPermitted   = fmt.Errorf("%w: you can only update your own profile", ErrForbidden)
	ErrDeleteNotPermitted   = fmt.Errorf("%w: only administrators can delete users", ErrForbidden)
	ErrPasswordNotPermitted = fmt.Errorf("%w: you can only update your own password", ErrForbidden)
	ErrSelfDelete           = errors.New("cannot delete your own account")
)

func AuthorizeList(c Caller) error {
	switch c.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleStaff:
		return ErrAdminRequired
	default:
		return ErrAdminRequired
	}
}

func AuthorizeView(c Caller, targetID int64) error {
	switch c.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleStaff:
		if c.ID == targetID {
			return nil
		}
		return ErrViewNotPermitted
	default:
		return ErrViewNotPermitted
	}
}

func AuthorizeUpdate(c Caller, targetID int64) error {
	switch c.Role {
	case model.RoleAdmin:
		return nil
	case model.RoleStaff:
		if c.ID == targetID {
			return nil
		}
		return ErrUpdateNotPermitted
	default:
		return ErrUpdateNotPermitted
	}
}

// CanChangeRole reports whether the role field of an update is honoured.
// Callers drop the field instead of failing when this is false.
func CanChangeRole(c Caller) bool {
	switch c.Role {
	case model.RoleAdmin:
		return true
	case model.RoleStaff:
		return false
	default:
		return false
	}
}

// AuthorizeDelete returns ErrSelfDelete when an admin targets their own
// account; it does not wrap ErrForbidden.
func AuthorizeDelete(c Caller, targetID int64) error {
	switch c.Role {
	case model.RoleAdmin:
		if c.ID == targetID {
			return ErrSelfDelete
		}
		return nil
	case model.RoleStaff:
		return ErrDeleteNotPermitted
	default:
		return ErrDeleteNotPermitted
	}
}

// AuthorizePasswordChange allows only the account owner. Admins get no
// override here.
func AuthorizePasswordChange(c Caller, targetID int64) error {
	switch c.Role {
	case model.RoleAdmin, model.RoleStaff:
		if c.ID != 0 && c.ID == targetID {
			return nil
		}
		return ErrPasswordNotPermitted
	default:
		return ErrPasswordNotPermitted
	}
}
