package policy

import (
	"errors"
	"testing"

	"usermanager/backend/internal/model"
)

var (
	admin = Caller{ID: 1, Role: model.RoleAdmin}
	staff = Caller{ID: 5, Role: model.RoleStaff}
	bogus = Caller{ID: 9, Role: model.Role("root")}
)

func TestAuthorizeList(t *testing.T) {
	if err := AuthorizeList(admin); err != nil {
		t.Fatalf("admin list: %v", err)
	}
	for _, c := range []Caller{staff, bogus} {
		if err := AuthorizeList(c); !errors.Is(err, ErrForbidden) {
			t.Fatalf("list by %+v: expected ErrForbidden, got %v", c, err)
		}
	}
}

func TestAuthorizeViewAndUpdate(t *testing.T) {
	tests := []struct {
		name    string
		caller  Caller
		target  int64
		allowed bool
	}{
		{name: "admin other", caller: admin, target: 7, allowed: true},
		{name: "admin self", caller: admin, target: 1, allowed: true},
		{name: "staff self", caller: staff, target: 5, allowed: true},
		{name: "staff other", caller: staff, target: 7, allowed: false},
		{name: "unknown role self", caller: bogus, target: 9, allowed: false},
	}

	for _, tc := range tests {
		for op, fn := range map[string]func(Caller, int64) error{
			"view":   AuthorizeView,
			"update": AuthorizeUpdate,
		} {
			err := fn(tc.caller, tc.target)
			if tc.allowed && err != nil {
				t.Fatalf("%s/%s: expected allow, got %v", tc.name, op, err)
			}
			if !tc.allowed && !errors.Is(err, ErrForbidden) {
				t.Fatalf("%s/%s: expected ErrForbidden, got %v", tc.name, op, err)
			}
		}
	}
}

func TestCanChangeRole(t *testing.T) {
	if !CanChangeRole(admin) {
		t.Fatal("admin should change roles")
	}
	if CanChangeRole(staff) || CanChangeRole(bogus) {
		t.Fatal("only admins change roles")
	}
}

func TestAuthorizeDelete(t *testing.T) {
	if err := AuthorizeDelete(admin, 7); err != nil {
		t.Fatalf("admin delete other: %v", err)
	}

	err := AuthorizeDelete(admin, admin.ID)
	if !errors.Is(err, ErrSelfDelete) {
		t.Fatalf("expected ErrSelfDelete, got %v", err)
	}
	if errors.Is(err, ErrForbidden) {
		t.Fatal("self delete is not a forbidden outcome")
	}

	if err := AuthorizeDelete(staff, 7); !errors.Is(err, ErrForbidden) {
		t.Fatalf("staff delete: expected ErrForbidden, got %v", err)
	}
	if err := AuthorizeDelete(staff, staff.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("staff self delete: expected ErrForbidden, got %v", err)
	}
}

func TestAuthorizePasswordChange(t *testing.T) {
	if err := AuthorizePasswordChange(staff, staff.ID); err != nil {
		t.Fatalf("self change: %v", err)
	}
	if err := AuthorizePasswordChange(admin, admin.ID); err != nil {
		t.Fatalf("admin self change: %v", err)
	}
	if err := AuthorizePasswordChange(admin, 7); !errors.Is(err, ErrForbidden) {
		t.Fatalf("admin override must be denied, got %v", err)
	}
	if err := AuthorizePasswordChange(Caller{}, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("zero caller must be denied, got %v", err)
	}
	if err := AuthorizePasswordChange(Caller{ID: 5, Role: "Guest"}, 5); !errors.Is(err, ErrForbidden) {
		t.Fatalf("unknown role must be denied, got %v", err)
	}
}
