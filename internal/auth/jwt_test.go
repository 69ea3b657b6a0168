package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"usermanager/backend/internal/model"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", 24*time.Hour)

	token, err := m.Issue(Identity{UserID: 7, Email: "a@x.com", Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := m.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != 7 || id.Email != "a@x.com" || id.Role != model.RoleAdmin {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestVerifyRejectsOtherSecret(t *testing.T) {
	token, err := NewTokenManager("secret-a", time.Hour).Issue(Identity{UserID: 1, Email: "a@x.com", Role: model.RoleStaff})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = NewTokenManager("secret-b", time.Hour).Verify(token)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, err := m.Issue(Identity{UserID: 1, Email: "a@x.com", Role: model.RoleStaff})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	parts := strings.Split(token, ".")
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err = m.Verify(tampered)
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Fatal("tampered token must not report expiry")
	}
}

func TestVerifyReportsExpiry(t *testing.T) {
	m := NewTokenManager("secret", 24*time.Hour)
	m.now = func() time.Time { return time.Now().Add(-25 * time.Hour) }
	token, err := m.Issue(Identity{UserID: 1, Email: "a@x.com", Role: model.RoleStaff})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	m.now = time.Now

	_, err = m.Verify(token)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if errors.Is(err, ErrTokenInvalid) {
		t.Fatal("expired token must not report invalid")
	}
}

func TestVerifyRejectsMalformedAndUnsigned(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub":  "1",
		"role": "Admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	none, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "1", "role": "Admin"}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "1",
		"role": "root",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	for name, token := range map[string]string{
		"empty":    "",
		"garbage":  "not.a.token",
		"none alg": none,
		"no exp":   noExp,
		"bad role": badRole,
	} {
		if _, err := m.Verify(token); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("%s: expected ErrTokenInvalid, got %v", name, err)
		}
	}
}
