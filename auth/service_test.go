package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestService_IssueAndVerify(t *testing.T) {
	svc := NewService("test-secret", time.Hour)

	token, err := svc.IssueToken("ops@example.com", RoleOperator)
	if err != nil {
		t.Fatalf("issue: unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("issue: expected token, got empty string")
	}

	p, err := svc.VerifyToken(token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if p.Subject != "ops@example.com" {
		t.Fatalf("verify token: expected subject %q got %q", "ops@example.com", p.Subject)
	}
	if p.Role != RoleOperator {
		t.Fatalf("verify token: expected role %s got %s", RoleOperator, p.Role)
	}
}

func TestService_VerifyRejectsOtherSecret(t *testing.T) {
	token, err := NewService("secret-a", time.Hour).IssueToken("w1", RoleWorker)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if _, err := NewService("secret-b", time.Hour).VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_VerifyRejectsExpired(t *testing.T) {
	issued := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	svc := NewService("test-secret", time.Hour).WithClock(func() time.Time { return issued })
	token, err := svc.IssueToken("w1", RoleWorker)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	svc.WithClock(func() time.Time { return issued.Add(2 * time.Hour) })
	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestService_VerifyRejectsUnknownRole(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "x",
		"role": "broker_admin",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	token, err := raw.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := svc.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestService_IssueValidatesInput(t *testing.T) {
	svc := NewService("test-secret", 0)
	if svc.ttl != DefaultTTL {
		t.Fatalf("expected default ttl, got %s", svc.ttl)
	}
	if _, err := svc.IssueToken("", RoleWorker); err == nil {
		t.Fatal("expected error for empty subject")
	}
	if _, err := svc.IssueToken("x", Role("root")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" worker ")
	if err != nil || role != RoleWorker {
		t.Fatalf("expected worker, got %q %v", role, err)
	}
	if _, err := ParseRole("agent"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestPrincipalAllows(t *testing.T) {
	op := Principal{Subject: "a", Role: RoleOperator}
	w := Principal{Subject: "b", Role: RoleWorker}
	if !op.Allows(RoleWorker) || !op.Allows(RoleOperator) {
		t.Fatal("operator should be allowed everything")
	}
	if !w.Allows(RoleWorker) || w.Allows(RoleOperator) {
		t.Fatal("worker should only be allowed worker actions")
	}
}
