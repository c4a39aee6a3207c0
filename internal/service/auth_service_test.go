package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/examhall/examhall-backend/internal/config"
)

func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()
	cfg := &config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}
	return NewAuthService(cfg, newTestRedis(t))
}

func TestPasswordHashRoundTrip(t *testing.T) {
	svc := newTestAuthService(t)

	hash, err := svc.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := svc.CheckPassword(hash, "s3cret"); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if err := svc.CheckPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestStudentTokenLifecycle(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.GenerateStudentToken(ctx, 42)
	if err != nil {
		t.Fatalf("GenerateStudentToken: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if claims.UserID != 42 {
		t.Fatalf("user id = %d, want 42", claims.UserID)
	}
	if claims.TokenType != TokenTypeStudent {
		t.Fatalf("token type = %q, want student", claims.TokenType)
	}
	if err := svc.ValidateStudentSession(ctx, 42, claims.ID); err != nil {
		t.Fatalf("ValidateStudentSession: %v", err)
	}
}

func TestSecondLoginIsRejectedUntilReset(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.GenerateStudentToken(ctx, 7); err != nil {
		t.Fatalf("first login: %v", err)
	}
	if _, err := svc.GenerateStudentToken(ctx, 7); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second login err = %v, want ErrSessionAlreadyActive", err)
	}

	if err := svc.ResetStudentSession(ctx, 7); err != nil {
		t.Fatalf("ResetStudentSession: %v", err)
	}
	if _, err := svc.GenerateStudentToken(ctx, 7); err != nil {
		t.Fatalf("login after reset: %v", err)
	}
}

func TestStaleTokenFailsSessionCheck(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	first, err := svc.GenerateStudentToken(ctx, 9)
	if err != nil {
		t.Fatalf("first login: %v", err)
	}
	firstClaims, err := svc.ValidateToken(first)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	// Re-login from a new device invalidates the first token's session.
	if err := svc.ResetStudentSession(ctx, 9); err != nil {
		t.Fatalf("ResetStudentSession: %v", err)
	}
	if _, err := svc.GenerateStudentToken(ctx, 9); err != nil {
		t.Fatalf("second login: %v", err)
	}

	if err := svc.ValidateStudentSession(ctx, 9, firstClaims.ID); err == nil {
		t.Fatal("stale token passed session check")
	}
}

func TestValidateTokenRejectsTampering(t *testing.T) {
	svc := newTestAuthService(t)
	ctx := context.Background()

	token, err := svc.GenerateStudentToken(ctx, 5)
	if err != nil {
		t.Fatalf("GenerateStudentToken: %v", err)
	}

	other := NewAuthService(&config.Config{
		JWTSecret:  "different-secret",
		JWTExpiry:  time.Hour,
		BcryptCost: 4,
	}, newTestRedis(t))

	if _, err := other.ValidateToken(token); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
	if _, err := svc.ValidateToken(token + "x"); err == nil {
		t.Fatal("tampered token was accepted")
	}
}
