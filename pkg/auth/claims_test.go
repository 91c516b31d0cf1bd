package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestGetClaims_Success(t *testing.T) {
	claims := &Claims{OrgID: "org-123"}
	ctx := context.WithValue(context.Background(), ClaimsKey, claims)

	got, ok := GetClaims(ctx)
	if !ok {
		t.Fatal("expected claims to be found")
	}
	if got.OrgID != "org-123" {
		t.Errorf("expected OrgID 'org-123', got %q", got.OrgID)
	}
}

func TestGetClaims_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClaimsKey, "not-claims")

	if _, ok := GetClaims(ctx); ok {
		t.Error("expected claims not to be found for wrong type")
	}
}

func TestGetToken(t *testing.T) {
	ctx := context.WithValue(context.Background(), TokenKey, "raw")

	token, ok := GetToken(ctx)
	if !ok || token != "raw" {
		t.Errorf("expected token 'raw', got %q (ok=%v)", token, ok)
	}
	if _, ok := GetToken(context.Background()); ok {
		t.Error("expected no token in empty context")
	}
}

func TestClaims_UserUUID(t *testing.T) {
	id := uuid.New()

	got, err := (&Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: id.String()}}).UserUUID()
	if err != nil || got != id {
		t.Errorf("expected %s, got %s (err=%v)", id, got, err)
	}

	if _, err := (&Claims{}).UserUUID(); err != ErrMissingSubject {
		t.Errorf("expected ErrMissingSubject, got %v", err)
	}

	bad := &Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "central"}}
	if _, err := bad.UserUUID(); err != ErrInvalidSubject {
		t.Errorf("expected ErrInvalidSubject, got %v", err)
	}
}
