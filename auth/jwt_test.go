package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/kenton-clearsky/headachemd-telemetry/models"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	user := &models.User{ID: 7, Email: "dr@clinic.example", Role: "physician"}

	token, err := GenerateJWT(user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	claims, err := ValidateJWT(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if claims.UserID != 7 || claims.Email != "dr@clinic.example" || claims.Role != "physician" {
		t.Fatalf("claims round-trip failed: %+v", claims)
	}
	if claims.Subject != "7" {
		t.Errorf("Subject = %q, want \"7\"", claims.Subject)
	}
	if claims.Issuer != "headachemd-telemetry" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestValidateJWT_Tampered(t *testing.T) {
	token, err := GenerateJWT(&models.User{ID: 7, Email: "dr@clinic.example", Role: "physician"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ValidateJWT(token + "x"); err == nil {
		t.Fatal("expected a tampered token to be rejected")
	}
	if _, err := ValidateJWT("not-a-token"); err == nil {
		t.Fatal("expected garbage to be rejected")
	}
}

func TestStaticProvider(t *testing.T) {
	p := &StaticProvider{User: &models.AuthUser{ID: "svc", Role: "staff"}}
	u, err := p.WaitForUser(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "svc" || u.Role != "staff" {
		t.Fatalf("wrong identity: %+v", u)
	}

	empty := &StaticProvider{}
	if _, err := empty.WaitForUser(context.Background()); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
	if empty.CurrentUser() != nil {
		t.Fatal("expected nil current user")
	}
}

func TestTokenProvider(t *testing.T) {
	token, err := GenerateJWT(&models.User{ID: 42, Email: "nurse@clinic.example", Role: "nurse"})
	if err != nil {
		t.Fatal(err)
	}

	p := &TokenProvider{Token: token}
	if p.CurrentUser() != nil {
		t.Fatal("expected nil identity before resolution")
	}

	u, err := p.WaitForUser(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.ID != "42" || u.Role != "nurse" {
		t.Fatalf("wrong identity: %+v", u)
	}
	if p.CurrentUser() == nil {
		t.Fatal("expected identity cached after resolution")
	}

	bad := &TokenProvider{Token: "nope"}
	if _, err := bad.WaitForUser(context.Background()); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}
