package auth

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestNewIssuer_Validation(t *testing.T) {
	if _, err := NewIssuer(nil, "drscreen", time.Hour); err == nil {
		t.Error("expected error for empty key")
	}
	if _, err := NewIssuer(testSigningKey, "drscreen", 0); err == nil {
		t.Error("expected error for zero ttl")
	}
}

func TestIssuer_RoundTripThroughMiddleware(t *testing.T) {
	iss, err := NewIssuer(testSigningKey, "drscreen", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	fixed := time.Now().Truncate(time.Second)
	iss.now = func() time.Time { return fixed }

	tok, err := iss.Issue("acc-1", "alice@example.com", RolePatient)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if tok.TokenType != "Bearer" || tok.ID == "" {
		t.Errorf("unexpected token %+v", tok)
	}
	if !tok.ExpiresAt.Equal(fixed.Add(time.Hour)) {
		t.Errorf("expires at %v, want %v", tok.ExpiresAt, fixed.Add(time.Hour))
	}
	if strings.Count(tok.AccessToken, ".") != 2 {
		t.Errorf("access token is not a JWT: %q", tok.AccessToken)
	}

	err = runMiddleware(t, iss.Config(nil), "Bearer "+tok.AccessToken, func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != "acc-1" {
			t.Errorf("subject = %q", UserIDFromContext(ctx))
		}
		if UsernameFromContext(ctx) != "alice@example.com" {
			t.Errorf("username = %q", UsernameFromContext(ctx))
		}
		if !HasRole(ctx, RolePatient) {
			t.Error("expected patient role")
		}
		if TokenFromContext(ctx).ID != tok.ID {
			t.Error("token id not propagated")
		}
		return c.NoContent(http.StatusOK)
	})
	if err != nil {
		t.Fatalf("middleware rejected issued token: %v", err)
	}
}

func TestIssuer_TokensAreUnique(t *testing.T) {
	iss, _ := NewIssuer(testSigningKey, "drscreen", time.Hour)
	a, _ := iss.Issue("acc-1", "u", RoleDoctor)
	b, _ := iss.Issue("acc-1", "u", RoleDoctor)
	if a.ID == b.ID || a.AccessToken == b.AccessToken {
		t.Error("expected distinct token ids")
	}
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}

	ok, err := CheckPassword(hash, "correct horse")
	if err != nil || !ok {
		t.Errorf("expected match, got ok=%v err=%v", ok, err)
	}
	ok, err = CheckPassword(hash, "wrong horse")
	if err != nil || ok {
		t.Errorf("expected mismatch, got ok=%v err=%v", ok, err)
	}
	if _, err := CheckPassword("not-a-bcrypt-hash", "x"); err == nil {
		t.Error("expected error for malformed hash")
	}
}

func TestHashPassword_TooShort(t *testing.T) {
	if _, err := HashPassword("short"); err == nil {
		t.Error("expected error for short password")
	}
}
