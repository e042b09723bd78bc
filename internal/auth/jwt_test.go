package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "test-jwt-secret-that-is-32-chars-!"

func newTestVerifier(t *testing.T, issuer string) *Verifier {
	t.Helper()
	v, err := NewVerifier(testSecret, issuer)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	if _, err := NewVerifier("", ""); !errors.Is(err, ErrNoSecret) {
		t.Errorf("err = %v, want ErrNoSecret", err)
	}
}

func TestGenerateAndValidate(t *testing.T) {
	v := newTestVerifier(t, "registro")

	t.Run("round trip", func(t *testing.T) {
		token, err := v.Generate(7, "mrossi", "Docente", time.Hour)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		claims, err := v.Validate(token)
		if err != nil {
			t.Fatalf("Validate() error: %v", err)
		}
		id, _ := claims.UserID()
		if id != 7 || claims.Username != "mrossi" || claims.Role != "Docente" {
			t.Errorf("claims = %+v", claims)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := v.Generate(7, "mrossi", "Docente", -time.Minute)
		if err != nil {
			t.Fatalf("Generate() error: %v", err)
		}
		if _, err := v.Validate(token); err == nil {
			t.Error("Validate() expected error for expired token")
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, _ := NewVerifier("another-secret-that-is-long-enough!", "registro")
		token, _ := other.Generate(7, "mrossi", "Docente", time.Hour)
		if _, err := v.Validate(token); err == nil {
			t.Error("Validate() expected error for token signed with another secret")
		}
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other := newTestVerifier(t, "elsewhere")
		token, _ := other.Generate(7, "mrossi", "Docente", time.Hour)
		if _, err := v.Validate(token); err == nil {
			t.Error("Validate() expected error for foreign issuer")
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := v.Validate("not-a-token"); err == nil {
			t.Error("Validate() expected error for malformed token")
		}
	})
}

func TestValidate_RejectsOtherAlgorithms(t *testing.T) {
	v := newTestVerifier(t, "")
	claims := &Claims{Username: "x", RegisteredClaims: jwt.RegisteredClaims{Subject: "7"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	if _, err := v.Validate(token); err == nil {
		t.Error("Validate() expected error for HS512 token")
	}
}

func TestValidate_RejectsNonNumericSubject(t *testing.T) {
	v := newTestVerifier(t, "")
	claims := &Claims{Username: "x", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "user-123",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if _, err := v.Validate(token); err == nil {
		t.Error("Validate() expected error for non-numeric subject")
	}
}
