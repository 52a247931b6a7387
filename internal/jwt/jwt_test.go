package jwt

import (
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

func TestSessionRoundTrip(t *testing.T) {
	tokens := New("session-secret", "identity-secret", false)

	cookie, err := tokens.CreateSession(true, 12345)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := tokens.VerifySession(cookie.Value)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != 12345 {
		t.Errorf("expected user ID 12345, got %d", claims.UserID)
	}
	if !claims.Remember {
		t.Error("expected remember flag to survive the round trip")
	}
}

func TestVerifySessionRejectsWrongSecret(t *testing.T) {
	minting := New("right-secret", "", false)
	verifying := New("wrong-secret", "", false)

	cookie, err := minting.CreateSession(false, 1)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := verifying.VerifySession(cookie.Value); err == nil {
		t.Error("expected verification to fail with the wrong secret")
	}
}

func TestVerifyIdentity(t *testing.T) {
	tokens := New("session-secret", "identity-secret", false)

	idToken := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, IdentityClaims{
		Email:   "user@example.com",
		Name:    "Some User",
		Picture: "avatar.webp",
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   "provider-sub-1",
			IssuedAt:  jwtlib.NewNumericDate(time.Now()),
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := idToken.SignedString([]byte("identity-secret"))
	if err != nil {
		t.Fatal(err)
	}

	claims, err := tokens.VerifyIdentity(signed)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Subject != "provider-sub-1" {
		t.Errorf("expected subject provider-sub-1, got %s", claims.Subject)
	}
	if claims.Email != "user@example.com" {
		t.Errorf("expected email to survive, got %s", claims.Email)
	}
}

func TestVerifyIdentityRejectsMissingSubject(t *testing.T) {
	tokens := New("session-secret", "identity-secret", false)

	idToken := jwtlib.NewWithClaims(jwtlib.SigningMethodHS512, IdentityClaims{
		Email: "user@example.com",
		RegisteredClaims: jwtlib.RegisteredClaims{
			ExpiresAt: jwtlib.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := idToken.SignedString([]byte("identity-secret"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tokens.VerifyIdentity(signed); err == nil {
		t.Error("expected a token without subject to be rejected")
	}
}
