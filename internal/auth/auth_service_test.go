package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})
	return privatePEM, publicPEM
}

func TestAccessTokenRoundTrip(t *testing.T) {
	privatePEM, publicPEM := newTestKeys(t)
	svc, err := NewAuthService(privatePEM, publicPEM, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}

	token, err := svc.GenerateAccessToken(42, "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.UserID != 42 || claims.Role != "admin" {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestValidateToken_Expired(t *testing.T) {
	privatePEM, publicPEM := newTestKeys(t)
	svc, err := NewAuthService(privatePEM, publicPEM, time.Minute)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}

	issued := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }
	token, err := svc.GenerateAccessToken(1, "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	svc.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := svc.ValidateToken(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestValidateToken_WrongKey(t *testing.T) {
	privatePEM, publicPEM := newTestKeys(t)
	otherPrivate, otherPublic := newTestKeys(t)

	signer, err := NewAuthService(otherPrivate, otherPublic, time.Hour)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	verifier, err := NewAuthService(privatePEM, publicPEM, time.Hour)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	token, err := signer.GenerateAccessToken(7, "admin")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := verifier.ValidateToken(token); err == nil {
		t.Fatal("expected token signed by another key to be rejected")
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("admin123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPasswordHash("admin123", hash) {
		t.Fatal("expected password to match")
	}
	if CheckPasswordHash("admin124", hash) {
		t.Fatal("expected wrong password to fail")
	}
	if CheckPasswordHash("admin123", "") {
		t.Fatal("empty hash must never match")
	}
}

func TestHashPassword_Length(t *testing.T) {
	if _, err := HashPassword("short"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("short password err = %v", err)
	}
	if _, err := HashPassword(strings.Repeat("a", 73)); !errors.Is(err, ErrPasswordTooLong) {
		t.Fatalf("long password err = %v", err)
	}
}

func TestValidateToken_IssuerAndLeeway(t *testing.T) {
	privatePEM, publicPEM := newTestKeys(t)
	svc, err := NewAuthService(privatePEM, publicPEM, time.Minute)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	issued := time.Date(2025, 7, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return issued }

	token, err := svc.GenerateAccessToken(3, "operator")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	svc.now = func() time.Time { return issued.Add(time.Minute + 10*time.Second) }
	if _, err := svc.ValidateToken(token); err != nil {
		t.Fatalf("token within clock leeway rejected: %v", err)
	}

	foreign := jwt.NewWithClaims(jwt.SigningMethodRS256, TokenClaims{
		UserID:    3,
		Role:      "admin",
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
		},
	})
	signed, err := foreign.SignedString(svc.privateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.ValidateToken(signed); err == nil {
		t.Fatal("expected token from another issuer to be rejected")
	}
}
