package authtoken

import (
	"testing"
	"time"
)

func TestMintThenVerifyRoundTrips(t *testing.T) {
	secret := []byte("test-oauth-key-secret")

	token, jti, err := Mint(secret, "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if token == "" || jti == "" {
		t.Fatal("Mint returned empty token or jti")
	}

	subject, gotJTI, err := Verify(secret, token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "user@example.com" {
		t.Fatalf("subject = %q, want user@example.com", subject)
	}
	if gotJTI != jti {
		t.Fatalf("jti = %q, want %q", gotJTI, jti)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Mint([]byte("secret-a"), "user@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, _, err := Verify([]byte("secret-b"), token); err != ErrInvalid {
		t.Fatalf("Verify with wrong secret = %v, want ErrInvalid", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-oauth-key-secret")
	token, _, err := Mint(secret, "user@example.com", -time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, _, err := Verify(secret, token); err != ErrInvalid {
		t.Fatalf("Verify with expired token = %v, want ErrInvalid", err)
	}
}

func TestMintGeneratesDistinctJTIsPerCall(t *testing.T) {
	secret := []byte("test-oauth-key-secret")
	_, jti1, _ := Mint(secret, "user@example.com", time.Hour)
	_, jti2, _ := Mint(secret, "user@example.com", time.Hour)
	if jti1 == jti2 {
		t.Fatal("expected distinct jti values across Mint calls")
	}
}
