package auth

import (
	"testing"
)

func TestHashKey(t *testing.T) {
	hash, err := HashKey("testsecret123")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	if hash == "" {
		t.Fatal("HashKey() returned empty hash")
	}
	// bcrypt hashes start with $2a$ or $2b$
	if hash[0] != '$' {
		t.Errorf("HashKey() hash does not start with $, got %q", hash[:4])
	}
}

func TestVerifyKey(t *testing.T) {
	hash, err := HashKey("correctsecret")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	if err := VerifyKey(hash, "correctsecret"); err != nil {
		t.Errorf("VerifyKey() with correct secret returned error: %v", err)
	}
	if err := VerifyKey(hash, "wrongsecret"); err == nil {
		t.Error("VerifyKey() with wrong secret returned nil error")
	}
}
