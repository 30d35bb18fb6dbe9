package auth

import (
	"testing"
	"time"
)

func testTokenConfig() *TokenConfig {
	return &TokenConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "gatewaysim",
		Audience: "motormarket-realtime",
		TTL:      time.Hour,
	}
}

func TestGenerateAndValidate(t *testing.T) {
	cfg := testTokenConfig()

	token, err := GenerateToken(cfg, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "alice" || claims.DisplayName != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	cfg := testTokenConfig()
	token, err := GenerateToken(cfg, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	other := testTokenConfig()
	other.Secret = []byte("different-secret")
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatal("token accepted with wrong secret")
	}
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	cfg := testTokenConfig()
	cfg.Issuer = "someone-else"
	token, err := GenerateToken(cfg, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := ValidateToken(testTokenConfig(), token); err == nil {
		t.Fatal("token accepted with wrong issuer")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	cfg := testTokenConfig()
	cfg.TTL = -time.Minute
	token, err := GenerateToken(cfg, "alice", "Alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if _, err := ValidateToken(testTokenConfig(), token); err == nil {
		t.Fatal("expired token accepted")
	}
}

func TestSubjectExtractsIdentityUnverified(t *testing.T) {
	token, err := GenerateToken(testTokenConfig(), "bob", "Bob")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	id, err := Subject(token)
	if err != nil {
		t.Fatalf("subject: %v", err)
	}
	if id != "bob" {
		t.Fatalf("subject = %q, want bob", id)
	}

	if _, err := Subject("not-a-token"); err == nil {
		t.Fatal("garbage accepted")
	}
}
