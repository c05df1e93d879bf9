package mcp

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"forge-ai/internal/domain"
)

func TestFileTokenStorePlaintext(t *testing.T) {
	store, err := NewFileTokenStore(t.TempDir(), "")
	if err != nil {
		t.Fatal(err)
	}

	// Missing tokens are (nil, nil).
	tokens, err := store.GetTokens("srv")
	if err != nil || tokens != nil {
		t.Fatalf("missing tokens: %v, %v", tokens, err)
	}

	want := &domain.OAuthTokens{
		AccessToken:  "at",
		RefreshToken: "rt",
		TokenType:    "Bearer",
		ExpiresAt:    time.Now().Add(time.Hour).Truncate(time.Second),
	}
	if err := store.StoreTokens("srv", want); err != nil {
		t.Fatalf("StoreTokens failed: %v", err)
	}

	got, err := store.GetTokens("srv")
	if err != nil {
		t.Fatalf("GetTokens failed: %v", err)
	}
	if got.AccessToken != "at" || got.RefreshToken != "rt" {
		t.Errorf("tokens = %+v", got)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) {
		t.Errorf("expiry = %v, want %v", got.ExpiresAt, want.ExpiresAt)
	}

	if err := store.ClearTokens("srv"); err != nil {
		t.Fatalf("ClearTokens failed: %v", err)
	}
	if tokens, _ := store.GetTokens("srv"); tokens != nil {
		t.Error("tokens survive clear")
	}
	// Clearing again is not an error.
	if err := store.ClearTokens("srv"); err != nil {
		t.Errorf("double clear: %v", err)
	}
}

func TestFileTokenStoreEncrypted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileTokenStore(dir, "hunter2")
	if err != nil {
		t.Fatal(err)
	}

	if err := store.StoreTokens("srv", &domain.OAuthTokens{AccessToken: "secret-token"}); err != nil {
		t.Fatalf("StoreTokens failed: %v", err)
	}

	// The secret never appears on disk in the clear.
	raw, err := os.ReadFile(filepath.Join(dir, "srv.json"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "secret-token") {
		t.Error("token stored in plaintext despite passphrase")
	}

	got, err := store.GetTokens("srv")
	if err != nil {
		t.Fatalf("GetTokens failed: %v", err)
	}
	if got.AccessToken != "secret-token" {
		t.Errorf("token = %q", got.AccessToken)
	}

	// A wrong passphrase cannot read the tokens.
	wrong, err := NewFileTokenStore(dir, "wrong")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.GetTokens("srv"); err == nil {
		t.Error("wrong passphrase must fail")
	}
}

func TestFileTokenStorePermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileTokenStore(dir, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.StoreTokens("srv", &domain.OAuthTokens{AccessToken: "at"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(filepath.Join(dir, "srv.json"))
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 0600", perm)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := encryptValue("payload", "pass")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(enc, "payload") {
		t.Error("ciphertext contains plaintext")
	}

	dec, err := decryptValue(enc, "pass")
	if err != nil {
		t.Fatal(err)
	}
	if dec != "payload" {
		t.Errorf("decrypted = %q", dec)
	}

	if _, err := decryptValue(enc, "other"); err == nil {
		t.Error("wrong passphrase must fail")
	}
	if _, err := decryptValue("garbage", "pass"); err == nil {
		t.Error("malformed input must fail")
	}
}
