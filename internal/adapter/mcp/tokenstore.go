package mcp

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"

	"forge-ai/internal/domain"
)

// FileTokenStore persists per-server OAuth tokens as one JSON file each
// under dir. With a passphrase the file body is AES-256-GCM encrypted under
// an Argon2id-derived key; without one it is plaintext JSON. Files are 0600
// either way.
type FileTokenStore struct {
	dir        string
	passphrase string
}

// NewFileTokenStore creates the store, making dir as needed.
func NewFileTokenStore(dir, passphrase string) (*FileTokenStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create token dir: %w", err)
	}
	return &FileTokenStore{dir: dir, passphrase: passphrase}, nil
}

// GetTokens loads tokens for a server. A missing file is (nil, nil).
func (s *FileTokenStore) GetTokens(serverName string) (*domain.OAuthTokens, error) {
	data, err := os.ReadFile(s.path(serverName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tokens: %w", err)
	}

	if s.passphrase != "" {
		plain, dErr := decryptValue(string(data), s.passphrase)
		if dErr != nil {
			return nil, fmt.Errorf("decrypt tokens for %s: %w", serverName, dErr)
		}
		data = []byte(plain)
	}

	var tokens domain.OAuthTokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("parse tokens for %s: %w", serverName, err)
	}
	return &tokens, nil
}

// StoreTokens writes tokens for a server atomically.
func (s *FileTokenStore) StoreTokens(serverName string, tokens *domain.OAuthTokens) error {
	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode tokens: %w", err)
	}
	if s.passphrase != "" {
		enc, eErr := encryptValue(string(data), s.passphrase)
		if eErr != nil {
			return fmt.Errorf("encrypt tokens: %w", eErr)
		}
		data = []byte(enc)
	}

	tmp := s.path(serverName) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write tokens: %w", err)
	}
	if err := os.Rename(tmp, s.path(serverName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write tokens: %w", err)
	}
	return nil
}

// ClearTokens removes the token file for a server. Clearing absent tokens is
// not an error.
func (s *FileTokenStore) ClearTokens(serverName string) error {
	err := os.Remove(s.path(serverName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear tokens: %w", err)
	}
	return nil
}

func (s *FileTokenStore) path(serverName string) string {
	return filepath.Join(s.dir, sanitizeName(serverName)+".json")
}

// encryptValue seals plaintext with AES-256-GCM under an Argon2id key.
// Format: hex(salt) + ":" + hex(nonce+ciphertext).
func encryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// decryptValue reverses encryptValue.
func decryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// deriveKey derives a 32-byte AES key with Argon2id.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}
