// Package auth authenticates API clients by key. Each configured key maps to
// the principal that batches submitted with it run as.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

const apiKeyBytes = 32

// GenerateAPIKey generates a cryptographically secure API key.
// The key is 32 random bytes, hex-encoded to 64 characters.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate API key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Key is a configured API key: the bcrypt hash of the secret and the
// principal it authenticates.
type Key struct {
	Principal string `mapstructure:"principal"`
	Hash      string `mapstructure:"hash"`
}

// Keyring checks presented keys against the configured hashes. A key that
// verified once is remembered by its SHA-256 so later requests skip bcrypt.
type Keyring struct {
	keys []Key

	mu       sync.RWMutex
	verified map[[sha256.Size]byte]string
}

// NewKeyring returns nil when keys is empty, which disables authentication.
func NewKeyring(keys []Key) *Keyring {
	if len(keys) == 0 {
		return nil
	}
	return &Keyring{
		keys:     keys,
		verified: make(map[[sha256.Size]byte]string),
	}
}

// Authenticate returns the principal of apiKey.
func (k *Keyring) Authenticate(apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	sum := sha256.Sum256([]byte(apiKey))

	k.mu.RLock()
	principal, ok := k.verified[sum]
	k.mu.RUnlock()
	if ok {
		return principal, true
	}

	for _, key := range k.keys {
		if VerifyKey(key.Hash, apiKey) == nil {
			k.mu.Lock()
			k.verified[sum] = key.Principal
			k.mu.Unlock()
			return key.Principal, true
		}
	}
	return "", false
}
