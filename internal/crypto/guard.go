// Package crypto provides SecretsGuard, the in-process encryption layer that
// keeps client secrets and cached access tokens out of plain memory.
//
// SecretsGuard uses XChaCha20-Poly1305 authenticated encryption. Each call
// to Encrypt draws a fresh random 24-byte nonce which is prepended to the
// ciphertext, so encrypting the same plaintext twice yields different
// output and any tampering is detected on Decrypt.
//
// By default the key is generated randomly when the guard is created and
// lives only for the lifetime of the process. It is never persisted. This
// reduces exposure through crash dumps or memory inspection but is not a
// substitute for an external secret store.
//
// Deployments that share one token cache between several instances can
// derive the key from a common passphrase instead, so every instance can
// read entries written by the others:
//
//	guard, err := crypto.NewSecretsGuardFromPassphrase(os.Getenv("CACHE_ENCRYPTION_KEY"))
//	if err != nil {
//		return fmt.Errorf("failed to create secrets guard: %w", err)
//	}
//
//	ciphertext, err := guard.Encrypt([]byte(clientSecret))
//	...
//	plaintext, err := guard.Decrypt(ciphertext)
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"dicomweb-oauth/internal/common/errors"
)

const (
	keySize          = chacha20poly1305.KeySize
	pbkdf2Iterations = 100000
)

// pbkdf2Salt is static so that instances sharing a passphrase derive the same key.
var pbkdf2Salt = []byte("dicomweb-oauth-secrets-guard")

// SecretsGuard encrypts and decrypts small secrets with a process-lifetime key.
//
// The guard is safe for concurrent use by multiple goroutines.
type SecretsGuard struct {
	mu        sync.RWMutex
	key       []byte
	destroyed bool
}

// NewSecretsGuard creates a guard with a fresh random key.
//
// Returns:
//   - *SecretsGuard: guard holding an ephemeral 256-bit key
//   - error: an internal error if the system random source fails
func NewSecretsGuard() (*SecretsGuard, error) {
	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.InternalError("failed to generate encryption key", err)
	}
	return &SecretsGuard{key: key}, nil
}

// NewSecretsGuardFromPassphrase derives the key from passphrase with
// PBKDF2-SHA256. Guards built from the same passphrase are interchangeable.
//
// Parameters:
//   - passphrase: shared secret, must not be empty
//
// Returns:
//   - *SecretsGuard: guard holding the derived key
//   - error: a configuration error if passphrase is empty
func NewSecretsGuardFromPassphrase(passphrase string) (*SecretsGuard, error) {
	if passphrase == "" {
		return nil, errors.ConfigError(errors.CodeConfigMissingKey, "encryption passphrase cannot be empty")
	}
	key := pbkdf2.Key([]byte(passphrase), pbkdf2Salt, pbkdf2Iterations, keySize, sha256.New)
	return &SecretsGuard{key: key}, nil
}

// Encrypt seals plaintext. The output layout is nonce || ciphertext || tag.
// An empty plaintext is valid and round-trips to an empty slice.
func (g *SecretsGuard) Encrypt(plaintext []byte) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.destroyed {
		return nil, errors.InternalError("secrets guard has been destroyed", nil)
	}

	aead, err := chacha20poly1305.NewX(g.key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.InternalError("failed to generate nonce", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens ciphertext produced by Encrypt with the same key.
// Truncated, tampered or foreign ciphertext returns an error.
func (g *SecretsGuard) Decrypt(ciphertext []byte) ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.destroyed {
		return nil, errors.InternalError("secrets guard has been destroyed", nil)
	}

	aead, err := chacha20poly1305.NewX(g.key)
	if err != nil {
		return nil, errors.InternalError("failed to create cipher", err)
	}

	if len(ciphertext) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.InternalError("ciphertext too short", nil)
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, errors.InternalError("failed to decrypt data", err)
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

// EncryptString is a convenience wrapper around Encrypt
func (g *SecretsGuard) EncryptString(plaintext string) ([]byte, error) {
	return g.Encrypt([]byte(plaintext))
}

// DecryptString is a convenience wrapper around Decrypt
func (g *SecretsGuard) DecryptString(ciphertext []byte) (string, error) {
	plaintext, err := g.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// Destroy zeroes the key. Subsequent calls fail.
func (g *SecretsGuard) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.key {
		g.key[i] = 0
	}
	g.destroyed = true
}
