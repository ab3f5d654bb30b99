// Package crypto provides the server's cryptographic primitives: audio
// packet sealing, bearer token generation/hashing, password hashing, at-rest
// message encryption, and TLS certificate loading.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// ErrAuthFailed is returned when an AEAD open (audio packet or at-rest
// message) fails authentication. It never wraps the underlying cipher
// error, so callers can't distinguish "wrong key" from "tampered" — the
// two must look identical to a caller.
var ErrAuthFailed = errors.New("crypto: authentication failed")

const (
	saltSize       = 16
	argon2Time     = 1
	argon2MemoryKB = 64 * 1024
	argon2Threads  = 4
	argon2KeyLen   = 32
)

// GenerateKey returns a random 32-byte key suitable for AES-256-GCM, used
// both for per-channel voice key material and the server-wide message
// at-rest key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("crypto: generate key: %w", err)
	}
	return key, nil
}

// GenerateToken returns a random bearer token with 256 bits of entropy,
// hex-encoded. Only HashToken's output of this value is ever persisted.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("crypto: generate token: %w", err)
	}
	return fmt.Sprintf("%x", b), nil
}

// HashToken hashes a raw token string with SHA-256 for storage/lookup.
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return fmt.Sprintf("%x", h[:])
}

// GenerateSalt returns a random salt for HashPassword.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("crypto: generate salt: %w", err)
	}
	return salt, nil
}

// HashPassword derives an Argon2id digest from a password and salt.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argon2Time, argon2MemoryKB, argon2Threads, argon2KeyLen)
}

// VerifyPassword re-derives the digest from password and salt and compares
// it against want in constant time.
func VerifyPassword(password string, salt, want []byte) bool {
	got := HashPassword(password, salt)
	return subtle.ConstantTimeCompare(got, want) == 1
}
