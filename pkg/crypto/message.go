package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// messageCiphertextPrefix marks a persisted message body as encrypted so
// DecryptMessage can tell it apart from plaintext rows written before
// at-rest encryption was configured, or when it stays unconfigured.
const messageCiphertextPrefix = "enc:"

// EncryptMessage seals content under key (a server-wide 32-byte key) using
// a fresh random nonce each call, since chat messages have no natural
// per-sender counter the way audio packets do. The result is the prefix,
// nonce and ciphertext base64-encoded together, safe to store as a string.
func EncryptMessage(key []byte, content string) (string, error) {
	aead, err := newAudioAEAD(key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("crypto: message nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(content), nil)
	return messageCiphertextPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMessage reverses EncryptMessage. If stored does not carry the
// encrypted prefix it is returned unchanged, for rows written while at-rest
// encryption was disabled.
func DecryptMessage(key []byte, stored string) (string, error) {
	if !strings.HasPrefix(stored, messageCiphertextPrefix) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, messageCiphertextPrefix))
	if err != nil {
		return "", fmt.Errorf("crypto: decode message ciphertext: %w", err)
	}
	aead, err := newAudioAEAD(key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrAuthFailed
	}
	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrAuthFailed
	}
	return string(plaintext), nil
}
