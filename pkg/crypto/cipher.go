package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
	"sync"
)

// AudioKeySize is the fixed key size for the voice relay's AEAD: AES-256-GCM.
const AudioKeySize = 32

// Sealer seals outbound audio payloads for one sender under one channel key.
// The nonce is a per-sealer monotonic counter, never a random value: GCM's
// security bound collapses under nonce reuse, and a counter is the only way
// to guarantee uniqueness across the lifetime of a fast UDP stream without
// coordinating clocks. Each client holds its own Sealer per channel so the
// counter is scoped to one (key, sender) pair.
type Sealer struct {
	mu      sync.Mutex
	aead    cipher.AEAD
	key     []byte
	counter uint64
}

// NewSealer builds a Sealer from a 32-byte channel key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := newAudioAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead, key: key}, nil
}

// Seal encrypts plaintext and returns the 12-byte nonce used and the
// ciphertext with its appended GCM tag. The nonce is 4 zero bytes followed
// by the little-endian counter value, then the counter is incremented.
func (s *Sealer) Seal(plaintext []byte) (nonce, ciphertext []byte) {
	s.mu.Lock()
	nonce = buildAudioNonce(s.counter)
	s.counter++
	s.mu.Unlock()
	return nonce, s.aead.Seal(nil, nonce, plaintext, nil)
}

// Close zeroizes the key material. Safe to call once the Sealer is no
// longer referenced (channel key rotation, member leaving a channel).
func (s *Sealer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.key {
		s.key[i] = 0
	}
}

// Opener opens inbound audio payloads encrypted under one channel key.
// Unlike Sealer it carries no counter state: the relay never re-encrypts
// what it forwards, so only the original sender's Sealer needs to track a
// counter, and the relay itself never constructs an Opener at all — it
// forwards the sealed envelope byte-for-byte.
type Opener struct {
	aead cipher.AEAD
	key  []byte
}

// NewOpener builds an Opener from a 32-byte channel key.
func NewOpener(key []byte) (*Opener, error) {
	aead, err := newAudioAEAD(key)
	if err != nil {
		return nil, err
	}
	return &Opener{aead: aead, key: key}, nil
}

// Open authenticates and decrypts ciphertext under nonce. Any failure,
// whether a wrong key or a tampered payload, surfaces as ErrAuthFailed.
func (o *Opener) Open(nonce, ciphertext []byte) ([]byte, error) {
	plaintext, err := o.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Close zeroizes the key material.
func (o *Opener) Close() {
	for i := range o.key {
		o.key[i] = 0
	}
}

func newAudioAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != AudioKeySize {
		return nil, fmt.Errorf("crypto: invalid audio key length: expected %d, got %d", AudioKeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return aead, nil
}

// buildAudioNonce constructs the 12-byte GCM nonce from a monotonic
// counter: 4 zero bytes followed by the counter as little-endian uint64.
func buildAudioNonce(counter uint64) []byte {
	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}
