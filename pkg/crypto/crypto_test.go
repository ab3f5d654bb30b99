package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealerOpenerRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	sealer, err := NewSealer(key)
	require.NoError(t, err)
	opener, err := NewOpener(key)
	require.NoError(t, err)

	nonce, ciphertext := sealer.Seal([]byte("hello voice channel"))
	require.Len(t, nonce, 12)
	require.Equal(t, []byte{0, 0, 0, 0}, nonce[:4])

	plaintext, err := opener.Open(nonce, ciphertext)
	require.NoError(t, err)
	require.Equal(t, "hello voice channel", string(plaintext))
}

func TestSealerNonceCounterIncrements(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	sealer, err := NewSealer(key)
	require.NoError(t, err)

	nonce1, _ := sealer.Seal([]byte("a"))
	nonce2, _ := sealer.Seal([]byte("b"))
	require.NotEqual(t, nonce1, nonce2)
}

func TestOpenerRejectsTamperedCiphertext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	sealer, err := NewSealer(key)
	require.NoError(t, err)
	opener, err := NewOpener(key)
	require.NoError(t, err)

	nonce, ciphertext := sealer.Seal([]byte("payload"))
	ciphertext[0] ^= 0xFF

	_, err = opener.Open(nonce, ciphertext)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestOpenerRejectsWrongKey(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	key2, err := GenerateKey()
	require.NoError(t, err)

	sealer, err := NewSealer(key1)
	require.NoError(t, err)
	opener, err := NewOpener(key2)
	require.NoError(t, err)

	nonce, ciphertext := sealer.Seal([]byte("payload"))
	_, err = opener.Open(nonce, ciphertext)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestHashTokenDeterministic(t *testing.T) {
	token, err := GenerateToken()
	require.NoError(t, err)
	require.Equal(t, HashToken(token), HashToken(token))
	require.NotEqual(t, token, HashToken(token))
}

func TestPasswordHashVerify(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	hash := HashPassword("correct horse battery staple", salt)

	require.True(t, VerifyPassword("correct horse battery staple", salt, hash))
	require.False(t, VerifyPassword("wrong password", salt, hash))
}

func TestMessageEncryptDecryptRoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	stored, err := EncryptMessage(key, "hey there")
	require.NoError(t, err)
	require.Contains(t, stored, "enc:")

	plaintext, err := DecryptMessage(key, stored)
	require.NoError(t, err)
	require.Equal(t, "hey there", plaintext)
}

func TestDecryptMessagePassesThroughPlaintext(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintext, err := DecryptMessage(key, "plain row written before encryption was enabled")
	require.NoError(t, err)
	require.Equal(t, "plain row written before encryption was enabled", plaintext)
}
