package auth

import (
	"encoding/base64"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	encoded, err := GenerateKey()
	require.NoError(t, err)
	key, err := DecodeKey(encoded)
	require.NoError(t, err)
	require.Len(t, key, 32)
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	for _, plaintext := range []string{"oauth-access-token", "", "token with spaces & symbols!"} {
		sealed, err := EncryptToken(plaintext, key)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, sealed)

		opened, err := DecryptToken(sealed, key)
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	key := testKey(t)
	a, err := EncryptToken("same-token", key)
	require.NoError(t, err)
	b, err := EncryptToken("same-token", key)
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per seal")
}

func TestDecryptWrongKey(t *testing.T) {
	sealed, err := EncryptToken("secret", testKey(t))
	require.NoError(t, err)

	_, err = DecryptToken(sealed, testKey(t))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestDecryptGarbage(t *testing.T) {
	key := testKey(t)

	_, err := DecryptToken("not base64 !!!", key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)

	// Valid base64 but shorter than a nonce.
	short := base64.StdEncoding.EncodeToString([]byte("tiny"))
	_, err = DecryptToken(short, key)
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestKeyValidation(t *testing.T) {
	_, err := DecodeKey("definitely-not-base64!!!")
	assert.ErrorIs(t, err, ErrInvalidKey)

	// Wrong length after decode.
	_, err = DecodeKey(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = EncryptToken("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = DecryptToken("x", []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestEnsureKey(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	encoded, err := GenerateKey()
	require.NoError(t, err)
	key, err := EnsureKey(encoded, logger)
	require.NoError(t, err)
	assert.Len(t, key, 32)

	// No configured key: one is generated for this run.
	generated, err := EnsureKey("", logger)
	require.NoError(t, err)
	assert.Len(t, generated, 32)

	_, err = EnsureKey("bogus", logger)
	assert.Error(t, err)
}
