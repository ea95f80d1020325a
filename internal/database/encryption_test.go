package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "this-is-a-very-long-test-secret-key-for-encryption-testing"

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)
	require.True(t, enc.Enabled())

	testCases := []struct {
		name      string
		plaintext string
	}{
		{name: "address", plaintext: "alice@example.com"},
		{name: "json variables", plaintext: `{"name":"Alice","link":"https://example.com/verify?t=abc"}`},
		{name: "unicode", plaintext: "Grüße 世界"},
		{name: "empty", plaintext: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := enc.Encrypt(tc.plaintext)
			require.NoError(t, err)

			if tc.plaintext == "" {
				assert.Equal(t, "", ciphertext)
				return
			}
			assert.NotEqual(t, tc.plaintext, ciphertext)

			decrypted, err := enc.Decrypt(ciphertext)
			require.NoError(t, err)
			assert.Equal(t, tc.plaintext, decrypted)
		})
	}
}

func TestEncryptor_RandomNonce(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)

	a, err := enc.Encrypt("same input")
	require.NoError(t, err)
	b, err := enc.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEncryptor_Disabled(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "false")

	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.False(t, enc.Enabled())

	out, err := enc.Encrypt("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", out)
}

func TestEncryptor_FromEnvironment(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "true")
	t.Setenv(EnvEncryptionSecret, testSecret)

	enc, err := NewEncryptor()
	require.NoError(t, err)
	assert.True(t, enc.Enabled())
}

func TestEncryptor_SecretValidation(t *testing.T) {
	_, err := newEncryptorWithSecret("")
	assert.Error(t, err)

	_, err = newEncryptorWithSecret("too-short")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")
}

func TestEncryptor_DecryptGarbage(t *testing.T) {
	enc, err := newEncryptorWithSecret(testSecret)
	require.NoError(t, err)

	_, err = enc.Decrypt("not base64!!")
	assert.Error(t, err)

	_, err = enc.Decrypt("AAAA")
	assert.Error(t, err)
}
