package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAESEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewAESEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	ct, err := enc.EncryptString("PATIENT-42")
	require.NoError(t, err)
	assert.NotEqual(t, "PATIENT-42", ct)

	pt, err := enc.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "PATIENT-42", pt)
}

func TestAESEncryptor_CiphertextNotDeterministic(t *testing.T) {
	enc, err := NewAESEncryptor([]byte("0123456789abcdef"))
	require.NoError(t, err)

	a, err := enc.EncryptString("PATIENT-42")
	require.NoError(t, err)
	b, err := enc.EncryptString("PATIENT-42")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestAESEncryptor_InvalidKey(t *testing.T) {
	_, err := NewAESEncryptor([]byte("too-short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestAESEncryptor_WrongKey(t *testing.T) {
	enc1, err := NewAESEncryptor([]byte("0123456789abcdef"))
	require.NoError(t, err)
	enc2, err := NewAESEncryptor([]byte("fedcba9876543210"))
	require.NoError(t, err)

	ct, err := enc1.EncryptString("PATIENT-42")
	require.NoError(t, err)

	_, err = enc2.DecryptString(ct)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestAESEncryptor_GarbageCiphertext(t *testing.T) {
	enc, err := NewAESEncryptor([]byte("0123456789abcdef"))
	require.NoError(t, err)

	_, err = enc.DecryptString("not base64!!!")
	assert.ErrorIs(t, err, ErrDecryption)

	_, err = enc.DecryptString("c2hvcnQ=")
	assert.ErrorIs(t, err, ErrDecryption)
}
