package encryption

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestAESGCMRoundTrip(t *testing.T) {
	aead := NewAESGCM()
	key := randomKey(t)

	large := make([]byte, 1024*1024)
	for i := range large {
		large[i] = byte(i % 256)
	}

	cases := map[string][]byte{
		"empty":  {},
		"short":  []byte("hunter2"),
		"binary": {0x00, 0xff, 0x10, 0x00},
		"large":  large,
	}
	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			payload, err := aead.Seal(key, plaintext)
			require.NoError(t, err)
			assert.Len(t, payload.IV, IVLength)

			opened, err := aead.Open(key, payload.Ciphertext, payload.IV)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(plaintext, opened))
		})
	}
}

func TestAESGCMIVsAreUnique(t *testing.T) {
	aead := NewAESGCM()
	key := randomKey(t)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		payload, err := aead.Seal(key, []byte("same plaintext"))
		require.NoError(t, err)

		_, dup := seen[string(payload.IV)]
		require.False(t, dup, "iv repeated after %d encryptions", i)
		seen[string(payload.IV)] = struct{}{}
	}
}

func TestAESGCMWrongKeyFails(t *testing.T) {
	aead := NewAESGCM()

	payload, err := aead.Seal(randomKey(t), []byte("secret"))
	require.NoError(t, err)

	plaintext, err := aead.Open(randomKey(t), payload.Ciphertext, payload.IV)
	assert.Nil(t, plaintext)
	assert.True(t, IsDecryptionFailedError(err))
}

func TestAESGCMTamperingFails(t *testing.T) {
	aead := NewAESGCM()
	key := randomKey(t)

	payload, err := aead.Seal(key, []byte("secret"))
	require.NoError(t, err)

	flipped := append([]byte(nil), payload.Ciphertext...)
	flipped[0] ^= 0x01
	_, err = aead.Open(key, flipped, payload.IV)
	assert.True(t, IsDecryptionFailedError(err))

	otherIV := append([]byte(nil), payload.IV...)
	otherIV[IVLength-1] ^= 0x01
	_, err = aead.Open(key, payload.Ciphertext, otherIV)
	assert.True(t, IsDecryptionFailedError(err))

	_, err = aead.Open(key, payload.Ciphertext, payload.IV[:8])
	assert.True(t, IsDecryptionFailedError(err))

	_, err = aead.Open(key, []byte("short"), payload.IV)
	assert.True(t, IsDecryptionFailedError(err))
}

func TestAESGCMRejectsKeyLength(t *testing.T) {
	aead := NewAESGCM()

	_, err := aead.Seal([]byte("short"), []byte("data"))
	assert.True(t, IsInvalidParameterError(err))

	_, err = aead.Open(make([]byte, 16), []byte("data"), make([]byte, IVLength))
	assert.True(t, IsInvalidParameterError(err))
}
