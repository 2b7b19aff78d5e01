package encryption

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportKey(t *testing.T) {
	key, err := DeriveKey("master", "salt")
	require.NoError(t, err)

	jwk, err := key.Export()
	require.NoError(t, err)
	assert.Equal(t, "oct", jwk.KeyType)
	assert.Equal(t, "A256GCM", jwk.Algorithm)
	assert.True(t, jwk.Extractable)
	assert.ElementsMatch(t, []string{"encrypt", "decrypt"}, jwk.KeyOps)

	imported, err := ImportKey(jwk)
	require.NoError(t, err)
	assert.Equal(t, exportedMaterial(t, key), exportedMaterial(t, imported))
}

func TestImportKeyRejectsMalformed(t *testing.T) {
	valid := base64.RawURLEncoding.EncodeToString(make([]byte, 32))

	cases := map[string]*JSONWebKey{
		"nil":           nil,
		"wrong type":    {KeyType: "RSA", K: valid},
		"wrong alg":     {KeyType: "oct", Algorithm: "A128GCM", K: valid},
		"short key":     {KeyType: "oct", K: base64.RawURLEncoding.EncodeToString(make([]byte, 16))},
		"bad base64url": {KeyType: "oct", K: "!!!"},
	}
	for name, jwk := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ImportKey(jwk)
			assert.Error(t, err)
		})
	}
}

func TestNilKeyCannotBeUsed(t *testing.T) {
	var key *DerivedKey
	_, err := key.Export()
	assert.True(t, IsInvalidParameterError(err))
}
