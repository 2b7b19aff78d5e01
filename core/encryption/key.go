package encryption

import (
	"encoding/base64"
	"fmt"

	"github.com/awnumar/memguard"
)

const (
	jwkKeyType   = "oct"
	jwkAlgorithm = "A256GCM"
)

// DerivedKey is a 256-bit AES-GCM key. The material lives in a memguard enclave and is
// only decrypted into locked memory for the duration of a single cipher operation.
type DerivedKey struct {
	enclave *memguard.Enclave
}

// newDerivedKey seals material into an enclave. The material slice is wiped.
func newDerivedKey(material []byte) *DerivedKey {
	return &DerivedKey{enclave: memguard.NewEnclave(material)}
}

// use opens the enclave and passes the key material to fn. The material must not escape fn.
func (k *DerivedKey) use(fn func(material []byte) error) error {
	if k == nil || k.enclave == nil {
		return NewInvalidParameterError("key", "key is empty")
	}

	buf, err := k.enclave.Open()
	if err != nil {
		return fmt.Errorf("failed to open key enclave: %w", err)
	}
	defer buf.Destroy()

	return fn(buf.Bytes())
}

// JSONWebKey is the transportable form of a DerivedKey: a symmetric JWK (RFC 7517),
// the same shape browsers produce when exporting an AES-GCM CryptoKey.
type JSONWebKey struct {
	KeyType     string   `json:"kty"`
	K           string   `json:"k"`
	Algorithm   string   `json:"alg"`
	Extractable bool     `json:"ext"`
	KeyOps      []string `json:"key_ops"`
}

// Export converts the key to its JWK form.
func (k *DerivedKey) Export() (*JSONWebKey, error) {
	jwk := &JSONWebKey{
		KeyType:     jwkKeyType,
		Algorithm:   jwkAlgorithm,
		Extractable: true,
		KeyOps:      []string{"encrypt", "decrypt"},
	}
	err := k.use(func(material []byte) error {
		jwk.K = base64.RawURLEncoding.EncodeToString(material)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}
	return jwk, nil
}

// ImportKey re-creates a DerivedKey from its JWK form.
func ImportKey(jwk *JSONWebKey) (*DerivedKey, error) {
	if jwk == nil {
		return nil, NewInvalidParameterError("jwk", "missing")
	}
	if jwk.KeyType != jwkKeyType {
		return nil, NewInvalidParameterError("jwk", fmt.Sprintf("unsupported key type %q", jwk.KeyType))
	}
	if jwk.Algorithm != "" && jwk.Algorithm != jwkAlgorithm {
		return nil, NewInvalidParameterError("jwk", fmt.Sprintf("unsupported algorithm %q", jwk.Algorithm))
	}

	material, err := base64.RawURLEncoding.DecodeString(jwk.K)
	if err != nil {
		return nil, fmt.Errorf("failed to decode key material: %w", err)
	}
	if len(material)*8 != DefaultKeyLength {
		memguard.WipeBytes(material)
		return nil, NewInvalidParameterError("jwk", fmt.Sprintf("key is %d bits, want %d", len(material)*8, DefaultKeyLength))
	}

	return newDerivedKey(material), nil
}
