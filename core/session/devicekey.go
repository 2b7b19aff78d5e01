package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

const (
	hashKeyLength  = 32
	blockKeyLength = 32
)

// DeviceKeys seal the session jar. They never leave the device.
type DeviceKeys struct {
	HashKey  []byte
	BlockKey []byte
}

// LoadOrCreateDeviceKeys reads the device key file at path. If the file doesn't exist,
// fresh keys are generated and written with owner-only permissions.
func LoadOrCreateDeviceKeys(path string) (*DeviceKeys, error) {
	encoded, err := os.ReadFile(path)
	if err == nil {
		raw, err := base64.StdEncoding.DecodeString(string(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to decode device key file: %w", err)
		}
		if len(raw) != hashKeyLength+blockKeyLength {
			return nil, fmt.Errorf("device key file has %d bytes, want %d", len(raw), hashKeyLength+blockKeyLength)
		}
		return splitDeviceKeys(raw), nil
	}

	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read device key file: %w", err)
	}

	raw := make([]byte, hashKeyLength+blockKeyLength)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate device keys: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create device key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(raw)), 0600); err != nil {
		return nil, fmt.Errorf("failed to save device key file: %w", err)
	}

	return splitDeviceKeys(raw), nil
}

func splitDeviceKeys(raw []byte) *DeviceKeys {
	return &DeviceKeys{
		HashKey:  raw[:hashKeyLength],
		BlockKey: raw[hashKeyLength:],
	}
}
