package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
)

const prefix = "enc:"

// Decrypt decrypts a value encrypted with AES-256-GCM and base64-encoded
// behind the "enc:" prefix, the scheme internal/config uses for secrets
// at rest in its TOML/env sources. If the value doesn't have the
// "enc:" prefix, it's returned as-is (supports reading legacy
// unencrypted data).
func Decrypt(ciphertext, key string) (string, error) {
	if key == "" || ciphertext == "" {
		return ciphertext, nil
	}

	// Not encrypted — return as-is (legacy data)
	if len(ciphertext) < len(prefix) || ciphertext[:len(prefix)] != prefix {
		return ciphertext, nil
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext[len(prefix):])
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertextBytes := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertextBytes, nil)
	if err != nil {
		return "", err
	}

	return string(plaintext), nil
}

// deriveKey pads or truncates the key to exactly 32 bytes for AES-256.
func deriveKey(key string) []byte {
	k := make([]byte, 32)
	copy(k, []byte(key))
	return k
}
