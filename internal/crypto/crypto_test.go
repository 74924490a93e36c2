package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"io"
	"testing"
)

// seal encrypts plaintext the same way values are expected to arrive
// "enc:"-prefixed in config sources. This package only ever decrypts in
// production, so the test builds its own fixture instead of reaching
// for an exported encrypt path that nothing else needs.
func seal(t *testing.T, plaintext, key string) string {
	t.Helper()

	block, err := aes.NewCipher(deriveKey(key))
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("NewGCM failed: %v", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		t.Fatalf("nonce generation failed: %v", err)
	}
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(ciphertext)
}

func TestDecrypt_RoundTripsAValueSealedWithTheSameKey(t *testing.T) {
	key := "my-secret-key-for-testing-12345"
	plaintext := "EAABsbCS1iHgBO..."

	encrypted := seal(t, plaintext, key)
	if encrypted == plaintext {
		t.Fatal("sealed value should differ from plaintext")
	}

	decrypted, err := Decrypt(encrypted, key)
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if decrypted != plaintext {
		t.Fatalf("Decrypted value %q != plaintext %q", decrypted, plaintext)
	}
}

func TestDecrypt_LegacyUnencrypted(t *testing.T) {
	key := "my-secret-key"
	legacy := "plain-text-token-without-prefix"

	decrypted, err := Decrypt(legacy, key)
	if err != nil {
		t.Fatalf("Decrypt legacy failed: %v", err)
	}
	if decrypted != legacy {
		t.Fatalf("Legacy value should be returned as-is, got %q", decrypted)
	}
}

func TestDecrypt_EmptyKeyReturnsCiphertextUnchanged(t *testing.T) {
	plaintext := "some-secret"

	decrypted, err := Decrypt(plaintext, "")
	if err != nil {
		t.Fatalf("Decrypt with empty key failed: %v", err)
	}
	if decrypted != plaintext {
		t.Fatal("Empty key should return ciphertext unchanged")
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1 := "correct-key"
	key2 := "wrong-key"

	encrypted := seal(t, "secret", key1)
	_, err := Decrypt(encrypted, key2)
	if err == nil {
		t.Fatal("Decrypt with wrong key should fail")
	}
}
