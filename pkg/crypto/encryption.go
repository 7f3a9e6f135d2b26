// Package crypto provides the secret-field encryption used for backup codes
// and the national-ID column. It is a thin AES-256-GCM wrapper with no key
// rotation; callers treat it as a black box.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const KeyLength = 32 // AES-256

// AESEncryptor encrypts and decrypts short strings with AES-256-GCM.
// Ciphertext is base64(nonce || sealed) with a fresh random nonce per call.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor builds an encryptor from a 32-byte key.
func NewAESEncryptor(key []byte) (*AESEncryptor, error) {
	if len(key) != KeyLength {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", KeyLength, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESEncryptor{aead: aead}, nil
}

func (e *AESEncryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *AESEncryptor) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}

	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", errors.New("malformed ciphertext: too short")
	}

	plaintext, err := e.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plaintext), nil
}
