// Package secrets encrypts router credentials at rest.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Sealed format (base64-encoded in storage):
//   salt  (16 bytes): random, for Argon2id
//   nonce (12 bytes): random, for AES-256-GCM
//   ciphertext (rest): AES-256-GCM encrypted password (includes 16-byte auth tag)

const (
	saltSize  = 16
	nonceSize = 12
)

// Box seals and opens short secrets with a key derived from a master passphrase.
type Box struct {
	passphrase string
}

func NewBox(passphrase string) *Box {
	return &Box{passphrase: passphrase}
}

func (b *Box) deriveKey(salt []byte) []byte {
	return argon2.IDKey([]byte(b.passphrase), salt, 3, 64*1024, 4, 32)
}

// Seal encrypts plaintext and returns a base64 token suitable for storage.
func (b *Box) Seal(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("secrets: generate salt: %w", err)
	}

	block, err := aes.NewCipher(b.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("secrets: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a token produced by Seal.
func (b *Box) Open(token string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("secrets: decode token: %w", err)
	}
	if len(data) < saltSize+nonceSize {
		return "", fmt.Errorf("secrets: token too short")
	}

	salt := data[:saltSize]
	nonce := data[saltSize : saltSize+nonceSize]
	ciphertext := data[saltSize+nonceSize:]

	block, err := aes.NewCipher(b.deriveKey(salt))
	if err != nil {
		return "", fmt.Errorf("secrets: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("secrets: gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secrets: decryption failed (wrong secret key?): %w", err)
	}
	return string(plaintext), nil
}

// GenerateKey returns a fresh random passphrase for use as the master secret key.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("secrets: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
