// Package secret seals token payloads before they touch persistent storage.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrOpenFailed indicates a sealed value could not be decrypted under the
// current key. Callers must treat this differently from a missing value.
var ErrOpenFailed = errors.New("sealed value cannot be opened")

// Sealer encrypts and decrypts small secret payloads.
type Sealer interface {
	Seal(value string) (string, error)
	Open(sealed string) (string, error)
}

// AESGCMSealer seals and opens secrets using AES-GCM.
type AESGCMSealer struct {
	aead cipher.AEAD
}

// NewAESGCMSealer builds an AES-GCM sealer from a raw AES key.
// key must be a valid AES length (16/24/32 bytes).
func NewAESGCMSealer(key []byte) (*AESGCMSealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &AESGCMSealer{aead: aead}, nil
}

// KeyFromBase64 decodes a configured encryption key. Standard and URL-safe
// encodings are both accepted, with or without padding.
func KeyFromBase64(encoded string) ([]byte, error) {
	for _, encoding := range []*base64.Encoding{
		base64.StdEncoding, base64.RawStdEncoding,
		base64.URLEncoding, base64.RawURLEncoding,
	} {
		if key, err := encoding.DecodeString(encoded); err == nil {
			return key, nil
		}
	}
	return nil, fmt.Errorf("encryption key is not valid base64")
}

// Seal encrypts one plaintext value and returns a base64-encoded payload.
func (s *AESGCMSealer) Seal(value string) (string, error) {
	if s == nil || s.aead == nil {
		return "", fmt.Errorf("sealer is not configured")
	}

	// AES-GCM requires a unique nonce per encryption under the same key.
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := s.aead.Seal(nil, nonce, []byte(value), nil)
	// Persist as nonce || ciphertext, encoded in raw base64 for storage.
	payload := append(nonce, ciphertext...)
	return base64.RawStdEncoding.EncodeToString(payload), nil
}

// Open decrypts one previously sealed value. Any decode or decryption
// failure is reported as ErrOpenFailed so callers can distinguish
// key-rotation damage from absence.
func (s *AESGCMSealer) Open(sealed string) (string, error) {
	if s == nil || s.aead == nil {
		return "", fmt.Errorf("sealer is not configured")
	}

	payload, err := base64.RawStdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: decode payload: %v", ErrOpenFailed, err)
	}

	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize {
		return "", fmt.Errorf("%w: payload is too short", ErrOpenFailed)
	}
	// Payload format is nonce || ciphertext.
	nonce := payload[:nonceSize]
	ciphertext := payload[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return string(plaintext), nil
}
