// Package id generates URL-safe identifiers.
//
// An identifier is the 16 bytes of a UUIDv4 encoded as unpadded RFC 4648
// base32, lowercased: 26 characters, safe for URLs and file paths.
package id

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewID returns a new 26-character lowercase identifier.
func NewID() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return strings.ToLower(encoding.EncodeToString(value[:])), nil
}
