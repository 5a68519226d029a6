package id

import (
	"encoding/base32"
	"strings"
	"testing"
)

func TestNewIDFormat(t *testing.T) {
	value, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(value) != 26 {
		t.Fatalf("id length = %d, want 26", len(value))
	}
	if value != strings.ToLower(value) {
		t.Fatalf("id %q is not lowercase", value)
	}
	if strings.Contains(value, "=") {
		t.Fatal("id contains padding")
	}

	decoded, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(value))
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if len(decoded) != 16 {
		t.Fatalf("decoded length = %d, want 16", len(decoded))
	}
	if version := decoded[6] >> 4; version != 4 {
		t.Fatalf("uuid version = %d, want 4", version)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		value, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if _, ok := seen[value]; ok {
			t.Fatalf("duplicate id %q", value)
		}
		seen[value] = struct{}{}
	}
}
