package raw

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// KeyLen is the fixed length of a block key in bytes.
const KeyLen = 16

// Key identifies a logical block. Keys are opaque to the backend and are
// never reused once a version has been recorded for them.
type Key [KeyLen]byte

// NewRandomKey returns a fresh random key.
func NewRandomKey() Key {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("failed to generate random key: %v", err))
	}
	return k
}

// ParseKey parses the hex form produced by String.
func ParseKey(s string) (Key, error) {
	var k Key
	if len(s) != hex.EncodedLen(KeyLen) {
		return k, fmt.Errorf("invalid key length: %d characters, expected %d", len(s), hex.EncodedLen(KeyLen))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, fmt.Errorf("invalid key: %w", err)
	}
	return k, nil
}

// String returns the key as lowercase hex.
func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Bytes returns the key as a byte slice.
func (k Key) Bytes() []byte {
	return k[:]
}
