package chain

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	PublicKeyLength = 32
	SignatureLength = 64
)

// PublicKey is a 32-byte account address, base58 encoded on the wire.
type PublicKey [PublicKeyLength]byte

// ParsePublicKey decodes a base58 account address.
func ParsePublicKey(s string) (PublicKey, error) {
	var key PublicKey
	if s == "" {
		return key, fmt.Errorf("invalid public key: empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return key, fmt.Errorf("invalid public key %q: %w", s, err)
	}
	if len(raw) != PublicKeyLength {
		return key, fmt.Errorf("invalid public key %q: expected %d bytes, got %d", s, PublicKeyLength, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// MustPublicKey is ParsePublicKey for compile-time constants.
func MustPublicKey(s string) PublicKey {
	key, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return key
}

func (k PublicKey) String() string {
	return base58.Encode(k[:])
}

func (k PublicKey) Bytes() []byte {
	return k[:]
}

func (k PublicKey) IsZero() bool {
	return k == PublicKey{}
}

// MarshalText lets keys appear as base58 strings in JSON.
func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsOnCurve reports whether b decodes to a point on the ed25519 curve.
// Non-canonical encodings of valid points count as on-curve.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeyLength {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// ValidateSignature checks that s is a base58 encoded 64-byte transaction signature.
func ValidateSignature(s string) error {
	if s == "" {
		return fmt.Errorf("invalid signature: empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("invalid signature %q: %w", s, err)
	}
	if len(raw) != SignatureLength {
		return fmt.Errorf("invalid signature %q: expected %d bytes, got %d", s, SignatureLength, len(raw))
	}
	return nil
}
