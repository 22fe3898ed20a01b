package chain

import (
	"crypto/sha256"
	"errors"
	"fmt"
)

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrTooManySeeds   = errors.New("too many seeds")
	ErrMaxSeedLength  = errors.New("seed exceeds max length")
	ErrOnCurve        = errors.New("derived address falls on the ed25519 curve")
	ErrNoViableBump   = errors.New("unable to find a viable program address bump seed")
	ErrZeroProgramKey = errors.New("program id is the zero key")
)

// CreateProgramAddress hashes seeds with the program id into an address
// that no private key can sign for. It fails when the digest lands on the
// curve; callers normally want FindProgramAddress instead.
func CreateProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, error) {
	var out PublicKey
	if len(seeds) > MaxSeeds {
		return out, fmt.Errorf("%w: %d > %d", ErrTooManySeeds, len(seeds), MaxSeeds)
	}
	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return out, fmt.Errorf("%w: seed %d is %d bytes", ErrMaxSeedLength, i, len(seed))
		}
		h.Write(seed)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))
	sum := h.Sum(nil)

	if IsOnCurve(sum) {
		return out, ErrOnCurve
	}
	copy(out[:], sum)
	return out, nil
}

// FindProgramAddress appends a one byte bump to seeds, counting down from
// 255, and returns the first off-curve address with its bump. This is the
// same search the on-chain program runs, so both sides agree bit for bit.
func FindProgramAddress(seeds [][]byte, program PublicKey) (PublicKey, uint8, error) {
	if program.IsZero() {
		return PublicKey{}, 0, ErrZeroProgramKey
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		addr, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return PublicKey{}, 0, err
		}
	}
	return PublicKey{}, 0, ErrNoViableBump
}
