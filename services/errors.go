// services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"staking-reward-ledger/chain"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("already exists")
	ErrEmptyClaim     = errors.New("no claimable rewards")
	ErrClaimState     = errors.New("claim cannot make this transition")
	ErrNotFound       = errors.New("not found")
	ErrInvalidProof   = errors.New("invalid engagement proof")
	ErrAlreadyVoted   = errors.New("wallet already voted on this proposal")
	ErrIneligible     = errors.New("insufficient voting power")
	ErrWindowClosed   = errors.New("proposal is not open for voting")
	ErrUnclassifiable = errors.New("nft does not match any tier")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func invalidProof(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidProof, fmt.Sprintf(format, args...))
}

// validateWallet checks that wallet is a base58 account address.
func validateWallet(wallet string) (chain.PublicKey, error) {
	if strings.TrimSpace(wallet) == "" {
		return chain.PublicKey{}, invalid("wallet is required")
	}
	key, err := chain.ParsePublicKey(wallet)
	if err != nil {
		return chain.PublicKey{}, invalid("wallet: %v", err)
	}
	return key, nil
}
