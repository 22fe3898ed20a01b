package chain

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
)

// Seed prefixes shared with the staking program. Changing any of these
// breaks every account the program has already created.
const (
	SeedPool        = "pool"
	SeedEscrow      = "escrow"
	SeedStakeRecord = "stake_record"
	SeedSocialProof = "social_proof"
	SeedVoteRecord  = "vote_record"
)

const defaultDeriverCacheSize = 4096

// DerivedAddress is a program address together with the bump that produced it.
type DerivedAddress struct {
	Address PublicKey `json:"address"`
	Bump    uint8     `json:"bump"`
}

// Deriver computes the protocol's account addresses for one program id.
// Results are cached; derivation is pure so the cache never goes stale.
type Deriver struct {
	program PublicKey
	cache   *lru.Cache
}

// NewDeriver binds a Deriver to program. cacheSize <= 0 picks a default.
func NewDeriver(program PublicKey, cacheSize int) (*Deriver, error) {
	if program.IsZero() {
		return nil, ErrZeroProgramKey
	}
	if cacheSize <= 0 {
		cacheSize = defaultDeriverCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create address cache: %w", err)
	}
	return &Deriver{program: program, cache: cache}, nil
}

func (d *Deriver) Program() PublicKey {
	return d.program
}

// Derive finds the program address for an ordered seed list.
func (d *Deriver) Derive(seeds ...[]byte) (DerivedAddress, error) {
	key := cacheKey(seeds)
	if v, ok := d.cache.Get(key); ok {
		return v.(DerivedAddress), nil
	}
	addr, bump, err := FindProgramAddress(seeds, d.program)
	if err != nil {
		return DerivedAddress{}, err
	}
	derived := DerivedAddress{Address: addr, Bump: bump}
	d.cache.Add(key, derived)
	return derived, nil
}

func (d *Deriver) Pool() (DerivedAddress, error) {
	return d.Derive([]byte(SeedPool))
}

func (d *Deriver) Escrow(mint PublicKey) (DerivedAddress, error) {
	return d.Derive([]byte(SeedEscrow), mint.Bytes())
}

func (d *Deriver) StakeRecord(wallet PublicKey) (DerivedAddress, error) {
	return d.Derive([]byte(SeedStakeRecord), wallet.Bytes())
}

// SocialProof hashes referenceID because reference ids (tx signatures, post
// ids) do not fit the 32 byte seed limit.
func (d *Deriver) SocialProof(wallet PublicKey, referenceID string) (DerivedAddress, error) {
	ref := sha256.Sum256([]byte(referenceID))
	return d.Derive([]byte(SeedSocialProof), wallet.Bytes(), ref[:])
}

func (d *Deriver) VoteRecord(proposalID uuid.UUID, wallet PublicKey) (DerivedAddress, error) {
	return d.Derive([]byte(SeedVoteRecord), proposalID[:], wallet.Bytes())
}

// ProtocolAccounts are the addresses a stake instruction must reference.
type ProtocolAccounts struct {
	Pool        DerivedAddress `json:"pool"`
	Escrow      DerivedAddress `json:"escrow"`
	StakeRecord DerivedAddress `json:"stake_record"`
}

func (d *Deriver) StakeAccounts(wallet, mint PublicKey) (ProtocolAccounts, error) {
	var accounts ProtocolAccounts
	var err error
	if accounts.Pool, err = d.Pool(); err != nil {
		return accounts, fmt.Errorf("derive pool: %w", err)
	}
	if accounts.Escrow, err = d.Escrow(mint); err != nil {
		return accounts, fmt.Errorf("derive escrow: %w", err)
	}
	if accounts.StakeRecord, err = d.StakeRecord(wallet); err != nil {
		return accounts, fmt.Errorf("derive stake record: %w", err)
	}
	return accounts, nil
}

// cacheKey length-prefixes each seed so ["ab","c"] and ["a","bc"] differ.
func cacheKey(seeds [][]byte) string {
	var b strings.Builder
	for _, s := range seeds {
		b.WriteByte(byte(len(s)))
		b.Write(s)
	}
	return b.String()
}
