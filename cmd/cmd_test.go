package cmd

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"staking-reward-ledger/chain"
)

const (
	testProgram = "2HRbXDoT3fpNhiFo8VxM7yeay29jBuxmLbzuq47Xbo43"
	walletA     = "3oi7bCYXnkuyZ5UnUc7JRUJMe69jnVMcpggHN3RjZLDE"
	mint1       = "CcnpRLK4pnA35KjAd2aGZr4GAat16h8oTTKQq9pSZgfe"
)

func TestDeriveAddressesMatchesDeriver(t *testing.T) {
	proposal := uuid.MustParse("6f9619ff-8b86-d011-b42d-00cf4fc964ff")
	out, err := deriveAddresses(deriveOptions{
		program:   testProgram,
		wallet:    walletA,
		mint:      mint1,
		proposal:  proposal.String(),
		reference: "x:1234",
	})
	require.NoError(t, err)

	d, err := chain.NewDeriver(chain.MustPublicKey(testProgram), 0)
	require.NoError(t, err)
	wallet := chain.MustPublicKey(walletA)

	want := map[string]func() (chain.DerivedAddress, error){
		"pool":         d.Pool,
		"escrow":       func() (chain.DerivedAddress, error) { return d.Escrow(chain.MustPublicKey(mint1)) },
		"stake_record": func() (chain.DerivedAddress, error) { return d.StakeRecord(wallet) },
		"social_proof": func() (chain.DerivedAddress, error) { return d.SocialProof(wallet, "x:1234") },
		"vote_record":  func() (chain.DerivedAddress, error) { return d.VoteRecord(proposal, wallet) },
	}
	require.Len(t, out, len(want))
	for name, derive := range want {
		expected, err := derive()
		require.NoError(t, err)
		assert.Equal(t, expected, out[name], name)
	}
}

func TestDeriveAddressesPoolOnly(t *testing.T) {
	out, err := deriveAddresses(deriveOptions{program: testProgram})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Contains(t, out, "pool")
}

func TestDeriveAddressesRejectsBadInput(t *testing.T) {
	cases := map[string]deriveOptions{
		"no program":         {},
		"bad program":        {program: "nope"},
		"bad wallet":         {program: testProgram, wallet: "0OIl"},
		"proposal no wallet": {program: testProgram, proposal: uuid.NewString()},
		"bad proposal":       {program: testProgram, wallet: walletA, proposal: "42"},
	}
	for name, opts := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := deriveAddresses(opts)
			assert.Error(t, err)
		})
	}
}

func TestParseDay(t *testing.T) {
	day, err := parseDay("2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), day)

	today, err := parseDay("")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), today, 24*time.Hour)
	assert.Zero(t, today.Hour())

	_, err = parseDay("03/01/2026")
	assert.Error(t, err)
}
