// cmd/derive.go
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"staking-reward-ledger/chain"
)

type deriveOptions struct {
	program   string
	wallet    string
	mint      string
	proposal  string
	reference string
}

var deriveOpts deriveOptions

func newDeriveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Print the program addresses for a wallet, mint or proposal",
		Long: `Print the program-derived addresses the staking program expects.
Only the addresses whose inputs were given are printed; the pool address
is always included.`,
		Example: `  staking-ledger derive --wallet <pubkey> --mint <pubkey>
  staking-ledger derive --wallet <pubkey> --proposal <uuid>`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := deriveOpts
			if opts.program == "" {
				opts.program = os.Getenv("STAKING_PROGRAM_ID")
			}
			out, err := deriveAddresses(opts)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&deriveOpts.program, "program", "", "Staking program id (default: $STAKING_PROGRAM_ID)")
	cmd.Flags().StringVar(&deriveOpts.wallet, "wallet", "", "Wallet public key")
	cmd.Flags().StringVar(&deriveOpts.mint, "mint", "", "NFT mint public key")
	cmd.Flags().StringVar(&deriveOpts.proposal, "proposal", "", "Governance proposal id (needs --wallet)")
	cmd.Flags().StringVar(&deriveOpts.reference, "reference", "", "Social engagement reference id (needs --wallet)")
	return cmd
}

func deriveAddresses(opts deriveOptions) (map[string]chain.DerivedAddress, error) {
	if opts.program == "" {
		return nil, errors.New("--program or STAKING_PROGRAM_ID is required")
	}
	program, err := chain.ParsePublicKey(opts.program)
	if err != nil {
		return nil, fmt.Errorf("--program: %w", err)
	}
	d, err := chain.NewDeriver(program, 0)
	if err != nil {
		return nil, err
	}

	out := make(map[string]chain.DerivedAddress)
	if out["pool"], err = d.Pool(); err != nil {
		return nil, err
	}

	if opts.mint != "" {
		mint, err := chain.ParsePublicKey(opts.mint)
		if err != nil {
			return nil, fmt.Errorf("--mint: %w", err)
		}
		if out["escrow"], err = d.Escrow(mint); err != nil {
			return nil, err
		}
	}

	if opts.wallet == "" {
		if opts.proposal != "" || opts.reference != "" {
			return nil, errors.New("--proposal and --reference need --wallet")
		}
		return out, nil
	}
	wallet, err := chain.ParsePublicKey(opts.wallet)
	if err != nil {
		return nil, fmt.Errorf("--wallet: %w", err)
	}
	if out["stake_record"], err = d.StakeRecord(wallet); err != nil {
		return nil, err
	}
	if opts.reference != "" {
		if out["social_proof"], err = d.SocialProof(wallet, opts.reference); err != nil {
			return nil, err
		}
	}
	if opts.proposal != "" {
		id, err := uuid.Parse(opts.proposal)
		if err != nil {
			return nil, fmt.Errorf("--proposal: %w", err)
		}
		if out["vote_record"], err = d.VoteRecord(id, wallet); err != nil {
			return nil, err
		}
	}
	return out, nil
}
