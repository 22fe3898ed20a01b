package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"staking-reward-ledger/models"
)

// TierDefinition maps an NFT class to its base reward multiplier and
// governance weight.
type TierDefinition struct {
	Name           string
	TraitValue     string
	BaseMultiplier *big.Rat
	VoteWeight     int64
}

// PeriodBonus maps a lock period to its extra multiplier. VoteFactor is
// the governance duration factor earned once a stake has been held for
// Duration.
type PeriodBonus struct {
	Period     models.LockPeriod
	Duration   time.Duration
	Bonus      *big.Rat
	VoteFactor int64
}

type RewardAmounts struct {
	DailyBase   int64
	SocialShare int64
	Referral    int64
}

type GovernanceRules struct {
	// MinVotingPower is exclusive: a wallet votes with more than this.
	MinVotingPower   int64
	FreshStakeFactor int64
}

// Economics is the static, read-only reward and governance reference data.
type Economics struct {
	TraitType  string
	Tiers      []TierDefinition
	Periods    []PeriodBonus // ascending by Duration
	Rewards    RewardAmounts
	Governance GovernanceRules
}

func (e *Economics) Tier(name string) (TierDefinition, bool) {
	for _, t := range e.Tiers {
		if t.Name == name {
			return t, true
		}
	}
	return TierDefinition{}, false
}

func (e *Economics) Period(p models.LockPeriod) (PeriodBonus, bool) {
	for _, pb := range e.Periods {
		if pb.Period == p {
			return pb, true
		}
	}
	return PeriodBonus{}, false
}

// Raw YAML shapes. Pointers distinguish "missing" from zero.
type rawEconomics struct {
	TraitType  *string        `yaml:"trait_type"`
	Tiers      []rawTier      `yaml:"tiers"`
	Periods    []rawPeriod    `yaml:"lock_periods"`
	Rewards    *rawRewards    `yaml:"rewards"`
	Governance *rawGovernance `yaml:"governance"`
}

type rawTier struct {
	Name           *string `yaml:"name"`
	TraitValue     *string `yaml:"trait_value"`
	BaseMultiplier *string `yaml:"base_multiplier"`
	VoteWeight     *int64  `yaml:"vote_weight"`
}

type rawPeriod struct {
	Period     *string        `yaml:"period"`
	Duration   *time.Duration `yaml:"duration"`
	Bonus      *string        `yaml:"bonus"`
	VoteFactor *int64         `yaml:"vote_factor"`
}

type rawRewards struct {
	DailyBase   *int64 `yaml:"daily_base"`
	SocialShare *int64 `yaml:"social_share"`
	Referral    *int64 `yaml:"referral"`
}

type rawGovernance struct {
	MinVotingPower   *int64 `yaml:"min_voting_power"`
	FreshStakeFactor *int64 `yaml:"fresh_stake_factor"`
}

// LoadEconomics reads and validates the economics file.
func LoadEconomics(path string) (*Economics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read economics file: %w", err)
	}
	econ, err := ParseEconomics(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return econ, nil
}

// ParseEconomics decodes economics YAML. Every field is required; nothing
// is defaulted.
func ParseEconomics(data []byte) (*Economics, error) {
	var raw rawEconomics
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse economics: %w", err)
	}

	v := &validator{}
	econ := &Economics{}

	econ.TraitType = v.str("trait_type", raw.TraitType)

	if len(raw.Tiers) == 0 {
		v.add("tiers: at least one tier is required")
	}
	seenTier := map[string]bool{}
	seenTrait := map[string]bool{}
	for i, rt := range raw.Tiers {
		field := fmt.Sprintf("tiers[%d]", i)
		t := TierDefinition{
			Name:           v.str(field+".name", rt.Name),
			TraitValue:     v.str(field+".trait_value", rt.TraitValue),
			BaseMultiplier: v.rat(field+".base_multiplier", rt.BaseMultiplier),
			VoteWeight:     v.nonNegative(field+".vote_weight", rt.VoteWeight),
		}
		if t.Name != "" {
			if seenTier[t.Name] {
				v.add("%s.name: duplicate tier %q", field, t.Name)
			}
			seenTier[t.Name] = true
		}
		if t.TraitValue != "" {
			if seenTrait[t.TraitValue] {
				v.add("%s.trait_value: %q already mapped to another tier", field, t.TraitValue)
			}
			seenTrait[t.TraitValue] = true
		}
		econ.Tiers = append(econ.Tiers, t)
	}

	if len(raw.Periods) == 0 {
		v.add("lock_periods: at least one period is required")
	}
	seenPeriod := map[models.LockPeriod]bool{}
	for i, rp := range raw.Periods {
		field := fmt.Sprintf("lock_periods[%d]", i)
		p := PeriodBonus{
			Period:     models.LockPeriod(v.str(field+".period", rp.Period)),
			Bonus:      v.rat(field+".bonus", rp.Bonus),
			VoteFactor: v.nonNegative(field+".vote_factor", rp.VoteFactor),
		}
		if rp.Duration == nil {
			v.add("%s.duration: missing required field", field)
		} else if *rp.Duration <= 0 {
			v.add("%s.duration: must be positive", field)
		} else {
			p.Duration = *rp.Duration
		}
		if p.Period != "" && !p.Period.Valid() {
			v.add("%s.period: unknown lock period %q", field, p.Period)
		}
		if seenPeriod[p.Period] {
			v.add("%s.period: duplicate period %q", field, p.Period)
		}
		seenPeriod[p.Period] = true
		econ.Periods = append(econ.Periods, p)
	}
	sort.SliceStable(econ.Periods, func(i, j int) bool {
		return econ.Periods[i].Duration < econ.Periods[j].Duration
	})
	for i := 1; i < len(econ.Periods); i++ {
		if econ.Periods[i].Duration > 0 && econ.Periods[i].Duration == econ.Periods[i-1].Duration {
			v.add("lock_periods: %q and %q share duration %s", econ.Periods[i-1].Period, econ.Periods[i].Period, econ.Periods[i].Duration)
		}
	}

	if raw.Rewards == nil {
		v.add("rewards: missing required section")
	} else {
		econ.Rewards = RewardAmounts{
			DailyBase:   v.nonNegative("rewards.daily_base", raw.Rewards.DailyBase),
			SocialShare: v.nonNegative("rewards.social_share", raw.Rewards.SocialShare),
			Referral:    v.nonNegative("rewards.referral", raw.Rewards.Referral),
		}
	}

	if raw.Governance == nil {
		v.add("governance: missing required section")
	} else {
		econ.Governance = GovernanceRules{
			MinVotingPower:   v.nonNegative("governance.min_voting_power", raw.Governance.MinVotingPower),
			FreshStakeFactor: v.nonNegative("governance.fresh_stake_factor", raw.Governance.FreshStakeFactor),
		}
	}

	if err := v.err(); err != nil {
		return nil, err
	}
	return econ, nil
}

var ErrInvalidEconomics = errors.New("invalid economics configuration")

type validator struct {
	problems []error
}

func (v *validator) add(format string, args ...any) {
	v.problems = append(v.problems, fmt.Errorf(format, args...))
}

func (v *validator) str(field string, s *string) string {
	if s == nil || *s == "" {
		v.add("%s: missing required field", field)
		return ""
	}
	return *s
}

func (v *validator) nonNegative(field string, n *int64) int64 {
	if n == nil {
		v.add("%s: missing required field", field)
		return 0
	}
	if *n < 0 {
		v.add("%s: must not be negative, got %d", field, *n)
		return 0
	}
	return *n
}

// rat parses "3/2" or "1.5". Multipliers must be positive.
func (v *validator) rat(field string, s *string) *big.Rat {
	if s == nil || *s == "" {
		v.add("%s: missing required field", field)
		return nil
	}
	r, ok := new(big.Rat).SetString(*s)
	if !ok {
		v.add("%s: %q is not a rational number", field, *s)
		return nil
	}
	if r.Sign() <= 0 {
		v.add("%s: must be positive, got %s", field, *s)
		return nil
	}
	return r
}

func (v *validator) err() error {
	if len(v.problems) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidEconomics, errors.Join(v.problems...))
}
