// services/tier.go
package services

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"staking-reward-ledger/config"
	"staking-reward-ledger/models"
)

// TierEngine turns NFT attributes and a lock period into stake economics.
// It only reads the static economics tables.
type TierEngine struct {
	econ *config.Economics
}

func NewTierEngine(econ *config.Economics) *TierEngine {
	return &TierEngine{econ: econ}
}

// Classify matches the configured trait against each tier's trait value,
// ignoring case and surrounding space.
func (e *TierEngine) Classify(attrs []Attribute) (config.TierDefinition, error) {
	var value string
	found := false
	for _, a := range attrs {
		if strings.EqualFold(strings.TrimSpace(a.TraitType), e.econ.TraitType) {
			value = strings.TrimSpace(a.String())
			found = true
			break
		}
	}
	if !found {
		return config.TierDefinition{}, fmt.Errorf("%w: missing %q attribute", ErrUnclassifiable, e.econ.TraitType)
	}
	for _, t := range e.econ.Tiers {
		if strings.EqualFold(t.TraitValue, value) {
			return t, nil
		}
	}
	return config.TierDefinition{}, fmt.Errorf("%w: %s %q", ErrUnclassifiable, e.econ.TraitType, value)
}

// ComputeMultiplier is the tier's base multiplier times the period bonus.
// The result is a fresh value the caller may keep.
func (e *TierEngine) ComputeMultiplier(tier string, period models.LockPeriod) (*big.Rat, error) {
	t, ok := e.econ.Tier(tier)
	if !ok {
		return nil, invalid("unknown tier %q", tier)
	}
	p, ok := e.econ.Period(period)
	if !ok {
		return nil, invalid("unknown lock period %q", period)
	}
	return new(big.Rat).Mul(t.BaseMultiplier, p.Bonus), nil
}

func (e *TierEngine) LockDuration(period models.LockPeriod) (time.Duration, error) {
	p, ok := e.econ.Period(period)
	if !ok {
		return 0, invalid("unknown lock period %q", period)
	}
	return p.Duration, nil
}

// UnlockAt is when a stake made at stakedAt with period may be withdrawn.
func (e *TierEngine) UnlockAt(stakedAt time.Time, period models.LockPeriod) (time.Time, error) {
	d, err := e.LockDuration(period)
	if err != nil {
		return time.Time{}, err
	}
	return stakedAt.Add(d), nil
}

// TierView is the public shape of the economics tables.
type TierView struct {
	Tiers   []TierInfo   `json:"tiers"`
	Periods []PeriodInfo `json:"periods"`
}

type TierInfo struct {
	Name           string `json:"name"`
	TraitValue     string `json:"trait_value"`
	BaseMultiplier string `json:"base_multiplier"`
	VoteWeight     int64  `json:"vote_weight"`
}

type PeriodInfo struct {
	Period     models.LockPeriod `json:"period"`
	Days       int64             `json:"days"`
	Bonus      string            `json:"bonus"`
	VoteFactor int64             `json:"vote_factor"`
}

func (e *TierEngine) View() TierView {
	view := TierView{
		Tiers:   make([]TierInfo, 0, len(e.econ.Tiers)),
		Periods: make([]PeriodInfo, 0, len(e.econ.Periods)),
	}
	for _, t := range e.econ.Tiers {
		view.Tiers = append(view.Tiers, TierInfo{
			Name:           t.Name,
			TraitValue:     t.TraitValue,
			BaseMultiplier: t.BaseMultiplier.RatString(),
			VoteWeight:     t.VoteWeight,
		})
	}
	for _, p := range e.econ.Periods {
		view.Periods = append(view.Periods, PeriodInfo{
			Period:     p.Period,
			Days:       int64(p.Duration / (24 * time.Hour)),
			Bonus:      p.Bonus.RatString(),
			VoteFactor: p.VoteFactor,
		})
	}
	return view
}
