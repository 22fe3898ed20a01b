// services/social.go
package services

import (
	"context"
	"errors"
	"net/url"
	"regexp"
	"strings"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
	"staking-reward-ledger/models"
)

// Platform names a social network that engagement proofs come from.
type Platform string

const (
	PlatformX        Platform = "x"
	PlatformTwitter  Platform = "twitter"
	PlatformTelegram Platform = "telegram"
	PlatformSolana   Platform = "solana"
)

// EngagementProof is the platform-specific evidence of an engagement.
// Only the field belonging to the platform is read.
type EngagementProof struct {
	PostURL     string `json:"post_url,omitempty"`
	MessageLink string `json:"message_link,omitempty"`
	TxSignature string `json:"tx_signature,omitempty"`
}

type Engagement struct {
	Wallet      string
	ReferenceID string
	Platform    Platform
	RewardType  models.RewardType
	Proof       EngagementProof
}

type EngagementResult struct {
	Reward      *models.RewardRecord `json:"reward"`
	SocialProof chain.DerivedAddress `json:"social_proof"`
}

var (
	numericID     = regexp.MustCompile(`^[0-9]{1,25}$`)
	tgChannel     = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)
	xHandle       = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)
	xHosts        = map[string]bool{"x.com": true, "www.x.com": true, "twitter.com": true, "www.twitter.com": true, "mobile.twitter.com": true}
	telegramHosts = map[string]bool{"t.me": true, "telegram.me": true}
)

// SocialGate validates engagement proofs and credits them once each. The
// ledger's uniqueness key is the only duplicate check.
type SocialGate struct {
	ledger  RewardLedger
	deriver *chain.Deriver
	amount  int64
	metrics *metrics.Metrics
}

func NewSocialGate(ledger RewardLedger, deriver *chain.Deriver, amount int64, m *metrics.Metrics) *SocialGate {
	return &SocialGate{ledger: ledger, deriver: deriver, amount: amount, metrics: m}
}

// RecordEngagement returns ErrInvalidProof for a malformed proof and
// ErrConflict when the same engagement was already rewarded.
func (g *SocialGate) RecordEngagement(ctx context.Context, e Engagement) (*EngagementResult, error) {
	walletKey, err := validateWallet(e.Wallet)
	if err != nil {
		return nil, err
	}
	if e.RewardType == "" {
		e.RewardType = models.RewardTypeSocialShare
	}
	if e.RewardType != models.RewardTypeSocialShare {
		return nil, invalid("reward_type %q is not an engagement reward", e.RewardType)
	}

	ref, err := canonicalReference(e)
	if err != nil {
		return nil, err
	}
	proof, err := g.deriver.SocialProof(walletKey, ref)
	if err != nil {
		return nil, err
	}

	rec, err := g.ledger.Credit(ctx, e.Wallet, g.amount, e.RewardType, ref)
	if errors.Is(err, ErrConflict) {
		g.metrics.RewardDuplicate(string(e.RewardType))
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	g.metrics.RewardCredited(string(e.RewardType))
	logging.InfoContext(ctx, "engagement rewarded",
		logging.Wallet(e.Wallet),
		"platform", e.Platform,
		"reference_id", ref,
	)
	return &EngagementResult{Reward: rec, SocialProof: proof}, nil
}

// canonicalReference validates the proof and returns the ledger reference
// id for it. Equivalent proofs (x.com vs twitter.com links) map to the
// same id.
func canonicalReference(e Engagement) (string, error) {
	platform := Platform(strings.ToLower(strings.TrimSpace(string(e.Platform))))
	if platform == "" && e.Proof.TxSignature != "" {
		platform = PlatformSolana
	}
	ref := strings.TrimSpace(e.ReferenceID)

	switch platform {
	case PlatformX, PlatformTwitter:
		u, err := parseProofURL(e.Proof.PostURL, xHosts)
		if err != nil {
			return "", err
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) < 3 || parts[1] != "status" || !xHandle.MatchString(parts[0]) || !numericID.MatchString(parts[2]) {
			return "", invalidProof("post_url must look like https://x.com/<handle>/status/<id>")
		}
		if ref != "" && ref != parts[2] {
			return "", invalidProof("reference_id does not match the post id")
		}
		return "x:" + parts[2], nil

	case PlatformTelegram:
		u, err := parseProofURL(e.Proof.MessageLink, telegramHosts)
		if err != nil {
			return "", err
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) != 2 || !tgChannel.MatchString(parts[0]) || !numericID.MatchString(parts[1]) {
			return "", invalidProof("message_link must look like https://t.me/<channel>/<id>")
		}
		id := strings.ToLower(parts[0]) + "/" + parts[1]
		if ref != "" && !strings.EqualFold(ref, id) {
			return "", invalidProof("reference_id does not match the message")
		}
		return "telegram:" + id, nil

	case PlatformSolana:
		sig := strings.TrimSpace(e.Proof.TxSignature)
		if sig == "" {
			sig = ref
		}
		if err := chain.ValidateSignature(sig); err != nil {
			return "", invalidProof("tx signature: %v", err)
		}
		if ref != "" && ref != sig {
			return "", invalidProof("reference_id does not match the transaction signature")
		}
		return sig, nil

	case "":
		return "", invalidProof("platform is required")
	default:
		return "", invalidProof("unsupported platform %q", platform)
	}
}

func parseProofURL(raw string, hosts map[string]bool) (*url.URL, error) {
	if raw == "" {
		return nil, invalidProof("proof link is required")
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalidProof("proof link: %v", err)
	}
	if u.Scheme != "https" {
		return nil, invalidProof("proof link must use https")
	}
	if !hosts[strings.ToLower(u.Hostname())] {
		return nil, invalidProof("proof link host %q is not accepted", u.Hostname())
	}
	return u, nil
}
