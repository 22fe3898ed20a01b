// cmd/app.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/config"
	"staking-reward-ledger/database"
	"staking-reward-ledger/handlers"
	"staking-reward-ledger/locks"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
	"staking-reward-ledger/services"
	"staking-reward-ledger/utils"
	"staking-reward-ledger/workers"
)

const (
	deriverCacheSize  = 4096
	metadataCacheSize = 2048
)

// app holds every long-lived dependency of the process.
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	redis   *redis.Client
	metrics *metrics.Metrics

	ledger     services.RewardLedger
	stakes     services.StakeStore
	claims     *services.ClaimService
	accrual    *services.AccrualService
	exporter   *services.LedgerExporter
	social     *services.SocialGate
	tiers      *services.TierEngine
	staking    *services.StakingService
	governance *services.GovernanceEngine
	referrals  *services.ReferralService
	syncWorker *workers.StakeSyncWorker
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	econ, err := config.LoadEconomics(cfg.EconomicsFile)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: db, metrics: metrics.New()}

	deriver, err := chain.NewDeriver(cfg.ProgramID, deriverCacheSize)
	if err != nil {
		a.Close()
		return nil, err
	}

	var idl *chain.IDL
	if cfg.IDLFile != "" {
		if idl, err = chain.LoadIDL(cfg.IDLFile); err != nil {
			a.Close()
			return nil, err
		}
	}

	rpcCfg := chain.DefaultRPCConfig(cfg.RPCURL)
	rpcCfg.RateLimit = cfg.RPCRateLimit
	rpc := chain.NewRPCClient(rpcCfg)

	var locker locks.Locker = locks.NewLocalLocker()
	if cfg.RedisURL != "" {
		client, err := locks.Connect(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		locker = locks.NewRedisLocker(client, "staking-ledger:lock:", cfg.PayoutTimeout+cfg.ReconcileGrace)
		logging.Info("claim locks shared through redis")
	}

	var attrs services.AttributeSource = services.NewStaticAttributeSource()
	if cfg.IPFSAPIURL != "" {
		if attrs, err = services.NewIPFSAttributeSource(cfg.IPFSAPIURL, cfg.NFTMetadataCID, metadataCacheSize); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logging.Warn("⚠️  IPFS_API_URL not set, staking prepare cannot classify NFTs")
	}

	var payouts services.PayoutRequester
	if cfg.TreasuryURL != "" {
		payouts = chain.NewPayoutClient(cfg.TreasuryURL, cfg.TreasuryToken, cfg.PayoutTimeout)
	} else {
		logging.Warn("⚠️  TREASURY_URL not set, claims stay pending until reconciled by an operator")
	}

	a.ledger = services.NewRewardService(db)
	a.stakes = services.NewGormStakeStore(db)
	a.tiers = services.NewTierEngine(econ)
	a.referrals = services.NewReferralService(services.NewGormReferralStore(db), a.ledger, econ.Rewards.Referral)
	a.social = services.NewSocialGate(a.ledger, deriver, econ.Rewards.SocialShare, a.metrics)
	a.accrual = services.NewAccrualService(a.stakes, a.ledger, econ.Rewards.DailyBase, a.metrics)
	a.governance = services.NewGovernanceEngine(a.stakes, services.NewGormGovernanceStore(db), econ, deriver, a.metrics)
	a.staking = services.NewStakingService(services.StakingDeps{
		Tiers:      a.tiers,
		Attributes: attrs,
		Deriver:    deriver,
		Chain:      rpc,
		IDL:        idl,
		Stakes:     a.stakes,
		Referrals:  a.referrals,
		Metrics:    a.metrics,
	})

	opts := services.DefaultClaimOptions()
	opts.PayoutTimeout = cfg.PayoutTimeout
	opts.ReconcileGrace = cfg.ReconcileGrace
	opts.MaxPendingAge = cfg.PayoutMaxPendingAge
	a.claims = services.NewClaimService(a.ledger, locker, payouts, rpc, a.metrics, opts)

	if cfg.R2.Enabled() {
		r2, err := utils.NewR2Client(ctx, cfg.R2)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.exporter = services.NewLedgerExporter(a.ledger, r2)
	}

	if cfg.SyncServiceURL != "" {
		client := workers.NewStakeSyncClient(cfg.SyncServiceURL, cfg.ServiceToken)
		a.syncWorker = workers.NewStakeSyncWorker(client, a.stakes, &workers.GormCursorStore{DB: db}, cfg.SyncInterval, a.metrics)
	}
	return a, nil
}

func (a *app) routes() handlers.Deps {
	return handlers.Deps{
		Ledger:       a.ledger,
		Claims:       a.claims,
		Social:       a.social,
		Stream:       services.NewRewardStreamer(a.ledger, 0),
		Tiers:        a.tiers,
		Staking:      a.staking,
		Governance:   a.governance,
		Referrals:    a.referrals,
		ServiceToken: a.cfg.ServiceToken,
		AdminToken:   a.cfg.AdminToken,
	}
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close app: %w", err)
	}
	return nil
}
