package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/utils"
)

// Config is the process configuration read from the environment.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	DatabaseURL    string
	ServiceToken   string
	AdminToken     string

	ProgramID     chain.PublicKey
	EconomicsFile string
	IDLFile       string
	RPCURL        string
	RPCRateLimit  float64

	IPFSAPIURL     string
	NFTMetadataCID string

	TreasuryURL         string
	TreasuryToken       string
	PayoutTimeout       time.Duration
	ReconcileGrace      time.Duration
	PayoutMaxPendingAge time.Duration

	RedisURL string

	SyncServiceURL string
	SyncInterval   time.Duration

	R2 utils.R2Config

	LogFormat string
	LogLevel  string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	} else if err != nil {
		logging.Warn("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv and validates it. All problems are
// reported together.
func FromEnv(getenv func(string) string) (*Config, error) {
	var problems []error
	required := func(key string) string {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			problems = append(problems, fmt.Errorf("%s environment variable not set", key))
		}
		return v
	}
	optional := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}
	duration := func(key string, def time.Duration) time.Duration {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return def
		}
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			problems = append(problems, fmt.Errorf("%s: invalid duration %q", key, v))
			return def
		}
		return d
	}

	cfg := &Config{
		ListenAddr:     optional("LISTEN_ADDR", ":5200"),
		AllowedOrigins: splitOrigins(optional("ALLOWED_ORIGINS", "http://localhost:3000")),
		DatabaseURL:    required("DATABASE_URL"),
		ServiceToken:   required("SERVICE_TOKEN"),
		AdminToken:     optional("ADMIN_TOKEN", ""),
		EconomicsFile:  required("ECONOMICS_FILE"),
		IDLFile:        optional("IDL_FILE", ""),
		RPCURL:         optional("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com"),
		IPFSAPIURL:     optional("IPFS_API_URL", ""),
		NFTMetadataCID: optional("NFT_METADATA_CID", ""),
		TreasuryURL:    optional("TREASURY_URL", ""),
		TreasuryToken:  optional("TREASURY_TOKEN", ""),
		PayoutTimeout:  duration("PAYOUT_TIMEOUT", 45*time.Second),
		ReconcileGrace: duration("RECONCILE_GRACE", 2*time.Minute),
		RedisURL:       optional("REDIS_URL", ""),
		SyncServiceURL: optional("SYNC_SERVICE_URL", ""),
		SyncInterval:   duration("SYNC_INTERVAL", 10*time.Second),
		R2: utils.R2Config{
			AccountID:       optional("CLOUDFLARE_ACCOUNT_ID", ""),
			AccessKeyID:     optional("R2_ACCESS_KEY_ID", ""),
			AccessKeySecret: optional("R2_ACCESS_KEY_SECRET", ""),
			Bucket:          optional("R2_BUCKET_NAME", ""),
			Endpoint:        optional("R2_ENDPOINT", ""),
		},
		LogFormat: optional("LOG_FORMAT", "json"),
		LogLevel:  optional("LOG_LEVEL", "info"),
	}
	// only used when the treasury omits last_valid_block_height
	cfg.PayoutMaxPendingAge = duration("PAYOUT_MAX_PENDING_AGE", 24*time.Hour)

	if raw := required("STAKING_PROGRAM_ID"); raw != "" {
		id, err := chain.ParsePublicKey(raw)
		if err != nil {
			problems = append(problems, fmt.Errorf("STAKING_PROGRAM_ID: %w", err))
		}
		cfg.ProgramID = id
	}

	if raw := optional("RPC_RATE_LIMIT", "10"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil || rps < 0 {
			problems = append(problems, fmt.Errorf("RPC_RATE_LIMIT: invalid rate %q", raw))
		}
		cfg.RPCRateLimit = rps
	}

	if (cfg.IPFSAPIURL == "") != (cfg.NFTMetadataCID == "") {
		problems = append(problems, errors.New("IPFS_API_URL and NFT_METADATA_CID must be set together"))
	}
	if cfg.R2.AccountID != "" && (cfg.R2.AccessKeyID == "" || cfg.R2.AccessKeySecret == "" || cfg.R2.Bucket == "") {
		problems = append(problems, errors.New("R2 export needs R2_ACCESS_KEY_ID, R2_ACCESS_KEY_SECRET and R2_BUCKET_NAME"))
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(problems...))
	}
	return cfg, nil
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
