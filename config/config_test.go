package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":       "postgres://localhost/ledger",
		"SERVICE_TOKEN":      "token",
		"STAKING_PROGRAM_ID": "2HRbXDoT3fpNhiFo8VxM7yeay29jBuxmLbzuq47Xbo43",
		"ECONOMICS_FILE":     "economics.yaml",
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(baseEnv()))
	require.NoError(t, err)

	assert.Equal(t, ":5200", cfg.ListenAddr)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, "2HRbXDoT3fpNhiFo8VxM7yeay29jBuxmLbzuq47Xbo43", cfg.ProgramID.String())
	assert.Equal(t, 10.0, cfg.RPCRateLimit)
	assert.Equal(t, 45*time.Second, cfg.PayoutTimeout)
	assert.False(t, cfg.R2.Enabled())
}

func TestFromEnv_Overrides(t *testing.T) {
	env := baseEnv()
	env["ALLOWED_ORIGINS"] = " https://a.example , https://b.example,"
	env["PAYOUT_TIMEOUT"] = "90s"
	env["RPC_RATE_LIMIT"] = "2.5"
	env["IPFS_API_URL"] = "http://ipfs:5001"
	env["NFT_METADATA_CID"] = "bafy123"

	cfg, err := FromEnv(envMap(env))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 90*time.Second, cfg.PayoutTimeout)
	assert.Equal(t, 2.5, cfg.RPCRateLimit)
}

func TestFromEnv_ReportsEveryProblem(t *testing.T) {
	_, err := FromEnv(envMap(map[string]string{
		"STAKING_PROGRAM_ID": "not-a-key",
		"PAYOUT_TIMEOUT":     "soon",
		"IPFS_API_URL":       "http://ipfs:5001",
	}))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL environment variable not set")
	assert.Contains(t, msg, "SERVICE_TOKEN environment variable not set")
	assert.Contains(t, msg, "STAKING_PROGRAM_ID")
	assert.Contains(t, msg, "PAYOUT_TIMEOUT")
	assert.Contains(t, msg, "NFT_METADATA_CID must be set together")
}
