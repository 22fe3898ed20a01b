package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gorm.io/gorm"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/config"
	"staking-reward-ledger/database"
	"staking-reward-ledger/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

const (
	testProgram = "2HRbXDoT3fpNhiFo8VxM7yeay29jBuxmLbzuq47Xbo43"
	walletA     = "3oi7bCYXnkuyZ5UnUc7JRUJMe69jnVMcpggHN3RjZLDE"
	walletB     = "ErwPk1UaDG3GKKGYfbaRFa6TDwTe1aSo3BhWiR5V2zGr"
	walletC     = "7VM3Wq7ejmSc1GQ993mjguzBhcm8pfLvCiU7dNoyeJwk"
	mint1       = "CcnpRLK4pnA35KjAd2aGZr4GAat16h8oTTKQq9pSZgfe"
	mint2       = "o5NbBLfzj32SGMF8NA72aE8iN43VsdEHob8EKYqjV6h"
	mint3       = "8jqiLmWixCrFcoVDPKBHf5RfrvNeZ5t8k38brSrPAebz"
	sig1        = "3f2JnyXs9bkYVhWPjKkRv5BTHputGEVHgF2ybSLthCJmZSpwF2DAq69G7gwyUwzmWSehjsgr5Cvkfebue8PxsQNa"
	sig2        = "2eqSD7GVPuo4W59vxHEwsWXXSvqdWepgujKUqJs95k16AQK5enWpjXL9fpS27iBiVnyhN9oLsRVWjby5ef65Y3GK"
	sig3        = "45KkmKhMNJQRtEv9S6SCQHKWiYLh1dX7tBzBQQ5XEs8SHuUbsv326vvge7uM5yZUzx7svCMNbPsvKxZ5MaA7mDfk"
	sig4        = "4kyVVAVPDYkf88ZKU49x3zgELDsU2CAZigdLfQ7Yp1Rg24YqcE7xK8kMB7BFfebHD5MS1CXt6qaTPiXsrq1vExjn"
)

const testEconomicsYAML = `
trait_type: Rarity
tiers:
  - {name: common, trait_value: Common, base_multiplier: "1", vote_weight: 1}
  - {name: rare, trait_value: Rare, base_multiplier: "3/2", vote_weight: 2}
  - {name: legendary, trait_value: Legendary, base_multiplier: "2", vote_weight: 4}
lock_periods:
  - {period: short, duration: 720h, bonus: "1", vote_factor: 1}
  - {period: medium, duration: 2160h, bonus: "5/4", vote_factor: 2}
  - {period: long, duration: 4320h, bonus: "3/2", vote_factor: 3}
rewards:
  daily_base: 1000000
  social_share: 250000
  referral: 5000000
governance:
  min_voting_power: 0
  fresh_stake_factor: 1
`

func testEconomics(t *testing.T) *config.Economics {
	t.Helper()
	econ, err := config.ParseEconomics([]byte(testEconomicsYAML))
	require.NoError(t, err)
	return econ
}

func testDeriver(t *testing.T) *chain.Deriver {
	t.Helper()
	d, err := chain.NewDeriver(chain.MustPublicKey(testProgram), 64)
	require.NoError(t, err)
	return d
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock {
	return &clock{t: t}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeChain is an in-memory ChainReader.
type fakeChain struct {
	mu          sync.Mutex
	txs         map[string]*chain.Transaction
	statuses    map[string]*chain.SignatureStatus
	statusErr   error
	accounts    map[chain.PublicKey]*chain.AccountInfo
	blockHeight uint64
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		txs:      make(map[string]*chain.Transaction),
		statuses: make(map[string]*chain.SignatureStatus),
		accounts: make(map[chain.PublicKey]*chain.AccountInfo),
	}
}

// land records a transaction with the given on-chain error ("null" for
// success) and account keys.
func (f *fakeChain) land(t *testing.T, sig string, blockTime time.Time, errJSON string, keys ...string) {
	t.Helper()
	f.store(t, sig, fmt.Sprintf(`{"slot":42,"blockTime":%d,"meta":{"err":%s},"transaction":{"signatures":[%q],"message":{"accountKeys":%s}}}`,
		blockTime.Unix(), errJSON, sig, mustJSON(t, keys)))
}

// landCall records a successful transaction holding one instruction to
// program with data, passing accounts in order.
func (f *fakeChain) landCall(t *testing.T, sig string, blockTime time.Time, program string, data []byte, accounts ...string) {
	t.Helper()
	keys := append(append([]string(nil), accounts...), program)
	idx := make([]int, len(accounts))
	for i := range idx {
		idx[i] = i
	}
	f.store(t, sig, fmt.Sprintf(`{"slot":42,"blockTime":%d,"meta":{"err":null},"transaction":{"signatures":[%q],"message":{"accountKeys":%s,"instructions":[{"programIdIndex":%d,"accounts":%s,"data":%q}]}}}`,
		blockTime.Unix(), sig, mustJSON(t, keys), len(accounts), mustJSON(t, idx), base58.Encode(data)))
}

func (f *fakeChain) store(t *testing.T, sig, raw string) {
	t.Helper()
	var tx chain.Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[sig] = &tx
}

func (f *fakeChain) setStatus(t *testing.T, sig, confirmation, errJSON string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sig] = &chain.SignatureStatus{
		Slot:               42,
		ConfirmationStatus: confirmation,
		Err:                json.RawMessage(errJSON),
	}
}

func (f *fakeChain) GetTransaction(ctx context.Context, signature string) (*chain.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[signature]
	if !ok {
		return nil, fmt.Errorf("%s: %w", signature, chain.ErrTransactionNotFound)
	}
	return tx, nil
}

func (f *fakeChain) GetSignatureStatus(ctx context.Context, signature string) (*chain.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status, ok := f.statuses[signature]
	if !ok {
		return nil, fmt.Errorf("%s: %w", signature, chain.ErrTransactionNotFound)
	}
	return status, nil
}

func (f *fakeChain) setBlockHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blockHeight = h
}

func (f *fakeChain) GetBlockHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.blockHeight, nil
}

func (f *fakeChain) GetAccountInfo(ctx context.Context, address chain.PublicKey) (*chain.AccountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, chain.ErrAccountNotFound)
	}
	return info, nil
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func credit(t *testing.T, l RewardLedger, wallet string, amount int64, ref string) *models.RewardRecord {
	t.Helper()
	rec, err := l.Credit(context.Background(), wallet, amount, models.RewardTypeSocialShare, ref)
	require.NoError(t, err)
	return rec
}

// testWallets are the only wallets the Postgres suites write, so cleanup
// never touches other rows.
var testWallets = []string{walletA, walletB, walletC}

// postgresDB opens and migrates TEST_DATABASE_URL. clean runs before the
// test and again at cleanup.
func postgresDB(t *testing.T, dsn string, clean func(db *gorm.DB)) *gorm.DB {
	t.Helper()
	db, err := database.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	clean(db)
	t.Cleanup(func() {
		clean(db)
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// ledgerFactories yields the in-memory ledger always, and the Postgres one
// when TEST_DATABASE_URL is set.
func ledgerFactories(t *testing.T) map[string]func(t *testing.T) RewardLedger {
	t.Helper()
	out := map[string]func(t *testing.T) RewardLedger{
		"memory": func(t *testing.T) RewardLedger { return NewMemoryLedger() },
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	out["postgres"] = func(t *testing.T) RewardLedger {
		db := postgresDB(t, dsn, func(db *gorm.DB) {
			db.Where("wallet_address IN ?", testWallets).Delete(&models.RewardRecord{})
			db.Where("wallet_address IN ?", testWallets).Delete(&models.ClaimRequest{})
		})
		return NewRewardService(db)
	}
	return out
}

func stakeStoreFactories(t *testing.T) map[string]func(t *testing.T) StakeStore {
	t.Helper()
	out := map[string]func(t *testing.T) StakeStore{
		"memory": func(t *testing.T) StakeStore { return NewMemoryStakeStore() },
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	out["postgres"] = func(t *testing.T) StakeStore {
		db := postgresDB(t, dsn, func(db *gorm.DB) {
			db.Where("wallet_address IN ?", testWallets).Delete(&models.StakeAccount{})
		})
		return NewGormStakeStore(db)
	}
	return out
}

// governanceTestSlug prefixes every proposal the store suites create.
const governanceTestSlug = "store-test-"

func governanceStoreFactories(t *testing.T) map[string]func(t *testing.T) GovernanceStore {
	t.Helper()
	out := map[string]func(t *testing.T) GovernanceStore{
		"memory": func(t *testing.T) GovernanceStore { return NewMemoryGovernanceStore() },
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		return out
	}
	out["postgres"] = func(t *testing.T) GovernanceStore {
		db := postgresDB(t, dsn, func(db *gorm.DB) {
			db.Where("wallet_address IN ?", testWallets).Delete(&models.Vote{})
			db.Where("slug LIKE ?", governanceTestSlug+"%").Delete(&models.GovernanceProposal{})
		})
		return NewGormGovernanceStore(db)
	}
	return out
}
