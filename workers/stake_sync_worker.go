// workers/stake_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"staking-reward-ledger/chain"
	"staking-reward-ledger/logging"
	"staking-reward-ledger/metrics"
	"staking-reward-ledger/models"
	"staking-reward-ledger/services"
)

const stakeCursorName = "stake_sync"

// StakeSyncClient reads changed stake positions from the indexer.
type StakeSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

func NewStakeSyncClient(baseURL, token string) *StakeSyncClient {
	return &StakeSyncClient{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *StakeSyncClient) GetChangedStakes(ctx context.Context, since time.Time) ([]models.StakeAccount, error) {
	u, err := url.Parse(c.BaseURL + "/api/v1/public/stakes")
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("X-Service-Token", c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Stakes []models.StakeAccount `json:"stakes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Stakes, nil
}

// CursorStore persists how far a poller has read.
type CursorStore interface {
	Load(ctx context.Context, name string) (time.Time, bool, error)
	Save(ctx context.Context, name string, since time.Time) error
}

type GormCursorStore struct {
	DB *gorm.DB
}

func (s *GormCursorStore) Load(ctx context.Context, name string) (time.Time, bool, error) {
	var cur models.SyncCursor
	err := s.DB.WithContext(ctx).Where("name = ?", name).First(&cur).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return cur.Since, true, nil
}

func (s *GormCursorStore) Save(ctx context.Context, name string, since time.Time) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"since", "updated_at"}),
	}).Create(&models.SyncCursor{Name: name, Since: since}).Error
}

// StakeSyncWorker mirrors indexer stake changes into the StakeStore. The
// cursor only advances after a batch is stored, so a failed tick retries
// the same window.
type StakeSyncWorker struct {
	client   *StakeSyncClient
	stakes   services.StakeStore
	cursors  CursorStore
	interval time.Duration
	backfill time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewStakeSyncWorker(client *StakeSyncClient, stakes services.StakeStore, cursors CursorStore, interval time.Duration, m *metrics.Metrics) *StakeSyncWorker {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &StakeSyncWorker{
		client:   client,
		stakes:   stakes,
		cursors:  cursors,
		interval: interval,
		backfill: 24 * time.Hour,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run polls until ctx is cancelled.
func (w *StakeSyncWorker) Run(ctx context.Context) error {
	log := logging.With(logging.Component("stake_sync"))
	since, ok, err := w.cursors.Load(ctx, stakeCursorName)
	if err != nil {
		return fmt.Errorf("load sync cursor: %w", err)
	}
	if !ok {
		since = w.now().Add(-w.backfill)
	}
	log.Info("starting stake polling", "since", since.Format(time.RFC3339))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("stake polling stopped")
			return nil
		case <-ticker.C:
			next, err := w.SyncOnce(ctx, since)
			w.metrics.JobRun("stake_sync", err)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("stake sync failed", logging.Err(err))
				}
				continue
			}
			since = next
		}
	}
}

// SyncOnce pulls one window and returns the cursor for the next one.
func (w *StakeSyncWorker) SyncOnce(ctx context.Context, since time.Time) (time.Time, error) {
	// take the timestamp before the call so nothing written meanwhile is skipped
	polledAt := w.now()
	stakes, err := w.client.GetChangedStakes(ctx, since)
	if err != nil {
		return since, err
	}

	valid := stakes[:0]
	for _, st := range stakes {
		if err := checkMirror(&st); err != nil {
			logging.Warn("dropping malformed stake from indexer", logging.Component("stake_sync"), logging.Err(err))
			continue
		}
		valid = append(valid, st)
	}

	n, err := w.stakes.UpsertMirror(ctx, valid)
	if err != nil {
		return since, err
	}
	if err := w.cursors.Save(ctx, stakeCursorName, polledAt); err != nil {
		return since, fmt.Errorf("save sync cursor: %w", err)
	}
	if n > 0 {
		w.metrics.StakesSynced(n)
		logging.Info("stake mirror updated", logging.Component("stake_sync"), "rows", n)
	}
	return polledAt, nil
}

func checkMirror(st *models.StakeAccount) error {
	if _, err := chain.ParsePublicKey(st.WalletAddress); err != nil {
		return fmt.Errorf("wallet_address %q: %w", st.WalletAddress, err)
	}
	if _, err := chain.ParsePublicKey(st.NFTMint); err != nil {
		return fmt.Errorf("nft_mint %q: %w", st.NFTMint, err)
	}
	if err := chain.ValidateSignature(st.StakeSignature); err != nil {
		return fmt.Errorf("stake_signature: %w", err)
	}
	if st.Tier == "" || st.Multiplier == "" || !st.LockPeriod.Valid() {
		return fmt.Errorf("stake %s is missing tier, multiplier or lock period", st.StakeSignature)
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	return nil
}
