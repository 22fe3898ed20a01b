package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"staking-reward-ledger/utils"
)

// PayoutRequest asks the treasury signer to transfer a claim's amount.
// ClaimID is the idempotency key: repeating a request returns the
// signature of the original transfer instead of paying twice.
type PayoutRequest struct {
	ClaimID string `json:"claim_id"`
	Wallet  string `json:"wallet"`
	Amount  int64  `json:"amount"`
}

// PayoutResponse identifies the submitted transfer. LastValidBlockHeight
// is the height after which its blockhash can no longer land; zero when
// the treasury does not report it.
type PayoutResponse struct {
	Signature            string `json:"signature"`
	LastValidBlockHeight uint64 `json:"last_valid_block_height"`
}

// PayoutClient submits claim payouts to the treasury signing service.
type PayoutClient struct {
	baseURL string
	token   string
	http    *http.Client
	retry   *utils.RetryConfig
}

func NewPayoutClient(baseURL, token string, timeout time.Duration) *PayoutClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	retry := utils.DefaultRetryConfig()
	retry.RetryIf = IsRetryable
	return &PayoutClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		retry:   retry,
	}
}

// RequestPayout returns the payout transaction's signature and expiry.
func (p *PayoutClient) RequestPayout(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	return utils.RetryWithValue(ctx, p.retry, func() (*PayoutResponse, error) {
		return p.requestOnce(ctx, req)
	})
}

func (p *PayoutClient) requestOnce(ctx context.Context, req PayoutRequest) (*PayoutResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode payout request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/payouts", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payout request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ClaimID)
	if p.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("treasury payout: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read treasury response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("treasury payout: %w", &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)})
	}

	var out PayoutResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode treasury response: %w", err)
	}
	if err := ValidateSignature(out.Signature); err != nil {
		return nil, fmt.Errorf("treasury returned %w", err)
	}
	return &out, nil
}
