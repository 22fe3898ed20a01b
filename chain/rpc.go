package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"golang.org/x/time/rate"

	"staking-reward-ledger/utils"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAccountNotFound     = errors.New("account not found")
)

const (
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// RPCConfig configures the JSON-RPC client.
type RPCConfig struct {
	URL        string
	Commitment string
	Timeout    time.Duration
	// RateLimit is requests per second; <= 0 disables limiting.
	RateLimit float64
	Burst     int
	Retry     *utils.RetryConfig
}

func DefaultRPCConfig(url string) RPCConfig {
	return RPCConfig{
		URL:        url,
		Commitment: CommitmentConfirmed,
		Timeout:    15 * time.Second,
		RateLimit:  10,
		Burst:      5,
		Retry:      utils.DefaultRetryConfig(),
	}
}

// RPCClient talks to a Solana JSON-RPC endpoint. Calls are rate limited
// and retried only while the failure classifies as Retryable.
type RPCClient struct {
	cfg     RPCConfig
	http    *http.Client
	limiter *rate.Limiter
	nextID  atomic.Uint64
}

func NewRPCClient(cfg RPCConfig) *RPCClient {
	if cfg.Commitment == "" {
		cfg.Commitment = CommitmentConfirmed
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &RPCClient{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	retry := *utils.DefaultRetryConfig()
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	retry.RetryIf = IsRetryable
	c.cfg.Retry = &retry
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call performs one JSON-RPC request and decodes result into out.
func (c *RPCClient) Call(ctx context.Context, method string, params []any, out any) error {
	return utils.Retry(ctx, c.cfg.Retry, func() error {
		return c.callOnce(ctx, method, params, out)
	})
}

func (c *RPCClient) callOnce(ctx context.Context, method string, params []any, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w", method, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 256)})
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("%s: %w", method, decoded.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// Transaction is the subset of getTransaction's "json" encoding we read.
type Transaction struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err             json.RawMessage `json:"err"`
		LogMessages     []string        `json:"logMessages"`
		LoadedAddresses *struct {
			Writable []string `json:"writable"`
			Readonly []string `json:"readonly"`
		} `json:"loadedAddresses"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys  []string              `json:"accountKeys"`
			Instructions []CompiledInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// CompiledInstruction indexes into the transaction's account keys. Data is
// base58 in the "json" encoding.
type CompiledInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

// Instruction is a top level instruction with its keys resolved.
type Instruction struct {
	Program  string
	Accounts []string
	Data     []byte
}

// References reports whether key is passed to the instruction.
func (ix *Instruction) References(key PublicKey) bool {
	want := key.String()
	for _, k := range ix.Accounts {
		if k == want {
			return true
		}
	}
	return false
}

// Instructions resolves the top level instructions. Inner instructions
// are not included.
func (t *Transaction) Instructions() ([]Instruction, error) {
	keys := t.AccountKeys()
	key := func(i int) (string, error) {
		if i < 0 || i >= len(keys) {
			return "", fmt.Errorf("account index %d out of range", i)
		}
		return keys[i], nil
	}
	out := make([]Instruction, 0, len(t.Transaction.Message.Instructions))
	for n, ci := range t.Transaction.Message.Instructions {
		program, err := key(ci.ProgramIDIndex)
		if err != nil {
			return nil, fmt.Errorf("instruction %d program: %w", n, err)
		}
		ix := Instruction{Program: program, Accounts: make([]string, 0, len(ci.Accounts))}
		for _, a := range ci.Accounts {
			k, err := key(a)
			if err != nil {
				return nil, fmt.Errorf("instruction %d: %w", n, err)
			}
			ix.Accounts = append(ix.Accounts, k)
		}
		if ci.Data != "" {
			if ix.Data, err = base58.Decode(ci.Data); err != nil {
				return nil, fmt.Errorf("instruction %d data: %w", n, err)
			}
		}
		out = append(out, ix)
	}
	return out, nil
}

// FindInstruction returns the first top level call to program whose data
// starts with disc, or nil when there is none.
func (t *Transaction) FindInstruction(program PublicKey, disc [8]byte) (*Instruction, error) {
	ixs, err := t.Instructions()
	if err != nil {
		return nil, err
	}
	want := program.String()
	for i := range ixs {
		if ixs[i].Program == want && bytes.HasPrefix(ixs[i].Data, disc[:]) {
			return &ixs[i], nil
		}
	}
	return nil, nil
}

// Err returns the transaction's failure, or nil when it succeeded.
func (t *Transaction) Err() error {
	if t.Meta == nil {
		return nil
	}
	if te := ParseTxError(t.Meta.Err); te != nil {
		return te
	}
	return nil
}

// AccountKeys lists static keys followed by any lookup-table addresses.
func (t *Transaction) AccountKeys() []string {
	keys := append([]string(nil), t.Transaction.Message.AccountKeys...)
	if t.Meta != nil && t.Meta.LoadedAddresses != nil {
		keys = append(keys, t.Meta.LoadedAddresses.Writable...)
		keys = append(keys, t.Meta.LoadedAddresses.Readonly...)
	}
	return keys
}

// References reports whether key appears among the transaction's accounts.
func (t *Transaction) References(key PublicKey) bool {
	want := key.String()
	for _, k := range t.AccountKeys() {
		if k == want {
			return true
		}
	}
	return false
}

// GetTransaction fetches a confirmed transaction. It returns
// ErrTransactionNotFound while the node has not seen it yet.
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	var tx *Transaction
	err := c.Call(ctx, "getTransaction", []any{
		signature,
		map[string]any{
			"encoding":                       "json",
			"commitment":                     c.cfg.Commitment,
			"maxSupportedTransactionVersion": 0,
		},
	}, &tx)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, fmt.Errorf("%s: %w", signature, ErrTransactionNotFound)
	}
	return tx, nil
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Confirmed reports whether the status has reached at least "confirmed".
func (s *SignatureStatus) Confirmed() bool {
	return s.ConfirmationStatus == CommitmentConfirmed || s.ConfirmationStatus == CommitmentFinalized
}

// Failure returns the on-chain error, or nil.
func (s *SignatureStatus) Failure() error {
	if te := ParseTxError(s.Err); te != nil {
		return te
	}
	return nil
}

// GetSignatureStatus looks up one signature, searching ledger history.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	var result struct {
		Value []*SignatureStatus `json:"value"`
	}
	err := c.Call(ctx, "getSignatureStatuses", []any{
		[]string{signature},
		map[string]any{"searchTransactionHistory": true},
	}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, fmt.Errorf("%s: %w", signature, ErrTransactionNotFound)
	}
	return result.Value[0], nil
}

// GetBlockHeight returns the current block height, the clock a
// transaction's lastValidBlockHeight is measured against.
func (c *RPCClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	if err := c.Call(ctx, "getBlockHeight", []any{
		map[string]any{"commitment": c.cfg.Commitment},
	}, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// AccountInfo is a decoded getAccountInfo value.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Data       []byte
	Executable bool
}

func (c *RPCClient) GetAccountInfo(ctx context.Context, address PublicKey) (*AccountInfo, error) {
	var result struct {
		Value *struct {
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
		} `json:"value"`
	}
	err := c.Call(ctx, "getAccountInfo", []any{
		address.String(),
		map[string]any{"encoding": "base64", "commitment": c.cfg.Commitment},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result.Value == nil {
		return nil, fmt.Errorf("%s: %w", address, ErrAccountNotFound)
	}
	info := &AccountInfo{
		Lamports:   result.Value.Lamports,
		Owner:      result.Value.Owner,
		Executable: result.Value.Executable,
	}
	if len(result.Value.Data) > 0 {
		data, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("decode account data for %s: %w", address, err)
		}
		info.Data = data
	}
	return info, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
