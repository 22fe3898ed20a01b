package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryKindHasOutcomeAndMessage(t *testing.T) {
	for k, info := range kinds {
		assert.NotEmpty(t, info.message, k)
		assert.Equal(t, info.outcome, k.Outcome())
	}
	assert.Equal(t, UserFixable, Kind("made_up").Outcome())
}

func TestParseTxError(t *testing.T) {
	tests := []struct {
		raw        string
		name       string
		instrIndex int
		instrErr   string
		custom     *uint32
	}{
		{`"BlockhashNotFound"`, "BlockhashNotFound", 0, "", nil},
		{`{"InsufficientFundsForRent":{"account_index":0}}`, "InsufficientFundsForRent", 0, "", nil},
		{`{"InstructionError":[2,"InvalidAccountData"]}`, "InstructionError", 2, "InvalidAccountData", nil},
		{`{"InstructionError":[1,{"Custom":6001}]}`, "InstructionError", 1, "Custom", ptr(uint32(6001))},
		{`{"InstructionError":[0,{"BorshIoError":"Unknown"}]}`, "InstructionError", 0, "BorshIoError", nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			te := ParseTxError(json.RawMessage(tt.raw))
			require.NotNil(t, te)
			assert.Equal(t, tt.name, te.Name)
			assert.Equal(t, tt.instrIndex, te.InstructionIndex)
			assert.Equal(t, tt.instrErr, te.InstructionError)
			assert.Equal(t, tt.custom, te.Custom)
		})
	}

	assert.Nil(t, ParseTxError(nil))
	assert.Nil(t, ParseTxError(json.RawMessage("null")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    Kind
		outcome Outcome
	}{
		{"deadline", fmt.Errorf("getTransaction: %w", context.DeadlineExceeded), KindNetworkTimeout, Retryable},
		{"net timeout", &net.OpError{Op: "dial", Err: timeoutErr{}}, KindNetworkTimeout, Retryable},
		{"conn refused", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindNodeUnavailable, Retryable},
		{"http 429", &HTTPStatusError{StatusCode: 429}, KindRateLimited, Retryable},
		{"http 502", &HTTPStatusError{StatusCode: 502}, KindNodeUnavailable, Retryable},
		{"http 400", &HTTPStatusError{StatusCode: 400}, KindInvalidRequest, Fatal},
		{"node unhealthy", &RPCError{Code: -32005, Message: "Node is behind by 42 slots"}, KindNodeUnavailable, Retryable},
		{"invalid params", &RPCError{Code: -32602, Message: "Invalid param"}, KindInvalidRequest, Fatal},
		{"not found", fmt.Errorf("sig: %w", ErrTransactionNotFound), KindNotConfirmed, Retryable},
		{"blockhash", ParseTxError(json.RawMessage(`"BlockhashNotFound"`)), KindBlockhashExpired, UserFixable},
		{"fee", ParseTxError(json.RawMessage(`"InsufficientFundsForFee"`)), KindInsufficientFunds, UserFixable},
		{"already staked", ParseTxError(json.RawMessage(`{"InstructionError":[0,{"Custom":6000}]}`)), KindAlreadyStaked, Fatal},
		{"still locked", ParseTxError(json.RawMessage(`{"InstructionError":[0,{"Custom":6001}]}`)), KindStillLocked, Fatal},
		{"seeds constraint", ParseTxError(json.RawMessage(`{"InstructionError":[0,{"Custom":2006}]}`)), KindAccountMismatch, Fatal},
		{"unknown custom", ParseTxError(json.RawMessage(`{"InstructionError":[0,{"Custom":7777}]}`)), KindProgramRejected, Fatal},
		{"token insufficient", ParseTxError(json.RawMessage(`{"InstructionError":[3,{"Custom":1}]}`)), KindInsufficientFunds, UserFixable},
		{"user rejected", errors.New("WalletSignTransactionError: User rejected the request."), KindUserRejected, UserFixable},
		{"wallet not connected", errors.New("WalletNotConnectedError"), KindWalletNotConnected, UserFixable},
		{"block height", errors.New("Signature abc has expired: block height exceeded."), KindBlockhashExpired, UserFixable},
		{"rate limit text", errors.New("429 Too Many Requests"), KindRateLimited, Retryable},
		{"unknown", errors.New("something odd"), KindUnknown, UserFixable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.err)
			assert.Equal(t, tt.kind, c.Kind)
			assert.Equal(t, tt.outcome, c.Outcome)
			assert.NotEmpty(t, c.Message)
		})
	}
}

func TestClassify_PreflightFailureUsesSimulatedError(t *testing.T) {
	err := &RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data:    json.RawMessage(`{"err":{"InstructionError":[0,{"Custom":6002}]},"logs":[]}`),
	}
	c := Classify(fmt.Errorf("sendTransaction: %w", err))
	assert.Equal(t, KindNotOwner, c.Kind)
	assert.Equal(t, Fatal, c.Outcome)
}

func TestClassify_UnknownIsNeverSwallowed(t *testing.T) {
	c := Classify(errors.New(""))
	assert.Equal(t, KindUnknown, c.Kind)
	assert.Equal(t, UserFixable, c.Outcome)
	assert.NotEmpty(t, c.Message)
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap(nil))

	base := &HTTPStatusError{StatusCode: 503}
	err := Wrap(base)
	var ce *Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindNodeUnavailable, ce.Kind)
	assert.ErrorIs(t, err, base)

	// already classified errors pass through untouched
	explicit := NewError(KindAccountMismatch, errors.New("escrow missing"))
	assert.Same(t, explicit, Wrap(explicit))
	assert.Equal(t, KindAccountMismatch, Classify(fmt.Errorf("confirm: %w", explicit)).Kind)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(context.DeadlineExceeded))
	assert.False(t, IsRetryable(NewError(KindAlreadyStaked, nil)))
	assert.False(t, IsRetryable(errors.New("insufficient lamports")))
}

func ptr[T any](v T) *T { return &v }
