package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// Outcome tells a caller what it may do after a chain call fails.
type Outcome int

const (
	// Retryable failures are transient; re-attempt with backoff.
	Retryable Outcome = iota
	// UserFixable failures are shown to the user verbatim and never retried.
	UserFixable
	// Fatal failures are program-level rejections; log and surface, never retry.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Retryable:
		return "retryable"
	case UserFixable:
		return "user_fixable"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Kind is the closed set of failure causes the service recognizes.
type Kind string

const (
	KindNetworkTimeout     Kind = "network_timeout"
	KindRateLimited        Kind = "rate_limited"
	KindNodeUnavailable    Kind = "node_unavailable"
	KindNotConfirmed       Kind = "not_confirmed"
	KindInsufficientFunds  Kind = "insufficient_funds"
	KindWalletNotConnected Kind = "wallet_not_connected"
	KindBlockhashExpired   Kind = "blockhash_expired"
	KindUserRejected       Kind = "user_rejected"
	KindAccountMismatch    Kind = "account_mismatch"
	KindAlreadyStaked      Kind = "already_staked"
	KindStillLocked        Kind = "still_locked"
	KindNotOwner           Kind = "not_owner"
	KindProgramRejected    Kind = "program_rejected"
	KindInvalidRequest     Kind = "invalid_request"
	KindUnknown            Kind = "unknown"
)

type kindInfo struct {
	outcome Outcome
	message string
}

var kinds = map[Kind]kindInfo{
	KindNetworkTimeout:     {Retryable, "The network request timed out. Please try again."},
	KindRateLimited:        {Retryable, "The RPC node is rate limiting requests. Please try again shortly."},
	KindNodeUnavailable:    {Retryable, "The RPC node is temporarily unavailable."},
	KindNotConfirmed:       {Retryable, "The transaction has not been confirmed yet."},
	KindInsufficientFunds:  {UserFixable, "Insufficient SOL balance to pay for this transaction."},
	KindWalletNotConnected: {UserFixable, "Wallet is not connected. Connect your wallet and try again."},
	KindBlockhashExpired:   {UserFixable, "The transaction expired before it was processed. Please sign it again."},
	KindUserRejected:       {UserFixable, "The transaction was rejected in the wallet."},
	KindAccountMismatch:    {Fatal, "The transaction references accounts the staking program does not expect."},
	KindAlreadyStaked:      {Fatal, "This NFT is already staked."},
	KindStillLocked:        {Fatal, "This stake is still inside its lock period."},
	KindNotOwner:           {Fatal, "The wallet does not own this stake."},
	KindProgramRejected:    {Fatal, "The staking program rejected the transaction."},
	KindInvalidRequest:     {Fatal, "The RPC node rejected the request as malformed."},
	KindUnknown:            {UserFixable, "Something went wrong with the transaction. Please try again or contact support."},
}

// Outcome returns the fixed outcome for k.
func (k Kind) Outcome() Outcome {
	if info, ok := kinds[k]; ok {
		return info.outcome
	}
	return kinds[KindUnknown].outcome
}

// Message returns the user-facing text for k.
func (k Kind) Message() string {
	if info, ok := kinds[k]; ok {
		return info.message
	}
	return kinds[KindUnknown].message
}

// Classification is the typed result of Classify.
type Classification struct {
	Kind    Kind    `json:"kind"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
}

func classification(k Kind) Classification {
	return Classification{Kind: k, Outcome: k.Outcome(), Message: k.Message()}
}

// Error carries a classification alongside the error that produced it.
type Error struct {
	Classification
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error of a known kind.
func NewError(k Kind, err error) *Error {
	return &Error{Classification: classification(k), Err: err}
}

// Wrap classifies err and returns it as *Error. nil stays nil.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Classification: Classify(err), Err: err}
}

// IsRetryable reports whether err classifies as Retryable.
func IsRetryable(err error) bool {
	return err != nil && Classify(err).Outcome == Retryable
}

// RPCError is a JSON-RPC error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPStatusError is a non-200 response from an HTTP endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

// TxError is a transaction's meta.err, as returned by getTransaction,
// getSignatureStatuses or a failed simulation.
type TxError struct {
	Name             string
	InstructionIndex int
	InstructionError string
	Custom           *uint32
	Raw              json.RawMessage
}

func (e *TxError) Error() string {
	switch {
	case e.Custom != nil:
		return fmt.Sprintf("transaction failed: instruction %d: custom program error 0x%x", e.InstructionIndex, *e.Custom)
	case e.InstructionError != "":
		return fmt.Sprintf("transaction failed: instruction %d: %s", e.InstructionIndex, e.InstructionError)
	default:
		return "transaction failed: " + e.Name
	}
}

// ParseTxError decodes meta.err. It returns nil for null or empty input.
//
// Accepted shapes: "BlockhashNotFound", {"InsufficientFundsForRent":{...}},
// {"InstructionError":[0,"InvalidAccountData"]} and
// {"InstructionError":[0,{"Custom":6001}]}.
func ParseTxError(raw json.RawMessage) *TxError {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil
	}
	te := &TxError{Raw: append(json.RawMessage(nil), raw...)}

	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		te.Name = name
		return te
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) == 0 {
		te.Name = trimmed
		return te
	}
	for k, v := range obj {
		te.Name = k
		if k != "InstructionError" {
			continue
		}
		var pair []json.RawMessage
		if err := json.Unmarshal(v, &pair); err != nil || len(pair) != 2 {
			break
		}
		_ = json.Unmarshal(pair[0], &te.InstructionIndex)

		var detail string
		if err := json.Unmarshal(pair[1], &detail); err == nil {
			te.InstructionError = detail
			break
		}
		var custom struct {
			Custom *uint32 `json:"Custom"`
		}
		if err := json.Unmarshal(pair[1], &custom); err == nil && custom.Custom != nil {
			te.Custom = custom.Custom
			te.InstructionError = "Custom"
			break
		}
		var other map[string]json.RawMessage
		if err := json.Unmarshal(pair[1], &other); err == nil {
			for name := range other {
				te.InstructionError = name
			}
		}
		break
	}
	return te
}

// Custom error codes emitted by the staking program (Anchor numbering
// starts user errors at 6000).
const (
	ProgramErrAlreadyStaked   uint32 = 6000
	ProgramErrStillLocked     uint32 = 6001
	ProgramErrNotOwner        uint32 = 6002
	ProgramErrInvalidPeriod   uint32 = 6003
	ProgramErrAccountMismatch uint32 = 6004
)

var customKinds = map[uint32]Kind{
	// SPL token / system program
	0x1: KindInsufficientFunds,
	// Anchor framework constraints
	2001: KindNotOwner,        // ConstraintHasOne
	2006: KindAccountMismatch, // ConstraintSeeds
	3007: KindAccountMismatch, // AccountOwnedByWrongProgram
	3012: KindAccountMismatch, // AccountNotInitialized
	// staking program
	ProgramErrAlreadyStaked:   KindAlreadyStaked,
	ProgramErrStillLocked:     KindStillLocked,
	ProgramErrNotOwner:        KindNotOwner,
	ProgramErrInvalidPeriod:   KindProgramRejected,
	ProgramErrAccountMismatch: KindAccountMismatch,
}

var txErrorKinds = map[string]Kind{
	"BlockhashNotFound":            KindBlockhashExpired,
	"InsufficientFundsForFee":      KindInsufficientFunds,
	"InsufficientFundsForRent":     KindInsufficientFunds,
	"AccountNotFound":              KindInsufficientFunds,
	"AlreadyProcessed":             KindProgramRejected,
	"AccountInUse":                 KindNetworkTimeout,
	"WouldExceedMaxBlockCostLimit": KindNodeUnavailable,
	"InvalidAccountForFee":         KindAccountMismatch,
	"MissingSignatureForFee":       KindWalletNotConnected,
	"SignatureFailure":             KindUserRejected,
}

var instructionErrorKinds = map[string]Kind{
	"InsufficientFunds":           KindInsufficientFunds,
	"AccountAlreadyInitialized":   KindAlreadyStaked,
	"IncorrectProgramId":          KindAccountMismatch,
	"InvalidSeeds":                KindAccountMismatch,
	"InvalidAccountData":          KindAccountMismatch,
	"MissingRequiredSignature":    KindNotOwner,
	"IllegalOwner":                KindNotOwner,
	"ExternalAccountLamportSpend": KindNotOwner,
}

// JSON-RPC error codes returned by Solana nodes.
const (
	rpcBlockCleanedUp           = -32001
	rpcSendTxPreflightFailure   = -32002
	rpcTxSignatureVerifyFailed  = -32003
	rpcBlockNotAvailable        = -32004
	rpcNodeUnhealthy            = -32005
	rpcTxPrecompileVerifyFail   = -32006
	rpcSlotSkipped              = -32007
	rpcMinContextSlotNotReached = -32016
	rpcInvalidRequest           = -32600
	rpcMethodNotFound           = -32601
	rpcInvalidParams            = -32602
	rpcInternal                 = -32603
)

// messagePatterns are checked in order, lower-cased, against errors that
// carry no structure. The first match wins.
var messagePatterns = []struct {
	needle string
	kind   Kind
}{
	{"user rejected", KindUserRejected},
	{"rejected the request", KindUserRejected},
	{"walletnotconnected", KindWalletNotConnected},
	{"wallet not connected", KindWalletNotConnected},
	{"blockhash not found", KindBlockhashExpired},
	{"block height exceeded", KindBlockhashExpired},
	{"transactionexpired", KindBlockhashExpired},
	{"insufficient funds", KindInsufficientFunds},
	{"insufficient lamports", KindInsufficientFunds},
	{"too many requests", KindRateLimited},
	{"rate limit", KindRateLimited},
	{"timed out", KindNetworkTimeout},
	{"timeout", KindNetworkTimeout},
	{"connection refused", KindNodeUnavailable},
	{"connection reset", KindNodeUnavailable},
	{"econnreset", KindNodeUnavailable},
	{"no such host", KindNodeUnavailable},
	{"node is unhealthy", KindNodeUnavailable},
	{"node is behind", KindNodeUnavailable},
	{"constraintseeds", KindAccountMismatch},
	{"seeds constraint", KindAccountMismatch},
	{"already in use", KindAlreadyStaked},
	{"already staked", KindAlreadyStaked},
	{"still locked", KindStillLocked},
}

// Classify maps any chain, RPC or network failure to one Kind and its
// Outcome. It never returns an empty classification: anything it does not
// recognize is KindUnknown (UserFixable).
func Classify(err error) Classification {
	if err == nil {
		return classification(KindUnknown)
	}

	var ce *Error
	if errors.As(err, &ce) {
		return ce.Classification
	}

	var te *TxError
	if errors.As(err, &te) {
		return classification(classifyTxError(te))
	}

	var re *RPCError
	if errors.As(err, &re) {
		if k, ok := classifyRPCError(re); ok {
			return classification(k)
		}
	}

	var he *HTTPStatusError
	if errors.As(err, &he) {
		switch {
		case he.StatusCode == http.StatusTooManyRequests:
			return classification(KindRateLimited)
		case he.StatusCode == http.StatusRequestTimeout || he.StatusCode == http.StatusGatewayTimeout:
			return classification(KindNetworkTimeout)
		case he.StatusCode >= 500:
			return classification(KindNodeUnavailable)
		case he.StatusCode == http.StatusBadRequest:
			return classification(KindInvalidRequest)
		}
	}

	if errors.Is(err, ErrTransactionNotFound) {
		return classification(KindNotConfirmed)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return classification(KindNetworkTimeout)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return classification(KindNetworkTimeout)
	}
	var oe *net.OpError
	if errors.As(err, &oe) {
		return classification(KindNodeUnavailable)
	}

	msg := strings.ToLower(err.Error())
	for _, p := range messagePatterns {
		if strings.Contains(msg, p.needle) {
			return classification(p.kind)
		}
	}
	return classification(KindUnknown)
}

func classifyTxError(te *TxError) Kind {
	if te.Custom != nil {
		if k, ok := customKinds[*te.Custom]; ok {
			return k
		}
		return KindProgramRejected
	}
	if te.InstructionError != "" {
		if k, ok := instructionErrorKinds[te.InstructionError]; ok {
			return k
		}
		return KindProgramRejected
	}
	if k, ok := txErrorKinds[te.Name]; ok {
		return k
	}
	return KindProgramRejected
}

func classifyRPCError(re *RPCError) (Kind, bool) {
	switch re.Code {
	case rpcSendTxPreflightFailure:
		// data.err holds the simulated transaction error
		var data struct {
			Err json.RawMessage `json:"err"`
		}
		if len(re.Data) > 0 && json.Unmarshal(re.Data, &data) == nil {
			if te := ParseTxError(data.Err); te != nil {
				return classifyTxError(te), true
			}
		}
		return KindProgramRejected, true
	case rpcTxSignatureVerifyFailed, rpcTxPrecompileVerifyFail:
		return KindUserRejected, true
	case rpcNodeUnhealthy, rpcBlockNotAvailable, rpcMinContextSlotNotReached, rpcInternal:
		return KindNodeUnavailable, true
	case rpcBlockCleanedUp, rpcSlotSkipped:
		return KindNotConfirmed, true
	case rpcInvalidRequest, rpcMethodNotFound, rpcInvalidParams:
		return KindInvalidRequest, true
	case 429:
		return KindRateLimited, true
	}
	return "", false
}
