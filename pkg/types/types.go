package types

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentState is the lifecycle state of an order payment
type PaymentState string

const (
	PaymentStateCreated   PaymentState = "created"
	PaymentStatePending   PaymentState = "pending"
	PaymentStateCanceled  PaymentState = "canceled"
	PaymentStateConfirmed PaymentState = "confirmed"
	PaymentStateFailed    PaymentState = "failed"
	PaymentStateRefunded  PaymentState = "refunded"
)

// AwaitingStates are the payment states the reconciler scans
var AwaitingStates = []PaymentState{
	PaymentStateCreated,
	PaymentStatePending,
	PaymentStateCanceled,
}

// IsAwaiting reports whether a payment in this state may still be confirmed.
// Canceled payments are included because a buyer can cancel after paying.
func (s PaymentState) IsAwaiting() bool {
	for _, awaiting := range AwaitingStates {
		if s == awaiting {
			return true
		}
	}
	return false
}

// RefundState is the lifecycle state of a refund
type RefundState string

const (
	RefundStateCreated  RefundState = "created"
	RefundStateTransit  RefundState = "transit"
	RefundStateDone     RefundState = "done"
	RefundStateFailed   RefundState = "failed"
	RefundStateCanceled RefundState = "canceled"
	RefundStateExternal RefundState = "external"
)

// PaymentInfo is the on-chain side of a payment, recorded at checkout
type PaymentInfo struct {
	CurrencyType  string   `json:"currency_type"`            // e.g. "ETH-L1"
	Amount        *big.Int `json:"amount"`                   // expected amount in token base units
	Time          int64    `json:"time"`                     // unix seconds of the quote
	WalletAddress string   `json:"wallet_address,omitempty"` // legacy per-order deposit address
}

// Payment is an order payment awaiting (or past) confirmation
type Payment struct {
	ID        string          `json:"id"`
	FullID    string          `json:"full_id"`
	Tenant    string          `json:"tenant"`
	OrderCode string          `json:"order_code"`
	State     PaymentState    `json:"state"`
	Amount    decimal.Decimal `json:"amount"` // fiat amount
	Info      PaymentInfo     `json:"info"`
	CreatedAt time.Time       `json:"created_at"`
}

// Refund is a refund of an order payment
type Refund struct {
	ID        string      `json:"id"`
	FullID    string      `json:"full_id"`
	PaymentID string      `json:"payment_id"`
	Tenant    string      `json:"tenant"`
	State     RefundState `json:"state"`
	Info      PaymentInfo `json:"info"`
	CreatedAt time.Time   `json:"created_at"`
}

// EvidenceKind tells which kind of evidence a buyer submitted
type EvidenceKind int

const (
	EvidenceUnknown EvidenceKind = iota
	EvidenceDirectTx
	EvidenceSafeApp
)

func (k EvidenceKind) String() string {
	switch k {
	case EvidenceDirectTx:
		return "direct_tx"
	case EvidenceSafeApp:
		return "safe_app"
	default:
		return "unknown"
	}
}

var (
	ErrNoEvidence        = errors.New("either a transaction hash or a safe app transaction url is required")
	ErrAmbiguousEvidence = errors.New("only one of transaction hash and safe app transaction url may be set")
	ErrInvalidTxHash     = errors.New("invalid transaction hash")
)

// Evidence is the buyer-supplied proof of payment: exactly one of a direct
// transaction hash or a Safe-app transaction URL.
type Evidence struct {
	Kind            EvidenceKind `json:"kind"`
	TransactionHash string       `json:"transaction_hash,omitempty"`
	SafeAppURL      string       `json:"safe_app_transaction_url,omitempty"`
}

// DirectTxEvidence wraps a transaction hash
func DirectTxEvidence(txHash string) Evidence {
	return Evidence{Kind: EvidenceDirectTx, TransactionHash: strings.ToLower(txHash)}
}

// SafeAppEvidence wraps a Safe-app transaction URL
func SafeAppEvidence(url string) Evidence {
	return Evidence{Kind: EvidenceSafeApp, SafeAppURL: url}
}

// NewEvidence builds evidence from the two optional submission fields
func NewEvidence(txHash, safeAppURL string) (Evidence, error) {
	txHash = strings.TrimSpace(txHash)
	safeAppURL = strings.TrimSpace(safeAppURL)

	switch {
	case txHash != "" && safeAppURL != "":
		return Evidence{}, ErrAmbiguousEvidence
	case txHash != "":
		ev := DirectTxEvidence(txHash)
		return ev, ev.Validate()
	case safeAppURL != "":
		ev := SafeAppEvidence(safeAppURL)
		return ev, ev.Validate()
	default:
		return Evidence{}, ErrNoEvidence
	}
}

// Validate checks the variant invariants
func (e Evidence) Validate() error {
	switch e.Kind {
	case EvidenceDirectTx:
		if e.SafeAppURL != "" {
			return ErrAmbiguousEvidence
		}
		if !IsTransactionHash(e.TransactionHash) {
			return fmt.Errorf("%w: %s", ErrInvalidTxHash, e.TransactionHash)
		}
		return nil
	case EvidenceSafeApp:
		if e.TransactionHash != "" {
			return ErrAmbiguousEvidence
		}
		if !strings.HasPrefix(e.SafeAppURL, "https://") && !strings.HasPrefix(e.SafeAppURL, "http://") {
			return fmt.Errorf("invalid safe app transaction url: %s", e.SafeAppURL)
		}
		return nil
	default:
		return ErrNoEvidence
	}
}

// Ref returns the key that identifies the evidence across live intents.
// The same transaction may back at most one live intent.
func (e Evidence) Ref() string {
	switch e.Kind {
	case EvidenceDirectTx:
		return strings.ToLower(e.TransactionHash)
	case EvidenceSafeApp:
		return strings.ToLower(strings.TrimRight(e.SafeAppURL, "/"))
	default:
		return ""
	}
}

// IsTransactionHash reports whether s is a 0x-prefixed 32-byte hex string
func IsTransactionHash(s string) bool {
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return false
	}
	for _, c := range s[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// PaymentIntent is the signed buyer claim that a given transaction pays a given payment
type PaymentIntent struct {
	ID               string    `json:"id"`
	PaymentID        string    `json:"payment_id"`
	Tenant           string    `json:"tenant"`
	OrderCode        string    `json:"order_code"`
	Signature        string    `json:"signature"`
	Message          string    `json:"message"` // canonical EIP-712 JSON that was signed
	SenderAddress    string    `json:"sender_address"`
	RecipientAddress string    `json:"recipient_address"`
	ChainID          int64     `json:"chain_id"`
	Evidence         Evidence  `json:"evidence"`
	IsConfirmed      bool      `json:"is_confirmed"`
	ConfirmedTxHash  string    `json:"confirmed_tx_hash,omitempty"` // executing transaction, set on confirm
	Invalid          bool      `json:"invalid"`
	CreatedAt        time.Time `json:"created_at"`
}

// IsLive reports whether the intent still counts against the one-live-intent rule
func (i *PaymentIntent) IsLive() bool {
	return !i.Invalid
}

// Age returns how long ago the intent was submitted
func (i *PaymentIntent) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}

// Clone returns a deep copy
func (i *PaymentIntent) Clone() *PaymentIntent {
	c := *i
	return &c
}

// Clone returns a deep copy
func (p *Payment) Clone() *Payment {
	c := *p
	if p.Info.Amount != nil {
		c.Info.Amount = new(big.Int).Set(p.Info.Amount)
	}
	return &c
}

// Clone returns a deep copy
func (r *Refund) Clone() *Refund {
	c := *r
	if r.Info.Amount != nil {
		c.Info.Amount = new(big.Int).Set(r.Info.Amount)
	}
	return &c
}

// FormatCurrencyType renders the "<SYMBOL>-<NETWORK_ID>" key stored on payments
func FormatCurrencyType(symbol, networkID string) string {
	return symbol + "-" + networkID
}

// ParseCurrencyType splits a "<SYMBOL>-<NETWORK_ID>" key
func ParseCurrencyType(currencyType string) (symbol, networkID string, err error) {
	symbol, networkID, ok := strings.Cut(currencyType, "-")
	if !ok || symbol == "" || networkID == "" {
		return "", "", fmt.Errorf("invalid currency type: %q", currencyType)
	}
	return symbol, networkID, nil
}
