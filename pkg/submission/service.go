package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/chains/evm"
	"github.com/sigweihq/ethreconcile/pkg/safe"
	"github.com/sigweihq/ethreconcile/pkg/storage"
	"github.com/sigweihq/ethreconcile/pkg/types"
	"github.com/sigweihq/ethreconcile/pkg/utils"
)

var (
	ErrInvalidRequest          = errors.New("invalid request")
	ErrPaymentNotFound         = errors.New("payment not found")
	ErrPaymentNotAwaiting      = errors.New("payment is not awaiting a transaction")
	ErrUnsupportedCurrency     = errors.New("payment currency is not supported")
	ErrInvalidSignature        = errors.New("invalid signature")
	ErrAlreadySubmitted        = errors.New("a signed transaction was already submitted for this order")
	ErrDuplicateTransaction    = errors.New("transaction already submitted for another payment")
	ErrVerificationUnavailable = errors.New("signature verification unavailable")
)

// SafeURLParser checks Safe transaction-service URLs. Implemented by *safe.Client.
type SafeURLParser interface {
	ParseURL(rawURL string) (*safe.TransactionRef, error)
}

// TransactionDetails is what the checkout page needs to ask the buyer's wallet
// for a signature and a transfer
type TransactionDetails struct {
	ChainID              int64           `json:"chain_id"`
	NetworkIdentifier    string          `json:"network_identifier"`
	Currency             string          `json:"currency"`
	ERC20ContractAddress *string         `json:"erc20_contract_address"`
	RecipientAddress     string          `json:"recipient_address"`
	Amount               string          `json:"amount"`
	AmountDisplay        string          `json:"amount_display"`
	Message              json.RawMessage `json:"message"`
	IsSignatureSubmitted bool            `json:"is_signature_submitted"`
	PaymentURI           string          `json:"payment_uri"`
	RecipientExplorerURL string          `json:"recipient_explorer_url,omitempty"`
}

// SubmitRequest is the buyer's signed intent
type SubmitRequest struct {
	SelectedAccount       string `json:"selectedAccount" validate:"required,eth_addr"`
	SignedMessage         string `json:"signedMessage" validate:"required,hexadecimal"`
	TransactionHash       string `json:"transactionHash,omitempty"`
	SafeAppTransactionURL string `json:"safeAppTransactionUrl,omitempty" validate:"omitempty,url"`
}

// Config holds the tenant settings the submission endpoint needs
type Config struct {
	Tenant           string `validate:"required"`
	ReceivingAddress string `validate:"required,eth_addr"`
}

// Deps are the collaborators of a Service
type Deps struct {
	Tokens    *chains.TokenRegistry
	Observers *chains.Registry
	Safe      SafeURLParser // optional; without it Safe URLs are only checked for shape
	Intents   storage.IntentStore
	Payments  storage.PaymentStore
	Verifier  *evm.SignatureVerifier
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service accepts signed payment intents for one tenant. Signatures are verified
// before anything is stored.
type Service struct {
	config    Config
	tokens    *chains.TokenRegistry
	observers *chains.Registry
	safe      SafeURLParser
	intents   storage.IntentStore
	payments  storage.PaymentStore
	verifier  *evm.SignatureVerifier
	validate  *validator.Validate
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a submission service
func NewService(config Config, deps Deps) (*Service, error) {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid submission config: %w", err)
	}
	if deps.Tokens == nil || deps.Observers == nil || deps.Intents == nil || deps.Payments == nil {
		return nil, fmt.Errorf("submission service requires tokens, observers, intents and payments")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	verifier := deps.Verifier
	if verifier == nil {
		verifier = evm.NewSignatureVerifier(logger)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		config:    config,
		tokens:    deps.Tokens,
		observers: deps.Observers,
		safe:      deps.Safe,
		intents:   deps.Intents,
		payments:  deps.Payments,
		verifier:  verifier,
		validate:  validate,
		logger:    logger.With("tenant", config.Tenant),
		now:       now,
	}, nil
}

// Details returns the payment parameters and the message senderAddress has to sign
func (s *Service) Details(ctx context.Context, paymentID, senderAddress string) (*TransactionDetails, error) {
	if err := s.validate.Var(senderAddress, "required,eth_addr"); err != nil {
		return nil, fmt.Errorf("%w: sender_address must be an address", ErrInvalidRequest)
	}

	payment, desc, err := s.lookupPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	typedData := evm.BuildIntentMessage(senderAddress, s.config.ReceivingAddress, desc.ChainID, payment.OrderCode)
	message, err := evm.CanonicalMessage(typedData)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	submitted, err := s.hasLiveIntent(ctx, payment.OrderCode)
	if err != nil {
		return nil, err
	}

	details := &TransactionDetails{
		ChainID:              desc.ChainID,
		NetworkIdentifier:    desc.NetworkID,
		Currency:             desc.TokenSymbol,
		RecipientAddress:     s.config.ReceivingAddress,
		Amount:               payment.Info.Amount.String(),
		AmountDisplay:        utils.FormatBaseUnits(payment.Info.Amount, desc.Decimals),
		Message:              json.RawMessage(message),
		IsSignatureSubmitted: submitted,
		PaymentURI:           utils.ERC681URL(s.config.ReceivingAddress, payment.Info.Amount, desc.ChainID, desc.ContractAddress),
		RecipientExplorerURL: utils.ExplorerAddressURL(desc.ExplorerURL, s.config.ReceivingAddress),
	}
	if !desc.Native {
		contract := desc.ContractAddress
		details.ERC20ContractAddress = &contract
	}
	return details, nil
}

// Submit verifies a signed intent and stores it. An invalid signature is never stored.
func (s *Service) Submit(ctx context.Context, paymentID string, req SubmitRequest) (*types.PaymentIntent, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	evidence, err := s.evidence(req)
	if err != nil {
		return nil, err
	}

	payment, desc, err := s.lookupPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if !payment.State.IsAwaiting() {
		return nil, fmt.Errorf("%w: payment is %s", ErrPaymentNotAwaiting, payment.State)
	}

	if evidence.Kind == types.EvidenceSafeApp && s.safe != nil {
		ref, err := s.safe.ParseURL(evidence.SafeAppURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if ref.Network != desc.NetworkID {
			return nil, fmt.Errorf("%w: safe transaction is on %s but the payment is on %s", ErrInvalidRequest, ref.Network, desc.NetworkID)
		}
	}

	logger := s.logger.With("paymentID", payment.FullID, "sender", req.SelectedAccount)

	observer, err := s.observers.Get(desc.NetworkID)
	if err != nil {
		logger.Error("No RPC configured for network", "network", desc.NetworkID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}

	typedData := evm.BuildIntentMessage(req.SelectedAccount, s.config.ReceivingAddress, desc.ChainID, payment.OrderCode)
	result, err := s.verifier.Verify(ctx, req.SelectedAccount, req.SignedMessage, typedData, observer)
	if err != nil {
		logger.Warn("Signature verification failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	if !result.Valid {
		logger.Info("Rejected signed intent", "reason", result.Reason)
		return nil, fmt.Errorf("%w: %s", ErrInvalidSignature, result.Reason)
	}

	message, err := evm.CanonicalMessage(typedData)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	intent := &types.PaymentIntent{
		ID:               uuid.NewString(),
		PaymentID:        payment.ID,
		Tenant:           payment.Tenant,
		OrderCode:        payment.OrderCode,
		Signature:        strings.ToLower(req.SignedMessage),
		Message:          message,
		SenderAddress:    strings.ToLower(req.SelectedAccount),
		RecipientAddress: strings.ToLower(s.config.ReceivingAddress),
		ChainID:          desc.ChainID,
		Evidence:         evidence,
		CreatedAt:        s.now(),
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		switch {
		case errors.Is(err, storage.ErrLiveIntentExists):
			return nil, ErrAlreadySubmitted
		case errors.Is(err, storage.ErrDuplicateTransaction):
			return nil, ErrDuplicateTransaction
		case errors.Is(err, storage.ErrInvalidInput):
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return nil, fmt.Errorf("store intent: %w", err)
	}

	logger.Info("Accepted signed intent",
		"intentID", intent.ID,
		"evidence", evidence.Kind.String(),
		"path", string(result.Path))
	return intent, nil
}

func (s *Service) evidence(req SubmitRequest) (types.Evidence, error) {
	txHash := req.TransactionHash
	if strings.TrimSpace(txHash) != "" {
		normalized, err := evm.NormalizeTransactionHash(txHash)
		if err != nil {
			return types.Evidence{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		txHash = normalized
	}

	evidence, err := types.NewEvidence(txHash, req.SafeAppTransactionURL)
	if err != nil {
		return types.Evidence{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return evidence, nil
}

func (s *Service) lookupPayment(ctx context.Context, paymentID string) (*types.Payment, chains.Descriptor, error) {
	payment, err := s.payments.Get(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, chains.Descriptor{}, ErrPaymentNotFound
	}
	if err != nil {
		return nil, chains.Descriptor{}, fmt.Errorf("get payment: %w", err)
	}
	if payment.Tenant != s.config.Tenant {
		return nil, chains.Descriptor{}, ErrPaymentNotFound
	}
	if payment.Info.Amount == nil {
		return nil, chains.Descriptor{}, fmt.Errorf("%w: payment has no amount", ErrUnsupportedCurrency)
	}

	desc, err := s.tokens.LookupCurrencyType(payment.Info.CurrencyType)
	if err != nil {
		return nil, chains.Descriptor{}, fmt.Errorf("%w: %v", ErrUnsupportedCurrency, err)
	}
	return payment, desc, nil
}

// hasLiveIntent reports whether any payment of the tenant's order already carries a live intent
func (s *Service) hasLiveIntent(ctx context.Context, orderCode string) (bool, error) {
	intents, err := s.intents.ListByOrder(ctx, s.config.Tenant, orderCode)
	if err != nil {
		return false, fmt.Errorf("list intents: %w", err)
	}
	for _, intent := range intents {
		if intent.IsLive() {
			return true, nil
		}
	}
	return false, nil
}
