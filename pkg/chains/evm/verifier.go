package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/constants"
)

// VerificationPath tells which scheme accepted or rejected a signature
type VerificationPath string

const (
	PathEOA     VerificationPath = "eoa"
	PathEIP1271 VerificationPath = "eip1271"
)

// VerificationResult is the verdict on a signed intent. A nil error with
// Valid=false is a definitive rejection; transport failures come back as errors.
type VerificationResult struct {
	Valid  bool
	Path   VerificationPath
	Signer string
	Reason string
}

func invalid(path VerificationPath, format string, args ...any) *VerificationResult {
	return &VerificationResult{Valid: false, Path: path, Reason: fmt.Sprintf(format, args...)}
}

// SignatureVerifier checks buyer signatures over intent messages
type SignatureVerifier struct {
	logger *slog.Logger
}

// NewSignatureVerifier creates a verifier
func NewSignatureVerifier(logger *slog.Logger) *SignatureVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignatureVerifier{logger: logger}
}

// Verify decides whether signature is claimedSender's signature over typedData.
//
// An ECDSA signature recovering to claimedSender is accepted without touching the
// chain. Otherwise, if claimedSender holds code, its EIP-1271 isValidSignature is
// asked about the personal-message hash of the same fields and must answer the
// magic value.
func (v *SignatureVerifier) Verify(ctx context.Context, claimedSender, signature string, typedData apitypes.TypedData, checker chains.SignatureChecker) (*VerificationResult, error) {
	sigBytes, err := hexutil.Decode(signature)
	if err != nil {
		return invalid(PathEOA, "malformed signature: %v", err), nil
	}

	fields, err := intentFields(typedData)
	if err != nil {
		return invalid(PathEOA, "malformed message: %v", err), nil
	}
	if !AddressesEqual(fields.sender, claimedSender) {
		return invalid(PathEOA, "message sender %s does not match claimed sender %s", fields.sender, claimedSender), nil
	}

	if len(sigBytes) == constants.SignatureLength {
		digest, err := IntentDigest(typedData)
		if err != nil {
			return invalid(PathEOA, "cannot hash message: %v", err), nil
		}
		signer, err := RecoverSigner(digest, sigBytes)
		if err == nil && AddressesEqual(signer.Hex(), claimedSender) {
			return &VerificationResult{Valid: true, Path: PathEOA, Signer: signer.Hex()}, nil
		}
	}

	hasCode, err := checker.HasCode(ctx, claimedSender)
	if err != nil {
		return nil, fmt.Errorf("failed to detect contract wallet: %w", err)
	}
	if !hasCode {
		return invalid(PathEOA, "signature was not produced by %s", claimedSender), nil
	}

	hash := ReconstructMessageHash(fields.sender, fields.receiver, fields.orderCode, fields.chainID)
	magic, err := checker.IsValidSignature(ctx, claimedSender, hash, sigBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to call isValidSignature: %w", err)
	}

	if hexutil.Encode(magic[:]) != constants.EIP1271MagicValue {
		v.logger.Info("contract wallet rejected signature",
			"wallet", claimedSender,
			"returned", hexutil.Encode(magic[:]))
		return invalid(PathEIP1271, "contract wallet returned %s", hexutil.Encode(magic[:])), nil
	}

	return &VerificationResult{Valid: true, Path: PathEIP1271, Signer: claimedSender}, nil
}

type messageFields struct {
	sender    string
	receiver  string
	orderCode string
	chainID   int64
}

func intentFields(typedData apitypes.TypedData) (messageFields, error) {
	var f messageFields
	var ok bool

	if f.sender, ok = typedData.Message["senderAddress"].(string); !ok {
		return f, fmt.Errorf("missing senderAddress")
	}
	if f.receiver, ok = typedData.Message["receiverAddress"].(string); !ok {
		return f, fmt.Errorf("missing receiverAddress")
	}
	if f.orderCode, ok = typedData.Message["orderCode"].(string); !ok {
		return f, fmt.Errorf("missing orderCode")
	}

	chainID, ok := typedData.Message["chainId"].(string)
	if !ok {
		return f, fmt.Errorf("missing chainId")
	}
	parsed, ok := new(big.Int).SetString(strings.TrimSpace(chainID), 0)
	if !ok || !parsed.IsInt64() {
		return f, fmt.Errorf("invalid chainId %q", chainID)
	}
	f.chainID = parsed.Int64()

	if typedData.Domain.ChainId == nil || (*big.Int)(typedData.Domain.ChainId).Cmp(parsed) != 0 {
		return f, fmt.Errorf("domain chainId does not match message chainId")
	}

	return f, nil
}
