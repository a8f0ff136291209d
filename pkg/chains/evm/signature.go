package evm

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sigweihq/ethreconcile/pkg/constants"
)

// BuildIntentMessage returns the EIP-712 typed data a buyer signs to claim a payment
func BuildIntentMessage(sender, receiver string, chainID int64, orderCode string) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			constants.IntentPrimaryType: []apitypes.Type{
				{Name: "senderAddress", Type: "address"},
				{Name: "receiverAddress", Type: "address"},
				{Name: "chainId", Type: "uint256"},
				{Name: "orderCode", Type: "string"},
			},
		},
		PrimaryType: constants.IntentPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              constants.IntentDomainName,
			Version:           constants.IntentDomainVersion,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: constants.IntentVerifyingContract,
		},
		Message: apitypes.TypedDataMessage{
			"senderAddress":   strings.ToLower(sender),
			"receiverAddress": strings.ToLower(receiver),
			"chainId":         strconv.FormatInt(chainID, 10),
			"orderCode":       orderCode,
		},
	}
}

// CanonicalMessage serializes typed data deterministically (map keys are sorted)
func CanonicalMessage(typedData apitypes.TypedData) (string, error) {
	typedDataJSON, err := json.Marshal(typedData)
	if err != nil {
		return "", fmt.Errorf("failed to marshal typed data: %w", err)
	}
	return string(typedDataJSON), nil
}

// ParseCanonicalMessage is the inverse of CanonicalMessage
func ParseCanonicalMessage(message string) (apitypes.TypedData, error) {
	var typedData apitypes.TypedData
	if err := json.Unmarshal([]byte(message), &typedData); err != nil {
		return apitypes.TypedData{}, fmt.Errorf("failed to unmarshal typed data: %w", err)
	}
	return typedData, nil
}

// IntentDigest returns keccak256("\x19\x01" || domainSeparator || hashStruct(message))
func IntentDigest(typedData apitypes.TypedData) ([]byte, error) {
	hash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	return crypto.Keccak256([]byte("\x19\x01"), domainSeparator, hash), nil
}

// ContractWalletMessage returns the plain-text message contract wallets sign
// in place of typed data: sender+receiver+orderCode+chainId, addresses lowercased.
func ContractWalletMessage(sender, receiver, orderCode string, chainID int64) string {
	return strings.ToLower(sender) + strings.ToLower(receiver) + orderCode + strconv.FormatInt(chainID, 10)
}

// ReconstructMessageHash returns the EIP-191 personal-message hash of
// ContractWalletMessage, which is what a contract wallet is asked to validate.
func ReconstructMessageHash(sender, receiver, orderCode string, chainID int64) [32]byte {
	var hash [32]byte
	copy(hash[:], accounts.TextHash([]byte(ContractWalletMessage(sender, receiver, orderCode, chainID))))
	return hash
}

// SignIntent signs the typed data and returns a 0x-prefixed r||s||v signature with v in {27, 28}
func SignIntent(privateKey *ecdsa.PrivateKey, typedData apitypes.TypedData) (string, error) {
	digest, err := IntentDigest(typedData)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign: %w", err)
	}

	// Convert v from recovery id to ethereum format (27/28)
	signature[64] += 27

	return hexutil.Encode(signature), nil
}

// RecoverSigner returns the address that produced signature over digest
func RecoverSigner(digest []byte, signature []byte) (common.Address, error) {
	if len(signature) != constants.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}

	sig := make([]byte, len(signature))
	copy(sig, signature)

	// Normalize v to a recovery id (0/1)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	if sig[64] > 1 {
		return common.Address{}, fmt.Errorf("invalid signature recovery id: %d", signature[64])
	}

	pubKey, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}

	return crypto.PubkeyToAddress(*pubKey), nil
}

// DeriveAddress derives the checksummed address of a private key
func DeriveAddress(privateKey *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(privateKey.PublicKey).Hex()
}
