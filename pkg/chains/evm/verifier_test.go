package evm

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChecker is a chains.SignatureChecker with canned answers
type fakeChecker struct {
	hasCode    bool
	hasCodeErr error
	magic      [4]byte
	callErr    error

	calls    int
	lastHash [32]byte
}

func (f *fakeChecker) HasCode(ctx context.Context, address string) (bool, error) {
	f.calls++
	return f.hasCode, f.hasCodeErr
}

func (f *fakeChecker) IsValidSignature(ctx context.Context, wallet string, hash [32]byte, signature []byte) ([4]byte, error) {
	f.calls++
	f.lastHash = hash
	return f.magic, f.callErr
}

var magicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

func TestVerifyEOA(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := DeriveAddress(key)

	td := BuildIntentMessage(sender, testReceiver, 1, testOrderCode)
	signature, err := SignIntent(key, td)
	require.NoError(t, err)

	checker := &fakeChecker{}
	result, err := NewSignatureVerifier(nil).Verify(context.Background(), sender, signature, td, checker)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, PathEOA, result.Path)
	assert.Equal(t, 0, checker.calls, "a recovered EOA signature needs no chain access")
}

func TestVerifyDelegatedEOAUsesRecoveredSigner(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := DeriveAddress(key)

	td := BuildIntentMessage(sender, testReceiver, 1, testOrderCode)
	signature, err := SignIntent(key, td)
	require.NoError(t, err)

	// An EIP-7702 account has code but still signs with its own key
	checker := &fakeChecker{hasCode: true}
	result, err := NewSignatureVerifier(nil).Verify(context.Background(), sender, signature, td, checker)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, PathEOA, result.Path)
	assert.Equal(t, 0, checker.calls, "isValidSignature is not consulted")
}

func TestVerifyRejectsFlippedFields(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := DeriveAddress(key)

	signature, err := SignIntent(key, BuildIntentMessage(sender, testReceiver, 1, testOrderCode))
	require.NoError(t, err)

	tests := []struct {
		name     string
		receiver string
		chainID  int64
		order    string
	}{
		{name: "receiver", receiver: "0x9999999999999999999999999999999999999999", chainID: 1, order: testOrderCode},
		{name: "chain id", receiver: testReceiver, chainID: 10, order: testOrderCode},
		{name: "order code", receiver: testReceiver, chainID: 1, order: "OTHER"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := BuildIntentMessage(sender, tt.receiver, tt.chainID, tt.order)
			result, err := NewSignatureVerifier(nil).Verify(context.Background(), sender, signature, td, &fakeChecker{})
			require.NoError(t, err)
			assert.False(t, result.Valid)
		})
	}
}

func TestVerifyRejectsClaimedSenderMismatch(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sender := DeriveAddress(key)

	td := BuildIntentMessage(sender, testReceiver, 1, testOrderCode)
	signature, err := SignIntent(key, td)
	require.NoError(t, err)

	result, err := NewSignatureVerifier(nil).Verify(context.Background(), testReceiver, signature, td, &fakeChecker{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerifyMalformedSignature(t *testing.T) {
	td := BuildIntentMessage(testReceiver, testReceiver, 1, testOrderCode)

	for _, sig := range []string{"", "nothex", "0xzz"} {
		result, err := NewSignatureVerifier(nil).Verify(context.Background(), testReceiver, sig, td, &fakeChecker{})
		require.NoError(t, err, sig)
		assert.False(t, result.Valid, sig)
	}
}

func TestVerifyContractWallet(t *testing.T) {
	wallet := "0x5555555555555555555555555555555555555555"
	td := BuildIntentMessage(wallet, testReceiver, 10, testOrderCode)
	signature := hexutil.Encode([]byte{0x01, 0x02, 0x03})

	tests := []struct {
		name      string
		checker   *fakeChecker
		wantValid bool
		wantErr   bool
	}{
		{
			name:      "wallet answers magic value",
			checker:   &fakeChecker{hasCode: true, magic: magicValue},
			wantValid: true,
		},
		{
			name:    "wallet answers something else",
			checker: &fakeChecker{hasCode: true, magic: [4]byte{0xff, 0xff, 0xff, 0xff}},
		},
		{
			name:    "wallet reverted or returned nothing",
			checker: &fakeChecker{hasCode: true},
		},
		{
			name:    "no code and no valid ECDSA signature",
			checker: &fakeChecker{hasCode: false, magic: magicValue},
		},
		{
			name:    "contract detection fails",
			checker: &fakeChecker{hasCodeErr: errors.New("connection refused")},
			wantErr: true,
		},
		{
			name:    "isValidSignature call fails",
			checker: &fakeChecker{hasCode: true, callErr: errors.New("timeout")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewSignatureVerifier(nil).Verify(context.Background(), wallet, signature, td, tt.checker)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, result)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, result.Valid)
		})
	}
}

func TestVerifyContractWalletHashesPersonalMessage(t *testing.T) {
	wallet := "0x5555555555555555555555555555555555555555"
	td := BuildIntentMessage(wallet, testReceiver, 10, testOrderCode)
	checker := &fakeChecker{hasCode: true, magic: magicValue}

	_, err := NewSignatureVerifier(nil).Verify(context.Background(), wallet, "0x", td, checker)
	require.NoError(t, err)
	assert.Equal(t, ReconstructMessageHash(wallet, testReceiver, testOrderCode, 10), checker.lastHash)
}
