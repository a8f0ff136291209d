package evm

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	daiAddress   = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	otherToken   = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	buyerAddress = common.HexToAddress("0x2222222222222222222222222222222222222222")
	payeeAddress = common.HexToAddress(testReceiver)
)

func transferLog(token, from, to common.Address, value int64) *ethtypes.Log {
	return &ethtypes.Log{
		Address: token,
		Topics: []common.Hash{
			transferEventSignature,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.BigToHash(big.NewInt(value)).Bytes(),
	}
}

func TestTransferEventFiltersByToken(t *testing.T) {
	receipt := NewEVMReceipt(&ethtypes.Receipt{
		Status:      ethtypes.ReceiptStatusSuccessful,
		BlockNumber: big.NewInt(100),
		Logs: []*ethtypes.Log{
			transferLog(otherToken, buyerAddress, payeeAddress, 999),
			transferLog(daiAddress, buyerAddress, payeeAddress, 42),
		},
	})

	event, err := receipt.TransferEvent(daiAddress.Hex(), payeeAddress.Hex())
	require.NoError(t, err)
	assert.Equal(t, buyerAddress.Hex(), event.From)
	assert.Equal(t, payeeAddress.Hex(), event.To)
	assert.Equal(t, int64(42), event.Value.Int64())
	assert.Equal(t, daiAddress.Hex(), event.Asset)

	assert.True(t, receipt.IsSuccessful())
	assert.Equal(t, uint64(100), receipt.BlockNumber())
}

func TestTransferEventPrefersRecipient(t *testing.T) {
	stranger := common.HexToAddress("0x4444444444444444444444444444444444444444")
	receipt := NewEVMReceipt(&ethtypes.Receipt{
		Logs: []*ethtypes.Log{
			transferLog(daiAddress, buyerAddress, stranger, 7),
			transferLog(daiAddress, buyerAddress, payeeAddress, 42),
		},
	})

	event, err := receipt.TransferEvent(daiAddress.Hex(), payeeAddress.Hex())
	require.NoError(t, err)
	assert.Equal(t, payeeAddress.Hex(), event.To)
	assert.Equal(t, int64(42), event.Value.Int64())

	// Without a transfer to the recipient the first one is reported, so the mismatch shows
	event, err = receipt.TransferEvent(daiAddress.Hex(), otherToken.Hex())
	require.NoError(t, err)
	assert.Equal(t, stranger.Hex(), event.To)
}

func TestTransferEventIgnoresOtherContracts(t *testing.T) {
	receipt := NewEVMReceipt(&ethtypes.Receipt{
		Logs: []*ethtypes.Log{transferLog(otherToken, buyerAddress, payeeAddress, 999)},
	})

	_, err := receipt.TransferEvent(daiAddress.Hex(), payeeAddress.Hex())
	assert.ErrorIs(t, err, chains.ErrNoMatchingTransfer)
}

func TestTransferEventIgnoresNFTTransfers(t *testing.T) {
	nft := transferLog(daiAddress, buyerAddress, payeeAddress, 0)
	nft.Topics = append(nft.Topics, common.BigToHash(big.NewInt(7)))
	nft.Data = nil

	receipt := NewEVMReceipt(&ethtypes.Receipt{Logs: []*ethtypes.Log{nft}})

	_, err := receipt.TransferEvent(daiAddress.Hex(), payeeAddress.Hex())
	assert.ErrorIs(t, err, chains.ErrNoMatchingTransfer)
}

func TestFailedReceipt(t *testing.T) {
	receipt := NewEVMReceipt(&ethtypes.Receipt{Status: ethtypes.ReceiptStatusFailed})
	assert.False(t, receipt.IsSuccessful())
	assert.Equal(t, uint64(0), receipt.BlockNumber())
}

func TestStripBlockTimestampFromLogs(t *testing.T) {
	raw := []byte(`{"status":"0x1","logs":[{"address":"0x6b175474e89094c44da98b954eedeac495271d0f","blockTimestamp":"0x65a0"}]}`)

	cleaned, err := stripBlockTimestampFromLogs(raw)
	require.NoError(t, err)
	assert.NotContains(t, string(cleaned), "blockTimestamp")
	assert.Contains(t, string(cleaned), "0x6b175474e89094c44da98b954eedeac495271d0f")
}
