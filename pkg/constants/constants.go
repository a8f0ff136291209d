package constants

import "time"

const (
	DelayBetweenRPCCalls      = 200              // delay in milliseconds between RPC calls
	TransactionReceiptTimeout = 10 * time.Second // timeout for transaction receipt
	TransactionTimeout        = 10 * time.Second // timeout for transaction lookup
	BlockNumberTimeout        = 5 * time.Second  // timeout for block height
	CallContractTimeout       = 10 * time.Second // timeout for contract call
	HealthCheckTimeout        = 3 * time.Second  // timeout for endpoint health check
	SafeServiceTimeout        = 15 * time.Second // timeout for Safe transaction service
	HTTPClientTimeout         = 30 * time.Second // overall timeout for outbound HTTP
	TLSHandshakeTimeout       = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout     = 20 * time.Second // timeout for response header
	ExpectContinueTimeout     = 1 * time.Second  // timeout for expect continue
	MaxResponseBodySize       = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
	ReadHeaderTimeout         = 10 * time.Second // timeout for reading inbound request headers
	ShutdownTimeout           = 15 * time.Second // grace period for in-flight requests on shutdown
)

// Reconciliation defaults
const (
	DefaultSafetyBlockCount               = 10
	DefaultPaymentNotReceivedRetryTimeout = 1800 * time.Second
	DefaultRunInterval                    = 5 * time.Minute
	DefaultWorkers                        = 4
)

// EIP-712 domain of the payment intent message
const (
	IntentDomainName         = "Pretix-ETH-DAI-plugin"
	IntentDomainVersion      = "1"
	IntentVerifyingContract  = "0x0000000000000000000000000000000000000000"
	IntentPrimaryType        = "Message"
	EIP1271MagicValue        = "0x1626ba7e"
	ERC20TransferEventTopic  = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"
	TransactionHashHexLength = 66
	SignatureLength          = 65
	RatesKeySuffix           = "_RATE"
	RPCURLKeySuffix          = "_RPC_URL"
	CurrencyTypeSeparator    = "-"
	NativeTokenDecimals      = 18
	DAIDecimals              = 18
	USDCDecimals             = 6
)

// Network identifiers
const (
	NetworkL1       = "L1"
	NetworkOptimism = "Optimism"
	NetworkArbitrum = "Arbitrum"
	NetworkSepolia  = "Sepolia"
)

// Token symbols
const (
	SymbolETH  = "ETH"
	SymbolDAI  = "DAI"
	SymbolUSDC = "USDC"
)

const (
	DAIAddressL1       = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	DAIAddressOptimism = "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"
	DAIAddressArbitrum = "0xDA10009cBd5D07dd0CeCc66161FC93D7c9000da1"

	USDCAddressL1       = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	USDCAddressOptimism = "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"
	USDCAddressArbitrum = "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"
)

// mapping from network id to numeric chain ID
var NetworkToChainID = map[string]int64{
	NetworkL1:       1,
	NetworkOptimism: 10,
	NetworkArbitrum: 42161,
	NetworkSepolia:  11155111,
}

var NetworkVerboseName = map[string]string{
	NetworkL1:       "Ethereum Mainnet",
	NetworkOptimism: "Optimism",
	NetworkArbitrum: "Arbitrum One",
	NetworkSepolia:  "Ethereum Sepolia",
}

var NetworkExplorerURL = map[string]string{
	NetworkL1:       "https://etherscan.io",
	NetworkOptimism: "https://optimistic.etherscan.io",
	NetworkArbitrum: "https://arbiscan.io",
	NetworkSepolia:  "https://sepolia.etherscan.io",
}

// Safe transaction service per network
var SafeTransactionServiceURL = map[string]string{
	NetworkL1:       "https://safe-transaction-mainnet.safe.global",
	NetworkOptimism: "https://safe-transaction-optimism.safe.global",
	NetworkArbitrum: "https://safe-transaction-arbitrum.safe.global",
	NetworkSepolia:  "https://safe-transaction-sepolia.safe.global",
}
