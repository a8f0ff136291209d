package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sigweihq/ethreconcile/pkg/chains"
	"github.com/sigweihq/ethreconcile/pkg/chains/evm"
	"github.com/sigweihq/ethreconcile/pkg/safe"
	"github.com/sigweihq/ethreconcile/pkg/types"
)

// SafeResolver resolves Safe transaction-service URLs. Implemented by *safe.Client.
type SafeResolver interface {
	ParseURL(rawURL string) (*safe.TransactionRef, error)
	GetTransaction(ctx context.Context, rawURL string) (*safe.MultisigTransaction, error)
}

// networkView is what one worker knows about its network during a run.
// The block height is read once, on first use.
type networkView struct {
	observer chains.Observer
	height   uint64
	loaded   bool
}

func (n *networkView) blockHeight(ctx context.Context) (uint64, error) {
	if n.loaded {
		return n.height, nil
	}
	height, err := n.observer.BlockHeight(ctx)
	if err != nil {
		return 0, err
	}
	n.height, n.loaded = height, true
	return height, nil
}

// evaluation carries the inputs of one intent evaluation
type evaluation struct {
	payment *types.Payment
	desc    chains.Descriptor
	intent  *types.PaymentIntent
	network *networkView
}

// evaluate runs one intent through the confirmation state machine. It never mutates state.
func (r *Reconciler) evaluate(ctx context.Context, ev evaluation) Outcome {
	o := r.evaluateEvidence(ctx, ev)
	if o.TxHash == "" && ev.intent.Evidence.Kind == types.EvidenceDirectTx {
		o.TxHash = ev.intent.Evidence.TransactionHash
	}
	return o
}

func (r *Reconciler) evaluateEvidence(ctx context.Context, ev evaluation) Outcome {
	intent := ev.intent

	if intent.ChainID != ev.desc.ChainID {
		return invalidated("intent signed for chain %d but payment is on %s (chain %d)",
			intent.ChainID, ev.desc.NetworkID, ev.desc.ChainID)
	}
	if r.config.ReceivingAddress != "" && !evm.AddressesEqual(intent.RecipientAddress, r.config.ReceivingAddress) {
		return invalidated("intent recipient %s is not the receiving address %s",
			intent.RecipientAddress, r.config.ReceivingAddress)
	}
	if ev.payment.Info.Amount == nil {
		return invalidated("payment has no expected amount")
	}

	var (
		receipt chains.TransactionReceipt
		safeTx  *safe.MultisigTransaction
		outcome *Outcome
	)

	switch intent.Evidence.Kind {
	case types.EvidenceDirectTx:
		receipt, outcome = r.directReceipt(ctx, ev)
	case types.EvidenceSafeApp:
		receipt, safeTx, outcome = r.safeReceipt(ctx, ev)
	default:
		return invalidated("intent carries no evidence")
	}
	if outcome != nil {
		return *outcome
	}

	o := r.evaluateReceipt(ctx, ev, receipt, safeTx)
	o.TxHash = strings.ToLower(receipt.TxHash())
	return o
}

// evaluateReceipt checks a mined transaction against the payment and the signature
func (r *Reconciler) evaluateReceipt(ctx context.Context, ev evaluation, receipt chains.TransactionReceipt, safeTx *safe.MultisigTransaction) Outcome {
	intent := ev.intent

	if !receipt.IsSuccessful() {
		return invalidated("transaction %s reverted", receipt.TxHash())
	}

	height, err := ev.network.blockHeight(ctx)
	if err != nil {
		return transient("cannot read block height", err)
	}
	safety := r.safetyBlockCount(ev.desc)
	if receipt.BlockNumber()+safety > height {
		return pending("transaction %s in block %d, waiting for %d confirmations (height %d)",
			receipt.TxHash(), receipt.BlockNumber(), safety, height)
	}

	transfer, outcome := r.extractTransfer(ctx, ev, receipt, safeTx)
	if outcome != nil {
		return *outcome
	}

	expected := evm.ExpectedTransfer{
		From:  intent.SenderAddress,
		To:    intent.RecipientAddress,
		Value: ev.payment.Info.Amount,
	}
	if !ev.desc.Native {
		expected.Asset = ev.desc.ContractAddress
	}
	if err := evm.ValidateTransfer(expected, *transfer); err != nil {
		return r.unmatched(intent, fmt.Sprintf("transaction %s: %v", receipt.TxHash(), err))
	}

	// The transfer matches; make sure the buyer's signature binds it to this order
	typedData := evm.BuildIntentMessage(intent.SenderAddress, intent.RecipientAddress, intent.ChainID, ev.payment.OrderCode)
	result, err := r.verifier.Verify(ctx, intent.SenderAddress, intent.Signature, typedData, ev.network.observer)
	if err != nil {
		return transient("cannot verify signature", err)
	}
	if !result.Valid {
		return invalidated("signature invalid: %s", result.Reason)
	}

	return confirmed("transaction %s pays %s %s from %s to %s",
		receipt.TxHash(), transfer.Value, ev.desc.TokenSymbol, transfer.From, transfer.To)
}

func (r *Reconciler) directReceipt(ctx context.Context, ev evaluation) (chains.TransactionReceipt, *Outcome) {
	txHash := ev.intent.Evidence.TransactionHash

	receipt, err := ev.network.observer.GetReceipt(ctx, txHash)
	if errors.Is(err, chains.ErrNotFound) {
		o := r.notFound(ev.intent, fmt.Sprintf("no receipt for transaction %s", txHash))
		return nil, &o
	}
	if err != nil {
		o := transient("cannot fetch receipt", err)
		return nil, &o
	}
	return receipt, nil
}

// safeReceipt resolves a Safe transaction through its transaction service, then
// fetches the receipt of the transaction that executed it.
func (r *Reconciler) safeReceipt(ctx context.Context, ev evaluation) (chains.TransactionReceipt, *safe.MultisigTransaction, *Outcome) {
	if r.safe == nil {
		o := Outcome{Kind: OutcomeConfigError, Reason: "no safe transaction service configured"}
		return nil, nil, &o
	}

	url := ev.intent.Evidence.SafeAppURL
	ref, err := r.safe.ParseURL(url)
	if err != nil {
		o := invalidated("unusable safe transaction url: %v", err)
		return nil, nil, &o
	}
	if ref.Network != ev.desc.NetworkID {
		o := invalidated("safe transaction is on %s but payment is on %s", ref.Network, ev.desc.NetworkID)
		return nil, nil, &o
	}

	safeTx, err := r.safe.GetTransaction(ctx, url)
	if errors.Is(err, safe.ErrUnknownTransaction) {
		o := r.notFound(ev.intent, fmt.Sprintf("safe transaction %s unknown to the service", ref.SafeTxHash))
		return nil, nil, &o
	}
	if err != nil {
		o := transient("cannot fetch safe transaction", err)
		return nil, nil, &o
	}

	if !evm.AddressesEqual(safeTx.Safe, ev.intent.SenderAddress) {
		o := invalidated("safe transaction belongs to %s, intent was signed for %s", safeTx.Safe, ev.intent.SenderAddress)
		return nil, nil, &o
	}
	if !safeTx.IsExecuted {
		o := pending("safe transaction %s not executed yet", ref.SafeTxHash)
		return nil, nil, &o
	}
	if !safeTx.IsSuccessful {
		o := invalidated("safe transaction %s failed on execution", ref.SafeTxHash)
		return nil, nil, &o
	}

	receipt, err := ev.network.observer.GetReceipt(ctx, safeTx.TransactionHash)
	if errors.Is(err, chains.ErrNotFound) {
		o := pending("safe transaction %s executed in %s, receipt not available yet", ref.SafeTxHash, safeTx.TransactionHash)
		return nil, nil, &o
	}
	if err != nil {
		o := transient("cannot fetch receipt", err)
		return nil, nil, &o
	}
	return receipt, safeTx, nil
}

// notFound applies the retry timeout to evidence that cannot be found yet
func (r *Reconciler) notFound(intent *types.PaymentIntent, reason string) Outcome {
	age := intent.Age(r.now())
	if age > r.config.RetryTimeout {
		return invalidated("%s after %s", reason, age.Round(time.Second))
	}
	return pending("%s yet", reason)
}

// unmatched applies the retry timeout to evidence that does not pay the payment.
// The intent is invalidated once it is older than the timeout, which frees the order
// for a corrected submission.
func (r *Reconciler) unmatched(intent *types.PaymentIntent, reason string) Outcome {
	age := intent.Age(r.now())
	if age > r.config.RetryTimeout {
		return invalidated("%s, still unmatched after %s", reason, age.Round(time.Second))
	}
	return pending("skipping %s", reason)
}

// extractTransfer reads the transfer the evidence made, native or ERC-20
func (r *Reconciler) extractTransfer(ctx context.Context, ev evaluation, receipt chains.TransactionReceipt, safeTx *safe.MultisigTransaction) (*chains.TransferEvent, *Outcome) {
	if !ev.desc.Native {
		transfer, err := receipt.TransferEvent(ev.desc.ContractAddress, ev.intent.RecipientAddress)
		if err != nil {
			o := r.unmatched(ev.intent, fmt.Sprintf("transaction %s: %v", receipt.TxHash(), err))
			return nil, &o
		}
		return transfer, nil
	}

	// The ETH of a Safe payment moves inside the Safe's execution
	if safeTx != nil {
		transfer, ok := safeTx.NativeTransfer()
		if !ok {
			o := r.unmatched(ev.intent, fmt.Sprintf("safe transaction %s: no native transfer", safeTx.SafeTxHash))
			return nil, &o
		}
		return transfer, nil
	}

	tx, err := ev.network.observer.GetTransaction(ctx, receipt.TxHash())
	if err != nil {
		o := transient("cannot fetch transaction", err)
		return nil, &o
	}
	return &chains.TransferEvent{From: tx.From, To: tx.To, Value: tx.Value}, nil
}

// safetyBlockCount is the larger of the tenant setting and the network default
func (r *Reconciler) safetyBlockCount(desc chains.Descriptor) uint64 {
	if desc.SafetyBlockCount > r.config.SafetyBlockCount {
		return desc.SafetyBlockCount
	}
	return r.config.SafetyBlockCount
}
