package mint

import (
	"context"
	"errors"
	"time"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/cashu/nuts/nut05"
	"github.com/elnosh/multimint/crypto"
	"github.com/elnosh/multimint/mint/lightning"
	"github.com/elnosh/multimint/mint/storage"
)

type meltQuote struct {
	paymentHash string
	amount      uint64
	feeReserve  uint64
	internal    bool
}

func divCeil(a, b uint64) uint64 {
	return a/b + min(a%b, 1)
}

// quoteMelt returns the amount and fee reserve in sats to pay request.
// Payments to invoices of this backend do not need a fee reserve.
func (m *Mint) quoteMelt(ctx context.Context, request string) (meltQuote, error) {
	amountMsat, paymentHash, err := lightning.DecodeAmountMsat(request)
	if err != nil {
		m.logDebugf("invalid payment request: %v", err)
		return meltQuote{}, cashu.InvalidInvoiceErr
	}

	quote := meltQuote{
		paymentHash: paymentHash,
		amount:      divCeil(amountMsat, 1000),
	}
	if m.limits.MaxMeltAmount > 0 && quote.amount > m.limits.MaxMeltAmount {
		return meltQuote{}, cashu.MeltAmountExceededErr
	}

	quote.internal, err = m.lightningClient.IsInternal(ctx, paymentHash)
	if err != nil {
		return meltQuote{}, m.lightningError("could not check if payment is internal", err)
	}
	if !quote.internal {
		quote.feeReserve = divCeil(m.lightningClient.FeeReserve(amountMsat), 1000)
	}

	return quote, nil
}

type meltOutcome int

const (
	meltPaid meltOutcome = iota
	meltFailed
	meltUncertain
)

func (o meltOutcome) String() string {
	switch o {
	case meltPaid:
		return "paid"
	case meltFailed:
		return "failed"
	default:
		return "uncertain"
	}
}

// Melt pays request with the value of the proofs. The proofs are reserved
// as pending while the payment is in flight so they cannot be used
// concurrently. They are spent if the payment succeeds and released if it
// fails. If the outcome is not known, the configured policy decides.
func (m *Mint) Melt(
	ctx context.Context,
	mintId string,
	proofs cashu.Proofs,
	request string,
) (resp nut05.PostMeltResponse, err error) {
	defer func() { m.metrics.observe("melt", err) }()

	instance, keyset, err := m.instanceKeyset(mintId)
	if err != nil {
		return nut05.PostMeltResponse{}, err
	}

	if err := checkKeysetMembership(proofs, keyset.Id); err != nil {
		return nut05.PostMeltResponse{}, err
	}
	if err := m.verifyProofs(keyset, proofs); err != nil {
		return nut05.PostMeltResponse{}, err
	}

	quote, err := m.quoteMelt(ctx, request)
	if err != nil {
		return nut05.PostMeltResponse{}, err
	}

	inputsAmount, err := proofsAmount(proofs)
	if err != nil {
		return nut05.PostMeltResponse{}, err
	}
	required, overflow := overflowAddUint64(quote.amount, quote.feeReserve)
	if overflow {
		return nut05.PostMeltResponse{}, cashu.AmountOverflowErr
	}
	if _, underflow := underflowSubUint64(inputsAmount, required); underflow {
		return nut05.PostMeltResponse{}, cashu.InsufficientProofsAmount
	}

	if err := m.db.AddPendingProofs(proofs, quote.paymentHash); err != nil {
		switch {
		case errors.Is(err, storage.ErrProofSpent):
			return nut05.PostMeltResponse{}, cashu.ProofAlreadyUsedErr
		case errors.Is(err, storage.ErrProofPending):
			return nut05.PostMeltResponse{}, cashu.ProofPendingErr
		default:
			return nut05.PostMeltResponse{}, m.dbError("error reserving proofs", err)
		}
	}

	// the outcome of the payment decides the state of the proofs
	// so the caller can no longer cancel from here.
	ctx = context.WithoutCancel(ctx)

	m.logInfof("paying invoice '%v' of %v sats with fee reserve %v for mint '%v'",
		quote.paymentHash, quote.amount, quote.feeReserve, mintId)

	outcome, preimage, railErr := m.sendPayment(ctx, instance, request, quote)
	m.logInfof("payment for invoice '%v' of mint '%v': %v", quote.paymentHash, mintId, outcome)

	spend := outcome == meltPaid || (outcome == meltUncertain && m.invalidateOnUncertainStatus)
	m.settleMeltProofs(keyset, proofs, spend)

	melt := storage.Melt{
		MintId:      mintId,
		PaymentHash: quote.paymentHash,
		Amount:      quote.amount,
		FeeReserve:  quote.feeReserve,
		InputAmount: inputsAmount,
		Paid:        outcome == meltPaid,
		ProofsSpent: spend,
		CreatedAt:   time.Now().Unix(),
	}
	if err := m.db.SaveMelt(melt); err != nil {
		m.logErrorf("error saving melt for invoice '%v': %v", quote.paymentHash, err)
	}

	m.metrics.melts.WithLabelValues(mintId, outcome.String()).Inc()
	if spend {
		m.metrics.redeemed.WithLabelValues(mintId).Add(float64(inputsAmount))
	}

	if outcome == meltPaid {
		return nut05.PostMeltResponse{Paid: true, Preimage: preimage}, nil
	}
	if railErr != nil {
		return nut05.PostMeltResponse{}, m.lightningError("error paying invoice '"+quote.paymentHash+"'", railErr)
	}
	return nut05.PostMeltResponse{Paid: false}, nil
}

// sendPayment dispatches the payment and, unless the backend reported a
// definite result, queries its status. The returned error is the backend
// failure to report to the caller, if any.
func (m *Mint) sendPayment(
	ctx context.Context,
	instance storage.MintInstance,
	request string,
	quote meltQuote,
) (meltOutcome, string, error) {
	dispatchCtx := ctx
	if m.meltTimeout != nil {
		var cancel context.CancelFunc
		dispatchCtx, cancel = context.WithTimeout(ctx, *m.meltTimeout)
		defer cancel()
	}

	status, sendErr := m.lightningClient.SendPayment(dispatchCtx, instance.Wallet, request, quote.feeReserve)
	switch status.PaymentStatus {
	case lightning.Succeeded:
		if sendErr == nil {
			return meltPaid, status.Preimage, nil
		}
	case lightning.Failed:
		// the backend rejected the payment
		return meltFailed, "", sendErr
	}

	status, err := m.lightningClient.OutgoingPaymentStatus(ctx, instance.Wallet, quote.paymentHash)
	if err != nil {
		// a payment the backend has no record of after a dispatch error was never sent
		if sendErr != nil && errors.Is(err, lightning.OutgoingPaymentNotFound) {
			return meltFailed, "", sendErr
		}
		m.logErrorf("could not get status of payment for invoice '%v': %v", quote.paymentHash, err)
		if sendErr != nil {
			return meltUncertain, "", sendErr
		}
		return meltUncertain, "", err
	}

	switch status.PaymentStatus {
	case lightning.Succeeded:
		return meltPaid, status.Preimage, nil
	case lightning.Failed:
		return meltFailed, "", sendErr
	default:
		return meltUncertain, "", sendErr
	}
}

// settleMeltProofs moves the reserved proofs to spent or releases them.
func (m *Mint) settleMeltProofs(keyset *crypto.MintKeyset, proofs cashu.Proofs, spend bool) {
	secrets := proofs.Secrets()
	if spend {
		if err := m.db.SpendPendingProofs(keyset.Id, secrets); err != nil {
			// proofs stay reserved and cannot be used again
			m.logErrorf("error invalidating pending proofs: %v", err)
		}
		return
	}

	if err := m.db.RemovePendingProofs(keyset.Id, secrets); err != nil {
		m.logErrorf("error removing pending proofs: %v", err)
	}
}
