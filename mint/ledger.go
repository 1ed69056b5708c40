package mint

import (
	"context"
	"errors"
	"time"

	"github.com/elnosh/multimint/cashu"
	"github.com/elnosh/multimint/mint/storage"
)

// openInvoice creates an invoice on the lightning account of the instance
// with the instance name as memo and saves it as not issued.
func (m *Mint) openInvoice(ctx context.Context, instance storage.MintInstance, amount uint64) (storage.Invoice, error) {
	lnInvoice, err := m.lightningClient.CreateInvoice(ctx, instance.Wallet, amount, instance.Name)
	if err != nil {
		return storage.Invoice{}, m.lightningError("could not create invoice", err)
	}

	invoice := storage.Invoice{
		PaymentHash:    lnInvoice.PaymentHash,
		MintId:         instance.Id,
		Amount:         amount,
		PaymentRequest: lnInvoice.PaymentRequest,
		Issued:         false,
		CreatedAt:      time.Now().Unix(),
	}
	if err := m.db.SaveInvoice(invoice); err != nil {
		return storage.Invoice{}, m.dbError("error saving invoice", err)
	}

	m.logInfof("created invoice '%v' for %v sats for mint '%v'", invoice.PaymentHash, amount, instance.Id)
	return invoice, nil
}

// markIssued reports whether this call set the invoice as issued.
func (m *Mint) markIssued(paymentHash string, issuedAmount uint64) (bool, error) {
	issued, err := m.db.MarkInvoiceIssued(paymentHash, issuedAmount)
	if errors.Is(err, storage.ErrNotFound) {
		return false, cashu.InvoiceNotExistErr
	}
	if err != nil {
		return false, m.dbError("error marking invoice as issued", err)
	}
	return issued, nil
}

// lookupInvoice returns the invoice with paymentHash if it belongs to the mint instance.
func (m *Mint) lookupInvoice(mintId, paymentHash string) (storage.Invoice, error) {
	invoice, err := m.db.GetInvoice(paymentHash)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Invoice{}, cashu.InvoiceNotExistErr
	}
	if err != nil {
		return storage.Invoice{}, m.dbError("error reading invoice", err)
	}
	if invoice.MintId != mintId {
		return storage.Invoice{}, cashu.InvoiceNotExistErr
	}
	return invoice, nil
}
