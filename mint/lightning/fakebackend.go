package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	FakePreimage = "0000000000000000"
)

type fakeInvoice struct {
	Invoice
	account string
}

// FakeBackend is an in-memory Client. Invoices created through it are
// settled on creation unless InvoicesUnpaid is set. Paying an invoice
// created by the same backend settles it internally.
//
// The exported fields inject failures and must be set before the
// backend is used concurrently.
type FakeBackend struct {
	// InvoicesUnpaid creates invoices that are not settled
	// until SetInvoicePaid is called.
	InvoicesUnpaid bool
	// FeeReserveMsat is returned by FeeReserve.
	FeeReserveMsat uint64

	CreateInvoiceErr error
	// PaymentState is the state SendPayment reports for external payments.
	PaymentState State
	// PaymentErr is returned by SendPayment after recording the payment.
	PaymentErr error
	// StatusErr is returned by OutgoingPaymentStatus.
	StatusErr error

	mu       sync.Mutex
	invoices map[string]*fakeInvoice
	payments map[string]PaymentStatus
}

func (fb *FakeBackend) init() {
	if fb.invoices == nil {
		fb.invoices = make(map[string]*fakeInvoice)
		fb.payments = make(map[string]PaymentStatus)
	}
}

func (fb *FakeBackend) CreateInvoice(ctx context.Context, account string, amount uint64, memo string) (Invoice, error) {
	if fb.CreateInvoiceErr != nil {
		return Invoice{}, fb.CreateInvoiceErr
	}

	req, preimage, paymentHash, err := CreateFakeInvoice(amount, memo)
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Preimage:       preimage,
		Settled:        !fb.InvoicesUnpaid,
		Amount:         amount,
		Expiry:         uint64(time.Now().Add(InvoiceExpiryTime * time.Second).Unix()),
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.init()
	fb.invoices[paymentHash] = &fakeInvoice{Invoice: invoice, account: account}

	return invoice, nil
}

func (fb *FakeBackend) InvoiceStatus(ctx context.Context, account string, hash string) (Invoice, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.init()

	invoice, ok := fb.invoices[hash]
	if !ok || invoice.account != account {
		return Invoice{}, InvoiceNotFound
	}
	return invoice.Invoice, nil
}

// SetInvoicePaid settles the invoice with hash.
func (fb *FakeBackend) SetInvoicePaid(hash string) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.init()

	if invoice, ok := fb.invoices[hash]; ok {
		invoice.Settled = true
	}
}

func (fb *FakeBackend) SendPayment(ctx context.Context, account string, request string, maxFee uint64) (PaymentStatus, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("error decoding invoice: %v", err)
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.init()

	if _, ok := fb.payments[bolt11.PaymentHash]; ok {
		return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("invoice already paid")
	}

	if invoice, ok := fb.invoices[bolt11.PaymentHash]; ok {
		if invoice.Settled {
			return PaymentStatus{PaymentStatus: Failed}, fmt.Errorf("invoice already paid")
		}
		invoice.Settled = true
		status := PaymentStatus{Preimage: invoice.Preimage, PaymentStatus: Succeeded}
		fb.payments[bolt11.PaymentHash] = status
		return status, nil
	}

	status := PaymentStatus{PaymentStatus: fb.PaymentState}
	if status.PaymentStatus == Succeeded {
		status.Preimage = FakePreimage
	}
	fb.payments[bolt11.PaymentHash] = status

	return status, fb.PaymentErr
}

func (fb *FakeBackend) OutgoingPaymentStatus(ctx context.Context, account string, hash string) (PaymentStatus, error) {
	if fb.StatusErr != nil {
		return PaymentStatus{PaymentStatus: Pending}, fb.StatusErr
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.init()

	status, ok := fb.payments[hash]
	if !ok {
		return PaymentStatus{PaymentStatus: Failed}, OutgoingPaymentNotFound
	}
	return status, nil
}

func (fb *FakeBackend) FeeReserve(amountMsat uint64) uint64 {
	return fb.FeeReserveMsat
}

func (fb *FakeBackend) IsInternal(ctx context.Context, hash string) (bool, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.init()

	_, ok := fb.invoices[hash]
	return ok, nil
}

// CreateFakeInvoice returns a signet bolt11 invoice for amount sats
// signed with a random key, with its preimage and payment hash.
func CreateFakeInvoice(amount uint64, memo string) (string, string, string, error) {
	var random [32]byte
	_, err := rand.Read(random[:])
	if err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description(memo),
		zpay32.Expiry(InvoiceExpiryTime*time.Second),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
