package lightning

import (
	"context"
	"errors"

	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const (
	// InvoiceExpiryTime in seconds
	InvoiceExpiryTime = 3600
	// FeePercent is the percentage of the amount reserved for routing fees
	FeePercent = 0.01
	// MinFeeReserveMsat is the smallest fee reserve for external payments
	MinFeeReserveMsat = 2000
)

var (
	OutgoingPaymentNotFound = errors.New("outgoing payment not found")
	InvoiceNotFound         = errors.New("invoice not found")
)

// Client interface to interact with a Lightning backend.
// account identifies the backend wallet that owns the invoice
// or pays the request. Backends with a single wallet ignore it.
type Client interface {
	CreateInvoice(ctx context.Context, account string, amount uint64, memo string) (Invoice, error)
	InvoiceStatus(ctx context.Context, account string, hash string) (Invoice, error)
	// SendPayment pays request spending at most maxFee sats in routing fees.
	SendPayment(ctx context.Context, account string, request string, maxFee uint64) (PaymentStatus, error)
	OutgoingPaymentStatus(ctx context.Context, account string, hash string) (PaymentStatus, error)
	// FeeReserve returns the fee reserve in msat for a payment of amountMsat.
	FeeReserve(amountMsat uint64) uint64
	// IsInternal reports whether the invoice with hash was
	// created by this backend and can be settled without routing.
	IsInternal(ctx context.Context, hash string) (bool, error)
}

type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         uint64
}

type State int

const (
	Succeeded State = iota
	Failed
	Pending
)

func (state State) String() string {
	switch state {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Pending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

type PaymentStatus struct {
	Preimage      string
	PaymentStatus State
}

// DefaultFeeReserve is 1% of the amount with a floor of MinFeeReserveMsat.
func DefaultFeeReserve(amountMsat uint64) uint64 {
	fee := uint64(float64(amountMsat) * FeePercent)
	if fee < MinFeeReserveMsat {
		return MinFeeReserveMsat
	}
	return fee
}

// DecodeAmountMsat returns the amount in msat of the bolt11 request.
func DecodeAmountMsat(request string) (uint64, string, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return 0, "", err
	}
	if bolt11.MSatoshi <= 0 {
		return 0, "", errors.New("invoice has no amount")
	}
	return uint64(bolt11.MSatoshi), bolt11.PaymentHash, nil
}
