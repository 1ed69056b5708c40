package lightning

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

type LndConfig struct {
	GRPCHost string
	Cert     credentials.TransportCredentials
	Macaroon credentials.PerRPCCredentials
}

// LndClient talks to a single LND node. The node has one wallet
// so the account of every call is only recorded in invoice memos.
type LndClient struct {
	grpcClient lnrpc.LightningClient
}

func SetupLndClient(config LndConfig) (*LndClient, error) {
	conn, err := grpc.NewClient(
		config.GRPCHost,
		grpc.WithTransportCredentials(config.Cert),
		grpc.WithPerRPCCredentials(config.Macaroon),
	)
	if err != nil {
		return nil, fmt.Errorf("error setting up grpc client: %v", err)
	}

	grpcClient := lnrpc.NewLightningClient(conn)
	return &LndClient{grpcClient: grpcClient}, nil
}

func (lnd *LndClient) ConnectionStatus(ctx context.Context) error {
	_, err := lnd.grpcClient.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	return err
}

func (lnd *LndClient) CreateInvoice(ctx context.Context, account string, amount uint64, memo string) (Invoice, error) {
	invoiceRequest := lnrpc.Invoice{
		Value:  int64(amount),
		Memo:   memo,
		Expiry: InvoiceExpiryTime,
	}

	addInvoiceResponse, err := lnd.grpcClient.AddInvoice(ctx, &invoiceRequest)
	if err != nil {
		return Invoice{}, fmt.Errorf("could not generate invoice: %v", err)
	}
	hash := hex.EncodeToString(addInvoiceResponse.RHash)

	invoice := Invoice{
		PaymentRequest: addInvoiceResponse.PaymentRequest,
		PaymentHash:    hash,
		Amount:         amount,
		Expiry:         InvoiceExpiryTime,
	}
	return invoice, nil
}

func (lnd *LndClient) InvoiceStatus(ctx context.Context, account string, hash string) (Invoice, error) {
	paymentHash, err := hex.DecodeString(hash)
	if err != nil {
		return Invoice{}, fmt.Errorf("invalid hash provided: %v", err)
	}

	lookupInvoiceResponse, err := lnd.grpcClient.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: paymentHash})
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: lookupInvoiceResponse.PaymentRequest,
		PaymentHash:    hash,
		Settled:        lookupInvoiceResponse.State == lnrpc.Invoice_SETTLED,
		Amount:         uint64(lookupInvoiceResponse.Value),
		Expiry:         uint64(lookupInvoiceResponse.Expiry),
	}
	if invoice.Settled {
		invoice.Preimage = hex.EncodeToString(lookupInvoiceResponse.RPreimage)
	}

	return invoice, nil
}

func (lnd *LndClient) SendPayment(ctx context.Context, account string, request string, maxFee uint64) (PaymentStatus, error) {
	sendPaymentRequest := lnrpc.SendRequest{
		PaymentRequest: request,
		FeeLimit: &lnrpc.FeeLimit{
			Limit: &lnrpc.FeeLimit_Fixed{Fixed: int64(maxFee)},
		},
	}

	sendPaymentResponse, err := lnd.grpcClient.SendPaymentSync(ctx, &sendPaymentRequest)
	if err != nil {
		// the payment could still be in flight
		return PaymentStatus{PaymentStatus: Pending}, err
	}

	if len(sendPaymentResponse.PaymentError) > 0 {
		return PaymentStatus{PaymentStatus: Failed}, errors.New(sendPaymentResponse.PaymentError)
	}

	preimage := hex.EncodeToString(sendPaymentResponse.PaymentPreimage)
	return PaymentStatus{Preimage: preimage, PaymentStatus: Succeeded}, nil
}

func (lnd *LndClient) OutgoingPaymentStatus(ctx context.Context, account string, hash string) (PaymentStatus, error) {
	listPaymentsResponse, err := lnd.grpcClient.ListPayments(ctx, &lnrpc.ListPaymentsRequest{
		IncludeIncomplete: true,
	})
	if err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}

	for _, payment := range listPaymentsResponse.Payments {
		if payment.PaymentHash != hash {
			continue
		}

		switch payment.Status {
		case lnrpc.Payment_SUCCEEDED:
			return PaymentStatus{Preimage: payment.PaymentPreimage, PaymentStatus: Succeeded}, nil
		case lnrpc.Payment_FAILED:
			return PaymentStatus{PaymentStatus: Failed}, nil
		default:
			return PaymentStatus{PaymentStatus: Pending}, nil
		}
	}

	return PaymentStatus{PaymentStatus: Failed}, OutgoingPaymentNotFound
}

func (lnd *LndClient) FeeReserve(amountMsat uint64) uint64 {
	return DefaultFeeReserve(amountMsat)
}

// IsInternal reports whether the invoice was created by this node.
// Self payments are settled without routing.
func (lnd *LndClient) IsInternal(ctx context.Context, hash string) (bool, error) {
	paymentHash, err := hex.DecodeString(hash)
	if err != nil {
		return false, fmt.Errorf("invalid hash provided: %v", err)
	}

	_, err = lnd.grpcClient.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: paymentHash})
	if err != nil {
		// not found is returned as an rpc error
		return false, nil
	}
	return true, nil
}
