package lightning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultFeeReserve(t *testing.T) {
	tests := []struct {
		amountMsat uint64
		expected   uint64
	}{
		{amountMsat: 0, expected: 2000},
		{amountMsat: 50_000, expected: 2000},
		{amountMsat: 200_000, expected: 2000},
		{amountMsat: 1_000_000, expected: 10_000},
		{amountMsat: 21_000_000, expected: 210_000},
	}

	for _, test := range tests {
		fee := DefaultFeeReserve(test.amountMsat)
		if fee != test.expected {
			t.Fatalf("expected fee reserve of %v for %v msat but got %v", test.expected, test.amountMsat, fee)
		}
	}
}

func TestDecodeAmountMsat(t *testing.T) {
	request, _, hash, err := CreateFakeInvoice(21, "test")
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	amount, paymentHash, err := DecodeAmountMsat(request)
	if err != nil {
		t.Fatalf("error decoding invoice: %v", err)
	}
	if amount != 21000 {
		t.Fatalf("expected amount of 21000 msat but got %v", amount)
	}
	if paymentHash != hash {
		t.Fatalf("expected payment hash '%v' but got '%v'", hash, paymentHash)
	}

	if _, _, err := DecodeAmountMsat("lnbc1invalid"); err == nil {
		t.Fatal("expected error decoding invalid invoice")
	}
}

func TestFakeBackendInvoices(t *testing.T) {
	ctx := context.Background()
	fb := &FakeBackend{InvoicesUnpaid: true}

	invoice, err := fb.CreateInvoice(ctx, "wallet1", 100, "mint")
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	status, err := fb.InvoiceStatus(ctx, "wallet1", invoice.PaymentHash)
	if err != nil {
		t.Fatalf("error getting invoice status: %v", err)
	}
	if status.Settled {
		t.Fatal("expected invoice to not be settled")
	}

	if _, err := fb.InvoiceStatus(ctx, "wallet2", invoice.PaymentHash); !errors.Is(err, InvoiceNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", InvoiceNotFound, err)
	}

	fb.SetInvoicePaid(invoice.PaymentHash)
	status, err = fb.InvoiceStatus(ctx, "wallet1", invoice.PaymentHash)
	if err != nil {
		t.Fatalf("error getting invoice status: %v", err)
	}
	if !status.Settled {
		t.Fatal("expected invoice to be settled")
	}
}

func TestFakeBackendInternalPayment(t *testing.T) {
	ctx := context.Background()
	fb := &FakeBackend{InvoicesUnpaid: true}

	invoice, err := fb.CreateInvoice(ctx, "wallet1", 100, "mint")
	if err != nil {
		t.Fatalf("error creating invoice: %v", err)
	}

	internal, err := fb.IsInternal(ctx, invoice.PaymentHash)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !internal {
		t.Fatal("expected invoice to be internal")
	}

	payment, err := fb.SendPayment(ctx, "wallet2", invoice.PaymentRequest, 0)
	if err != nil {
		t.Fatalf("error sending payment: %v", err)
	}
	if payment.PaymentStatus != Succeeded || payment.Preimage != invoice.Preimage {
		t.Fatalf("unexpected payment status: %+v", payment)
	}

	status, err := fb.InvoiceStatus(ctx, "wallet1", invoice.PaymentHash)
	if err != nil {
		t.Fatalf("error getting invoice status: %v", err)
	}
	if !status.Settled {
		t.Fatal("expected invoice to be settled after internal payment")
	}

	if _, err := fb.SendPayment(ctx, "wallet2", invoice.PaymentRequest, 0); err == nil {
		t.Fatal("expected error paying invoice twice")
	}
}

func TestFakeBackendOutgoingPayments(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name          string
		backend       *FakeBackend
		expectedState State
		expectSendErr bool
	}{
		{
			name:          "succeeded",
			backend:       &FakeBackend{},
			expectedState: Succeeded,
		},
		{
			name:          "failed",
			backend:       &FakeBackend{PaymentState: Failed},
			expectedState: Failed,
		},
		{
			name:          "pending",
			backend:       &FakeBackend{PaymentState: Pending},
			expectedState: Pending,
		},
		{
			name:          "failed with error",
			backend:       &FakeBackend{PaymentState: Failed, PaymentErr: errors.New("no route")},
			expectedState: Failed,
			expectSendErr: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			request, _, hash, err := CreateFakeInvoice(10, "external")
			if err != nil {
				t.Fatalf("error creating invoice: %v", err)
			}

			payment, err := test.backend.SendPayment(ctx, "wallet", request, 2)
			if test.expectSendErr != (err != nil) {
				t.Fatalf("unexpected error sending payment: %v", err)
			}
			if payment.PaymentStatus != test.expectedState {
				t.Fatalf("expected payment state '%v' but got '%v'", test.expectedState, payment.PaymentStatus)
			}

			status, err := test.backend.OutgoingPaymentStatus(ctx, "wallet", hash)
			if err != nil {
				t.Fatalf("error getting payment status: %v", err)
			}
			if status.PaymentStatus != test.expectedState {
				t.Fatalf("expected payment state '%v' but got '%v'", test.expectedState, status.PaymentStatus)
			}
		})
	}

	fb := &FakeBackend{}
	if _, err := fb.OutgoingPaymentStatus(ctx, "wallet", "unknown"); !errors.Is(err, OutgoingPaymentNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", OutgoingPaymentNotFound, err)
	}
}

func TestCLNClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Rune") != "testrune" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(ErrorResponse{Code: 401, Message: "invalid rune"})
			return
		}

		switch r.URL.Path {
		case "/v1/listinvoices":
			json.NewEncoder(w).Encode(map[string]any{
				"invoices": []map[string]any{{
					"label":            "wallet1-1700000000",
					"bolt11":           "lnbc1",
					"payment_hash":     "hash",
					"payment_preimage": "preimage",
					"amount_msat":      21000,
					"status":           "paid",
				}},
			})
		case "/v1/pay":
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(ErrorResponse{Code: 210, Message: "route not found"})
		case "/v1/listpays":
			json.NewEncoder(w).Encode(map[string]any{
				"pays": []map[string]any{{"payment_hash": "hash", "status": "complete", "preimage": "abc"}},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	cln, _ := SetupCLNClient(CLNConfig{RestURL: server.URL, Rune: "testrune"})

	invoice, err := cln.InvoiceStatus(ctx, "wallet1", "hash")
	if err != nil {
		t.Fatalf("error getting invoice status: %v", err)
	}
	if !invoice.Settled || invoice.Amount != 21 {
		t.Fatalf("unexpected invoice: %+v", invoice)
	}

	if _, err := cln.InvoiceStatus(ctx, "wallet2", "hash"); !errors.Is(err, InvoiceNotFound) {
		t.Fatalf("expected error '%v' but got '%v'", InvoiceNotFound, err)
	}

	payment, err := cln.SendPayment(ctx, "wallet1", "lnbc1", 2)
	if err == nil || err.Error() != "route not found" {
		t.Fatalf("expected error 'route not found' but got '%v'", err)
	}
	if payment.PaymentStatus != Pending {
		t.Fatalf("expected payment state '%v' but got '%v'", Pending, payment.PaymentStatus)
	}

	status, err := cln.OutgoingPaymentStatus(ctx, "wallet1", "hash")
	if err != nil {
		t.Fatalf("error getting payment status: %v", err)
	}
	if status.PaymentStatus != Succeeded || status.Preimage != "abc" {
		t.Fatalf("unexpected payment status: %+v", status)
	}

	unauthorized, _ := SetupCLNClient(CLNConfig{RestURL: server.URL, Rune: "wrong"})
	if err := unauthorized.ConnectionStatus(ctx); err == nil {
		t.Fatal("expected error with invalid rune")
	}
}
