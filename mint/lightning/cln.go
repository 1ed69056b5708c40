package lightning

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type CLNConfig struct {
	RestURL string
	Rune    string
}

// CLNClient uses the CLN REST interface. Invoices are labeled with the
// account so InvoiceStatus only finds invoices created for it.
type CLNClient struct {
	config CLNConfig
	client *http.Client
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

func SetupCLNClient(config CLNConfig) (*CLNClient, error) {
	return &CLNClient{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (cln *CLNClient) Post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	var jsonData []byte
	if body != nil {
		var err error
		jsonData, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Rune", cln.config.Rune)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	return cln.client.Do(req)
}

// call posts body to the method and decodes the response into dst.
// CLN error responses are returned as errors with their message.
func (cln *CLNClient) call(ctx context.Context, method string, body, dst any) error {
	resp, err := cln.Post(ctx, cln.config.RestURL+"/v1/"+method, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var errRes ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errRes); err != nil {
			return fmt.Errorf("%v: %s", method, bodyBytes)
		}
		return errors.New(errRes.Message)
	}

	if dst == nil {
		return nil
	}
	return json.Unmarshal(bodyBytes, dst)
}

func (cln *CLNClient) ConnectionStatus(ctx context.Context) error {
	if err := cln.call(ctx, "getinfo", nil, nil); err != nil {
		return fmt.Errorf("could not get connection status from CLN: %v", err)
	}
	return nil
}

func (cln *CLNClient) CreateInvoice(ctx context.Context, account string, amount uint64, memo string) (Invoice, error) {
	body := map[string]interface{}{
		"amount_msat": amount * 1000,
		"label":       fmt.Sprintf("%v-%v", account, time.Now().UnixNano()),
		"description": memo,
		"expiry":      InvoiceExpiryTime,
	}

	var response struct {
		Bolt11      string `json:"bolt11"`
		PaymentHash string `json:"payment_hash"`
		ExpiresAt   uint64 `json:"expires_at"`
	}
	if err := cln.call(ctx, "invoice", body, &response); err != nil {
		return Invoice{}, err
	}

	return Invoice{
		PaymentRequest: response.Bolt11,
		PaymentHash:    response.PaymentHash,
		Amount:         amount,
		Expiry:         response.ExpiresAt,
	}, nil
}

type clnInvoice struct {
	Label       string `json:"label"`
	Bolt11      string `json:"bolt11"`
	PaymentHash string `json:"payment_hash"`
	Preimage    string `json:"payment_preimage"`
	AmountMsat  uint64 `json:"amount_msat"`
	Status      string `json:"status"`
	ExpiresAt   int64  `json:"expires_at"`
}

func (cln *CLNClient) listInvoices(ctx context.Context, hash string) ([]clnInvoice, error) {
	var response struct {
		Invoices []clnInvoice `json:"invoices"`
	}
	body := map[string]string{"payment_hash": hash}
	if err := cln.call(ctx, "listinvoices", body, &response); err != nil {
		return nil, err
	}
	return response.Invoices, nil
}

func (cln *CLNClient) InvoiceStatus(ctx context.Context, account string, hash string) (Invoice, error) {
	invoices, err := cln.listInvoices(ctx, hash)
	if err != nil {
		return Invoice{}, err
	}
	if len(invoices) == 0 {
		return Invoice{}, InvoiceNotFound
	}

	invoice := invoices[0]
	if !strings.HasPrefix(invoice.Label, account+"-") {
		return Invoice{}, InvoiceNotFound
	}

	return Invoice{
		PaymentRequest: invoice.Bolt11,
		PaymentHash:    invoice.PaymentHash,
		Preimage:       invoice.Preimage,
		Settled:        invoice.Status == "paid",
		Amount:         invoice.AmountMsat / 1000,
		Expiry:         uint64(invoice.ExpiresAt),
	}, nil
}

func paymentState(status string) State {
	switch status {
	case "complete":
		return Succeeded
	case "failed":
		return Failed
	default:
		return Pending
	}
}

func (cln *CLNClient) SendPayment(ctx context.Context, account string, request string, maxFee uint64) (PaymentStatus, error) {
	body := map[string]interface{}{
		"bolt11": request,
		"maxfee": maxFee * 1000,
	}

	var response struct {
		Preimage string `json:"payment_preimage"`
		Status   string `json:"status"`
	}
	if err := cln.call(ctx, "pay", body, &response); err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}

	return PaymentStatus{
		Preimage:      response.Preimage,
		PaymentStatus: paymentState(response.Status),
	}, nil
}

func (cln *CLNClient) OutgoingPaymentStatus(ctx context.Context, account string, hash string) (PaymentStatus, error) {
	var listPaysResponse struct {
		Pays []struct {
			PaymentHash     string `json:"payment_hash"`
			Status          string `json:"status"`
			PaymentPreimage string `json:"preimage,omitempty"`
		} `json:"pays"`
	}
	body := map[string]string{"payment_hash": hash}
	if err := cln.call(ctx, "listpays", body, &listPaysResponse); err != nil {
		return PaymentStatus{PaymentStatus: Pending}, err
	}
	if len(listPaysResponse.Pays) == 0 {
		return PaymentStatus{PaymentStatus: Failed}, OutgoingPaymentNotFound
	}

	payment := listPaysResponse.Pays[0]
	return PaymentStatus{
		Preimage:      payment.PaymentPreimage,
		PaymentStatus: paymentState(payment.Status),
	}, nil
}

func (cln *CLNClient) FeeReserve(amountMsat uint64) uint64 {
	return DefaultFeeReserve(amountMsat)
}

func (cln *CLNClient) IsInternal(ctx context.Context, hash string) (bool, error) {
	invoices, err := cln.listInvoices(ctx, hash)
	if err != nil {
		return false, err
	}
	return len(invoices) > 0, nil
}
