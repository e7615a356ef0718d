// Package settlement talks to the external Lightning wallet provider.
// All amounts cross the provider wire in millisatoshis; this package
// converts to satoshis at the boundary so the rest of the system only
// ever sees sats.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrInvalidInvoice means the supplied string is not recognizable as a
	// BOLT11 payment request.
	ErrInvalidInvoice = errors.New("invalid invoice format")

	// ErrAmbiguousOutcome means a payout attempt timed out. The payment may
	// or may not have gone through; callers must never retry and must route
	// the case to manual reconciliation.
	ErrAmbiguousOutcome = errors.New("payout outcome ambiguous, manual reconciliation required")
)

// ProcessorError carries the provider's error detail for a failed API call.
type ProcessorError struct {
	Op     string
	Status int
	Detail string
}

func (e *ProcessorError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("processor error on %s (status %d): %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("processor error on %s (status %d)", e.Op, e.Status)
}

// Payment is the provider's read-only view of a payment. Amounts are in sats.
type Payment struct {
	Reference  string
	AmountSats int64
	Incoming   bool
	Pending    bool
	Memo       string
}

// Invoice is a freshly created payment request.
type Invoice struct {
	Reference      string
	PaymentRequest string
}

// Client is the contract with the payment processor. Implementations perform
// network I/O with a bounded timeout and never mutate the ledger.
type Client interface {
	CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error)
	DecodeInvoice(ctx context.Context, bolt11 string) (amountSats int64, err error)
	PayInvoice(ctx context.Context, bolt11 string) (reference string, amountSats int64, err error)
	ListRecentPayments(ctx context.Context) ([]Payment, error)
	WalletBalance(ctx context.Context) (int64, error)
}

// ValidInvoiceFormat reports whether s looks like a bech32 BOLT11 payment
// request. It is a cheap pre-filter; full validation is the provider's job.
func ValidInvoiceFormat(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "lightning:")
	if len(s) < 20 {
		return false
	}
	if !strings.HasPrefix(s, "lnbc") && !strings.HasPrefix(s, "lntb") && !strings.HasPrefix(s, "lnbcrt") {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// HTTPClient implements Client against an LNbits-style REST API. Invoice-scoped
// calls use the invoice key; the admin key is used exclusively for payouts.
type HTTPClient struct {
	baseURL    string
	invoiceKey string
	adminKey   string
	httpClient *http.Client
}

func NewHTTPClient(baseURL, invoiceKey, adminKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		invoiceKey: invoiceKey,
		adminKey:   adminKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*Invoice, error) {
	body := map[string]any{
		"out":    false,
		"amount": amountSats,
		"memo":   memo,
	}
	var resp struct {
		PaymentHash    string `json:"payment_hash"`
		PaymentRequest string `json:"payment_request"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/payments", c.invoiceKey, body, &resp); err != nil {
		return nil, err
	}
	return &Invoice{Reference: resp.PaymentHash, PaymentRequest: resp.PaymentRequest}, nil
}

func (c *HTTPClient) DecodeInvoice(ctx context.Context, bolt11 string) (int64, error) {
	if !ValidInvoiceFormat(bolt11) {
		return 0, ErrInvalidInvoice
	}
	var resp struct {
		AmountMsat int64 `json:"amount_msat"`
	}
	body := map[string]any{"data": bolt11}
	if err := c.doJSON(ctx, http.MethodPost, "/api/v1/payments/decode", c.invoiceKey, body, &resp); err != nil {
		return 0, err
	}
	return resp.AmountMsat / 1000, nil
}

func (c *HTTPClient) PayInvoice(ctx context.Context, bolt11 string) (string, int64, error) {
	if !ValidInvoiceFormat(bolt11) {
		return "", 0, ErrInvalidInvoice
	}
	body := map[string]any{
		"out":    true,
		"bolt11": bolt11,
	}
	var resp struct {
		PaymentHash string `json:"payment_hash"`
		AmountMsat  int64  `json:"amount_msat"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/api/v1/payments", c.adminKey, body, &resp)
	if err != nil {
		if isTimeout(err) {
			return "", 0, ErrAmbiguousOutcome
		}
		return "", 0, err
	}
	return resp.PaymentHash, resp.AmountMsat / 1000, nil
}

func (c *HTTPClient) ListRecentPayments(ctx context.Context) ([]Payment, error) {
	var resp []struct {
		PaymentHash string `json:"payment_hash"`
		Amount      int64  `json:"amount"` // msat, negative for outgoing
		Pending     bool   `json:"pending"`
		Memo        string `json:"memo"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/payments", c.invoiceKey, nil, &resp); err != nil {
		return nil, err
	}
	payments := make([]Payment, 0, len(resp))
	for _, p := range resp {
		amount := p.Amount
		incoming := amount > 0
		if amount < 0 {
			amount = -amount
		}
		payments = append(payments, Payment{
			Reference:  p.PaymentHash,
			AmountSats: amount / 1000,
			Incoming:   incoming,
			Pending:    p.Pending,
			Memo:       p.Memo,
		})
	}
	return payments, nil
}

func (c *HTTPClient) WalletBalance(ctx context.Context) (int64, error) {
	var resp struct {
		Balance int64 `json:"balance"` // msat
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/wallet", c.invoiceKey, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Balance / 1000, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path, apiKey string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("error encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("error building request: %w", err)
	}
	req.Header.Set("X-Api-Key", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := readErrorDetail(resp.Body)
		return &ProcessorError{Op: method + " " + path, Status: resp.StatusCode, Detail: detail}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &ProcessorError{Op: method + " " + path, Status: resp.StatusCode, Detail: "unparseable response body"}
		}
	}
	return nil
}

func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(data, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return strings.TrimSpace(string(data))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
