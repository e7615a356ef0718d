package services

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"log"
	"time"

	"github.com/boltledger/backend/internal/models"
	"github.com/boltledger/backend/internal/settlement"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

const invoiceCacheTTL = 24 * time.Hour

// DepositInvoice is what the command layer shows the user: the payment
// request plus a PNG QR of it, base64 encoded.
type DepositInvoice struct {
	Reference      string `json:"reference"`
	PaymentRequest string `json:"paymentRequest"`
	QRImage        string `json:"qrImage"`
}

// InvoiceService creates deposit invoices and owns the reference → account
// mapping the reconciler uses to attribute incoming payments. The mapping is
// written to Postgres before the invoice is handed out; Redis is only a
// read-through cache.
type InvoiceService struct {
	db     *sql.DB
	redis  *redis.Client
	client settlement.Client
}

func NewInvoiceService(db *sql.DB, rdb *redis.Client, client settlement.Client) *InvoiceService {
	return &InvoiceService{db: db, redis: rdb, client: client}
}

func (s *InvoiceService) CreateDeposit(ctx context.Context, accountID string, amountSats int64, memo string) (*DepositInvoice, error) {
	if amountSats <= 0 {
		return nil, ErrInvalidAmount
	}

	invoice, err := s.client.CreateInvoice(ctx, amountSats, memo)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (reference, account_id, amount_sats, payment_request, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		invoice.Reference, accountID, amountSats, invoice.PaymentRequest, time.Now())
	if err != nil {
		// Without the mapping the deposit could never be attributed, so the
		// invoice must not be handed out.
		return nil, storageErr(err)
	}

	if s.redis != nil {
		key := fmt.Sprintf("invoice:%s", invoice.Reference)
		if err := s.redis.Set(ctx, key, accountID, invoiceCacheTTL).Err(); err != nil {
			log.Printf("[INVOICE] Failed to cache mapping for %s: %v", invoice.Reference, err)
		}
	}

	qrImage, err := renderQR(invoice.PaymentRequest)
	if err != nil {
		return nil, fmt.Errorf("error rendering invoice QR: %w", err)
	}

	return &DepositInvoice{
		Reference:      invoice.Reference,
		PaymentRequest: invoice.PaymentRequest,
		QRImage:        qrImage,
	}, nil
}

// ResolveAccount returns the account a payment reference was issued for.
// Returns ErrUnknownDeposit if no invoice was ever recorded for it.
func (s *InvoiceService) ResolveAccount(ctx context.Context, reference string) (string, error) {
	if s.redis != nil {
		key := fmt.Sprintf("invoice:%s", reference)
		accountID, err := s.redis.Get(ctx, key).Result()
		if err == nil && accountID != "" {
			return accountID, nil
		}
		if err != nil && err != redis.Nil {
			log.Printf("[INVOICE] Cache lookup failed for %s: %v", reference, err)
		}
	}

	var accountID string
	err := s.db.QueryRowContext(ctx, `SELECT account_id FROM invoices WHERE reference = $1`, reference).Scan(&accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUnknownDeposit
	}
	if err != nil {
		return "", storageErr(err)
	}
	return accountID, nil
}

// Invoice returns the stored invoice record for a reference.
func (s *InvoiceService) Invoice(ctx context.Context, reference string) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.QueryRowContext(ctx, `
		SELECT reference, account_id, amount_sats, payment_request, created_at
		FROM invoices
		WHERE reference = $1`, reference).
		Scan(&inv.Reference, &inv.AccountID, &inv.AmountSats, &inv.PaymentRequest, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnknownDeposit
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return &inv, nil
}

func renderQR(paymentRequest string) (string, error) {
	qr, err := qrcode.New(paymentRequest, qrcode.Medium)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
