package services

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/boltledger/backend/internal/settlement"
)

// WithdrawReceipt reports a completed withdrawal. AmountSats is the invoice
// amount; the ledger was debited AmountSats + FeeSats.
type WithdrawReceipt struct {
	Reference  string `json:"reference"`
	AmountSats int64  `json:"amountSats"`
	FeeSats    int64  `json:"feeSats"`
}

// WithdrawalService pays a user-supplied invoice from the external wallet and
// debits the local balance only after the payout is confirmed. Ordering is
// load-bearing: paying first and debiting second means a failure can leave
// the ledger over-funded (operator alert), never a user under-funded.
type WithdrawalService struct {
	ledger  Ledger
	client  settlement.Client
	alerts  Alerter
	feeSats int64
}

func NewWithdrawalService(ledger Ledger, client settlement.Client, alerts Alerter, feeSats int64) *WithdrawalService {
	return &WithdrawalService{
		ledger:  ledger,
		client:  client,
		alerts:  alerts,
		feeSats: feeSats,
	}
}

func (s *WithdrawalService) Withdraw(ctx context.Context, userID, bolt11 string) (*WithdrawReceipt, error) {
	if !settlement.ValidInvoiceFormat(bolt11) {
		return nil, settlement.ErrInvalidInvoice
	}

	amountSats, err := s.client.DecodeInvoice(ctx, bolt11)
	if err != nil {
		return nil, err
	}
	if amountSats <= 0 {
		return nil, ErrAmountUnavailable
	}

	totalSats := amountSats + s.feeSats
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}
	if balance < totalSats {
		return nil, ErrInsufficientFunds
	}

	reference, _, err := s.client.PayInvoice(ctx, bolt11)
	if err != nil {
		if errors.Is(err, settlement.ErrAmbiguousOutcome) {
			s.alerts.AmbiguousPayout(ctx, userID, bolt11, totalSats)
		}
		// No ledger mutation on any pay failure.
		return nil, err
	}

	if err := s.ledger.DebitForWithdrawal(ctx, userID, totalSats, reference); err != nil {
		// The payout already happened. Retrying could double-pay, so this is
		// surfaced for manual reconciliation instead.
		log.Printf("[WITHDRAW] FATAL: payout %s confirmed but local debit failed for %s: %v", reference, userID, err)
		s.alerts.UnsettledDebit(ctx, userID, totalSats, reference, err)
		return nil, fmt.Errorf("%w: reference %s: %v", ErrPayoutUnsettled, reference, err)
	}

	log.Printf("[WITHDRAW] Paid %d sats (+%d fee) for %s, reference %s", amountSats, s.feeSats, userID, reference)
	return &WithdrawReceipt{
		Reference:  reference,
		AmountSats: amountSats,
		FeeSats:    s.feeSats,
	}, nil
}
