package services

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/boltledger/backend/internal/settlement"
)

// DepositResolver maps a payment reference to the account its invoice was
// issued for.
type DepositResolver interface {
	ResolveAccount(ctx context.Context, reference string) (string, error)
}

// ReconcilerService polls the settlement provider for completed incoming
// payments and credits the matching account exactly once per payment.
// Deduplication is the ledger's per-reference idempotence record, so a
// payment seen on many consecutive polls is still credited a single time.
type ReconcilerService struct {
	client   settlement.Client
	ledger   Ledger
	invoices DepositResolver
	alerts   Alerter
	interval time.Duration
}

func NewReconcilerService(client settlement.Client, ledger Ledger, invoices DepositResolver, alerts Alerter, interval time.Duration) *ReconcilerService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ReconcilerService{
		client:   client,
		ledger:   ledger,
		invoices: invoices,
		alerts:   alerts,
		interval: interval,
	}
}

// Run polls until ctx is cancelled. Each cycle completes its credits before
// the next tick; a failed poll is logged and retried on the next interval.
func (r *ReconcilerService) Run(ctx context.Context) {
	log.Printf("[RECONCILER] Started, polling every %s", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RECONCILER] Stopped")
			return
		case <-ticker.C:
			if err := r.Poll(ctx); err != nil {
				log.Printf("[RECONCILER] Poll failed, will retry next cycle: %v", err)
			}
		}
	}
}

// Poll runs one reconciliation cycle. A processor error means "no new
// information" and is returned without touching the ledger.
func (r *ReconcilerService) Poll(ctx context.Context) error {
	payments, err := r.client.ListRecentPayments(ctx)
	if err != nil {
		return err
	}

	for _, p := range payments {
		if !p.Incoming || p.Pending {
			continue
		}

		accountID, err := r.invoices.ResolveAccount(ctx, p.Reference)
		if errors.Is(err, ErrUnknownDeposit) {
			// Left unconsumed on purpose: misattributing money is worse
			// than crediting it late.
			log.Printf("[RECONCILER] No mapping for payment %s (%d sats), leaving for manual reconciliation", p.Reference, p.AmountSats)
			r.alerts.UnmappedDeposit(ctx, p.Reference, p.AmountSats, p.Memo)
			continue
		}
		if err != nil {
			return err
		}

		applied, err := r.ledger.CreditFromDeposit(ctx, accountID, p.AmountSats, p.Reference)
		if err != nil {
			return err
		}
		if applied {
			log.Printf("[RECONCILER] Credited %d sats to %s for payment %s", p.AmountSats, accountID, p.Reference)
		}
	}
	return nil
}
