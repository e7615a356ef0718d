package services

import (
	"context"
	"sync"

	"github.com/boltledger/backend/internal/models"
	"github.com/boltledger/backend/internal/settlement"
)

// memoryLedger implements Ledger for tests that exercise the coordinator and
// reconciler, and for the concurrency contract tests. Semantics mirror the
// SQL implementation: non-negative balances, per-reference idempotence.
type memoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
	consumed map[string]bool
	calls    []string
	debitErr error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		balances: make(map[string]int64),
		consumed: make(map[string]bool),
	}
}

// refKey scopes the idempotence record per operation kind, matching the
// (kind, reference) primary key of the SQL implementation.
func refKey(kind, reference string) string {
	return kind + "|" + reference
}

func (m *memoryLedger) Balance(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id], nil
}

func (m *memoryLedger) Entries(_ context.Context, _ string, _ int) ([]models.LedgerEntry, error) {
	return nil, nil
}

func (m *memoryLedger) Transfer(_ context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromID == toID {
		return ErrSelfTransfer
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[fromID] < amount {
		return ErrInsufficientFunds
	}
	m.balances[fromID] -= amount
	m.balances[toID] += amount
	return nil
}

func (m *memoryLedger) AdminCredit(_ context.Context, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[toID] += amount
	return nil
}

func (m *memoryLedger) CreditFromDeposit(_ context.Context, toID string, amount int64, reference string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.consumed[refKey(models.KindDepositCredit, reference)] {
		return false, nil
	}
	m.consumed[refKey(models.KindDepositCredit, reference)] = true
	m.balances[toID] += amount
	return true, nil
}

func (m *memoryLedger) DebitForWithdrawal(_ context.Context, fromID string, amount int64, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, "DebitForWithdrawal")
	if m.debitErr != nil {
		return m.debitErr
	}
	if m.consumed[refKey(models.KindWithdrawalDebit, reference)] {
		return nil
	}
	if m.balances[fromID] < amount {
		return ErrInsufficientFunds
	}
	m.consumed[refKey(models.KindWithdrawalDebit, reference)] = true
	m.balances[fromID] -= amount
	return nil
}

// fakeSettlementClient records call order so tests can assert that a payout
// is confirmed before any ledger debit happens.
type fakeSettlementClient struct {
	mu    sync.Mutex
	calls []string

	decodeAmount int64
	decodeErr    error
	payReference string
	payErr       error
	payments     []settlement.Payment
	listErr      error
	balanceSats  int64

	onPay func()
}

func (f *fakeSettlementClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeSettlementClient) CreateInvoice(_ context.Context, _ int64, _ string) (*settlement.Invoice, error) {
	f.record("CreateInvoice")
	return &settlement.Invoice{Reference: "ref-new", PaymentRequest: "lnbc1newinvoice"}, nil
}

func (f *fakeSettlementClient) DecodeInvoice(_ context.Context, _ string) (int64, error) {
	f.record("DecodeInvoice")
	return f.decodeAmount, f.decodeErr
}

func (f *fakeSettlementClient) PayInvoice(_ context.Context, _ string) (string, int64, error) {
	f.record("PayInvoice")
	if f.onPay != nil {
		f.onPay()
	}
	if f.payErr != nil {
		return "", 0, f.payErr
	}
	return f.payReference, f.decodeAmount, nil
}

func (f *fakeSettlementClient) ListRecentPayments(_ context.Context) ([]settlement.Payment, error) {
	f.record("ListRecentPayments")
	return f.payments, f.listErr
}

func (f *fakeSettlementClient) WalletBalance(_ context.Context) (int64, error) {
	f.record("WalletBalance")
	return f.balanceSats, nil
}

// fakeAlerter records alert events so tests can assert that the
// alerting-required paths actually raise them.
type fakeAlerter struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeAlerter) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeAlerter) AmbiguousPayout(_ context.Context, _, _ string, _ int64) {
	f.record("AMBIGUOUS_PAYOUT")
}

func (f *fakeAlerter) UnsettledDebit(_ context.Context, _ string, _ int64, _ string, _ error) {
	f.record("UNSETTLED_DEBIT")
}

func (f *fakeAlerter) UnmappedDeposit(_ context.Context, _ string, _ int64, _ string) {
	f.record("UNMAPPED_DEPOSIT")
}

// fakeResolver is an in-memory DepositResolver.
type fakeResolver struct {
	mapping map[string]string
}

func (f *fakeResolver) ResolveAccount(_ context.Context, reference string) (string, error) {
	accountID, ok := f.mapping[reference]
	if !ok {
		return "", ErrUnknownDeposit
	}
	return accountID, nil
}
