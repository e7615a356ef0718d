package models

import "time"

// Account balances are held in satoshis. Display conversions happen at the
// chat/command boundary, never here.
type Account struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ledger entry kinds.
const (
	KindTransfer        = "transfer"
	KindAdminCredit     = "admin_credit"
	KindDepositCredit   = "deposit_credit"
	KindWithdrawalDebit = "withdrawal_debit"
)

// LedgerEntry is one half of an applied operation. Transfers produce a DEBIT
// row for the sender and a CREDIT row for the receiver under the same
// transaction id; single-sided operations produce one row.
type LedgerEntry struct {
	ID            int64     `json:"id"`
	TransactionID string    `json:"transactionId"`
	AccountID     string    `json:"accountId"`
	Counterparty  string    `json:"counterparty,omitempty"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"` // signed: negative for debits
	BalanceAfter  int64     `json:"balanceAfter"`
	Reference     string    `json:"reference,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}
