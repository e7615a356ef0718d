package services

import "errors"

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrSelfTransfer      = errors.New("cannot transfer to the same account")
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStorageUnavailable wraps any failure of the durable backing store.
	// Callers must not assume the mutation happened when they see it.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrAmountUnavailable means the withdrawal amount could not be
	// determined from the supplied invoice.
	ErrAmountUnavailable = errors.New("invoice amount could not be determined")

	// ErrPayoutUnsettled means the external payout succeeded but the local
	// debit did not. The ledger is ahead of reality; never retried
	// automatically because a retry could pay the invoice twice.
	ErrPayoutUnsettled = errors.New("payout sent but ledger debit failed")

	// ErrUnknownDeposit means no account mapping exists for a payment
	// reference. The payment is left unconsumed for manual reconciliation.
	ErrUnknownDeposit = errors.New("no account mapping for payment reference")
)
