package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/boltledger/backend/internal/models"
	"github.com/google/uuid"
)

// Ledger is the only way balances change. Implementations must keep every
// account non-negative and apply each external reference at most once.
type Ledger interface {
	Balance(ctx context.Context, id string) (int64, error)
	Entries(ctx context.Context, id string, limit int) ([]models.LedgerEntry, error)
	Transfer(ctx context.Context, fromID, toID string, amount int64) error
	AdminCredit(ctx context.Context, toID string, amount int64) error
	CreditFromDeposit(ctx context.Context, toID string, amount int64, reference string) (applied bool, err error)
	DebitForWithdrawal(ctx context.Context, fromID string, amount int64, reference string) error
}

// LedgerService implements Ledger on Postgres. Each operation runs in one
// database transaction; rows are locked FOR UPDATE in sorted id order so two
// crossing transfers cannot deadlock, and the balance write is guarded by an
// optimistic version check.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

func (s *LedgerService) Balance(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id = $1`, id).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storageErr(err)
	}
	return balance, nil
}

func (s *LedgerService) Entries(ctx context.Context, id string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, COALESCE(counterparty, ''), kind, amount, balance_after, COALESCE(reference, ''), created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY id DESC
		LIMIT $2`, id, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Counterparty, &e.Kind, &e.Amount, &e.BalanceAfter, &e.Reference, &e.CreatedAt); err != nil {
			return nil, storageErr(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}
	return entries, nil
}

func (s *LedgerService) Transfer(ctx context.Context, fromID, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromID == toID {
		return ErrSelfTransfer
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	if err := s.ensureAccount(ctx, tx, fromID); err != nil {
		return err
	}
	if err := s.ensureAccount(ctx, tx, toID); err != nil {
		return err
	}

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := fromID, toID
	if fromID > toID {
		firstLock, secondLock = toID, fromID
	}

	fromAccount, err := s.lockAccount(ctx, tx, firstLock)
	if err != nil {
		return err
	}
	toAccount, err := s.lockAccount(ctx, tx, secondLock)
	if err != nil {
		return err
	}
	if firstLock != fromID {
		fromAccount, toAccount = toAccount, fromAccount
	}

	if fromAccount.Balance < amount {
		return ErrInsufficientFunds
	}

	transactionID := uuid.NewString()
	if err := s.createLedgerEntry(ctx, tx, transactionID, fromAccount.ID, toAccount.ID, models.KindTransfer, -amount, fromAccount.Balance-amount, ""); err != nil {
		return err
	}
	if err := s.createLedgerEntry(ctx, tx, transactionID, toAccount.ID, fromAccount.ID, models.KindTransfer, amount, toAccount.Balance+amount, ""); err != nil {
		return err
	}
	if err := s.updateAccountBalance(ctx, tx, fromAccount.ID, fromAccount.Balance-amount, fromAccount.Version); err != nil {
		return err
	}
	if err := s.updateAccountBalance(ctx, tx, toAccount.ID, toAccount.Balance+amount, toAccount.Version); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *LedgerService) AdminCredit(ctx context.Context, toID string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.creditTx(ctx, toID, amount, models.KindAdminCredit, "")
}

// CreditFromDeposit applies an incoming payment exactly once. A reference
// seen before is a successful no-op with applied=false, so the reconciler can
// retry freely.
func (s *LedgerService) CreditFromDeposit(ctx context.Context, toID string, amount int64, reference string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErr(err)
	}
	defer tx.Rollback()

	consumed, err := s.consumeReference(ctx, tx, models.KindDepositCredit, reference)
	if err != nil {
		return false, err
	}
	if !consumed {
		return false, nil
	}

	if err := s.applyCredit(ctx, tx, toID, amount, models.KindDepositCredit, reference); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, storageErr(err)
	}
	return true, nil
}

// DebitForWithdrawal must only run after the external payout has been
// confirmed. A reference seen before is a no-op, so a crashed caller that
// replays a confirmed payout cannot double-debit.
func (s *LedgerService) DebitForWithdrawal(ctx context.Context, fromID string, amount int64, reference string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	consumed, err := s.consumeReference(ctx, tx, models.KindWithdrawalDebit, reference)
	if err != nil {
		return err
	}
	if !consumed {
		return nil
	}

	if err := s.ensureAccount(ctx, tx, fromID); err != nil {
		return err
	}
	account, err := s.lockAccount(ctx, tx, fromID)
	if err != nil {
		return err
	}
	if account.Balance < amount {
		return ErrInsufficientFunds
	}

	transactionID := uuid.NewString()
	if err := s.createLedgerEntry(ctx, tx, transactionID, account.ID, "", models.KindWithdrawalDebit, -amount, account.Balance-amount, reference); err != nil {
		return err
	}
	if err := s.updateAccountBalance(ctx, tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *LedgerService) creditTx(ctx context.Context, toID string, amount int64, kind, reference string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr(err)
	}
	defer tx.Rollback()

	if err := s.applyCredit(ctx, tx, toID, amount, kind, reference); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *LedgerService) applyCredit(ctx context.Context, tx *sql.Tx, toID string, amount int64, kind, reference string) error {
	if err := s.ensureAccount(ctx, tx, toID); err != nil {
		return err
	}
	account, err := s.lockAccount(ctx, tx, toID)
	if err != nil {
		return err
	}

	transactionID := uuid.NewString()
	if err := s.createLedgerEntry(ctx, tx, transactionID, account.ID, "", kind, amount, account.Balance+amount, reference); err != nil {
		return err
	}
	return s.updateAccountBalance(ctx, tx, account.ID, account.Balance+amount, account.Version)
}

func (s *LedgerService) ensureAccount(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, balance, version, updated_at)
		VALUES ($1, 0, 1, $2)
		ON CONFLICT (id) DO NOTHING`, id, time.Now())
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *LedgerService) lockAccount(ctx context.Context, tx *sql.Tx, id string) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRowContext(ctx, `
		SELECT id, balance, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, id).Scan(&account.ID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, storageErr(err)
	}
	return &account, nil
}

// consumeReference records reference in the idempotence table. It reports
// false when the reference was already consumed by an earlier operation of
// the same kind. The record is scoped per kind: a withdrawal that pays an
// invoice this system issued shares one payment hash between the payout
// debit and the deposit credit, and neither may swallow the other.
func (s *LedgerService) consumeReference(ctx context.Context, tx *sql.Tx, kind, reference string) (bool, error) {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO consumed_references (kind, reference, consumed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (kind, reference) DO NOTHING`, kind, reference, time.Now())
	if err != nil {
		return false, storageErr(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storageErr(err)
	}
	return rowsAffected > 0, nil
}

func (s *LedgerService) createLedgerEntry(ctx context.Context, tx *sql.Tx, transactionID, accountID, counterparty, kind string, amount, balanceAfter int64, reference string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, counterparty, kind, amount, balance_after, reference, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8)`,
		transactionID, accountID, counterparty, kind, amount, balanceAfter, reference, time.Now())
	if err != nil {
		return storageErr(err)
	}
	return nil
}

func (s *LedgerService) updateAccountBalance(ctx context.Context, tx *sql.Tx, accountID string, newBalance int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return storageErr(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageErr(err)
	}
	if rowsAffected == 0 {
		return storageErr(fmt.Errorf("optimistic lock failed for account %s", accountID))
	}
	return nil
}

func storageErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
