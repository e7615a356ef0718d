package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/boltledger/backend/internal/services"
	"github.com/boltledger/backend/internal/settlement"
	"github.com/go-chi/chi/v5"
)

// LedgerHandler exposes the ledger core to the chat-platform command layer.
// All amounts on this surface are satoshis.
type LedgerHandler struct {
	ledger      services.Ledger
	withdrawals *services.WithdrawalService
	invoices    *services.InvoiceService
	client      settlement.Client
	validator   *services.ValidationHelper
	entryLimit  int
}

func NewLedgerHandler(ledger services.Ledger, withdrawals *services.WithdrawalService, invoices *services.InvoiceService, client settlement.Client, entryLimit int) *LedgerHandler {
	if entryLimit <= 0 {
		entryLimit = 20
	}
	return &LedgerHandler{
		ledger:      ledger,
		withdrawals: withdrawals,
		invoices:    invoices,
		client:      client,
		validator:   services.NewValidationHelper(),
		entryLimit:  entryLimit,
	}
}

type TransferRequest struct {
	FromID     string `json:"from_id" validate:"required"`
	ToID       string `json:"to_id" validate:"required"`
	AmountSats int64  `json:"amount_sats" validate:"required,gt=0"`
}

type AdminCreditRequest struct {
	ToID       string `json:"to_id" validate:"required"`
	AmountSats int64  `json:"amount_sats" validate:"required,gt=0"`
}

type DepositRequest struct {
	AccountID  string `json:"account_id" validate:"required"`
	AmountSats int64  `json:"amount_sats" validate:"required,gt=0"`
	Memo       string `json:"memo"`
}

type WithdrawRequest struct {
	AccountID string `json:"account_id" validate:"required"`
	Bolt11    string `json:"bolt11" validate:"required"`
}

func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	balance, err := h.ledger.Balance(r.Context(), accountID)
	if err != nil {
		h.sendError(w, "balance lookup", err)
		return
	}
	writeJSON(w, map[string]any{"account_id": accountID, "balance_sats": balance})
}

func (h *LedgerHandler) Entries(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	entries, err := h.ledger.Entries(r.Context(), accountID, h.entryLimit)
	if err != nil {
		h.sendError(w, "entries lookup", err)
		return
	}
	writeJSON(w, map[string]any{"account_id": accountID, "entries": entries})
}

func (h *LedgerHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.ledger.Transfer(r.Context(), req.FromID, req.ToID, req.AmountSats); err != nil {
		h.sendError(w, "transfer", err)
		return
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func (h *LedgerHandler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	var req AdminCreditRequest
	if !h.decode(w, r, &req) {
		return
	}
	// Operator identity was already checked by the auth middleware; the
	// engine applies the credit unconditionally.
	if err := h.ledger.AdminCredit(r.Context(), req.ToID, req.AmountSats); err != nil {
		h.sendError(w, "admin credit", err)
		return
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	invoice, err := h.invoices.CreateDeposit(r.Context(), req.AccountID, req.AmountSats, req.Memo)
	if err != nil {
		h.sendError(w, "deposit invoice", err)
		return
	}
	writeJSON(w, invoice)
}

func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	receipt, err := h.withdrawals.Withdraw(r.Context(), req.AccountID, req.Bolt11)
	if err != nil {
		h.sendError(w, "withdraw", err)
		return
	}
	writeJSON(w, receipt)
}

func (h *LedgerHandler) WalletBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.client.WalletBalance(r.Context())
	if err != nil {
		h.sendError(w, "wallet balance", err)
		return
	}
	writeJSON(w, map[string]any{"wallet_balance_sats": balance})
}

func (h *LedgerHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// sendError maps every known failure to a specific message and status.
// The generic 500 is reserved for genuinely unexpected errors and those are
// always logged with context.
func (h *LedgerHandler) sendError(w http.ResponseWriter, op string, err error) {
	var procErr *settlement.ProcessorError

	switch {
	case errors.Is(err, services.ErrInvalidAmount):
		services.SendErrorResponse(w, "Amount must be a positive number of sats", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrSelfTransfer):
		services.SendErrorResponse(w, "Cannot transfer to your own account", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrInsufficientFunds):
		services.SendErrorResponse(w, "Insufficient funds", http.StatusUnprocessableEntity, nil)
	case errors.Is(err, settlement.ErrInvalidInvoice):
		services.SendErrorResponse(w, "Not a valid Lightning invoice", http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrAmountUnavailable):
		services.SendErrorResponse(w, "Invoice amount could not be determined; zero-amount invoices are not supported", http.StatusBadRequest, nil)
	case errors.Is(err, settlement.ErrAmbiguousOutcome):
		services.SendErrorResponse(w, "Payout outcome unknown; an operator has been alerted, do not retry", http.StatusBadGateway, nil)
	case errors.As(err, &procErr):
		log.Printf("[API] %s processor error: %v", op, procErr)
		services.SendErrorResponse(w, "Payment provider rejected the request: "+procErr.Detail, http.StatusBadGateway, nil)
	case errors.Is(err, services.ErrPayoutUnsettled):
		log.Printf("[API] %s unsettled payout: %v", op, err)
		services.SendErrorResponse(w, "Payout was sent but the ledger could not be updated; an operator has been alerted", http.StatusBadGateway, nil)
	case errors.Is(err, services.ErrStorageUnavailable):
		log.Printf("[API] %s storage error: %v", op, err)
		services.SendErrorResponse(w, "Ledger storage unavailable; the operation was not applied", http.StatusServiceUnavailable, nil)
	default:
		log.Printf("[API] %s unexpected error: %v", op, err)
		services.SendErrorResponse(w, "Internal error", http.StatusInternalServerError, nil)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
