package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/boltledger/backend/internal/models"
	"github.com/boltledger/backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// stubLedger returns scripted results so the handler's error mapping can be
// checked without a database.
type stubLedger struct {
	balance     int64
	transferErr error
	creditErr   error
}

func (s *stubLedger) Balance(context.Context, string) (int64, error) { return s.balance, nil }
func (s *stubLedger) Entries(context.Context, string, int) ([]models.LedgerEntry, error) {
	return nil, nil
}
func (s *stubLedger) Transfer(context.Context, string, string, int64) error { return s.transferErr }
func (s *stubLedger) AdminCredit(context.Context, string, int64) error      { return s.creditErr }
func (s *stubLedger) CreditFromDeposit(context.Context, string, int64, string) (bool, error) {
	return false, nil
}
func (s *stubLedger) DebitForWithdrawal(context.Context, string, int64, string) error { return nil }

func newTestRouter(ledger services.Ledger) *chi.Mux {
	h := NewLedgerHandler(ledger, nil, nil, nil, 20)
	r := chi.NewRouter()
	r.Get("/balance/{accountID}", h.Balance)
	r.Post("/transfer", h.Transfer)
	return r
}

func TestLedgerHandler_Balance(t *testing.T) {
	router := newTestRouter(&stubLedger{balance: 1234})

	req := httptest.NewRequest(http.MethodGet, "/balance/alice", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"balance_sats":1234`)
}

func TestLedgerHandler_TransferErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"insufficient funds", services.ErrInsufficientFunds, http.StatusUnprocessableEntity},
		{"self transfer", services.ErrSelfTransfer, http.StatusBadRequest},
		{"invalid amount", services.ErrInvalidAmount, http.StatusBadRequest},
		{"storage unavailable", services.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{"unexpected", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&stubLedger{transferErr: tc.err})

			body := `{"from_id":"alice","to_id":"bob","amount_sats":100}`
			req := httptest.NewRequest(http.MethodPost, "/transfer", strings.NewReader(body))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
		})
	}
}

func TestLedgerHandler_TransferValidation(t *testing.T) {
	router := newTestRouter(&stubLedger{})

	t.Run("missing fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transfer", strings.NewReader(`{"from_id":"alice"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		body := `{"from_id":"alice","to_id":"bob","amount_sats":100,"extra":true}`
		req := httptest.NewRequest(http.MethodPost, "/transfer", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid request", func(t *testing.T) {
		body := `{"from_id":"alice","to_id":"bob","amount_sats":100}`
		req := httptest.NewRequest(http.MethodPost, "/transfer", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
