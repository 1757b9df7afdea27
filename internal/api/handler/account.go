package handler

import (
	"net/http"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type AccountHandler struct {
	svc *service.AccountService
}

func NewAccountHandler(svc *service.AccountService) *AccountHandler {
	return &AccountHandler{svc: svc}
}

type openAccountRequest struct {
	OwnerID        string             `json:"owner_id,omitempty"`
	Currency       string             `json:"currency"`
	Type           domain.AccountType `json:"account_type,omitempty"`
	OpeningBalance *domain.Money      `json:"opening_balance,omitempty"`
}

type transactionList struct {
	AccountNumber string               `json:"account_number"`
	Transactions  []models.Transaction `json:"transactions"`
}

// Open creates an account. Admin only.
func (h *AccountHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := decodeJSON(r, w, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	open := service.OpenAccountRequest{Currency: req.Currency, Type: req.Type, OpeningBalance: domain.Zero()}
	if req.OwnerID != "" {
		owner, err := uuid.Parse(req.OwnerID)
		if err != nil {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-owner-id", "Invalid owner_id")
			return
		}
		open.OwnerID = owner
	}
	if req.OpeningBalance != nil {
		open.OpeningBalance = *req.OpeningBalance
	}

	account, err := h.svc.OpenAccount(r.Context(), open)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/accounts/"+account.AccountNumber)
	RespondJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	account, err := h.svc.GetAccount(r.Context(), number)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, account)
}

func (h *AccountHandler) Transactions(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", err.Error())
		return
	}
	txns, err := h.svc.ListTransactions(r.Context(), number, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	RespondJSON(w, http.StatusOK, transactionList{AccountNumber: number, Transactions: txns})
}

// Statistics accepts optional RFC 3339 from/to query bounds.
func (h *AccountHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	number, ok := accountNumberParam(w, r)
	if !ok {
		return
	}
	from, err := queryTime(r, "from")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-time", err.Error())
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-time", err.Error())
		return
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-time", "from must be before to")
		return
	}

	stats, err := h.svc.Statistics(r.Context(), number, from, to)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

func accountNumberParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	number := chi.URLParam(r, "number")
	if !domain.IsAccountNumber(number) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-number", "account number must be 20 digits")
		return "", false
	}
	return number, true
}

func queryTime(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
