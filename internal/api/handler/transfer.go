package handler

import (
	"net/http"
	"strings"

	"github.com/ayo6706/ledger-transfer/internal/api/middleware"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type TransferHandler struct {
	svc *service.TransferService
}

func NewTransferHandler(svc *service.TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

type createTransferRequest struct {
	SourceAccountNumber      string         `json:"source_account_number"`
	DestinationAccountNumber string         `json:"destination_account_number"`
	Amount                   domain.Money   `json:"amount"`
	Description              string         `json:"description,omitempty"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
}

type reverseTransferRequest struct {
	Reason string `json:"reason"`
}

// Create initiates a transfer and answers 202 while settlement happens
// asynchronously.
func (h *TransferHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransferRequest
	if err := decodeJSON(r, w, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	if req.SourceAccountNumber == "" || req.DestinationAccountNumber == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-account", "source_account_number and destination_account_number are required")
		return
	}

	txn, err := h.svc.Initiate(r.Context(), service.TransferRequest{
		SourceAccountNumber:      req.SourceAccountNumber,
		DestinationAccountNumber: req.DestinationAccountNumber,
		Amount:                   req.Amount,
		Description:              strings.TrimSpace(req.Description),
		Metadata:                 req.Metadata,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/transfers/"+txn.ID.String())
	RespondJSON(w, http.StatusAccepted, txn)
}

func (h *TransferHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}
	txn, err := h.svc.GetTransaction(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, txn)
}

func (h *TransferHandler) GetByReference(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	if !strings.HasPrefix(ref, domain.ReferencePrefix) {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-reference", "Invalid reference number")
		return
	}
	txn, err := h.svc.GetTransactionByReference(r.Context(), ref)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, txn)
}

// Reverse undoes a completed transfer. Admin only.
func (h *TransferHandler) Reverse(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-transaction-id", "Invalid transaction ID")
		return
	}
	var req reverseTransferRequest
	if err := decodeJSON(r, w, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", err.Error())
		return
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-reason", "reason is required")
		return
	}

	txn, err := h.svc.Reverse(r.Context(), id, req.Reason)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	zap.L().Info("transfer reversed via api",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("actor_id", middleware.ActorFromContext(r.Context())),
	)
	RespondJSON(w, http.StatusOK, txn)
}
