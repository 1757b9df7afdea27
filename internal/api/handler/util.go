package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/ledger-transfer/internal/api/problem"
	"github.com/ayo6706/ledger-transfer/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes data as a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes a problem response. Slugs are expanded to problem type URIs.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(r *http.Request, w http.ResponseWriter, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("decode body: trailing data")
	}
	return nil
}

// writeServiceError maps the domain error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch domain.Classify(err) {
	case domain.ClassValidation:
		RespondError(w, r, http.StatusBadRequest, validationSlug(err), err.Error())
	case domain.ClassBusiness:
		status, slug := businessStatus(err)
		RespondError(w, r, status, slug, err.Error())
	case domain.ClassInvariant:
		RespondError(w, r, http.StatusConflict, "transfer/invalid-transition", err.Error())
	case domain.ClassTransient:
		w.Header().Set("Retry-After", "1")
		RespondError(w, r, http.StatusServiceUnavailable, "ledger/contention", "the ledger is busy, retry the request")
	default:
		zap.L().Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
	}
}

func validationSlug(err error) string {
	switch {
	case errors.Is(err, domain.ErrSameAccount):
		return "transfer/same-account"
	case errors.Is(err, domain.ErrNonPositiveAmount), errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrScaleExceeded):
		return "transfer/invalid-amount"
	case errors.Is(err, domain.ErrAmountExceedsMaximum):
		return "transfer/amount-exceeds-maximum"
	case errors.Is(err, domain.ErrInvalidCurrency):
		return "account/invalid-currency"
	case errors.Is(err, domain.ErrInvalidAccountType):
		return "account/invalid-type"
	}
	return "request/invalid"
}

func businessStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "account/not-found"
	case errors.Is(err, domain.ErrTransactionNotFound):
		return http.StatusNotFound, "transfer/not-found"
	case errors.Is(err, domain.ErrAccountInactive):
		return http.StatusUnprocessableEntity, "account/inactive"
	case errors.Is(err, domain.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity, "transfer/currency-mismatch"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "transfer/insufficient-balance"
	}
	return http.StatusUnprocessableEntity, "request/rejected"
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
