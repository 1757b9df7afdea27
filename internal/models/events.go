package models

import (
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/google/uuid"
)

// TransactionCompleted is emitted after a transfer settles.
type TransactionCompleted struct {
	TransactionID            uuid.UUID    `json:"transaction_id"`
	ReferenceNumber          string       `json:"reference_number"`
	Amount                   domain.Money `json:"amount"`
	Currency                 string       `json:"currency"`
	SourceAccountNumber      string       `json:"source_account_number"`
	DestinationAccountNumber string       `json:"destination_account_number"`
	CompletedAt              time.Time    `json:"completed_at"`
}

// TransactionFailed is emitted after a transfer is marked FAILED.
type TransactionFailed struct {
	TransactionID   uuid.UUID `json:"transaction_id"`
	ReferenceNumber string    `json:"reference_number"`
	Reason          string    `json:"reason"`
	FailedAt        time.Time `json:"failed_at"`
}

func CompletedEvent(t *Transaction, source, destination *Account) TransactionCompleted {
	ev := TransactionCompleted{
		TransactionID:            t.ID,
		ReferenceNumber:          t.ReferenceNumber,
		Amount:                   t.Amount,
		Currency:                 t.Currency,
		SourceAccountNumber:      source.AccountNumber,
		DestinationAccountNumber: destination.AccountNumber,
		CompletedAt:              t.UpdatedAt,
	}
	if t.CompletedAt != nil {
		ev.CompletedAt = *t.CompletedAt
	}
	return ev
}

func FailedEvent(t *Transaction) TransactionFailed {
	ev := TransactionFailed{
		TransactionID:   t.ID,
		ReferenceNumber: t.ReferenceNumber,
		FailedAt:        t.UpdatedAt,
	}
	if t.FailureReason != nil {
		ev.Reason = *t.FailureReason
	}
	return ev
}
