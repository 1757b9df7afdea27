package models

import (
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/google/uuid"
)

type Account struct {
	ID            uuid.UUID          `json:"id"`
	OwnerID       uuid.UUID          `json:"owner_id"`
	AccountNumber string             `json:"account_number"`
	Balance       domain.Money       `json:"balance"`
	Currency      string             `json:"currency"`
	Type          domain.AccountType `json:"account_type"`
	Active        bool               `json:"is_active"`
	Version       int64              `json:"version"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// NewAccount builds an active account with a fresh account number at version 1.
func NewAccount(ownerID uuid.UUID, currency string, accountType domain.AccountType, opening domain.Money, now time.Time) (*Account, error) {
	if opening.IsNegative() {
		return nil, fmt.Errorf("opening balance: %w", domain.ErrInvalidAmount)
	}
	number, err := domain.NewAccountNumber()
	if err != nil {
		return nil, fmt.Errorf("generate account number: %w", err)
	}
	if accountType == "" {
		accountType = domain.AccountTypeChecking
	}
	return &Account{
		ID:            uuid.New(),
		OwnerID:       ownerID,
		AccountNumber: number,
		Balance:       opening,
		Currency:      currency,
		Type:          accountType,
		Active:        true,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (a *Account) HasEnoughBalance(amount domain.Money) bool {
	return a.Balance.Cmp(amount) >= 0
}

// Debit removes amount from the balance. The balance never goes negative.
func (a *Account) Debit(amount domain.Money, now time.Time) error {
	if !amount.IsPositive() {
		return domain.ErrNonPositiveAmount
	}
	if !a.HasEnoughBalance(amount) {
		return fmt.Errorf("%w: account %s has %s, needs %s", domain.ErrInsufficientBalance, a.AccountNumber, a.Balance, amount)
	}
	a.Balance = a.Balance.Subtract(amount)
	a.UpdatedAt = now
	return nil
}

func (a *Account) Credit(amount domain.Money, now time.Time) error {
	if !amount.IsPositive() {
		return domain.ErrNonPositiveAmount
	}
	a.Balance = a.Balance.Add(amount)
	a.UpdatedAt = now
	return nil
}

type Transaction struct {
	ID                   uuid.UUID       `json:"id"`
	ReferenceNumber      string          `json:"reference_number"`
	SourceAccountID      uuid.UUID       `json:"source_account_id"`
	DestinationAccountID uuid.UUID       `json:"destination_account_id"`
	Amount               domain.Money    `json:"amount"`
	Currency             string          `json:"currency"`
	Type                 domain.TxType   `json:"type"`
	Status               domain.TxStatus `json:"status"`
	Description          *string         `json:"description,omitempty"`
	FailureReason        *string         `json:"failure_reason,omitempty"`
	Metadata             map[string]any  `json:"metadata,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
}

// NewTransfer creates a PENDING transfer between two distinct accounts.
func NewTransfer(source, destination *Account, amount domain.Money, description string, now time.Time) (*Transaction, error) {
	if source.ID == destination.ID {
		return nil, domain.ErrSameAccount
	}
	if !amount.IsPositive() {
		return nil, domain.ErrNonPositiveAmount
	}
	ref, err := domain.NewReferenceNumber(now)
	if err != nil {
		return nil, fmt.Errorf("generate reference number: %w", err)
	}
	txn := &Transaction{
		ID:                   uuid.New(),
		ReferenceNumber:      ref,
		SourceAccountID:      source.ID,
		DestinationAccountID: destination.ID,
		Amount:               amount,
		Currency:             source.Currency,
		Type:                 domain.TxTypeTransfer,
		Status:               domain.TxStatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if description != "" {
		txn.Description = &description
	}
	return txn, nil
}

// Apply moves the transaction through t. The transaction is left untouched
// when t is not allowed from the current state.
func (t *Transaction) Apply(tr domain.Transition, now time.Time) error {
	next, err := domain.NextStatus(t.Status, tr)
	if err != nil {
		return err
	}
	t.Status = next
	t.UpdatedAt = now
	if next == domain.TxStatusCompleted && t.CompletedAt == nil {
		completed := now
		t.CompletedAt = &completed
	}
	return nil
}

// Fail applies the fail transition and records reason.
func (t *Transaction) Fail(reason string, now time.Time) error {
	if err := t.Apply(domain.TransitionFail, now); err != nil {
		return err
	}
	t.FailureReason = &reason
	return nil
}

// Reverse applies the reverse transition and records reason. CompletedAt is kept.
func (t *Transaction) Reverse(reason string, now time.Time) error {
	if err := t.Apply(domain.TransitionReverse, now); err != nil {
		return err
	}
	if reason != "" {
		t.FailureReason = &reason
	}
	return nil
}

// AuditEntry is one immutable row of the transaction audit trail.
type AuditEntry struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	Action     string         `json:"action"`
	PrevState  string         `json:"prev_state,omitempty"`
	NextState  string         `json:"next_state,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// AccountStatistics aggregates an account's transfers over a time window.
type AccountStatistics struct {
	AccountID        uuid.UUID    `json:"account_id"`
	From             time.Time    `json:"from"`
	To               time.Time    `json:"to"`
	TotalSent        domain.Money `json:"total_sent"`
	TotalReceived    domain.Money `json:"total_received"`
	CompletedCount   int64        `json:"completed_count"`
	FailedCount      int64        `json:"failed_count"`
	PendingCount     int64        `json:"pending_count"`
	TransactionCount int64        `json:"transaction_count"`
}
