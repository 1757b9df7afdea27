package repository

import (
	"context"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
)

// DefaultListLimit and MaxListLimit bound account transaction listings.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// LedgerTx is the set of operations available inside one atomic unit of work.
// Nothing written through it is visible to others until the unit commits.
type LedgerTx interface {
	GetAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	// GetAccountForUpdate takes the account's row lock, waiting at most the
	// store's lock timeout before failing with domain.ErrLockTimeout.
	GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error)
	// SaveAccount persists balance and active flag if the stored version still
	// equals a.Version, then increments it. A stale version is domain.ErrVersionConflict.
	SaveAccount(ctx context.Context, a *models.Account) error
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	InsertTransaction(ctx context.Context, t *models.Transaction) error
	SaveTransaction(ctx context.Context, t *models.Transaction) error
	InsertAuditLog(ctx context.Context, entry *models.AuditEntry) error
}

// Ledger is implemented by every storage backend.
type Ledger interface {
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error

	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Transaction, error)
	AccountStatistics(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*models.AccountStatistics, error)
	ListAuditLog(ctx context.Context, entityID uuid.UUID) ([]models.AuditEntry, error)

	// FindStalePending lists PENDING transactions created before now-olderThan.
	FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error)
	// FindStaleProcessing lists PROCESSING transactions last updated before now-olderThan.
	FindStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error)
}

// ClampLimit applies the listing defaults.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
