package service

import (
	"context"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
)

// LedgerStore defines the data access contract required by services.
type LedgerStore interface {
	RunInTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error
	CreateAccount(ctx context.Context, a *models.Account) error
	GetAccountByNumber(ctx context.Context, number string) (*models.Account, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error)
	ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Transaction, error)
	AccountStatistics(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*models.AccountStatistics, error)
	FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error)
	FindStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error)
}

// WorkQueue delivers transaction ids to the processor at least once.
type WorkQueue interface {
	Enqueue(ctx context.Context, transactionID uuid.UUID) error
}

// EventSink receives domain events after the change they describe has committed.
// Publishing must not block on delivery.
type EventSink interface {
	PublishCompleted(ctx context.Context, ev models.TransactionCompleted)
	PublishFailed(ctx context.Context, ev models.TransactionFailed)
}

// AccountCache is a read-through cache of accounts keyed by account number.
type AccountCache interface {
	Get(ctx context.Context, number string) (*models.Account, bool)
	Set(ctx context.Context, a *models.Account)
	Invalidate(ctx context.Context, accounts ...*models.Account)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*models.Account, bool) { return nil, false }
func (noopCache) Set(context.Context, *models.Account)                {}
func (noopCache) Invalidate(context.Context, ...*models.Account)      {}

type noopSink struct{}

func (noopSink) PublishCompleted(context.Context, models.TransactionCompleted) {}
func (noopSink) PublishFailed(context.Context, models.TransactionFailed)       {}
