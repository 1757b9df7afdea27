package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultStatisticsWindow = 30 * 24 * time.Hour

// OpenAccountRequest describes a new account. An empty Type opens a checking account.
type OpenAccountRequest struct {
	OwnerID        uuid.UUID
	Currency       string
	Type           domain.AccountType
	OpeningBalance domain.Money
}

// AccountService opens accounts and serves account views.
type AccountService struct {
	store LedgerStore
	cache AccountCache
	now   func() time.Time
}

func NewAccountService(store LedgerStore, cache AccountCache) *AccountService {
	if cache == nil {
		cache = noopCache{}
	}
	return &AccountService{store: store, cache: cache, now: time.Now}
}

// OpenAccount validates req and persists a fresh active account.
func (s *AccountService) OpenAccount(ctx context.Context, req OpenAccountRequest) (*models.Account, error) {
	currency, err := domain.NormalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if req.Type != "" && !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAccountType, req.Type)
	}
	if req.OwnerID == uuid.Nil {
		req.OwnerID = uuid.New()
	}

	a, err := models.NewAccount(req.OwnerID, currency, req.Type, req.OpeningBalance, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, a); err != nil {
		return nil, fmt.Errorf("open account: %w", err)
	}
	zap.L().Info("account opened",
		zap.String("account_id", a.ID.String()),
		zap.String("account_number", a.AccountNumber),
		zap.String("currency", a.Currency),
	)
	return a, nil
}

// GetAccount returns the account behind number, preferring the cached snapshot.
func (s *AccountService) GetAccount(ctx context.Context, number string) (*models.Account, error) {
	if a, ok := s.cache.Get(ctx, number); ok {
		return a, nil
	}
	a, err := s.store.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, a)
	return a, nil
}

// ListTransactions returns the account's transfers, newest first.
func (s *AccountService) ListTransactions(ctx context.Context, number string, limit int) ([]models.Transaction, error) {
	a, err := s.store.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return s.store.ListAccountTransactions(ctx, a.ID, repository.ClampLimit(limit))
}

// Statistics aggregates transfers created in [from, to). A zero bound
// defaults to the last 30 days ending now.
func (s *AccountService) Statistics(ctx context.Context, number string, from, to time.Time) (*models.AccountStatistics, error) {
	a, err := s.store.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		to = s.now()
	}
	if from.IsZero() {
		from = to.Add(-defaultStatisticsWindow)
	}
	return s.store.AccountStatistics(ctx, a.ID, from, to)
}
