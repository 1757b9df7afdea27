// Package memory is an in-process ledger backend with the same locking and
// versioning contract as the PostgreSQL store. It backs local runs and the
// concurrency tests of the transfer core.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
)

const defaultLockTimeout = 5 * time.Second

type Store struct {
	mu           sync.RWMutex
	accounts     map[uuid.UUID]models.Account
	byNumber     map[string]uuid.UUID
	transactions map[uuid.UUID]models.Transaction
	byReference  map[string]uuid.UUID
	audit        []models.AuditEntry

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}

	lockTimeout time.Duration
	now         func() time.Time
}

var _ repository.Ledger = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		accounts:     make(map[uuid.UUID]models.Account),
		byNumber:     make(map[string]uuid.UUID),
		transactions: make(map[uuid.UUID]models.Transaction),
		byReference:  make(map[string]uuid.UUID),
		locks:        make(map[uuid.UUID]chan struct{}),
		lockTimeout:  defaultLockTimeout,
		now:          time.Now,
	}
}

func (s *Store) WithLockTimeout(d time.Duration) *Store {
	if d > 0 {
		s.lockTimeout = d
	}
	return s
}

// WithClock sets the clock used by the stale transaction queries.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) rowLock(id uuid.UUID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) acquire(ctx context.Context, id uuid.UUID) error {
	ch := s.rowLock(id)
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("lock row %s: %w", id, domain.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	tx := &memTx{
		s:            s,
		held:         make(map[uuid.UUID]chan struct{}),
		accounts:     make(map[uuid.UUID]models.Account),
		baseVersions: make(map[uuid.UUID]int64),
		transactions: make(map[uuid.UUID]models.Transaction),
		inserted:     make(map[uuid.UUID]bool),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.accounts {
		cur, ok := s.accounts[id]
		if !ok || cur.Version != tx.baseVersions[id] {
			return fmt.Errorf("commit account %s: %w", id, domain.ErrVersionConflict)
		}
	}
	for id, t := range tx.transactions {
		if tx.inserted[id] {
			if _, exists := s.transactions[id]; exists {
				return fmt.Errorf("commit transaction %s: %w", id, domain.ErrDuplicate)
			}
			if _, exists := s.byReference[t.ReferenceNumber]; exists {
				return fmt.Errorf("commit reference %s: %w", t.ReferenceNumber, domain.ErrDuplicate)
			}
			continue
		}
		if _, exists := s.transactions[id]; !exists {
			return fmt.Errorf("commit transaction %s: %w", id, domain.ErrTransactionNotFound)
		}
	}

	for id, a := range tx.accounts {
		s.accounts[id] = a
	}
	for id, t := range tx.transactions {
		s.transactions[id] = t
		s.byReference[t.ReferenceNumber] = id
	}
	s.audit = append(s.audit, tx.audit...)
	return nil
}

func cloneTransaction(t models.Transaction) models.Transaction {
	if t.Description != nil {
		d := *t.Description
		t.Description = &d
	}
	if t.FailureReason != nil {
		r := *t.FailureReason
		t.FailureReason = &r
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		t.CompletedAt = &c
	}
	t.Metadata = maps.Clone(t.Metadata)
	return t
}

func (s *Store) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("create account %s: %w", a.ID, domain.ErrDuplicate)
	}
	if _, exists := s.byNumber[a.AccountNumber]; exists {
		return fmt.Errorf("create account %s: %w", a.AccountNumber, domain.ErrDuplicate)
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("create account: %w", domain.ErrInvalidAmount)
	}
	s.accounts[a.ID] = *a
	s.byNumber[a.AccountNumber] = a.ID
	return nil
}

func (s *Store) GetAccountByNumber(_ context.Context, number string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byNumber[number]
	if !ok {
		return nil, fmt.Errorf("get account by number: %w", domain.ErrAccountNotFound)
	}
	a := s.accounts[id]
	return &a, nil
}

func (s *Store) GetTransaction(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, fmt.Errorf("get transaction: %w", domain.ErrTransactionNotFound)
	}
	t = cloneTransaction(t)
	return &t, nil
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	s.mu.RLock()
	id, ok := s.byReference[reference]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get transaction by reference: %w", domain.ErrTransactionNotFound)
	}
	return s.GetTransaction(ctx, id)
}

func (s *Store) filterTransactions(keep func(t models.Transaction) bool) []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Transaction, 0)
	for _, t := range s.transactions {
		if keep(t) {
			out = append(out, cloneTransaction(t))
		}
	}
	return out
}

func (s *Store) ListAccountTransactions(_ context.Context, accountID uuid.UUID, limit int) ([]models.Transaction, error) {
	out := s.filterTransactions(func(t models.Transaction) bool {
		return t.SourceAccountID == accountID || t.DestinationAccountID == accountID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit = repository.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) AccountStatistics(_ context.Context, accountID uuid.UUID, from, to time.Time) (*models.AccountStatistics, error) {
	stats := &models.AccountStatistics{AccountID: accountID, From: from, To: to}
	for _, t := range s.filterTransactions(func(t models.Transaction) bool {
		involved := t.SourceAccountID == accountID || t.DestinationAccountID == accountID
		return involved && !t.CreatedAt.Before(from) && t.CreatedAt.Before(to)
	}) {
		stats.TransactionCount++
		switch t.Status {
		case domain.TxStatusCompleted:
			stats.CompletedCount++
			if t.SourceAccountID == accountID {
				stats.TotalSent = stats.TotalSent.Add(t.Amount)
			}
			if t.DestinationAccountID == accountID {
				stats.TotalReceived = stats.TotalReceived.Add(t.Amount)
			}
		case domain.TxStatusFailed:
			stats.FailedCount++
		case domain.TxStatusPending, domain.TxStatusProcessing:
			stats.PendingCount++
		}
	}
	return stats, nil
}

func (s *Store) ListAuditLog(_ context.Context, entityID uuid.UUID) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditEntry, 0)
	for _, e := range s.audit {
		if e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) FindStalePending(_ context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error) {
	cutoff := s.now().Add(-olderThan)
	out := s.filterTransactions(func(t models.Transaction) bool {
		return t.Status == domain.TxStatusPending && t.CreatedAt.Before(cutoff)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return truncate(out, limit), nil
}

func (s *Store) FindStaleProcessing(_ context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error) {
	cutoff := s.now().Add(-olderThan)
	out := s.filterTransactions(func(t models.Transaction) bool {
		return t.Status == domain.TxStatusProcessing && t.UpdatedAt.Before(cutoff)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return truncate(out, limit), nil
}

func truncate(ts []models.Transaction, limit int) []models.Transaction {
	if limit > 0 && len(ts) > limit {
		return ts[:limit]
	}
	return ts
}
