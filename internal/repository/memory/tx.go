package memory

import (
	"context"
	"fmt"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
)

// memTx stages writes until commit and holds row locks until it ends.
type memTx struct {
	s *Store

	held         map[uuid.UUID]chan struct{}
	accounts     map[uuid.UUID]models.Account
	baseVersions map[uuid.UUID]int64
	transactions map[uuid.UUID]models.Transaction
	inserted     map[uuid.UUID]bool
	audit        []models.AuditEntry
}

func (tx *memTx) release() {
	for id, ch := range tx.held {
		<-ch
		delete(tx.held, id)
	}
}

func (tx *memTx) lock(ctx context.Context, id uuid.UUID) error {
	if _, ok := tx.held[id]; ok {
		return nil
	}
	if err := tx.s.acquire(ctx, id); err != nil {
		return err
	}
	tx.held[id] = tx.s.rowLock(id)
	return nil
}

func (tx *memTx) account(id uuid.UUID) (models.Account, bool) {
	if a, ok := tx.accounts[id]; ok {
		return a, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	a, ok := tx.s.accounts[id]
	return a, ok
}

func (tx *memTx) transaction(id uuid.UUID) (models.Transaction, bool) {
	if t, ok := tx.transactions[id]; ok {
		return t, true
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	t, ok := tx.s.transactions[id]
	return t, ok
}

func (tx *memTx) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	tx.s.mu.RLock()
	id, ok := tx.s.byNumber[number]
	tx.s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get account by number: %w", domain.ErrAccountNotFound)
	}
	a, _ := tx.account(id)
	return &a, nil
}

func (tx *memTx) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	if _, ok := tx.account(id); !ok {
		return nil, fmt.Errorf("lock account: %w", domain.ErrAccountNotFound)
	}
	if err := tx.lock(ctx, id); err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	a, _ := tx.account(id)
	return &a, nil
}

func (tx *memTx) SaveAccount(_ context.Context, a *models.Account) error {
	cur, ok := tx.account(a.ID)
	if !ok {
		return fmt.Errorf("save account: %w", domain.ErrAccountNotFound)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("save account %s: %w", a.ID, domain.ErrVersionConflict)
	}
	if a.Balance.IsNegative() {
		return fmt.Errorf("save account %s: negative balance %s", a.ID, a.Balance)
	}
	if _, staged := tx.baseVersions[a.ID]; !staged {
		tx.baseVersions[a.ID] = cur.Version
	}
	next := *a
	next.Version = a.Version + 1
	tx.accounts[a.ID] = next
	a.Version = next.Version
	return nil
}

func (tx *memTx) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if _, ok := tx.transaction(id); !ok {
		return nil, fmt.Errorf("lock transaction: %w", domain.ErrTransactionNotFound)
	}
	if err := tx.lock(ctx, id); err != nil {
		return nil, fmt.Errorf("lock transaction: %w", err)
	}
	t, _ := tx.transaction(id)
	t = cloneTransaction(t)
	return &t, nil
}

func (tx *memTx) InsertTransaction(_ context.Context, t *models.Transaction) error {
	if _, exists := tx.transaction(t.ID); exists {
		return fmt.Errorf("insert transaction %s: %w", t.ID, domain.ErrDuplicate)
	}
	tx.transactions[t.ID] = cloneTransaction(*t)
	tx.inserted[t.ID] = true
	return nil
}

func (tx *memTx) SaveTransaction(_ context.Context, t *models.Transaction) error {
	if _, exists := tx.transaction(t.ID); !exists {
		return fmt.Errorf("save transaction: %w", domain.ErrTransactionNotFound)
	}
	tx.transactions[t.ID] = cloneTransaction(*t)
	return nil
}

func (tx *memTx) InsertAuditLog(_ context.Context, e *models.AuditEntry) error {
	tx.audit = append(tx.audit, *e)
	return nil
}
