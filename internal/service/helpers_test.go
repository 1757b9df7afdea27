package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/ayo6706/ledger-transfer/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type recordingQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *recordingQueue) Enqueue(_ context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

func (q *recordingQueue) enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

type recordingSink struct {
	mu        sync.Mutex
	completed []models.TransactionCompleted
	failed    []models.TransactionFailed
}

func (s *recordingSink) PublishCompleted(_ context.Context, ev models.TransactionCompleted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, ev)
}

func (s *recordingSink) PublishFailed(_ context.Context, ev models.TransactionFailed) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, ev)
}

func (s *recordingSink) counts() (completed, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.completed), len(s.failed)
}

type recordingCache struct {
	mu          sync.Mutex
	entries     map[string]models.Account
	invalidated []string
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]models.Account)}
}

func (c *recordingCache) Get(_ context.Context, number string) (*models.Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[number]
	if !ok {
		return nil, false
	}
	return &a, true
}

func (c *recordingCache) Set(_ context.Context, a *models.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[a.AccountNumber] = *a
}

func (c *recordingCache) Invalidate(_ context.Context, accounts ...*models.Account) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range accounts {
		delete(c.entries, a.AccountNumber)
		c.invalidated = append(c.invalidated, a.AccountNumber)
	}
}

// faultyStore makes every SaveAccount fail with saveAccountErr.
type faultyStore struct {
	*memory.Store
	saveAccountErr error
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	return s.Store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		return fn(&faultyTx{LedgerTx: tx, saveAccountErr: s.saveAccountErr})
	})
}

type faultyTx struct {
	repository.LedgerTx
	saveAccountErr error
}

func (t *faultyTx) SaveAccount(ctx context.Context, a *models.Account) error {
	if t.saveAccountErr != nil {
		return t.saveAccountErr
	}
	return t.LedgerTx.SaveAccount(ctx, a)
}

var errDiskFull = errors.New("disk full")

type fixture struct {
	store *memory.Store
	queue *recordingQueue
	sink  *recordingSink
	cache *recordingCache
	svc   *TransferService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore().WithLockTimeout(2 * time.Second)
	return newFixtureWithStore(t, store, store)
}

func newFixtureWithStore(t *testing.T, mem *memory.Store, store LedgerStore) *fixture {
	t.Helper()
	f := &fixture{
		store: mem,
		queue: &recordingQueue{},
		sink:  &recordingSink{},
		cache: newRecordingCache(),
	}
	f.svc = NewTransferService(store, f.queue, f.sink).WithAccountCache(f.cache)
	return f
}

func (f *fixture) account(t *testing.T, balance, currency string) *models.Account {
	t.Helper()
	a, err := models.NewAccount(uuid.New(), currency, domain.AccountTypeChecking, domain.MustParseMoney(balance), time.Now())
	require.NoError(t, err)
	require.NoError(t, f.store.CreateAccount(context.Background(), a))
	return a
}

func (f *fixture) reload(t *testing.T, a *models.Account) *models.Account {
	t.Helper()
	got, err := f.store.GetAccountByNumber(context.Background(), a.AccountNumber)
	require.NoError(t, err)
	return got
}

func (f *fixture) transaction(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	got, err := f.store.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	return got
}

func (f *fixture) initiate(t *testing.T, from, to *models.Account, amount string) *models.Transaction {
	t.Helper()
	txn, err := f.svc.Initiate(context.Background(), TransferRequest{
		SourceAccountNumber:      from.AccountNumber,
		DestinationAccountNumber: to.AccountNumber,
		Amount:                   domain.MustParseMoney(amount),
	})
	require.NoError(t, err)
	return txn
}

func (f *fixture) setActive(t *testing.T, a *models.Account, active bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		locked, err := tx.GetAccountForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		locked.Active = active
		return tx.SaveAccount(ctx, locked)
	}))
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
