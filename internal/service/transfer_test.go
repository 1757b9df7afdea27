package service

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/ayo6706/ledger-transfer/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTransfer_InitiateAndProcess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "1000", "USD")
	b := f.account(t, "500", "USD")

	txn := f.initiate(t, a, b, "100")
	assert.Equal(t, domain.TxStatusPending, txn.Status)
	assert.True(t, strings.HasPrefix(txn.ReferenceNumber, "TXN"))
	assert.Equal(t, []uuid.UUID{txn.ID}, f.queue.enqueued())
	assert.Equal(t, "1000.0000", f.reload(t, a).Balance.String(), "initiate moves nothing")

	require.NoError(t, f.svc.Process(ctx, txn.ID))

	got := f.transaction(t, txn.ID)
	assert.Equal(t, domain.TxStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	srcAfter, dstAfter := f.reload(t, a), f.reload(t, b)
	assert.Equal(t, "900.0000", srcAfter.Balance.String())
	assert.Equal(t, "600.0000", dstAfter.Balance.String())
	assert.Equal(t, int64(2), srcAfter.Version)
	assert.Equal(t, int64(2), dstAfter.Version)

	completed, failed := f.sink.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 0, failed)
	ev := f.sink.completed[0]
	assert.Equal(t, txn.ID, ev.TransactionID)
	assert.Equal(t, a.AccountNumber, ev.SourceAccountNumber)
	assert.Equal(t, b.AccountNumber, ev.DestinationAccountNumber)
	assert.Equal(t, "100.0000", ev.Amount.String())
	assert.ElementsMatch(t, []string{a.AccountNumber, b.AccountNumber}, f.cache.invalidated)

	audit, err := f.store.ListAuditLog(ctx, txn.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(audit))
	for _, e := range audit {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []string{"initiate", "process", "complete"}, actions)
}

func TestTransfer_InitiateInsufficientBalance(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "50", "USD")
	b := f.account(t, "0", "USD")

	_, err := f.svc.Initiate(context.Background(), TransferRequest{
		SourceAccountNumber:      a.AccountNumber,
		DestinationAccountNumber: b.AccountNumber,
		Amount:                   domain.MustParseMoney("100"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Empty(t, f.queue.enqueued())

	listed, err := f.store.ListAccountTransactions(context.Background(), a.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestTransfer_InitiateValidation(t *testing.T) {
	f := newFixture(t)
	usd := f.account(t, "2000000", "USD")
	usd2 := f.account(t, "0", "USD")
	eur := f.account(t, "0", "EUR")
	inactive := f.account(t, "0", "USD")
	f.setActive(t, inactive, false)

	cases := []struct {
		name    string
		from    string
		to      string
		amount  string
		wantErr error
	}{
		{"same account", usd.AccountNumber, usd.AccountNumber, "1", domain.ErrSameAccount},
		{"zero amount", usd.AccountNumber, usd2.AccountNumber, "0", domain.ErrNonPositiveAmount},
		{"negative amount", usd.AccountNumber, usd2.AccountNumber, "-5", domain.ErrNonPositiveAmount},
		{"above maximum", usd.AccountNumber, usd2.AccountNumber, "1000000.0001", domain.ErrAmountExceedsMaximum},
		{"unknown source", "99999999999999999999", usd2.AccountNumber, "1", domain.ErrAccountNotFound},
		{"unknown destination", usd.AccountNumber, "99999999999999999999", "1", domain.ErrAccountNotFound},
		{"inactive destination", usd.AccountNumber, inactive.AccountNumber, "1", domain.ErrAccountInactive},
		{"cross currency", usd.AccountNumber, eur.AccountNumber, "1", domain.ErrCurrencyMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Initiate(context.Background(), TransferRequest{
				SourceAccountNumber:      tc.from,
				DestinationAccountNumber: tc.to,
				Amount:                   domain.MustParseMoney(tc.amount),
			})
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
	assert.Empty(t, f.queue.enqueued())

	// The ceiling itself is allowed.
	txn := f.initiate(t, usd, usd2, "1000000")
	assert.Equal(t, "1000000.0000", txn.Amount.String())
}

func TestTransfer_SameAccountRejectedBeforeStorage(t *testing.T) {
	store := &faultyStore{Store: memory.NewStore(), saveAccountErr: errDiskFull}
	svc := NewTransferService(store, &recordingQueue{}, nil)

	_, err := svc.Initiate(context.Background(), TransferRequest{
		SourceAccountNumber:      "12345678901234567890",
		DestinationAccountNumber: "12345678901234567890",
		Amount:                   domain.MustParseMoney("1"),
	})
	require.ErrorIs(t, err, domain.ErrSameAccount)
	assert.Equal(t, domain.ClassValidation, domain.Classify(err))
}

func TestTransfer_RaceForTheSameFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")

	// Both pass the advisory check at initiation.
	first := f.initiate(t, a, b, "80")
	second := f.initiate(t, a, b, "80")

	var wg sync.WaitGroup
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, f.svc.Process(ctx, id))
		}(id)
	}
	wg.Wait()

	statuses := map[domain.TxStatus]int{}
	for _, id := range []uuid.UUID{first.ID, second.ID} {
		got := f.transaction(t, id)
		statuses[got.Status]++
		if got.Status == domain.TxStatusFailed {
			require.NotNil(t, got.FailureReason)
			assert.Equal(t, domain.ReasonInsufficientBalance, *got.FailureReason)
		}
	}
	assert.Equal(t, 1, statuses[domain.TxStatusCompleted])
	assert.Equal(t, 1, statuses[domain.TxStatusFailed])
	assert.Equal(t, "20.0000", f.reload(t, a).Balance.String())
	assert.Equal(t, "80.0000", f.reload(t, b).Balance.String())

	completed, failed := f.sink.counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)
}

func TestTransfer_ReverseRejectsNonCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "10")

	_, err := f.svc.Reverse(ctx, txn.ID, "customer request")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, domain.ClassInvariant, domain.Classify(err))

	got := f.transaction(t, txn.ID)
	assert.Equal(t, domain.TxStatusPending, got.Status)
	assert.Nil(t, got.FailureReason)
	assert.Equal(t, int64(1), f.reload(t, a).Version)

	_, err = f.svc.Reverse(ctx, uuid.New(), "")
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestTransfer_ReverseRejectsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	late := f.initiate(t, a, b, "10")
	drain := f.initiate(t, a, b, "95")
	require.NoError(t, f.svc.Process(ctx, drain.ID))
	require.NoError(t, f.svc.Process(ctx, late.ID))

	failed := f.transaction(t, late.ID)
	require.Equal(t, domain.TxStatusFailed, failed.Status)
	srcBefore, dstBefore := f.reload(t, a), f.reload(t, b)

	_, err := f.svc.Reverse(ctx, late.ID, "customer request")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got := f.transaction(t, late.ID)
	assert.Equal(t, domain.TxStatusFailed, got.Status)
	assert.Equal(t, domain.ReasonInsufficientBalance, *got.FailureReason)
	assert.Equal(t, failed.UpdatedAt, got.UpdatedAt)

	srcAfter, dstAfter := f.reload(t, a), f.reload(t, b)
	assert.Equal(t, srcBefore.Balance.String(), srcAfter.Balance.String())
	assert.Equal(t, dstBefore.Balance.String(), dstAfter.Balance.String())
	assert.Equal(t, srcBefore.Version, srcAfter.Version)
	assert.Equal(t, dstBefore.Version, dstAfter.Version)
}

func TestTransfer_ProcessCanceledBeforeClaimStaysPending(t *testing.T) {
	f := newFixture(t)
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "10")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.svc.Process(ctx, txn.ID)
	require.ErrorIs(t, err, context.Canceled)

	got := f.transaction(t, txn.ID)
	assert.Equal(t, domain.TxStatusPending, got.Status)
	assert.Nil(t, got.FailureReason)
	_, failed := f.sink.counts()
	assert.Equal(t, 0, failed)

	// Redelivery on a live context settles it.
	require.NoError(t, f.svc.Process(context.Background(), txn.ID))
	assert.Equal(t, domain.TxStatusCompleted, f.transaction(t, txn.ID).Status)
}

func TestTransfer_ProcessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "25")

	require.NoError(t, f.svc.Process(ctx, txn.ID))
	require.NoError(t, f.svc.Process(ctx, txn.ID))

	srcAfter, dstAfter := f.reload(t, a), f.reload(t, b)
	assert.Equal(t, "75.0000", srcAfter.Balance.String())
	assert.Equal(t, "25.0000", dstAfter.Balance.String())
	assert.Equal(t, int64(2), srcAfter.Version)
	assert.Equal(t, int64(2), dstAfter.Version)

	completed, _ := f.sink.counts()
	assert.Equal(t, 1, completed)
}

func TestTransfer_ProcessUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	logs := observeLogs(t)

	require.NoError(t, f.svc.Process(context.Background(), uuid.New()))
	assert.Equal(t, 1, logs.FilterMessage("queued transfer not found, dropping job").Len())
}

func TestTransfer_ProcessFailsWhenSourceDeactivated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "10")
	f.setActive(t, a, false)

	require.NoError(t, f.svc.Process(ctx, txn.ID))

	got := f.transaction(t, txn.ID)
	assert.Equal(t, domain.TxStatusFailed, got.Status)
	assert.Equal(t, domain.ReasonAccountInactive, *got.FailureReason)
	assert.Equal(t, "100.0000", f.reload(t, a).Balance.String())
	_, failed := f.sink.counts()
	assert.Equal(t, 1, failed)
}

func TestTransfer_UnexpectedErrorMarksFailed(t *testing.T) {
	mem := memory.NewStore()
	faulty := &faultyStore{Store: mem}
	f := newFixtureWithStore(t, mem, faulty)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "10")

	faulty.saveAccountErr = errDiskFull
	err := f.svc.Process(ctx, txn.ID)
	require.ErrorIs(t, err, errDiskFull)

	got := f.transaction(t, txn.ID)
	assert.Equal(t, domain.TxStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Contains(t, *got.FailureReason, "disk full")

	srcAfter := f.reload(t, a)
	assert.Equal(t, "100.0000", srcAfter.Balance.String(), "settlement rolled back")
	assert.Equal(t, int64(1), srcAfter.Version)

	_, failed := f.sink.counts()
	assert.Equal(t, 1, failed)

	// A redelivery after the failure is a no-op.
	require.NoError(t, f.svc.Process(ctx, txn.ID))
}

func TestTransfer_LockTimeoutMarksFailed(t *testing.T) {
	store := memory.NewStore().WithLockTimeout(50 * time.Millisecond)
	f := newFixtureWithStore(t, store, store)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "10")

	locked := make(chan struct{})
	release := make(chan struct{})
	holder := make(chan error, 1)
	go func() {
		holder <- store.RunInTx(ctx, func(tx repository.LedgerTx) error {
			_, err := tx.GetAccountForUpdate(ctx, b.ID)
			close(locked)
			<-release
			return err
		})
	}()
	<-locked

	err := f.svc.Process(ctx, txn.ID)
	close(release)
	require.NoError(t, <-holder)
	require.ErrorIs(t, err, domain.ErrLockTimeout)

	got := f.transaction(t, txn.ID)
	assert.Equal(t, domain.TxStatusFailed, got.Status)
	assert.Contains(t, *got.FailureReason, domain.ErrLockTimeout.Error())
	assert.Equal(t, "100.0000", f.reload(t, a).Balance.String())
	assert.Equal(t, "0.0000", f.reload(t, b).Balance.String())
}

func TestTransfer_EnqueueFailureStillReturnsTransaction(t *testing.T) {
	f := newFixture(t)
	logs := observeLogs(t)
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	f.queue.err = fmt.Errorf("redis unavailable")

	txn := f.initiate(t, a, b, "10")
	assert.Equal(t, domain.TxStatusPending, f.transaction(t, txn.ID).Status)
	assert.Equal(t, 1, logs.FilterMessage("failed to enqueue transfer").Len())
}

func TestTransfer_Reverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "5", "USD")
	txn := f.initiate(t, a, b, "40")
	require.NoError(t, f.svc.Process(ctx, txn.ID))
	f.cache.invalidated = nil

	reversed, err := f.svc.Reverse(ctx, txn.ID, "duplicate charge")
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusReversed, reversed.Status)
	assert.Equal(t, "duplicate charge", *reversed.FailureReason)
	assert.NotNil(t, reversed.CompletedAt)

	srcAfter, dstAfter := f.reload(t, a), f.reload(t, b)
	assert.Equal(t, "100.0000", srcAfter.Balance.String())
	assert.Equal(t, "5.0000", dstAfter.Balance.String())
	assert.Equal(t, int64(3), srcAfter.Version)
	assert.Equal(t, int64(3), dstAfter.Version)
	assert.ElementsMatch(t, []string{a.AccountNumber, b.AccountNumber}, f.cache.invalidated)

	_, err = f.svc.Reverse(ctx, txn.ID, "again")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestTransfer_ReverseNeedsDestinationFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	c := f.account(t, "0", "USD")

	txn := f.initiate(t, a, b, "40")
	require.NoError(t, f.svc.Process(ctx, txn.ID))
	onward := f.initiate(t, b, c, "30")
	require.NoError(t, f.svc.Process(ctx, onward.ID))

	_, err := f.svc.Reverse(ctx, txn.ID, "dispute")
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assert.Equal(t, domain.TxStatusCompleted, f.transaction(t, txn.ID).Status)
	assert.Equal(t, "10.0000", f.reload(t, b).Balance.String())
	assert.Equal(t, "60.0000", f.reload(t, a).Balance.String())
}

func sumBalances(t *testing.T, f *fixture, accounts ...*models.Account) domain.Money {
	t.Helper()
	total := domain.Zero()
	for _, a := range accounts {
		got := f.reload(t, a)
		require.False(t, got.Balance.IsNegative(), "account %s went negative: %s", got.AccountNumber, got.Balance)
		total = total.Add(got.Balance)
	}
	return total
}

func TestTransfer_ConcurrentOpposingTransfersConserveFunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "1000", "USD")
	b := f.account(t, "1000", "USD")

	rng := rand.New(rand.NewSource(7))
	var ids []uuid.UUID
	for i := 0; i < 60; i++ {
		from, to := a, b
		if i%2 == 1 {
			from, to = b, a
		}
		amount := fmt.Sprintf("%d.%04d", 1+rng.Intn(40), rng.Intn(10000))
		txn, err := f.svc.Initiate(ctx, TransferRequest{
			SourceAccountNumber:      from.AccountNumber,
			DestinationAccountNumber: to.AccountNumber,
			Amount:                   domain.MustParseMoney(amount),
		})
		require.NoError(t, err)
		ids = append(ids, txn.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			assert.NoError(t, f.svc.Process(ctx, id))
		}(id)
	}
	wg.Wait()

	assert.Equal(t, "2000.0000", sumBalances(t, f, a, b).String())
	for _, id := range ids {
		status := f.transaction(t, id).Status
		assert.Contains(t, []domain.TxStatus{domain.TxStatusCompleted, domain.TxStatusFailed}, status)
	}
}

func TestTransfer_ConcurrentDrainNeverGoesNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")

	var ids []uuid.UUID
	for i := 0; i < 20; i++ {
		ids = append(ids, f.initiate(t, a, b, "10").ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for delivery := 0; delivery < 2; delivery++ {
			wg.Add(1)
			go func(id uuid.UUID) {
				defer wg.Done()
				assert.NoError(t, f.svc.Process(ctx, id))
			}(id)
		}
	}
	wg.Wait()

	completed := 0
	for _, id := range ids {
		if f.transaction(t, id).Status == domain.TxStatusCompleted {
			completed++
		}
	}
	assert.Equal(t, 10, completed)
	assert.Equal(t, "0.0000", f.reload(t, a).Balance.String())
	assert.Equal(t, "100.0000", f.reload(t, b).Balance.String())

	events, failed := f.sink.counts()
	assert.Equal(t, 10, events)
	assert.Equal(t, 10, failed)
}

func TestTransfer_Lookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "10")

	byID, err := f.svc.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	byRef, err := f.svc.GetTransactionByReference(ctx, txn.ReferenceNumber)
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byRef.ID)

	_, err = f.svc.GetTransactionByReference(ctx, "TXN-missing")
	require.ErrorIs(t, err, domain.ErrTransactionNotFound)
}

func TestTransfer_LogsCompletion(t *testing.T) {
	f := newFixture(t)
	logs := observeLogs(t)
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	txn := f.initiate(t, a, b, "10")

	require.NoError(t, f.svc.Process(context.Background(), txn.ID))

	entries := logs.FilterMessage("transfer completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, txn.ID.String(), entries[0].ContextMap()["transaction_id"])
}
