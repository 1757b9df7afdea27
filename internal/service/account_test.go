package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccountService_GetAccountReadsThroughCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	accounts := NewAccountService(f.store, f.cache)

	got, err := accounts.GetAccount(ctx, a.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, "100.0000", got.Balance.String())
	_, cached := f.cache.Get(ctx, a.AccountNumber)
	assert.True(t, cached)

	txn := f.initiate(t, a, b, "30")
	require.NoError(t, f.svc.Process(ctx, txn.ID))

	_, cached = f.cache.Get(ctx, a.AccountNumber)
	assert.False(t, cached, "settlement invalidates the snapshot")
	got, err = accounts.GetAccount(ctx, a.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, "70.0000", got.Balance.String())

	_, err = accounts.GetAccount(ctx, "00000000000000000000")
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountService_TransactionsAndStatistics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.account(t, "100", "USD")
	b := f.account(t, "0", "USD")
	accounts := NewAccountService(f.store, nil)

	done := f.initiate(t, a, b, "30")
	require.NoError(t, f.svc.Process(ctx, done.ID))
	f.initiate(t, a, b, "5")

	listed, err := accounts.ListTransactions(ctx, a.AccountNumber, 0)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	listed, err = accounts.ListTransactions(ctx, a.AccountNumber, 1)
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	stats, err := accounts.Statistics(ctx, a.AccountNumber, time.Time{}, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "30.0000", stats.TotalSent.String())
	assert.Equal(t, int64(1), stats.CompletedCount)
	assert.Equal(t, int64(1), stats.PendingCount)

	received, err := accounts.Statistics(ctx, b.AccountNumber, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "30.0000", received.TotalReceived.String())
}

func TestAccountService_OpenAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	accounts := NewAccountService(f.store, f.cache)

	a, err := accounts.OpenAccount(ctx, OpenAccountRequest{
		Currency:       "eur",
		OpeningBalance: domain.MustParseMoney("12.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", a.Currency)
	assert.Equal(t, domain.AccountTypeChecking, a.Type)
	assert.True(t, domain.IsAccountNumber(a.AccountNumber))

	got, err := accounts.GetAccount(ctx, a.AccountNumber)
	require.NoError(t, err)
	assert.Equal(t, "12.5000", got.Balance.String())

	_, err = accounts.OpenAccount(ctx, OpenAccountRequest{Currency: "EURO"})
	assert.ErrorIs(t, err, domain.ErrInvalidCurrency)
	_, err = accounts.OpenAccount(ctx, OpenAccountRequest{Currency: "EUR", Type: "CRYPTO"})
	assert.ErrorIs(t, err, domain.ErrInvalidAccountType)
	_, err = accounts.OpenAccount(ctx, OpenAccountRequest{Currency: "EUR", OpeningBalance: domain.MustParseMoney("-1")})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
