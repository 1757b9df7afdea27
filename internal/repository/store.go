package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultLockTimeout = 5 * time.Second

// Store is the PostgreSQL ledger backend.
type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore creates a store wrapper around a pgx connection pool.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db, lockTimeout: defaultLockTimeout}
}

// WithLockTimeout bounds how long a row lock request waits inside RunInTx.
func (s *Store) WithLockTimeout(d time.Duration) *Store {
	if d > 0 {
		s.lockTimeout = d
	}
	return s
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// RunInTx executes fn within a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return mapError(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	// SET does not take bind parameters.
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
		return mapError(err, "set lock timeout")
	}

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError(err, "commit transaction")
	}
	return nil
}

const accountColumns = `id, owner_id, account_number, balance::text, currency, account_type, is_active, version, created_at, updated_at`

const transactionColumns = `id, reference_number, source_account_id, destination_account_id, amount::text,
	currency, type, status, description, failure_reason, metadata, created_at, updated_at, completed_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a           models.Account
		balance     string
		accountType string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.AccountNumber, &balance, &a.Currency, &accountType,
		&a.Active, &a.Version, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	m, err := domain.ParseMoney(balance)
	if err != nil {
		return nil, fmt.Errorf("decode balance of account %s: %w", a.ID, err)
	}
	a.Balance = m
	a.Type = domain.AccountType(accountType)
	return &a, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		t        models.Transaction
		amount   string
		txType   string
		status   string
		metadata []byte
	)
	if err := row.Scan(&t.ID, &t.ReferenceNumber, &t.SourceAccountID, &t.DestinationAccountID, &amount,
		&t.Currency, &txType, &status, &t.Description, &t.FailureReason, &metadata,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt); err != nil {
		return nil, err
	}
	m, err := domain.ParseMoney(amount)
	if err != nil {
		return nil, fmt.Errorf("decode amount of transaction %s: %w", t.ID, err)
	}
	t.Amount = m
	t.Type = domain.TxType(txType)
	t.Status = domain.TxStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of transaction %s: %w", t.ID, err)
		}
	}
	return &t, nil
}

func collectTransactions(rows pgx.Rows, op string) ([]models.Transaction, error) {
	defer rows.Close()
	out := make([]models.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, mapError(err, op)
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, op)
	}
	return out, nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}

func getAccountByNumber(ctx context.Context, q querier, number string) (*models.Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_number = $1`, number))
	if err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound, "get account by number")
	}
	return a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO accounts (id, owner_id, account_number, balance, currency, account_type, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.OwnerID, a.AccountNumber, a.Balance.String(), a.Currency, string(a.Type), a.Active, a.Version, a.CreatedAt, a.UpdatedAt)
	return mapError(err, "create account")
}

func (s *Store) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	return getAccountByNumber(ctx, s.db, number)
}

func (s *Store) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrTransactionNotFound, "get transaction")
	}
	return t, nil
}

func (s *Store) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference_number = $1`, reference))
	if err != nil {
		return nil, notFound(err, domain.ErrTransactionNotFound, "get transaction by reference")
	}
	return t, nil
}

func (s *Store) ListAccountTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE source_account_id = $1 OR destination_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, accountID, ClampLimit(limit))
	if err != nil {
		return nil, mapError(err, "list account transactions")
	}
	return collectTransactions(rows, "list account transactions")
}

func (s *Store) AccountStatistics(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*models.AccountStatistics, error) {
	var sent, received string
	stats := &models.AccountStatistics{AccountID: accountID, From: from, To: to}
	err := s.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE source_account_id = $1 AND status = 'COMPLETED'), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE destination_account_id = $1 AND status = 'COMPLETED'), 0)::text,
			COUNT(*) FILTER (WHERE status = 'COMPLETED'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COUNT(*) FILTER (WHERE status IN ('PENDING', 'PROCESSING')),
			COUNT(*)
		FROM transactions
		WHERE (source_account_id = $1 OR destination_account_id = $1)
		  AND created_at >= $2 AND created_at < $3`,
		accountID, from, to).Scan(&sent, &received, &stats.CompletedCount, &stats.FailedCount, &stats.PendingCount, &stats.TransactionCount)
	if err != nil {
		return nil, mapError(err, "account statistics")
	}
	if stats.TotalSent, err = domain.ParseMoney(sent); err != nil {
		return nil, fmt.Errorf("decode total sent: %w", err)
	}
	if stats.TotalReceived, err = domain.ParseMoney(received); err != nil {
		return nil, fmt.Errorf("decode total received: %w", err)
	}
	return stats, nil
}

func (s *Store) ListAuditLog(ctx context.Context, entityID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, entity_type, entity_id, action, prev_state, next_state, metadata, created_at
		FROM audit_log
		WHERE entity_id = $1
		ORDER BY seq`, entityID)
	if err != nil {
		return nil, mapError(err, "list audit log")
	}
	defer rows.Close()

	entries := make([]models.AuditEntry, 0)
	for rows.Next() {
		var (
			e          models.AuditEntry
			prev, next *string
			metadata   []byte
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &prev, &next, &metadata, &e.CreatedAt); err != nil {
			return nil, mapError(err, "scan audit log")
		}
		if prev != nil {
			e.PrevState = *prev
		}
		if next != nil {
			e.NextState = *next
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, mapError(rows.Err(), "list audit log")
}

func (s *Store) FindStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, mapError(err, "find stale pending")
	}
	return collectTransactions(rows, "find stale pending")
}

func (s *Store) FindStaleProcessing(ctx context.Context, olderThan time.Duration, limit int) ([]models.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE status = 'PROCESSING' AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2`, time.Now().Add(-olderThan), limit)
	if err != nil {
		return nil, mapError(err, "find stale processing")
	}
	return collectTransactions(rows, "find stale processing")
}

type pgTx struct {
	q pgx.Tx
}

func (t *pgTx) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	return getAccountByNumber(ctx, t.q, number)
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(t.q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound, "lock account")
	}
	return a, nil
}

func (t *pgTx) SaveAccount(ctx context.Context, a *models.Account) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE accounts
		SET balance = $1::numeric, is_active = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		a.Balance.String(), a.Active, a.UpdatedAt, a.ID, a.Version)
	if err != nil {
		return mapError(err, "save account")
	}
	if err := requireExactlyOne(tag.RowsAffected(), "save account", domain.ErrVersionConflict); err != nil {
		return err
	}
	a.Version++
	return nil
}

func (t *pgTx) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	txn, err := scanTransaction(t.q.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrTransactionNotFound, "lock transaction")
	}
	return txn, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO transactions (
			id, reference_number, source_account_id, destination_account_id, amount, currency,
			type, status, description, failure_reason, metadata, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		txn.ID, txn.ReferenceNumber, txn.SourceAccountID, txn.DestinationAccountID, txn.Amount.String(), txn.Currency,
		string(txn.Type), string(txn.Status), txn.Description, txn.FailureReason, metadata,
		txn.CreatedAt, txn.UpdatedAt, txn.CompletedAt)
	return mapError(err, "insert transaction")
}

func (t *pgTx) SaveTransaction(ctx context.Context, txn *models.Transaction) error {
	metadata, err := encodeMetadata(txn.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE transactions
		SET status = $1, failure_reason = $2, metadata = $3, updated_at = $4, completed_at = $5
		WHERE id = $6`,
		string(txn.Status), txn.FailureReason, metadata, txn.UpdatedAt, txn.CompletedAt, txn.ID)
	if err != nil {
		return mapError(err, "save transaction")
	}
	return requireExactlyOne(tag.RowsAffected(), "save transaction", domain.ErrTransactionNotFound)
}

func (t *pgTx) InsertAuditLog(ctx context.Context, e *models.AuditEntry) error {
	metadata, err := encodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		e.ID, e.EntityType, e.EntityID, e.Action, e.PrevState, e.NextState, metadata, e.CreatedAt)
	return mapError(err, "insert audit log")
}
