package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultMaxTransferAmount = "1000000.0000"
	defaultSettleTimeout     = 30 * time.Second
)

// TransferRequest asks to move Amount between two accounts identified by number.
type TransferRequest struct {
	SourceAccountNumber      string
	DestinationAccountNumber string
	Amount                   domain.Money
	Description              string
	Metadata                 map[string]any
}

// TransferService owns the transfer lifecycle: initiation, settlement and reversal.
type TransferService struct {
	store         LedgerStore
	queue         WorkQueue
	events        EventSink
	cache         AccountCache
	audit         *AuditService
	maxAmount     domain.Money
	settleTimeout time.Duration
	now           func() time.Time
}

func NewTransferService(store LedgerStore, queue WorkQueue, events EventSink) *TransferService {
	if events == nil {
		events = noopSink{}
	}
	return &TransferService{
		store:         store,
		queue:         queue,
		events:        events,
		cache:         noopCache{},
		audit:         NewAuditService(nil),
		maxAmount:     domain.MustParseMoney(DefaultMaxTransferAmount),
		settleTimeout: defaultSettleTimeout,
		now:           time.Now,
	}
}

// WithMaxTransferAmount overrides the per-transfer ceiling.
func (s *TransferService) WithMaxTransferAmount(m domain.Money) *TransferService {
	if m.IsPositive() {
		s.maxAmount = m
	}
	return s
}

// WithAccountCache sets the cache invalidated after balances change.
func (s *TransferService) WithAccountCache(c AccountCache) *TransferService {
	if c != nil {
		s.cache = c
	}
	return s
}

// WithSettleTimeout bounds the settlement and failure-marking units of work.
// They run detached from the caller's cancellation once a transfer is claimed.
func (s *TransferService) WithSettleTimeout(d time.Duration) *TransferService {
	if d > 0 {
		s.settleTimeout = d
	}
	return s
}

// WithClock overrides the time source for stored timestamps.
func (s *TransferService) WithClock(now func() time.Time) *TransferService {
	if now != nil {
		s.now = now
		s.audit = NewAuditService(now)
	}
	return s
}

func (s *TransferService) validate(req TransferRequest) error {
	if req.SourceAccountNumber == req.DestinationAccountNumber {
		return domain.ErrSameAccount
	}
	if !req.Amount.IsPositive() {
		return domain.ErrNonPositiveAmount
	}
	if req.Amount.GreaterThan(s.maxAmount) {
		return fmt.Errorf("%w: %s > %s", domain.ErrAmountExceedsMaximum, req.Amount, s.maxAmount)
	}
	return nil
}

// Initiate records a PENDING transfer and queues it for settlement.
// No balance moves here; the balance check is advisory.
func (s *TransferService) Initiate(ctx context.Context, req TransferRequest) (*models.Transaction, error) {
	if err := s.validate(req); err != nil {
		observability.IncrementTransfer("initiate", outcomeLabel(err))
		return nil, err
	}

	var txn *models.Transaction
	err := s.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		source, err := activeAccount(ctx, tx, req.SourceAccountNumber, "source")
		if err != nil {
			return err
		}
		destination, err := activeAccount(ctx, tx, req.DestinationAccountNumber, "destination")
		if err != nil {
			return err
		}
		if source.Currency != destination.Currency {
			return fmt.Errorf("%w: source is %s, destination is %s", domain.ErrCurrencyMismatch, source.Currency, destination.Currency)
		}
		if !source.HasEnoughBalance(req.Amount) {
			return fmt.Errorf("%w: available %s, requested %s", domain.ErrInsufficientBalance, source.Balance, req.Amount)
		}

		txn, err = models.NewTransfer(source, destination, req.Amount, req.Description, s.now())
		if err != nil {
			return err
		}
		txn.Metadata = req.Metadata
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return s.audit.Write(ctx, tx, txn.ID, "initiate", "", txn.Status, nil)
	})
	observability.IncrementTransfer("initiate", outcomeLabel(err))
	if err != nil {
		return nil, err
	}

	// Enqueue only after commit so the processor never sees an id it cannot load.
	// A lost enqueue is recovered by the reconciliation sweep.
	if err := s.queue.Enqueue(ctx, txn.ID); err != nil {
		zap.L().Error("failed to enqueue transfer",
			zap.Error(err),
			zap.String("transaction_id", txn.ID.String()),
			zap.String("reference_number", txn.ReferenceNumber),
		)
	}

	zap.L().Info("transfer initiated",
		zap.String("transaction_id", txn.ID.String()),
		zap.String("reference_number", txn.ReferenceNumber),
		zap.String("amount", txn.Amount.String()),
		zap.String("currency", txn.Currency),
	)
	return txn, nil
}

func activeAccount(ctx context.Context, tx repository.LedgerTx, number, role string) (*models.Account, error) {
	a, err := tx.GetAccountByNumber(ctx, number)
	if err != nil {
		return nil, fmt.Errorf("%s account %s: %w", role, number, err)
	}
	if !a.Active {
		return nil, fmt.Errorf("%s account %s: %w", role, number, domain.ErrAccountInactive)
	}
	return a, nil
}

type settlement struct {
	txn         *models.Transaction
	source      *models.Account
	destination *models.Account
	skipped     bool
}

// Process settles a queued transfer. It is safe to call any number of times
// for the same id: only a PENDING transaction is claimed, every other state
// is a no-op. Business failures end in FAILED and return nil; unexpected
// errors also mark the transaction FAILED and are returned.
func (s *TransferService) Process(ctx context.Context, transactionID uuid.UUID) error {
	start := time.Now()
	logger := zap.L().With(zap.String("transaction_id", transactionID.String()))

	claimed, err := s.claim(ctx, transactionID)
	switch {
	case errors.Is(err, domain.ErrTransactionNotFound):
		logger.Warn("queued transfer not found, dropping job")
		observability.IncrementTransfer("process", "not_found")
		return nil
	case err != nil && (domain.IsRetryable(err) || isCanceled(err)):
		// Nothing was changed; the job is redelivered.
		observability.IncrementTransfer("process", outcomeLabel(err))
		return fmt.Errorf("claim transaction %s: %w", transactionID, err)
	case err != nil:
		return s.failAfterError(ctx, transactionID, err)
	case claimed == nil:
		logger.Debug("transfer already claimed, skipping")
		observability.IncrementTransfer("process", "duplicate")
		return nil
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settleTimeout)
	defer cancel()

	result, err := s.settle(settleCtx, claimed)
	if err != nil {
		observability.ObserveProcess("error", time.Since(start))
		return s.failAfterError(ctx, transactionID, err)
	}

	switch {
	case result.skipped:
		logger.Info("transfer left PROCESSING before settlement, skipping", zap.String("status", string(result.txn.Status)))
		observability.ObserveProcess("skipped", time.Since(start))
	case result.txn.Status == domain.TxStatusFailed:
		s.events.PublishFailed(settleCtx, models.FailedEvent(result.txn))
		logger.Info("transfer failed", zap.String("reason", *result.txn.FailureReason))
		observability.IncrementTransfer("process", "failed")
		observability.ObserveProcess("failed", time.Since(start))
	default:
		s.cache.Invalidate(settleCtx, result.source, result.destination)
		s.events.PublishCompleted(settleCtx, models.CompletedEvent(result.txn, result.source, result.destination))
		logger.Info("transfer completed",
			zap.String("reference_number", result.txn.ReferenceNumber),
			zap.String("amount", result.txn.Amount.String()),
		)
		observability.IncrementTransfer("process", "completed")
		observability.ObserveProcess("completed", time.Since(start))
	}
	return nil
}

// claim moves a PENDING transaction to PROCESSING. It returns nil, nil when
// the transaction is in any other state.
func (s *TransferService) claim(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var claimed *models.Transaction
	err := s.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		txn, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if txn.Status != domain.TxStatusPending {
			return nil
		}
		if err := s.transition(ctx, tx, txn, domain.TransitionProcess, "", nil); err != nil {
			return err
		}
		claimed = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// settle locks both accounts, re-validates against the locked rows and either
// moves the funds and completes, or records a business failure.
func (s *TransferService) settle(ctx context.Context, claimed *models.Transaction) (*settlement, error) {
	result := &settlement{}
	err := s.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		locked, err := lockAccounts(ctx, tx, claimed.SourceAccountID, claimed.DestinationAccountID)
		if err != nil {
			return err
		}
		source, destination := locked[claimed.SourceAccountID], locked[claimed.DestinationAccountID]

		txn, err := tx.GetTransactionForUpdate(ctx, claimed.ID)
		if err != nil {
			return err
		}
		result.txn, result.source, result.destination = txn, source, destination
		if txn.Status != domain.TxStatusProcessing {
			result.skipped = true
			return nil
		}

		if reason := settlementBlocker(source, destination, txn); reason != "" {
			return s.transition(ctx, tx, txn, domain.TransitionFail, reason, nil)
		}

		now := s.now()
		if err := source.Debit(txn.Amount, now); err != nil {
			return err
		}
		if err := destination.Credit(txn.Amount, now); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, source); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, destination); err != nil {
			return err
		}
		return s.transition(ctx, tx, txn, domain.TransitionComplete, "", map[string]any{
			"source_balance":      source.Balance.String(),
			"destination_balance": destination.Balance.String(),
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// settlementBlocker returns the failure reason when the locked accounts can no
// longer settle txn, or "" when they can.
func settlementBlocker(source, destination *models.Account, txn *models.Transaction) string {
	switch {
	case !source.Active || !destination.Active:
		return domain.ReasonAccountInactive
	case source.Currency != txn.Currency || destination.Currency != txn.Currency:
		return domain.ReasonCurrencyMismatch
	case !source.HasEnoughBalance(txn.Amount):
		return domain.ReasonInsufficientBalance
	}
	return ""
}

// failAfterError marks the transaction FAILED in a fresh unit of work after
// the settlement unit rolled back, then surfaces cause.
func (s *TransferService) failAfterError(ctx context.Context, id uuid.UUID, cause error) error {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.settleTimeout)
	defer cancel()

	var failed *models.Transaction
	err := s.store.RunInTx(failCtx, func(tx repository.LedgerTx) error {
		txn, err := tx.GetTransactionForUpdate(failCtx, id)
		if err != nil {
			return err
		}
		if !domain.CanApply(txn.Status, domain.TransitionFail) {
			return nil
		}
		if err := s.transition(failCtx, tx, txn, domain.TransitionFail, cause.Error(), nil); err != nil {
			return err
		}
		failed = txn
		return nil
	})
	if err != nil {
		zap.L().Error("failed to mark transfer as failed",
			zap.Error(err),
			zap.NamedError("cause", cause),
			zap.String("transaction_id", id.String()),
		)
	}
	if failed != nil {
		s.events.PublishFailed(failCtx, models.FailedEvent(failed))
	}

	zap.L().Error("transfer processing error",
		zap.Error(cause),
		zap.String("transaction_id", id.String()),
		zap.String("class", string(domain.Classify(cause))),
	)
	observability.IncrementTransfer("process", outcomeLabel(cause))
	return fmt.Errorf("process transaction %s: %w", id, cause)
}

// Reverse undoes a COMPLETED transfer by moving the amount back. The
// destination must still hold at least the transferred amount.
func (s *TransferService) Reverse(ctx context.Context, transactionID uuid.UUID, reason string) (*models.Transaction, error) {
	current, err := s.store.GetTransaction(ctx, transactionID)
	if err != nil {
		observability.IncrementTransfer("reverse", outcomeLabel(err))
		return nil, err
	}
	if !domain.CanApply(current.Status, domain.TransitionReverse) {
		err := &domain.InvalidTransitionError{From: current.Status, Transition: domain.TransitionReverse}
		zap.L().Error("rejected reversal", zap.Error(err), zap.String("transaction_id", transactionID.String()))
		observability.IncrementTransfer("reverse", outcomeLabel(err))
		return nil, err
	}

	var (
		reversed            *models.Transaction
		source, destination *models.Account
	)
	err = s.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		locked, err := lockAccounts(ctx, tx, current.SourceAccountID, current.DestinationAccountID)
		if err != nil {
			return err
		}
		source, destination = locked[current.SourceAccountID], locked[current.DestinationAccountID]

		txn, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if !domain.CanApply(txn.Status, domain.TransitionReverse) {
			return &domain.InvalidTransitionError{From: txn.Status, Transition: domain.TransitionReverse}
		}

		now := s.now()
		if err := destination.Debit(txn.Amount, now); err != nil {
			return fmt.Errorf("reverse transaction %s: %w", transactionID, err)
		}
		if err := source.Credit(txn.Amount, now); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, destination); err != nil {
			return err
		}
		if err := tx.SaveAccount(ctx, source); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, txn, domain.TransitionReverse, reason, nil); err != nil {
			return err
		}
		reversed = txn
		return nil
	})
	observability.IncrementTransfer("reverse", outcomeLabel(err))
	if err != nil {
		zap.L().Error("reversal failed", zap.Error(err), zap.String("transaction_id", transactionID.String()))
		return nil, err
	}

	s.cache.Invalidate(ctx, source, destination)
	zap.L().Info("transfer reversed",
		zap.String("transaction_id", reversed.ID.String()),
		zap.String("reference_number", reversed.ReferenceNumber),
		zap.String("reason", reason),
	)
	return reversed, nil
}

// FailStale fails a transaction that has sat in PROCESSING for at least
// olderThan. It reports whether the transaction was failed.
func (s *TransferService) FailStale(ctx context.Context, transactionID uuid.UUID, olderThan time.Duration) (bool, error) {
	return s.failIfStale(ctx, transactionID, domain.ReasonProcessingTimedOut, func(txn *models.Transaction) bool {
		return txn.Status == domain.TxStatusProcessing && s.now().Sub(txn.UpdatedAt) >= olderThan
	})
}

// ExpirePending fails a transaction still PENDING at least olderThan after it
// was created. Redelivery has been given up on by then.
func (s *TransferService) ExpirePending(ctx context.Context, transactionID uuid.UUID, olderThan time.Duration) (bool, error) {
	return s.failIfStale(ctx, transactionID, domain.ReasonPendingExpired, func(txn *models.Transaction) bool {
		return txn.Status == domain.TxStatusPending && s.now().Sub(txn.CreatedAt) >= olderThan
	})
}

func (s *TransferService) failIfStale(ctx context.Context, transactionID uuid.UUID, reason string, stale func(*models.Transaction) bool) (bool, error) {
	var failed *models.Transaction
	err := s.store.RunInTx(ctx, func(tx repository.LedgerTx) error {
		txn, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if !stale(txn) {
			return nil
		}
		if err := s.transition(ctx, tx, txn, domain.TransitionFail, reason, nil); err != nil {
			return err
		}
		failed = txn
		return nil
	})
	if err != nil {
		return false, err
	}
	if failed == nil {
		return false, nil
	}
	s.events.PublishFailed(ctx, models.FailedEvent(failed))
	return true, nil
}

func (s *TransferService) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return s.store.GetTransaction(ctx, id)
}

func (s *TransferService) GetTransactionByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	return s.store.GetTransactionByReference(ctx, reference)
}
