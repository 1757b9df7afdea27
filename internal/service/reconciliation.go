package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/observability"
	"go.uber.org/zap"
)

const (
	defaultStalePendingAfter    = 2 * time.Minute
	defaultStaleProcessingAfter = 5 * time.Minute
	defaultPendingExpireAfter   = time.Hour
	defaultReconcileBatch       = 100
)

// ReconciliationService repairs transfers the happy path left behind: PENDING
// rows whose enqueue was lost and PROCESSING rows whose processor died.
// PENDING rows that outlive the expiry ceiling are failed instead of requeued.
type ReconciliationService struct {
	store           LedgerStore
	queue           WorkQueue
	transfers       *TransferService
	pendingAfter    time.Duration
	processingAfter time.Duration
	expireAfter     time.Duration
	batchSize       int
}

// ReconciliationReport summarizes one sweep.
type ReconciliationReport struct {
	Requeued int
	Failed   int
	Expired  int
}

// NewReconciliationService creates a reconciliation service.
func NewReconciliationService(store LedgerStore, queue WorkQueue, transfers *TransferService) *ReconciliationService {
	return &ReconciliationService{
		store:           store,
		queue:           queue,
		transfers:       transfers,
		pendingAfter:    defaultStalePendingAfter,
		processingAfter: defaultStaleProcessingAfter,
		expireAfter:     defaultPendingExpireAfter,
		batchSize:       defaultReconcileBatch,
	}
}

func (s *ReconciliationService) WithThresholds(pendingAfter, processingAfter time.Duration) *ReconciliationService {
	if pendingAfter > 0 {
		s.pendingAfter = pendingAfter
	}
	if processingAfter > 0 {
		s.processingAfter = processingAfter
	}
	return s
}

// WithPendingExpiry sets how long a transfer may stay PENDING before it is failed.
func (s *ReconciliationService) WithPendingExpiry(d time.Duration) *ReconciliationService {
	if d > 0 {
		s.expireAfter = d
	}
	return s
}

func (s *ReconciliationService) WithBatchSize(n int) *ReconciliationService {
	if n > 0 {
		s.batchSize = n
	}
	return s
}

// Run performs one sweep.
func (s *ReconciliationService) Run(ctx context.Context) error {
	report, err := s.Sweep(ctx)
	if err != nil {
		return err
	}
	if report.Requeued > 0 || report.Failed > 0 || report.Expired > 0 {
		zap.L().Info("reconciliation sweep repaired transfers",
			zap.Int("requeued", report.Requeued),
			zap.Int("failed", report.Failed),
			zap.Int("expired", report.Expired),
		)
		return nil
	}
	zap.L().Debug("reconciliation sweep found nothing stale")
	return nil
}

// Sweep expires PENDING transfers past the ceiling, re-enqueues the other
// stale PENDING ones and fails stale PROCESSING ones. Re-enqueueing is safe
// because processing a non-PENDING transfer is a no-op.
func (s *ReconciliationService) Sweep(ctx context.Context) (ReconciliationReport, error) {
	var report ReconciliationReport

	expired, err := s.store.FindStalePending(ctx, s.expireAfter, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("find expired pending transfers: %w", err)
	}
	for _, txn := range expired {
		failed, err := s.transfers.ExpirePending(ctx, txn.ID, s.expireAfter)
		if err != nil {
			zap.L().Error("failed to expire pending transfer", zap.Error(err), zap.String("transaction_id", txn.ID.String()))
			observability.IncrementReconciliation("expire_error")
			continue
		}
		if failed {
			report.Expired++
			observability.IncrementReconciliation("expired")
			zap.L().Warn("pending transfer expired", zap.String("transaction_id", txn.ID.String()), zap.Time("created_at", txn.CreatedAt))
		}
	}

	pending, err := s.store.FindStalePending(ctx, s.pendingAfter, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("find stale pending transfers: %w", err)
	}
	for _, txn := range pending {
		if err := s.queue.Enqueue(ctx, txn.ID); err != nil {
			zap.L().Error("failed to re-enqueue stale transfer", zap.Error(err), zap.String("transaction_id", txn.ID.String()))
			observability.IncrementReconciliation("requeue_error")
			continue
		}
		report.Requeued++
		observability.IncrementReconciliation("requeued")
	}

	processing, err := s.store.FindStaleProcessing(ctx, s.processingAfter, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("find stale processing transfers: %w", err)
	}
	for _, txn := range processing {
		failed, err := s.transfers.FailStale(ctx, txn.ID, s.processingAfter)
		if err != nil {
			zap.L().Error("failed to fail stale transfer", zap.Error(err), zap.String("transaction_id", txn.ID.String()))
			observability.IncrementReconciliation("fail_error")
			continue
		}
		if failed {
			report.Failed++
			observability.IncrementReconciliation("failed")
			zap.L().Warn("stale transfer failed", zap.String("transaction_id", txn.ID.String()), zap.Time("updated_at", txn.UpdatedAt))
		}
	}
	return report, nil
}
