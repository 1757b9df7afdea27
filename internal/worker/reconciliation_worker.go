package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/observability"
	"go.uber.org/zap"
)

const workerName = "reconciliation"

// Sweeper is one reconciliation pass over stale transfers.
type Sweeper interface {
	Run(ctx context.Context) error
}

// ReconciliationWorker drives a Sweeper on a fixed interval until stopped.
type ReconciliationWorker struct {
	sweeper  Sweeper
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

func NewReconciliationWorker(sweeper Sweeper) *ReconciliationWorker {
	return &ReconciliationWorker{
		sweeper:  sweeper,
		interval: time.Minute,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks, sweeping once immediately and then on every tick.
func (w *ReconciliationWorker) Start(ctx context.Context) {
	defer close(w.doneCh)
	zap.L().Info("reconciliation worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("reconciliation worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("reconciliation worker stop signal received")
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

// Stop asks the loop to exit and waits for an in-flight sweep to finish.
func (w *ReconciliationWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *ReconciliationWorker) runOnce(ctx context.Context) {
	if err := w.sweeper.Run(ctx); err != nil {
		observability.IncrementWorkerRun(workerName, "failed")
		zap.L().Error("reconciliation run failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun(workerName, "success")
}
