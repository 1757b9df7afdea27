package events

import (
	"context"

	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/observability"
	"go.uber.org/zap"
)

const sinkLog = "log"

// LogSink writes every event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.With(zap.String("sink", sinkLog))}
}

func (s *LogSink) PublishCompleted(_ context.Context, ev models.TransactionCompleted) {
	s.logger.Info(TypeTransactionCompleted,
		zap.String("transaction_id", ev.TransactionID.String()),
		zap.String("reference_number", ev.ReferenceNumber),
		zap.String("amount", ev.Amount.String()),
		zap.String("currency", ev.Currency),
		zap.String("source_account", ev.SourceAccountNumber),
		zap.String("destination_account", ev.DestinationAccountNumber),
		zap.Time("completed_at", ev.CompletedAt),
	)
	observability.IncrementEventPublish(sinkLog, TypeTransactionCompleted, "delivered")
}

func (s *LogSink) PublishFailed(_ context.Context, ev models.TransactionFailed) {
	s.logger.Info(TypeTransactionFailed,
		zap.String("transaction_id", ev.TransactionID.String()),
		zap.String("reference_number", ev.ReferenceNumber),
		zap.String("reason", ev.Reason),
		zap.Time("failed_at", ev.FailedAt),
	)
	observability.IncrementEventPublish(sinkLog, TypeTransactionFailed, "delivered")
}
