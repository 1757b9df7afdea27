package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
)

const auditEntityTransaction = "transaction"

// AuditService writes immutable audit trail entries.
type AuditService struct {
	now func() time.Time
}

func NewAuditService(now func() time.Time) *AuditService {
	if now == nil {
		now = time.Now
	}
	return &AuditService{now: now}
}

// Write stores a single immutable audit record inside tx.
func (s *AuditService) Write(ctx context.Context, tx repository.LedgerTx, entityID uuid.UUID, action string, prev, next domain.TxStatus, metadata map[string]any) error {
	if err := tx.InsertAuditLog(ctx, &models.AuditEntry{
		ID:         uuid.New(),
		EntityType: auditEntityTransaction,
		EntityID:   entityID,
		Action:     action,
		PrevState:  string(prev),
		NextState:  string(next),
		Metadata:   metadata,
		CreatedAt:  s.now(),
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
