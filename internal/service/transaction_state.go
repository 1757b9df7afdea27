package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/ayo6706/ledger-transfer/internal/repository"
	"github.com/google/uuid"
)

// transition applies tr to a transaction the caller has locked in tx, then
// persists it with an audit entry. The transaction is untouched when tr is
// not allowed from its current state.
func (s *TransferService) transition(ctx context.Context, tx repository.LedgerTx, txn *models.Transaction, tr domain.Transition, reason string, metadata map[string]any) error {
	prev := txn.Status
	now := s.now()

	var err error
	switch tr {
	case domain.TransitionFail:
		err = txn.Fail(reason, now)
	case domain.TransitionReverse:
		err = txn.Reverse(reason, now)
	default:
		err = txn.Apply(tr, now)
	}
	if err != nil {
		return err
	}

	if err := tx.SaveTransaction(ctx, txn); err != nil {
		return fmt.Errorf("save transaction state: %w", err)
	}
	if reason != "" {
		if metadata == nil {
			metadata = map[string]any{}
		}
		metadata["reason"] = reason
	}
	return s.audit.Write(ctx, tx, txn.ID, string(tr), prev, txn.Status, metadata)
}

// lockAccounts takes the row locks of ids in ascending id order, so any two
// units of work touching the same accounts acquire them in the same sequence.
func lockAccounts(ctx context.Context, tx repository.LedgerTx, ids ...uuid.UUID) (map[uuid.UUID]*models.Account, error) {
	ordered := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	locked := make(map[uuid.UUID]*models.Account, len(ordered))
	for _, id := range ordered {
		a, err := tx.GetAccountForUpdate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock account %s: %w", id, err)
		}
		locked[id] = a
	}
	return locked, nil
}

// outcomeLabel turns an error into a low-cardinality metric label.
func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.Classify(err))
}
