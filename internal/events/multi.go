package events

import (
	"context"

	"github.com/ayo6706/ledger-transfer/internal/models"
)

// Sink is the publishing side shared by every implementation here.
type Sink interface {
	PublishCompleted(ctx context.Context, ev models.TransactionCompleted)
	PublishFailed(ctx context.Context, ev models.TransactionFailed)
}

// Multi fans each event out to every sink in order. Nil sinks are skipped.
type Multi []Sink

func NewMulti(sinks ...Sink) Multi {
	out := make(Multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m Multi) PublishCompleted(ctx context.Context, ev models.TransactionCompleted) {
	for _, s := range m {
		s.PublishCompleted(ctx, ev)
	}
}

func (m Multi) PublishFailed(ctx context.Context, ev models.TransactionFailed) {
	for _, s := range m {
		s.PublishFailed(ctx, ev)
	}
}
