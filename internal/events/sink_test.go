package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ayo6706/ledger-transfer/internal/domain"
	"github.com/ayo6706/ledger-transfer/internal/models"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

type countingSink struct {
	completed int
	failed    int
}

func (s *countingSink) PublishCompleted(context.Context, models.TransactionCompleted) { s.completed++ }
func (s *countingSink) PublishFailed(context.Context, models.TransactionFailed)       { s.failed++ }

func completedEvent() models.TransactionCompleted {
	return models.TransactionCompleted{
		TransactionID:            uuid.New(),
		ReferenceNumber:          "TXN20260101120000ABC123",
		Amount:                   domain.MustParseMoney("25.5"),
		Currency:                 "USD",
		SourceAccountNumber:      "12345678901234567890",
		DestinationAccountNumber: "98765432109876543210",
		CompletedAt:              time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestKafkaSink_PublishCompleted(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "ledger.events", zap.NewNop())
	ev := completedEvent()

	sink.PublishCompleted(context.Background(), ev)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, ev.TransactionID.String(), string(msg.Key))
	assert.Equal(t, TypeTransactionCompleted, headerValue(msg, "event-type"))

	var env struct {
		Type       string    `json:"type"`
		OccurredAt time.Time `json:"occurred_at"`
		Payload    struct {
			TransactionID string `json:"transaction_id"`
			Amount        string `json:"amount"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	assert.Equal(t, TypeTransactionCompleted, env.Type)
	assert.True(t, env.OccurredAt.Equal(ev.CompletedAt))
	assert.Equal(t, ev.TransactionID.String(), env.Payload.TransactionID)
	assert.Equal(t, "25.5000", env.Payload.Amount)
}

func TestKafkaSink_PublishFailed(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "ledger.events", zap.NewNop())
	id := uuid.New()

	sink.PublishFailed(context.Background(), models.TransactionFailed{
		TransactionID: id,
		Reason:        domain.ReasonInsufficientBalance,
		FailedAt:      time.Now(),
	})

	require.Len(t, w.msgs, 1)
	assert.Equal(t, id.String(), string(w.msgs[0].Key))
	assert.Equal(t, TypeTransactionFailed, headerValue(w.msgs[0], "event-type"))
	assert.Contains(t, string(w.msgs[0].Value), domain.ReasonInsufficientBalance)
}

func TestKafkaSink_WriteErrorIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	w := &fakeWriter{err: errors.New("broker unavailable")}
	sink := newKafkaSink(w, "ledger.events", zap.New(core))

	assert.NotPanics(t, func() {
		sink.PublishCompleted(context.Background(), completedEvent())
	})

	entries := logs.FilterMessage("failed to publish event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, TypeTransactionCompleted, entries[0].ContextMap()["event"])
}

func TestKafkaSink_Close(t *testing.T) {
	w := &fakeWriter{}
	sink := newKafkaSink(w, "ledger.events", zap.NewNop())
	require.NoError(t, sink.Close())
	assert.True(t, w.closed)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))
	ev := completedEvent()

	sink.PublishCompleted(context.Background(), ev)
	sink.PublishFailed(context.Background(), models.TransactionFailed{TransactionID: ev.TransactionID, Reason: "x"})

	require.Equal(t, 1, logs.FilterMessage(TypeTransactionCompleted).Len())
	failed := logs.FilterMessage(TypeTransactionFailed).All()
	require.Len(t, failed, 1)
	assert.Equal(t, "x", failed[0].ContextMap()["reason"])
	assert.Equal(t, sinkLog, failed[0].ContextMap()["sink"])
}

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	a, b := &countingSink{}, &countingSink{}
	m := NewMulti(a, nil, b)
	require.Len(t, m, 2)

	m.PublishCompleted(context.Background(), completedEvent())
	m.PublishFailed(context.Background(), models.TransactionFailed{})
	m.PublishFailed(context.Background(), models.TransactionFailed{})

	assert.Equal(t, 1, a.completed)
	assert.Equal(t, 2, b.failed)
}
