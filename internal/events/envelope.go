// Package events delivers transfer domain events to downstream consumers.
// Sinks never block or fail the transfer core; delivery errors are logged.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	TypeTransactionCompleted = "transaction.completed"
	TypeTransactionFailed    = "transaction.failed"
)

type envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

func buildEnvelope(eventType string, occurredAt time.Time, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	out, err := json.Marshal(envelope{Type: eventType, OccurredAt: occurredAt.UTC(), Payload: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return out, nil
}
