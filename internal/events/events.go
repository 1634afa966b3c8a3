// Package events publishes settlement lifecycle events to downstream
// consumers (notifications, analytics, reconciliation). Publishing happens
// after the owning transaction commits; a failed publish is logged and
// dropped, never rolled into the business operation's result.
package events

import (
	"context"
	"time"

	"github.com/tradewind/settlement/internal/idgen"
)

// Type identifies a settlement lifecycle event.
type Type string

const (
	EscrowLocked       Type = "escrow.locked"
	EscrowReleased     Type = "escrow.released"
	EscrowRefunded     Type = "escrow.refunded"
	OrderTransitioned  Type = "order.transitioned"
	OrderDeliveryNoted Type = "order.delivery_confirmed"
	DisputeOpened      Type = "dispute.opened"
	DisputeClaimed     Type = "dispute.claimed"
	DisputeResolved    Type = "dispute.resolved"
	PayoutRequested    Type = "payout.requested"
	PayoutDecided      Type = "payout.decided"
	PayoutCompleted    Type = "payout.completed"
)

// Event is one published lifecycle record.
type Event struct {
	ID         string         `json:"id"`
	Type       Type           `json:"type"`
	TargetType string         `json:"targetType"`
	TargetID   string         `json:"targetId"`
	ActorID    string         `json:"actorId,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// New builds an event with a fresh ID and timestamp.
func New(t Type, targetType, targetID, actorID string, payload map[string]any) Event {
	return Event{
		ID:         idgen.WithPrefix(idgen.PrefixEvent),
		Type:       t,
		TargetType: targetType,
		TargetID:   targetID,
		ActorID:    actorID,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events to the configured sink. Implementations must
// not fail the caller: delivery errors are logged and swallowed.
type Publisher interface {
	Publish(ctx context.Context, e Event)
	Close() error
}

// Nop discards all events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
func (Nop) Close() error                   { return nil }
