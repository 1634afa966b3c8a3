// Package dispute implements buyer-initiated arbitration over an order.
//
// A dispute suspends the order's normal progression and ends in exactly
// one resolution from a closed enum, each with its own escrow effect.
// At most one non-resolved dispute exists per order.
package dispute

import (
	"context"
	"errors"
	"time"

	"github.com/tradewind/settlement/internal/audit"
)

var (
	ErrNotFound        = errors.New("dispute not found")
	ErrConflict        = errors.New("dispute state conflict")
	ErrAlreadyResolved = errors.New("dispute already resolved")
	ErrInvalidRequest  = errors.New("invalid dispute request")
)

// Status is the dispute lifecycle state.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusInReview Status = "IN_REVIEW"
	StatusResolved Status = "RESOLVED"
)

// Resolution is the closed enumeration of arbitration outcomes.
type Resolution string

const (
	ResolutionRefundBuyer   Resolution = "REFUND_BUYER"
	ResolutionPartialRefund Resolution = "PARTIAL_REFUND"
	ResolutionRedeliver     Resolution = "REDELIVER"
	ResolutionReleasePayout Resolution = "RELEASE_PAYOUT"
	ResolutionCancelOrder   Resolution = "CANCEL_ORDER"
)

// Valid reports whether r is a known resolution.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionRefundBuyer, ResolutionPartialRefund, ResolutionRedeliver,
		ResolutionReleasePayout, ResolutionCancelOrder:
		return true
	}
	return false
}

// Dispute is one arbitration case over an order.
type Dispute struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"orderId"`
	Reason         string     `json:"reason"`
	Details        string     `json:"details,omitempty"`
	Status         Status     `json:"status"`
	OpenedByID     string     `json:"openedById"`
	AssignedOpsID  string     `json:"assignedOpsId,omitempty"`
	Resolution     Resolution `json:"resolution,omitempty"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	RefundAmount   int64      `json:"refundAmount,omitempty"`
	ResolvedByID   string     `json:"resolvedById,omitempty"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// TimelineEvent is one append-only support-visibility record on a dispute.
type TimelineEvent struct {
	ID        string    `json:"id"`
	DisputeID string    `json:"disputeId"`
	Kind      string    `json:"kind"`
	Note      string    `json:"note,omitempty"`
	ActorID   string    `json:"actorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResolveParams carries the outcome written by the guarded resolve update.
type ResolveParams struct {
	Resolution   Resolution
	Note         string
	RefundAmount int64
	ResolvedByID string
}

// Store persists disputes and their timelines. Create enforces the
// one-active-dispute-per-order invariant (ErrConflict on violation).
// Claim and Resolve are guarded updates that fail with ErrConflict /
// ErrAlreadyResolved when the dispute is no longer in the expected state.
// Reopen reverts a RESOLVED dispute to IN_REVIEW, clearing the recorded
// outcome; the resolver uses it when a resolution's escrow or order
// effect could not be applied, so the case stays workable.
type Store interface {
	Create(ctx context.Context, d *Dispute, rec *audit.Entry) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetActiveByOrder(ctx context.Context, orderID string) (*Dispute, error)
	Claim(ctx context.Context, id, opsID string, rec *audit.Entry) (*Dispute, error)
	Resolve(ctx context.Context, id string, p ResolveParams, rec *audit.Entry) (*Dispute, error)
	Reopen(ctx context.Context, id string, rec *audit.Entry) (*Dispute, error)
	AppendEvent(ctx context.Context, e *TimelineEvent) error
	Events(ctx context.Context, disputeID string) ([]*TimelineEvent, error)
}
