package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/escrow"
	"github.com/tradewind/settlement/internal/events"
	"github.com/tradewind/settlement/internal/idgen"
	"github.com/tradewind/settlement/internal/logging"
	"github.com/tradewind/settlement/internal/money"
	"github.com/tradewind/settlement/internal/order"
	"github.com/tradewind/settlement/internal/traces"
)

// Orders is the slice of the order service the resolver drives. There is
// deliberately no way to complete an order from here: COMPLETED stays
// behind the finance-gated transition edge.
type Orders interface {
	Get(ctx context.Context, id string) (*order.Order, error)
	SuspendForDispute(ctx context.Context, orderID string) (order.Status, error)
	ResumeFromDispute(ctx context.Context, orderID string) (*order.Order, error)
	CancelForDispute(ctx context.Context, orderID string) (*order.Order, error)
}

// Escrows is the slice of the escrow service resolutions act through. The
// ForResolution methods skip actor checks but keep every money guard.
type Escrows interface {
	GetByOrder(ctx context.Context, orderID string) (*escrow.Escrow, error)
	RefundForResolution(ctx context.Context, escrowID string, amount int64, reason string) (*escrow.Escrow, error)
	ReleaseForResolution(ctx context.Context, escrowID, note string) (*escrow.Escrow, error)
}

// Service implements dispute open, claim and resolve.
type Service struct {
	store     Store
	orders    Orders
	escrows   Escrows
	publisher events.Publisher
}

// NewService creates the dispute service.
func NewService(store Store, orders Orders, escrows Escrows, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, orders: orders, escrows: escrows, publisher: publisher}
}

// Open creates a dispute on the buyer's own order. The order must be in an
// escrow-locked state; opening forces it into DISPUTED, which is also the
// race guard: of two concurrent opens, only one wins the suspension.
func (s *Service) Open(ctx context.Context, orderID, reason, details string) (*Dispute, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapOpenDispute); err != nil {
		logging.RejectedAttempt(ctx, "dispute.open", "ORDER", orderID, "actor lacks dispute capability")
		return nil, err
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: reason required", ErrInvalidRequest)
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.BuyerID != act.ID {
		return nil, actor.ErrForbidden
	}
	if existing, err := s.store.GetActiveByOrder(ctx, orderID); err == nil && existing != nil {
		logging.RejectedAttempt(ctx, "dispute.open", "ORDER", orderID, "active dispute exists")
		return nil, fmt.Errorf("%w: active dispute %s exists", ErrConflict, existing.ID)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if _, err := s.orders.SuspendForDispute(ctx, orderID); err != nil {
		return nil, err
	}

	d := &Dispute{
		ID:         idgen.WithPrefix(idgen.PrefixDispute),
		OrderID:    orderID,
		Reason:     reason,
		Details:    details,
		Status:     StatusOpen,
		OpenedByID: act.ID,
	}
	err = s.store.Create(ctx, d, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "DISPUTE_OPEN",
		TargetType: "DISPUTE",
		TargetID:   d.ID,
		After:      audit.Snapshot(d),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		// The suspension went through but the dispute row lost a race;
		// put the order back so it is not stuck in DISPUTED.
		if _, resumeErr := s.orders.ResumeFromDispute(ctx, orderID); resumeErr != nil {
			logging.L(ctx).Error("resume after failed dispute create", "order_id", orderID, "error", resumeErr)
		}
		return nil, err
	}

	s.appendEvent(ctx, d.ID, "OPENED", reason, act.ID)
	s.publisher.Publish(ctx, events.New(events.DisputeOpened, "DISPUTE", d.ID, act.ID, map[string]any{
		"orderId": orderID,
		"reason":  reason,
	}))
	return d, nil
}

// Get returns one dispute.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// Events returns the dispute's timeline, oldest first.
func (s *Service) Events(ctx context.Context, disputeID string) ([]*TimelineEvent, error) {
	if _, err := s.store.Get(ctx, disputeID); err != nil {
		return nil, err
	}
	return s.store.Events(ctx, disputeID)
}

// Claim assigns the dispute to the calling operations actor (OPEN -> IN_REVIEW).
func (s *Service) Claim(ctx context.Context, disputeID string) (*Dispute, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapResolveDispute); err != nil {
		logging.RejectedAttempt(ctx, "dispute.claim", "DISPUTE", disputeID, "actor lacks resolve capability")
		return nil, err
	}

	d, err := s.store.Claim(ctx, disputeID, act.ID, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "DISPUTE_CLAIM",
		TargetType: "DISPUTE",
		TargetID:   disputeID,
		After:      audit.Snapshot(map[string]string{"status": string(StatusInReview), "assignedOpsId": act.ID}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.appendEvent(ctx, disputeID, "CLAIMED", "", act.ID)
	s.publisher.Publish(ctx, events.New(events.DisputeClaimed, "DISPUTE", disputeID, act.ID, nil))
	return d, nil
}

// Resolve closes the dispute with one outcome and applies its escrow and
// order effects. The guarded status update runs first as a claim on the
// outcome: it wins at most once, so two concurrent resolutions can never
// both move money. If the effect then fails, the dispute is reverted to
// IN_REVIEW so the case can be resolved again once the obstacle clears.
func (s *Service) Resolve(ctx context.Context, disputeID string, resolution Resolution, note string, refundAmount int64) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve",
		traces.DisputeID(disputeID), traces.Amount(refundAmount))
	defer span.End()

	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapResolveDispute); err != nil {
		logging.RejectedAttempt(ctx, "dispute.resolve", "DISPUTE", disputeID, "actor lacks resolve capability")
		return nil, err
	}
	if !resolution.Valid() {
		return nil, fmt.Errorf("%w: unknown resolution %q", ErrInvalidRequest, resolution)
	}
	if resolution == ResolutionPartialRefund {
		if err := money.CheckPositive(refundAmount); err != nil {
			return nil, err
		}
	} else if refundAmount != 0 {
		return nil, fmt.Errorf("%w: refund amount only valid for PARTIAL_REFUND", ErrInvalidRequest)
	}

	before, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}

	d, err := s.store.Resolve(ctx, disputeID, ResolveParams{
		Resolution:   resolution,
		Note:         note,
		RefundAmount: refundAmount,
		ResolvedByID: act.ID,
	}, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "DISPUTE_RESOLVE",
		TargetType: "DISPUTE",
		TargetID:   disputeID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(map[string]any{"status": StatusResolved, "resolution": resolution, "note": note, "refundAmount": refundAmount}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	if err := s.applyResolution(ctx, d, resolution, note, refundAmount); err != nil {
		// The effect did not land (frozen wallet, racing refund). Hand
		// the dispute back to review so a later resolve can retry; the
		// timeline keeps the failed attempt visible.
		s.appendEvent(ctx, disputeID, "EFFECT_FAILED", err.Error(), act.ID)
		if _, reopenErr := s.store.Reopen(ctx, disputeID, &audit.Entry{
			ActorID:    act.ID,
			ActorRole:  string(act.Role),
			Action:     "DISPUTE_REOPEN",
			TargetType: "DISPUTE",
			TargetID:   disputeID,
			Before:     audit.Snapshot(d),
			After:      audit.Snapshot(map[string]Status{"status": StatusInReview}),
			RequestID:  logging.RequestID(ctx),
		}); reopenErr != nil {
			logging.L(ctx).Error("reopen after failed resolution effect",
				"dispute_id", disputeID, "error", reopenErr)
		}
		return nil, err
	}

	s.appendEvent(ctx, disputeID, "RESOLVED", string(resolution), act.ID)
	s.publisher.Publish(ctx, events.New(events.DisputeResolved, "DISPUTE", disputeID, act.ID, map[string]any{
		"orderId":      d.OrderID,
		"resolution":   resolution,
		"refundAmount": refundAmount,
	}))
	return d, nil
}

func (s *Service) applyResolution(ctx context.Context, d *Dispute, resolution Resolution, note string, refundAmount int64) error {
	switch resolution {
	case ResolutionRedeliver:
		_, err := s.orders.ResumeFromDispute(ctx, d.OrderID)
		return err

	case ResolutionPartialRefund:
		esc, err := s.escrows.GetByOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		if _, err := s.escrows.RefundForResolution(ctx, esc.ID, refundAmount, "dispute "+d.ID+" partial refund"); err != nil {
			return err
		}
		_, err = s.orders.ResumeFromDispute(ctx, d.OrderID)
		return err

	case ResolutionRefundBuyer:
		esc, err := s.escrows.GetByOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		remaining := esc.TotalAmount - esc.RefundedAmount
		if _, err := s.escrows.RefundForResolution(ctx, esc.ID, remaining, "dispute "+d.ID+" full refund"); err != nil {
			return err
		}
		_, err = s.orders.ResumeFromDispute(ctx, d.OrderID)
		return err

	case ResolutionReleasePayout:
		esc, err := s.escrows.GetByOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		if _, err := s.escrows.ReleaseForResolution(ctx, esc.ID, note); err != nil {
			return err
		}
		// The order rejoins its normal flow; marking it COMPLETED is
		// still a finance transition, not an arbitration outcome.
		_, err = s.orders.ResumeFromDispute(ctx, d.OrderID)
		return err

	case ResolutionCancelOrder:
		esc, err := s.escrows.GetByOrder(ctx, d.OrderID)
		if err != nil {
			return err
		}
		remaining := esc.TotalAmount - esc.RefundedAmount
		if remaining > 0 {
			if _, err := s.escrows.RefundForResolution(ctx, esc.ID, remaining, "dispute "+d.ID+" order cancelled"); err != nil {
				return err
			}
		}
		_, err = s.orders.CancelForDispute(ctx, d.OrderID)
		return err
	}
	return fmt.Errorf("%w: unknown resolution %q", ErrInvalidRequest, resolution)
}

func (s *Service) appendEvent(ctx context.Context, disputeID, kind, note, actorID string) {
	err := s.store.AppendEvent(ctx, &TimelineEvent{
		ID:        idgen.WithPrefix(idgen.PrefixEvent),
		DisputeID: disputeID,
		Kind:      kind,
		Note:      note,
		ActorID:   actorID,
	})
	if err != nil {
		logging.L(ctx).Error("append dispute event", "dispute_id", disputeID, "kind", kind, "error", err)
	}
}
