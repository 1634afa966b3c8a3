package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/events"
	"github.com/tradewind/settlement/internal/idgen"
	"github.com/tradewind/settlement/internal/logging"
	"github.com/tradewind/settlement/internal/money"
)

// Store persists orders and shipments. UpdateStatus is a guarded update:
// it applies only while the order is still in from and returns ErrConflict
// otherwise. preDispute non-nil records (or clears, when empty) the status
// to return to after a dispute, in the same update.
type Store interface {
	Create(ctx context.Context, o *Order, rec *audit.Entry) error
	Get(ctx context.Context, id string) (*Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, preDispute *Status, rec *audit.Entry) (*Order, error)
	GetShipment(ctx context.Context, orderID string) (*Shipment, error)
	SaveShipment(ctx context.Context, s *Shipment, rec *audit.Entry) error
}

// Service runs the order state machine.
type Service struct {
	store        Store
	publisher    events.Publisher
	requireProof bool
}

// NewService creates the order service. requireProof demands a
// proof-of-delivery reference when operations staff confirm delivery.
func NewService(store Store, publisher events.Publisher, requireProof bool) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, publisher: publisher, requireProof: requireProof}
}

// CreateParams describes a new order.
type CreateParams struct {
	BuyerID     string
	SupplierID  string
	TotalAmount int64
	Currency    string
}

// Create opens a PENDING order on behalf of the buyer.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Order, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapPlaceOrder); err != nil {
		return nil, err
	}
	if p.BuyerID == "" || p.SupplierID == "" {
		return nil, fmt.Errorf("%w: buyer and supplier required", ErrInvalidRequest)
	}
	if err := money.CheckPositive(p.TotalAmount); err != nil {
		return nil, err
	}
	currency := p.Currency
	if currency == "" {
		currency = "USD"
	}

	o := &Order{
		ID:          idgen.WithPrefix(idgen.PrefixOrder),
		BuyerID:     p.BuyerID,
		SupplierID:  p.SupplierID,
		TotalAmount: p.TotalAmount,
		Currency:    currency,
		Status:      StatusPending,
	}
	err := s.store.Create(ctx, o, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "ORDER_CREATE",
		TargetType: "ORDER",
		TargetID:   o.ID,
		After:      audit.Snapshot(o),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Get returns one order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.store.Get(ctx, id)
}

// Transition moves the order along one edge of the machine. The edge must
// exist for the current status, the actor must hold the edge's capability
// (the system actor passes everywhere except into COMPLETED, which stays
// finance-only), and the guarded update must still see the same current
// status. A rejected transition leaves the order untouched.
func (s *Service) Transition(ctx context.Context, orderID string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, to)
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	need, err := allowed(o.Status, to)
	if err != nil {
		logging.RejectedAttempt(ctx, "order.transition", "ORDER", orderID,
			fmt.Sprintf("no edge %s -> %s", o.Status, to))
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}

	act := actor.FromContext(ctx)
	systemPass := act.Role == actor.RoleSystem && to != StatusCompleted
	if !systemPass {
		if err := act.Require(need); err != nil {
			logging.RejectedAttempt(ctx, "order.transition", "ORDER", orderID, "actor lacks capability "+string(need))
			return nil, err
		}
	}
	// The buyer's edges act on their own orders only.
	if (need == actor.CapPlaceOrder || need == actor.CapConfirmDelivery) && !systemPass && act.ID != o.BuyerID {
		return nil, actor.ErrForbidden
	}

	updated, err := s.store.UpdateStatus(ctx, orderID, o.Status, to, nil, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "ORDER_TRANSITION",
		TargetType: "ORDER",
		TargetID:   orderID,
		Before:     audit.Snapshot(map[string]Status{"status": o.Status}),
		After:      audit.Snapshot(map[string]Status{"status": to}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.OrderTransitioned, "ORDER", orderID, act.ID, map[string]any{
		"from": o.Status,
		"to":   to,
	}))
	return updated, nil
}

// ConfirmDelivery records delivery confirmation on the shipment. Buyers
// confirm their own orders; operations staff confirm with proof of
// delivery. The escrow is never consulted or touched here.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID, proof string) (*Shipment, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapConfirmDelivery); err != nil {
		logging.RejectedAttempt(ctx, "order.confirm_delivery", "ORDER", orderID, "actor lacks confirm capability")
		return nil, err
	}

	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case StatusShipped, StatusInTransit, StatusDelivered:
	default:
		return nil, fmt.Errorf("%w: cannot confirm delivery while %s", ErrIllegalTransition, o.Status)
	}

	byBuyer := act.Role == actor.RoleBuyer
	if byBuyer && act.ID != o.BuyerID {
		return nil, actor.ErrForbidden
	}
	if !byBuyer && s.requireProof && proof == "" {
		return nil, fmt.Errorf("%w: proof of delivery required", ErrInvalidRequest)
	}

	sh, err := s.store.GetShipment(ctx, orderID)
	if errors.Is(err, ErrShipmentNotFound) {
		sh = &Shipment{OrderID: orderID}
	} else if err != nil {
		return nil, err
	}
	before := *sh
	if byBuyer {
		sh.ConfirmedByBuyer = true
	} else {
		sh.ConfirmedByOps = true
		sh.ProofOfDelivery = proof
	}
	sh.DeliveryConfirmed = sh.ConfirmedByBuyer || sh.ConfirmedByOps

	err = s.store.SaveShipment(ctx, sh, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "DELIVERY_CONFIRM",
		TargetType: "ORDER",
		TargetID:   orderID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(sh),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.OrderDeliveryNoted, "ORDER", orderID, act.ID, map[string]any{
		"confirmedByBuyer": sh.ConfirmedByBuyer,
		"confirmedByOps":   sh.ConfirmedByOps,
	}))
	return sh, nil
}

// UpdateShipment attaches carrier and tracking details (operations staff).
func (s *Service) UpdateShipment(ctx context.Context, orderID, carrier, tracking string) (*Shipment, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapShipmentOps); err != nil {
		return nil, err
	}
	if _, err := s.store.Get(ctx, orderID); err != nil {
		return nil, err
	}

	sh, err := s.store.GetShipment(ctx, orderID)
	if errors.Is(err, ErrShipmentNotFound) {
		sh = &Shipment{OrderID: orderID}
	} else if err != nil {
		return nil, err
	}
	sh.Carrier = carrier
	sh.TrackingNumber = tracking
	if err := s.store.SaveShipment(ctx, sh, nil); err != nil {
		return nil, err
	}
	return sh, nil
}

// IsDeliveryConfirmed reports the shipment's confirmation flag. This is
// the read the escrow release path depends on.
func (s *Service) IsDeliveryConfirmed(ctx context.Context, orderID string) (bool, error) {
	sh, err := s.store.GetShipment(ctx, orderID)
	if errors.Is(err, ErrShipmentNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sh.DeliveryConfirmed, nil
}

// SuspendForDispute forces the order into DISPUTED, remembering the status
// to return to. Only escrow-locked states may be suspended. Called by the
// dispute resolver when a dispute opens.
func (s *Service) SuspendForDispute(ctx context.Context, orderID string) (Status, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return "", err
	}
	if !o.Status.EscrowLocked() {
		return "", fmt.Errorf("%w: cannot dispute while %s", ErrIllegalTransition, o.Status)
	}

	pre := o.Status
	act := actor.FromContext(ctx)
	_, err = s.store.UpdateStatus(ctx, orderID, o.Status, StatusDisputed, &pre, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "ORDER_DISPUTE_SUSPEND",
		TargetType: "ORDER",
		TargetID:   orderID,
		Before:     audit.Snapshot(map[string]Status{"status": o.Status}),
		After:      audit.Snapshot(map[string]Status{"status": StatusDisputed, "preDisputeStatus": pre}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return "", err
	}
	return pre, nil
}

// ResumeFromDispute returns a DISPUTED order to its pre-dispute status.
func (s *Service) ResumeFromDispute(ctx context.Context, orderID string) (*Order, error) {
	return s.exitDispute(ctx, orderID, "")
}

// CancelForDispute terminates a DISPUTED order as CANCELLED.
func (s *Service) CancelForDispute(ctx context.Context, orderID string) (*Order, error) {
	return s.exitDispute(ctx, orderID, StatusCancelled)
}

// exitDispute leaves DISPUTED for to, or for the remembered pre-dispute
// status when to is empty. COMPLETED is never reachable from here: a
// resolution returns the order to its normal flow and the finance-gated
// DELIVERED -> COMPLETED edge stays the only way to complete it.
func (s *Service) exitDispute(ctx context.Context, orderID string, to Status) (*Order, error) {
	o, err := s.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDisputed {
		return nil, fmt.Errorf("%w: order is %s, not DISPUTED", ErrIllegalTransition, o.Status)
	}
	if to == "" {
		to = o.PreDisputeStatus
		if to == "" {
			to = StatusPaid
		}
	}

	clear := Status("")
	act := actor.FromContext(ctx)
	updated, err := s.store.UpdateStatus(ctx, orderID, StatusDisputed, to, &clear, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "ORDER_DISPUTE_EXIT",
		TargetType: "ORDER",
		TargetID:   orderID,
		Before:     audit.Snapshot(map[string]Status{"status": StatusDisputed}),
		After:      audit.Snapshot(map[string]Status{"status": to}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.OrderTransitioned, "ORDER", orderID, act.ID, map[string]any{
		"from": StatusDisputed,
		"to":   to,
	}))
	return updated, nil
}
