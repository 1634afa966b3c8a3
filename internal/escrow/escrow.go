// Package escrow holds funds against a single order from payment until
// release or refund.
//
// The one invariant everything here serves: money held by an escrow is
// released or refunded at most once, and released + refunded never exceeds
// the locked total. Every mutating path runs its status precondition, its
// ledger posting, and its audit write in one atomic store operation.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/events"
	"github.com/tradewind/settlement/internal/idgen"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/logging"
	"github.com/tradewind/settlement/internal/money"
	"github.com/tradewind/settlement/internal/traces"
)

var (
	ErrNotFound             = errors.New("escrow not found")
	ErrAlreadyLocked        = errors.New("escrow already locked for order")
	ErrConflict             = errors.New("escrow not in required status")
	ErrRefundExceedsTotal   = errors.New("cumulative refund exceeds escrow total")
	ErrDeliveryNotConfirmed = errors.New("delivery not confirmed")
	ErrInvalidRequest       = errors.New("invalid escrow request")
)

// Status is the escrow lifecycle state. Transitions are one-directional:
// LOCKED may become RELEASED, REFUNDED or PARTIALLY_REFUNDED;
// PARTIALLY_REFUNDED may become RELEASED or REFUNDED; RELEASED and
// REFUNDED are terminal.
type Status string

const (
	StatusLocked            Status = "LOCKED"
	StatusReleased          Status = "RELEASED"
	StatusRefunded          Status = "REFUNDED"
	StatusPartiallyRefunded Status = "PARTIALLY_REFUNDED"
)

// Escrow is the held-funds record for one order.
type Escrow struct {
	ID                  string     `json:"id"`
	OrderID             string     `json:"orderId"`
	BuyerWalletID       string     `json:"buyerWalletId"`
	BeneficiaryWalletID string     `json:"beneficiaryWalletId"`
	TotalAmount         int64      `json:"totalAmount"`
	PlatformFeeAmount   int64      `json:"platformFeeAmount"`
	RefundedAmount      int64      `json:"refundedAmount"`
	ReleasedAmount      int64      `json:"releasedAmount"`
	Status              Status     `json:"status"`
	FundedFromWallet    bool       `json:"fundedFromWallet"`
	ReleaseNote         string     `json:"releaseNote,omitempty"`
	ReleasedAt          *time.Time `json:"releasedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// releasable reports how much a release would credit the beneficiary.
func (e *Escrow) releasable() int64 {
	return e.TotalAmount - e.PlatformFeeAmount - e.RefundedAmount
}

// Store persists escrows. Release and Refund are guarded updates: they
// apply only when the row is still in an allowed status, execute their
// ledger posting and audit write atomically with the status change, and
// report ErrConflict when another operation won the race.
type Store interface {
	// Create inserts the escrow and, when lockPosting is non-nil, appends
	// the wallet-funded ESCROW_LOCK entry in the same transaction.
	// A second escrow for the same order fails with ErrAlreadyLocked.
	Create(ctx context.Context, e *Escrow, lockPosting *ledger.Posting, rec *audit.Entry) error
	Get(ctx context.Context, id string) (*Escrow, error)
	GetByOrder(ctx context.Context, orderID string) (*Escrow, error)

	// Release moves LOCKED or PARTIALLY_REFUNDED to RELEASED, records the
	// released amount and note, credits the beneficiary, and audits. The
	// guarded update also re-checks that amount still equals the releasable
	// remainder, so a refund racing in between fails the release with
	// ErrConflict instead of over-crediting.
	Release(ctx context.Context, id string, amount int64, note string, posting ledger.Posting, rec *audit.Entry) (*Escrow, error)

	// Refund adds amount to the cumulative refund, crediting the buyer.
	// Status becomes REFUNDED when the total is reached, otherwise
	// PARTIALLY_REFUNDED. Exceeding the total fails with
	// ErrRefundExceedsTotal and changes nothing.
	Refund(ctx context.Context, id string, amount int64, posting ledger.Posting, rec *audit.Entry) (*Escrow, error)
}

// DeliveryConfirmer reports whether an order's delivery has been
// confirmed. The order package provides the implementation; escrow only
// ever reads the flag and never writes shipment state.
type DeliveryConfirmer interface {
	IsDeliveryConfirmed(ctx context.Context, orderID string) (bool, error)
}

// Service implements escrow lock, release and refund.
type Service struct {
	store           Store
	confirmer       DeliveryConfirmer
	publisher       events.Publisher
	feeBps          int64
	requireDelivery bool
}

// NewService creates the escrow service. feeBps is the platform fee in
// basis points applied when a lock request does not carry an explicit fee.
func NewService(store Store, confirmer DeliveryConfirmer, publisher events.Publisher, feeBps int64, requireDelivery bool) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:           store,
		confirmer:       confirmer,
		publisher:       publisher,
		feeBps:          feeBps,
		requireDelivery: requireDelivery,
	}
}

// LockParams describes a lock request. PlatformFee zero means "compute
// from the configured basis points". FundFromWallet locks the amount out
// of the buyer's wallet; otherwise the payment provider already collected
// the funds and the escrow is the only record of them.
type LockParams struct {
	OrderID             string
	BuyerWalletID       string
	BeneficiaryWalletID string
	TotalAmount         int64
	PlatformFee         int64
	FundFromWallet      bool
}

// Lock creates the escrow for an order after payment succeeds. At most
// one escrow may exist per order; a repeat call fails with
// ErrAlreadyLocked and changes nothing.
func (s *Service) Lock(ctx context.Context, p LockParams) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Lock",
		traces.OrderID(p.OrderID), traces.Amount(p.TotalAmount))
	defer span.End()

	if p.OrderID == "" || p.BuyerWalletID == "" || p.BeneficiaryWalletID == "" {
		return nil, fmt.Errorf("%w: missing order or wallet id", ErrInvalidRequest)
	}
	if err := money.CheckPositive(p.TotalAmount); err != nil {
		return nil, err
	}
	fee := p.PlatformFee
	if fee == 0 {
		fee = money.FeeFromBps(p.TotalAmount, s.feeBps)
	}
	if fee < 0 || fee >= p.TotalAmount {
		return nil, fmt.Errorf("%w: platform fee out of range", ErrInvalidRequest)
	}

	act := actor.FromContext(ctx)
	e := &Escrow{
		ID:                  idgen.WithPrefix(idgen.PrefixEscrow),
		OrderID:             p.OrderID,
		BuyerWalletID:       p.BuyerWalletID,
		BeneficiaryWalletID: p.BeneficiaryWalletID,
		TotalAmount:         p.TotalAmount,
		PlatformFeeAmount:   fee,
		Status:              StatusLocked,
		FundedFromWallet:    p.FundFromWallet,
	}

	var lockPosting *ledger.Posting
	if p.FundFromWallet {
		lockPosting = &ledger.Posting{
			WalletID: p.BuyerWalletID,
			Type:     ledger.TypeEscrowLock,
			Amount:   -p.TotalAmount,
			Reason:   "escrow lock for order " + p.OrderID,
			ActorID:  act.ID,
		}
	}

	err := s.store.Create(ctx, e, lockPosting, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "ESCROW_LOCK",
		TargetType: "ESCROW",
		TargetID:   e.ID,
		After:      audit.Snapshot(e),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.EscrowLocked, "ESCROW", e.ID, act.ID, map[string]any{
		"orderId":     e.OrderID,
		"totalAmount": e.TotalAmount,
		"platformFee": e.PlatformFeeAmount,
	}))
	return e, nil
}

// Get returns one escrow.
func (s *Service) Get(ctx context.Context, id string) (*Escrow, error) {
	return s.store.Get(ctx, id)
}

// GetByOrder returns the escrow held for an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	return s.store.GetByOrder(ctx, orderID)
}

// Release pays the beneficiary the remaining locked value net of the
// platform fee. Requires a finance actor and a confirmed delivery; both
// checks happen before the guarded status update, which is what actually
// prevents a double release.
func (s *Service) Release(ctx context.Context, escrowID, note string) (*Escrow, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapFinance); err != nil {
		logging.RejectedAttempt(ctx, "escrow.release", "ESCROW", escrowID, "actor lacks finance capability")
		return nil, err
	}
	return s.release(ctx, escrowID, note, true)
}

// ReleaseForResolution releases the escrow on behalf of a dispute
// resolution found in the beneficiary's favor. It skips the finance-actor
// and delivery checks but goes through the same guarded update, so it can
// never double-release.
func (s *Service) ReleaseForResolution(ctx context.Context, escrowID, note string) (*Escrow, error) {
	return s.release(ctx, escrowID, note, false)
}

func (s *Service) release(ctx context.Context, escrowID, note string, checkDelivery bool) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Release", traces.EscrowID(escrowID))
	defer span.End()

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	if checkDelivery && s.requireDelivery {
		confirmed, err := s.confirmer.IsDeliveryConfirmed(ctx, e.OrderID)
		if err != nil {
			return nil, err
		}
		if !confirmed {
			logging.RejectedAttempt(ctx, "escrow.release", "ESCROW", escrowID, "delivery not confirmed")
			return nil, ErrDeliveryNotConfirmed
		}
	}

	amount := e.releasable()
	if amount <= 0 {
		return nil, ErrConflict
	}

	act := actor.FromContext(ctx)
	released, err := s.store.Release(ctx, escrowID, amount, note, ledger.Posting{
		WalletID: e.BeneficiaryWalletID,
		Type:     ledger.TypePayout,
		Amount:   amount,
		Reason:   "escrow release for order " + e.OrderID,
		ActorID:  act.ID,
	}, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "ESCROW_RELEASE",
		TargetType: "ESCROW",
		TargetID:   escrowID,
		Before:     audit.Snapshot(e),
		After:      audit.Snapshot(map[string]any{"status": StatusReleased, "releasedAmount": amount, "releaseNote": note}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.EscrowReleased, "ESCROW", escrowID, act.ID, map[string]any{
		"orderId":        released.OrderID,
		"releasedAmount": amount,
	}))
	return released, nil
}

// Refund returns funds to the buyer. Allowed while LOCKED or
// PARTIALLY_REFUNDED; the cumulative refund can never exceed the total.
// Requires a finance actor.
func (s *Service) Refund(ctx context.Context, escrowID string, amount int64, reason string) (*Escrow, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapFinance); err != nil {
		logging.RejectedAttempt(ctx, "escrow.refund", "ESCROW", escrowID, "actor lacks finance capability")
		return nil, err
	}
	return s.refund(ctx, escrowID, amount, reason)
}

// RefundForResolution refunds on behalf of a dispute resolution, skipping
// the finance-actor check but keeping every other guard.
func (s *Service) RefundForResolution(ctx context.Context, escrowID string, amount int64, reason string) (*Escrow, error) {
	return s.refund(ctx, escrowID, amount, reason)
}

func (s *Service) refund(ctx context.Context, escrowID string, amount int64, reason string) (*Escrow, error) {
	ctx, span := traces.StartSpan(ctx, "escrow.Refund",
		traces.EscrowID(escrowID), traces.Amount(amount))
	defer span.End()

	if err := money.CheckPositive(amount); err != nil {
		return nil, err
	}
	if reason == "" {
		return nil, fmt.Errorf("%w: refund reason required", ErrInvalidRequest)
	}

	e, err := s.store.Get(ctx, escrowID)
	if err != nil {
		return nil, err
	}

	// A wallet-funded lock is reversed back into the buyer's wallet as
	// ESCROW_RELEASE; a payment-funded escrow credits the buyer as REFUND.
	entryType := ledger.TypeRefund
	if e.FundedFromWallet {
		entryType = ledger.TypeEscrowRelease
	}

	act := actor.FromContext(ctx)
	refunded, err := s.store.Refund(ctx, escrowID, amount, ledger.Posting{
		WalletID: e.BuyerWalletID,
		Type:     entryType,
		Amount:   amount,
		Reason:   "escrow refund for order " + e.OrderID + ": " + reason,
		ActorID:  act.ID,
	}, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "ESCROW_REFUND",
		TargetType: "ESCROW",
		TargetID:   escrowID,
		Before:     audit.Snapshot(e),
		After:      audit.Snapshot(map[string]any{"refundAmount": amount, "reason": reason}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.EscrowRefunded, "ESCROW", escrowID, act.ID, map[string]any{
		"orderId":        refunded.OrderID,
		"refundAmount":   amount,
		"refundedAmount": refunded.RefundedAmount,
		"status":         refunded.Status,
	}))
	return refunded, nil
}
