package payout

import (
	"context"
	"fmt"

	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/events"
	"github.com/tradewind/settlement/internal/idgen"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/logging"
	"github.com/tradewind/settlement/internal/money"
	"github.com/tradewind/settlement/internal/traces"
)

// Service implements the payout approval chain.
type Service struct {
	store     Store
	ledger    ledger.Store
	publisher events.Publisher
	minAmount int64
}

// NewService creates the payout service. minAmount is the platform's
// minimum withdrawal in minor units.
func NewService(store Store, ls ledger.Store, publisher events.Publisher, minAmount int64) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, ledger: ls, publisher: publisher, minAmount: minAmount}
}

// Request opens a withdrawal for already-released earnings. Below-minimum
// amounts are rejected synchronously with no payout row created. The
// balance check here is advisory; the authoritative check is the debit at
// approval time.
func (s *Service) Request(ctx context.Context, walletID string, amount int64) (*Payout, error) {
	ctx, span := traces.StartSpan(ctx, "payout.Request",
		traces.WalletID(walletID), traces.Amount(amount))
	defer span.End()

	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapRequestPayout); err != nil {
		logging.RejectedAttempt(ctx, "payout.request", "WALLET", walletID, "actor lacks payout capability")
		return nil, err
	}
	if err := money.CheckPositive(amount); err != nil {
		return nil, err
	}
	if amount < s.minAmount {
		logging.RejectedAttempt(ctx, "payout.request", "WALLET", walletID,
			fmt.Sprintf("amount %d below minimum %d", amount, s.minAmount))
		return nil, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, money.FormatMinor(s.minAmount))
	}

	w, err := s.ledger.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.Status == ledger.WalletFrozen {
		return nil, ledger.ErrWalletFrozen
	}
	if w.Balance < amount {
		return nil, ledger.ErrInsufficientFunds
	}

	p := &Payout{
		ID:            idgen.WithPrefix(idgen.PrefixPayout),
		WalletID:      walletID,
		RequestedByID: act.ID,
		Amount:        amount,
		Status:        StatusPendingFinance,
	}
	err = s.store.Create(ctx, p, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "PAYOUT_REQUEST",
		TargetType: "PAYOUT",
		TargetID:   p.ID,
		After:      audit.Snapshot(p),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.PayoutRequested, "PAYOUT", p.ID, act.ID, map[string]any{
		"walletId": walletID,
		"amount":   amount,
	}))
	return p, nil
}

// Get returns one payout.
func (s *Service) Get(ctx context.Context, id string) (*Payout, error) {
	return s.store.Get(ctx, id)
}

// ListByWallet returns a wallet's payouts, newest first.
func (s *Service) ListByWallet(ctx context.Context, walletID string, limit int) ([]*Payout, error) {
	return s.store.ListByWallet(ctx, walletID, limit)
}

// Decide applies a finance decision to a PENDING_FINANCE or ON_HOLD
// payout. Approval debits the wallet (WITHDRAWAL) in the same transaction
// as the status change: if the funds are gone by now, the approval fails
// and the payout stays pending.
func (s *Service) Decide(ctx context.Context, payoutID string, action Action, notes string) (*Payout, error) {
	ctx, span := traces.StartSpan(ctx, "payout.Decide", traces.PayoutID(payoutID))
	defer span.End()

	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapFinance); err != nil {
		logging.RejectedAttempt(ctx, "payout.decide", "PAYOUT", payoutID, "actor lacks finance capability")
		return nil, err
	}

	var to Status
	switch action {
	case ActionApprove:
		to = StatusApproved
	case ActionReject:
		to = StatusRejected
	case ActionHold:
		to = StatusOnHold
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	before, err := s.store.Get(ctx, payoutID)
	if err != nil {
		return nil, err
	}

	var posting *ledger.Posting
	if to == StatusApproved {
		posting = &ledger.Posting{
			WalletID: before.WalletID,
			Type:     ledger.TypeWithdrawal,
			Amount:   -before.Amount,
			Reason:   "payout " + payoutID + " approved",
			ActorID:  act.ID,
		}
	}

	p, err := s.store.Decide(ctx, payoutID, to, act.ID, notes, posting, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "PAYOUT_DECIDE",
		TargetType: "PAYOUT",
		TargetID:   payoutID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(map[string]any{"status": to, "notes": notes}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.PayoutDecided, "PAYOUT", payoutID, act.ID, map[string]any{
		"action": action,
		"status": to,
	}))
	return p, nil
}

// MarkCompleted records that the external payout settled (APPROVED ->
// COMPLETED). Finance or the system actor.
func (s *Service) MarkCompleted(ctx context.Context, payoutID string) (*Payout, error) {
	act := actor.FromContext(ctx)
	if act.Role != actor.RoleSystem {
		if err := act.Require(actor.CapFinance); err != nil {
			return nil, err
		}
	}

	p, err := s.store.Complete(ctx, payoutID, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "PAYOUT_COMPLETE",
		TargetType: "PAYOUT",
		TargetID:   payoutID,
		After:      audit.Snapshot(map[string]Status{"status": StatusCompleted}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}

	s.publisher.Publish(ctx, events.New(events.PayoutCompleted, "PAYOUT", payoutID, act.ID, nil))
	return p, nil
}
