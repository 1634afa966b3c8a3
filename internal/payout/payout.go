// Package payout implements the finance approval chain for beneficiary
// withdrawals. Requests below the platform minimum are rejected
// synchronously and never stored; everything else waits PENDING_FINANCE
// until a finance actor approves, rejects or holds it. Approval debits the
// wallet in the same transaction as the status change.
package payout

import (
	"context"
	"errors"
	"time"

	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/ledger"
)

var (
	ErrNotFound      = errors.New("payout not found")
	ErrConflict      = errors.New("payout not in required status")
	ErrBelowMinimum  = errors.New("amount below minimum payout threshold")
	ErrInvalidAction = errors.New("invalid payout action")
)

// Status is the approval chain state.
type Status string

const (
	StatusPendingFinance Status = "PENDING_FINANCE"
	StatusApproved       Status = "APPROVED"
	StatusRejected       Status = "REJECTED"
	StatusOnHold         Status = "ON_HOLD"
	StatusCompleted      Status = "COMPLETED"
)

// Action is a finance decision on a pending payout.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionHold    Action = "hold"
)

// Payout is one withdrawal request.
type Payout struct {
	ID            string     `json:"id"`
	WalletID      string     `json:"walletId"`
	RequestedByID string     `json:"requestedById"`
	Amount        int64      `json:"amount"`
	Status        Status     `json:"status"`
	ApproverID    string     `json:"approverId,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	DecidedAt     *time.Time `json:"decidedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Store persists payout requests. Decide is a guarded update from
// PENDING_FINANCE or ON_HOLD; the optional posting (the approval debit)
// commits atomically with it. Complete is a guarded APPROVED -> COMPLETED
// update recording external settlement.
type Store interface {
	Create(ctx context.Context, p *Payout, rec *audit.Entry) error
	Get(ctx context.Context, id string) (*Payout, error)
	ListByWallet(ctx context.Context, walletID string, limit int) ([]*Payout, error)
	Decide(ctx context.Context, id string, to Status, approverID, notes string, posting *ledger.Posting, rec *audit.Entry) (*Payout, error)
	Complete(ctx context.Context, id string, rec *audit.Entry) (*Payout, error)
}
