// Package wallet implements the wallet manager: the only way account
// balances change. It pre-validates status and sufficiency, then delegates
// to the ledger store's atomic append, which re-checks both under its own
// isolation. Freeze and manual adjustments are finance-only and audited.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/idgen"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/logging"
	"github.com/tradewind/settlement/internal/money"
)

var (
	ErrReasonTooShort = errors.New("adjustment reason too short")
	ErrReasonRequired = errors.New("reason required")
)

// Manager exposes wallet operations on top of the ledger store.
type Manager struct {
	store           ledger.Store
	adjustReasonMin int
}

// NewManager creates a wallet manager. adjustReasonMin is the minimum
// justification length for manual balance adjustments.
func NewManager(store ledger.Store, adjustReasonMin int) *Manager {
	return &Manager{store: store, adjustReasonMin: adjustReasonMin}
}

// Create provisions a wallet for an account.
func (m *Manager) Create(ctx context.Context, accountID string) (*ledger.Wallet, error) {
	w := &ledger.Wallet{
		ID:        idgen.WithPrefix(idgen.PrefixWallet),
		AccountID: accountID,
		Status:    ledger.WalletActive,
	}
	if err := m.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Get returns the wallet with its current balance.
func (m *Manager) Get(ctx context.Context, walletID string) (*ledger.Wallet, error) {
	return m.store.GetWallet(ctx, walletID)
}

// Credit adds funds to an active wallet.
func (m *Manager) Credit(ctx context.Context, walletID string, amount int64, reason string) (*ledger.Entry, error) {
	if err := money.CheckPositive(amount); err != nil {
		return nil, err
	}
	return m.store.Append(ctx, ledger.Posting{
		WalletID: walletID,
		Type:     ledger.TypeDeposit,
		Amount:   amount,
		Reason:   reason,
		ActorID:  actor.FromContext(ctx).ID,
	}, nil)
}

// Debit removes funds from an active wallet with sufficient balance.
func (m *Manager) Debit(ctx context.Context, walletID string, amount int64, reason string) (*ledger.Entry, error) {
	if err := money.CheckPositive(amount); err != nil {
		return nil, err
	}
	w, err := m.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if w.Status == ledger.WalletFrozen {
		return nil, ledger.ErrWalletFrozen
	}
	if w.Balance < amount {
		return nil, ledger.ErrInsufficientFunds
	}
	// The append re-checks both conditions atomically; this pre-check only
	// gives callers a fast error without opening a transaction.
	return m.store.Append(ctx, ledger.Posting{
		WalletID: walletID,
		Type:     ledger.TypeWithdrawal,
		Amount:   -amount,
		Reason:   reason,
		ActorID:  actor.FromContext(ctx).ID,
	}, nil)
}

// Freeze blocks all future debits and credits. Finance-only. In-flight
// appends complete; only subsequent ones are rejected.
func (m *Manager) Freeze(ctx context.Context, walletID, reason string) error {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapFinance); err != nil {
		logging.RejectedAttempt(ctx, "wallet.freeze", "WALLET", walletID, "actor lacks finance capability")
		return err
	}
	if strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}

	before, err := m.store.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	return m.store.SetWalletStatus(ctx, walletID, ledger.WalletFrozen, reason, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "WALLET_FREEZE",
		TargetType: "WALLET",
		TargetID:   walletID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(map[string]string{"status": string(ledger.WalletFrozen), "frozenReason": reason}),
		RequestID:  logging.RequestID(ctx),
	})
}

// Unfreeze restores an active status. Finance-only.
func (m *Manager) Unfreeze(ctx context.Context, walletID string) error {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapFinance); err != nil {
		logging.RejectedAttempt(ctx, "wallet.unfreeze", "WALLET", walletID, "actor lacks finance capability")
		return err
	}

	before, err := m.store.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	return m.store.SetWalletStatus(ctx, walletID, ledger.WalletActive, "", &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "WALLET_UNFREEZE",
		TargetType: "WALLET",
		TargetID:   walletID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(map[string]string{"status": string(ledger.WalletActive)}),
		RequestID:  logging.RequestID(ctx),
	})
}

// Adjust applies a manual correction outside the normal order/escrow flows.
// Finance-only, requires a justification of minimum length, and is the only
// mutation allowed to move a balance without a corresponding escrow event.
func (m *Manager) Adjust(ctx context.Context, walletID string, amount int64, reason string) (*ledger.Entry, error) {
	act := actor.FromContext(ctx)
	if err := act.Require(actor.CapFinance); err != nil {
		logging.RejectedAttempt(ctx, "wallet.adjust", "WALLET", walletID, "actor lacks finance capability")
		return nil, err
	}
	if amount == 0 {
		return nil, money.ErrInvalidAmount
	}
	if len(strings.TrimSpace(reason)) < m.adjustReasonMin {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrReasonTooShort, m.adjustReasonMin)
	}

	before, err := m.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	entry, err := m.store.Append(ctx, ledger.Posting{
		WalletID: walletID,
		Type:     ledger.TypeAdjustment,
		Amount:   amount,
		Reason:   reason,
		ActorID:  act.ID,
	}, &audit.Entry{
		ActorID:    act.ID,
		ActorRole:  string(act.Role),
		Action:     "WALLET_ADJUSTMENT",
		TargetType: "WALLET",
		TargetID:   walletID,
		Before:     audit.Snapshot(before),
		After:      audit.Snapshot(map[string]int64{"balance": before.Balance + amount}),
		RequestID:  logging.RequestID(ctx),
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// History returns the wallet's ledger entries, newest first.
func (m *Manager) History(ctx context.Context, walletID string, limit int) ([]*ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.store.Entries(ctx, walletID, limit)
}
