// Package ledger is the source of truth for all wallet balances.
//
// Balances change only through Append, which records one immutable entry per
// change and keeps the cached wallet balance equal to the signed sum of that
// wallet's entries by construction: the balance read, the negativity check,
// the entry insert, and the balance update happen in one transaction.
// There is no update or delete primitive.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/tradewind/settlement/internal/audit"
)

var (
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletExists      = errors.New("wallet already exists")
	ErrWalletFrozen      = errors.New("wallet is frozen")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidEntry      = errors.New("invalid ledger entry")
)

// EntryType classifies a balance-changing event.
type EntryType string

const (
	TypeDeposit       EntryType = "DEPOSIT"
	TypeWithdrawal    EntryType = "WITHDRAWAL"
	TypeEscrowLock    EntryType = "ESCROW_LOCK"    // wallet-funded escrow lock (negative)
	TypeEscrowRelease EntryType = "ESCROW_RELEASE" // reversal of a wallet-funded lock (positive)
	TypeRefund        EntryType = "REFUND"
	TypeAdjustment    EntryType = "ADJUSTMENT"
	TypePayout        EntryType = "PAYOUT" // escrow release credit to a beneficiary
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeEscrowLock, TypeEscrowRelease,
		TypeRefund, TypeAdjustment, TypePayout:
		return true
	}
	return false
}

// WalletStatus is the freeze state of a wallet.
type WalletStatus string

const (
	WalletActive WalletStatus = "ACTIVE"
	WalletFrozen WalletStatus = "FROZEN"
)

// Wallet is the per-account balance view derived from ledger entries.
// Balance is never mutated directly; Append maintains it.
type Wallet struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"accountId"`
	Balance      int64        `json:"balance"` // minor units
	Status       WalletStatus `json:"status"`
	FrozenReason string       `json:"frozenReason,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Entry is one immutable balance-changing record.
type Entry struct {
	ID            string    `json:"id"`
	WalletID      string    `json:"walletId"`
	Type          EntryType `json:"type"`
	Amount        int64     `json:"amount"` // signed, minor units
	BalanceBefore int64     `json:"balanceBefore"`
	BalanceAfter  int64     `json:"balanceAfter"`
	Reason        string    `json:"reason"`
	ActorID       string    `json:"actorId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Posting is the input to Append.
type Posting struct {
	WalletID string
	Type     EntryType
	Amount   int64 // signed
	Reason   string
	ActorID  string
}

func (p Posting) validate() error {
	if p.WalletID == "" || !p.Type.Valid() || p.Amount == 0 || p.Reason == "" {
		return ErrInvalidEntry
	}
	return nil
}

// Store persists wallets and their append-only entries.
//
// Append must be atomic: re-read the wallet under the store's isolation
// mechanism, reject frozen wallets and negative resulting balances, insert
// the entry with balance_before/balance_after, update the cached balance,
// and write the optional audit entry, all or nothing. Two concurrent
// appends against one wallet must serialize so neither computes its
// balance_after from a stale read.
type Store interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, id string) (*Wallet, error)
	SetWalletStatus(ctx context.Context, id string, status WalletStatus, reason string, rec *audit.Entry) error
	Append(ctx context.Context, p Posting, rec *audit.Entry) (*Entry, error)
	Entries(ctx context.Context, walletID string, limit int) ([]*Entry, error)
}
