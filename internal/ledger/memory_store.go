package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/idgen"
)

// MemoryStore keeps wallets and entries in memory for dev mode and tests.
// One mutex guards everything, so every append is an atomic
// read-modify-append and entry order is creation order.
type MemoryStore struct {
	mu       sync.Mutex
	wallets  map[string]*Wallet
	entries  map[string][]*Entry // walletID -> entries in creation order
	auditLog *audit.MemoryLog    // optional; entries appended under the same lock
}

// NewMemoryStore creates an in-memory ledger store. auditLog may be nil.
func NewMemoryStore(auditLog *audit.MemoryLog) *MemoryStore {
	return &MemoryStore{
		wallets:  make(map[string]*Wallet),
		entries:  make(map[string][]*Entry),
		auditLog: auditLog,
	}
}

func (m *MemoryStore) CreateWallet(_ context.Context, w *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.wallets[w.ID]; ok {
		return ErrWalletExists
	}
	now := time.Now()
	cp := *w
	if cp.Status == "" {
		cp.Status = WalletActive
	}
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.wallets[cp.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWallet(_ context.Context, id string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *MemoryStore) SetWalletStatus(_ context.Context, id string, status WalletStatus, reason string, rec *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[id]
	if !ok {
		return ErrWalletNotFound
	}
	w.Status = status
	w.FrozenReason = reason
	w.UpdatedAt = time.Now()
	m.logLocked(rec)
	return nil
}

func (m *MemoryStore) Append(_ context.Context, p Posting, rec *audit.Entry) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(p, rec)
}

// ApplyTx applies several postings atomically under one lock, all-or-nothing:
// every posting is validated against current balances before any is applied.
// The escrow and payout memory stores use this where the postgres stores use
// one SQL transaction.
func (m *MemoryStore) ApplyTx(postings []Posting, rec *audit.Entry) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Dry-run: check wallet state and resulting balances per wallet.
	projected := make(map[string]int64)
	for _, p := range postings {
		if err := p.validate(); err != nil {
			return nil, err
		}
		w, ok := m.wallets[p.WalletID]
		if !ok {
			return nil, ErrWalletNotFound
		}
		if w.Status == WalletFrozen {
			return nil, ErrWalletFrozen
		}
		if _, ok := projected[p.WalletID]; !ok {
			projected[p.WalletID] = w.Balance
		}
		projected[p.WalletID] += p.Amount
		if projected[p.WalletID] < 0 {
			return nil, ErrInsufficientFunds
		}
	}

	out := make([]*Entry, 0, len(postings))
	for _, p := range postings {
		e, err := m.appendLocked(p, nil)
		if err != nil {
			// Unreachable after the dry-run; surface it rather than hide it.
			return nil, err
		}
		out = append(out, e)
	}
	m.logLocked(rec)
	return out, nil
}

// appendLocked applies a posting while m.mu is held.
func (m *MemoryStore) appendLocked(p Posting, rec *audit.Entry) (*Entry, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	w, ok := m.wallets[p.WalletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	if w.Status == WalletFrozen {
		return nil, ErrWalletFrozen
	}

	after := w.Balance + p.Amount
	if after < 0 {
		return nil, ErrInsufficientFunds
	}

	e := &Entry{
		ID:            idgen.WithPrefix(idgen.PrefixEntry),
		WalletID:      p.WalletID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: w.Balance,
		BalanceAfter:  after,
		Reason:        p.Reason,
		ActorID:       p.ActorID,
		CreatedAt:     time.Now(),
	}
	m.entries[p.WalletID] = append(m.entries[p.WalletID], e)
	w.Balance = after
	w.UpdatedAt = e.CreatedAt
	m.logLocked(rec)

	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Entries(_ context.Context, walletID string, limit int) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.entries[walletID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	// Newest first.
	out := make([]*Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *all[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) logLocked(rec *audit.Entry) {
	if rec != nil && m.auditLog != nil {
		m.auditLog.Append(rec)
	}
}

// SumEntries recomputes a wallet balance from its entries (test helper for
// the conservation property).
func (m *MemoryStore) SumEntries(walletID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sum int64
	for _, e := range m.entries[walletID] {
		sum += e.Amount
	}
	return sum
}
