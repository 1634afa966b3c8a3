package payout

import (
	"context"
	"sync"
	"time"

	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/ledger"
)

// MemoryStore keeps payouts in memory for dev mode and tests, delegating
// approval debits to a ledger.MemoryStore.
type MemoryStore struct {
	mu       sync.Mutex
	payouts  map[string]*Payout
	order    []string // creation order for listing
	ledger   *ledger.MemoryStore
	auditLog *audit.MemoryLog
}

// NewMemoryStore creates an in-memory payout store. auditLog may be nil.
func NewMemoryStore(ls *ledger.MemoryStore, auditLog *audit.MemoryLog) *MemoryStore {
	return &MemoryStore{
		payouts:  make(map[string]*Payout),
		ledger:   ls,
		auditLog: auditLog,
	}
}

func (m *MemoryStore) Create(_ context.Context, p *Payout, rec *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cp := *p
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.payouts[cp.ID] = &cp
	m.order = append(m.order, cp.ID)
	p.CreatedAt = now
	p.UpdatedAt = now
	m.logAudit(rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListByWallet(_ context.Context, walletID string, limit int) ([]*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]*Payout, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.payouts[m.order[i]]
		if p.WalletID == walletID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Decide(_ context.Context, id string, to Status, approverID, notes string, posting *ledger.Posting, rec *audit.Entry) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusPendingFinance && p.Status != StatusOnHold {
		return nil, ErrConflict
	}

	// The debit and the status change stand or fall together.
	if posting != nil {
		if _, err := m.ledger.ApplyTx([]ledger.Posting{*posting}, nil); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	p.Status = to
	p.ApproverID = approverID
	p.Notes = notes
	p.DecidedAt = &now
	p.UpdatedAt = now
	m.logAudit(rec)

	cp := *p
	return &cp, nil
}

func (m *MemoryStore) Complete(_ context.Context, id string, rec *audit.Entry) (*Payout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.payouts[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusApproved {
		return nil, ErrConflict
	}

	now := time.Now()
	p.Status = StatusCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	m.logAudit(rec)

	cp := *p
	return &cp, nil
}

func (m *MemoryStore) logAudit(rec *audit.Entry) {
	if rec != nil && m.auditLog != nil {
		m.auditLog.Append(rec)
	}
}
