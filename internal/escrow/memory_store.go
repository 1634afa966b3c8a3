package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/syncutil"
)

// MemoryStore keeps escrows in memory for dev mode and tests, delegating
// ledger postings to a ledger.MemoryStore. A per-escrow keyed mutex
// serializes Release/Refund on the same escrow so the status re-check
// models the guarded SQL update.
type MemoryStore struct {
	mu       sync.Mutex
	escrows  map[string]*Escrow
	byOrder  map[string]string // orderID -> escrowID
	ledger   *ledger.MemoryStore
	auditLog *audit.MemoryLog
	locks    *syncutil.KeyMutex
}

// NewMemoryStore creates an in-memory escrow store. auditLog may be nil.
func NewMemoryStore(ls *ledger.MemoryStore, auditLog *audit.MemoryLog) *MemoryStore {
	return &MemoryStore{
		escrows:  make(map[string]*Escrow),
		byOrder:  make(map[string]string),
		ledger:   ls,
		auditLog: auditLog,
		locks:    syncutil.NewKeyMutex(),
	}
}

func (m *MemoryStore) Create(_ context.Context, e *Escrow, lockPosting *ledger.Posting, rec *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byOrder[e.OrderID]; ok {
		return ErrAlreadyLocked
	}

	if lockPosting != nil {
		if _, err := m.ledger.ApplyTx([]ledger.Posting{*lockPosting}, nil); err != nil {
			return err
		}
	}

	now := time.Now()
	cp := *e
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.escrows[cp.ID] = &cp
	m.byOrder[cp.OrderID] = cp.ID
	e.CreatedAt = now
	e.UpdatedAt = now
	m.logAudit(rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(id)
}

func (m *MemoryStore) GetByOrder(_ context.Context, orderID string) (*Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byOrder[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.getLocked(id)
}

func (m *MemoryStore) Release(ctx context.Context, id string, amount int64, note string, posting ledger.Posting, rec *audit.Entry) (*Escrow, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Precondition re-check under the lock; a racing release or refund
	// already changed the row and this call loses.
	if e.Status != StatusLocked && e.Status != StatusPartiallyRefunded {
		return nil, ErrConflict
	}
	if e.releasable() != amount {
		return nil, ErrConflict
	}

	if _, err := m.ledger.ApplyTx([]ledger.Posting{posting}, nil); err != nil {
		return nil, err
	}

	now := time.Now()
	e.Status = StatusReleased
	e.ReleasedAmount = amount
	e.ReleaseNote = note
	e.ReleasedAt = &now
	e.UpdatedAt = now
	m.logAudit(rec)

	cp := *e
	return &cp, nil
}

func (m *MemoryStore) Refund(ctx context.Context, id string, amount int64, posting ledger.Posting, rec *audit.Entry) (*Escrow, error) {
	unlock, err := m.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Status != StatusLocked && e.Status != StatusPartiallyRefunded {
		return nil, ErrConflict
	}
	if e.RefundedAmount+amount > e.TotalAmount {
		return nil, ErrRefundExceedsTotal
	}

	if _, err := m.ledger.ApplyTx([]ledger.Posting{posting}, nil); err != nil {
		return nil, err
	}

	e.RefundedAmount += amount
	if e.RefundedAmount == e.TotalAmount {
		e.Status = StatusRefunded
	} else {
		e.Status = StatusPartiallyRefunded
	}
	e.UpdatedAt = time.Now()
	m.logAudit(rec)

	cp := *e
	return &cp, nil
}

func (m *MemoryStore) getLocked(id string) (*Escrow, error) {
	e, ok := m.escrows[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) logAudit(rec *audit.Entry) {
	if rec != nil && m.auditLog != nil {
		m.auditLog.Append(rec)
	}
}
