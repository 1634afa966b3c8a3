package dispute

import (
	"context"
	"sync"
	"time"

	"github.com/tradewind/settlement/internal/audit"
)

// MemoryStore keeps disputes in memory for dev mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	disputes map[string]*Dispute
	timeline map[string][]*TimelineEvent
	auditLog *audit.MemoryLog
}

// NewMemoryStore creates an in-memory dispute store. auditLog may be nil.
func NewMemoryStore(auditLog *audit.MemoryLog) *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		timeline: make(map[string][]*TimelineEvent),
		auditLog: auditLog,
	}
}

func (m *MemoryStore) Create(_ context.Context, d *Dispute, rec *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// One active dispute per order, the memory analogue of the partial
	// unique index.
	for _, existing := range m.disputes {
		if existing.OrderID == d.OrderID && existing.Status != StatusResolved {
			return ErrConflict
		}
	}

	now := time.Now()
	cp := *d
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.disputes[cp.ID] = &cp
	d.CreatedAt = now
	d.UpdatedAt = now
	m.logAudit(rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetActiveByOrder(_ context.Context, orderID string) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.disputes {
		if d.OrderID == orderID && d.Status != StatusResolved {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Claim(_ context.Context, id, opsID string, rec *audit.Entry) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != StatusOpen {
		return nil, ErrConflict
	}

	d.Status = StatusInReview
	d.AssignedOpsID = opsID
	d.UpdatedAt = time.Now()
	m.logAudit(rec)

	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Resolve(_ context.Context, id string, p ResolveParams, rec *audit.Entry) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status == StatusResolved {
		return nil, ErrAlreadyResolved
	}

	now := time.Now()
	d.Status = StatusResolved
	d.Resolution = p.Resolution
	d.ResolutionNote = p.Note
	d.RefundAmount = p.RefundAmount
	d.ResolvedByID = p.ResolvedByID
	d.ResolvedAt = &now
	d.UpdatedAt = now
	m.logAudit(rec)

	cp := *d
	return &cp, nil
}

func (m *MemoryStore) Reopen(_ context.Context, id string, rec *audit.Entry) (*Dispute, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != StatusResolved {
		return nil, ErrConflict
	}

	d.Status = StatusInReview
	d.Resolution = ""
	d.ResolutionNote = ""
	d.RefundAmount = 0
	d.ResolvedByID = ""
	d.ResolvedAt = nil
	d.UpdatedAt = time.Now()
	m.logAudit(rec)

	cp := *d
	return &cp, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	cp.CreatedAt = time.Now()
	m.timeline[e.DisputeID] = append(m.timeline[e.DisputeID], &cp)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, disputeID string) ([]*TimelineEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.timeline[disputeID]
	out := make([]*TimelineEvent, 0, len(all))
	for _, e := range all {
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) logAudit(rec *audit.Entry) {
	if rec != nil && m.auditLog != nil {
		m.auditLog.Append(rec)
	}
}
