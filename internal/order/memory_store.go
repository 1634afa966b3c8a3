package order

import (
	"context"
	"sync"
	"time"

	"github.com/tradewind/settlement/internal/audit"
)

// MemoryStore keeps orders and shipments in memory for dev mode and tests.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[string]*Order
	shipments map[string]*Shipment // keyed by order ID
	auditLog  *audit.MemoryLog
}

// NewMemoryStore creates an in-memory order store. auditLog may be nil.
func NewMemoryStore(auditLog *audit.MemoryLog) *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*Order),
		shipments: make(map[string]*Shipment),
		auditLog:  auditLog,
	}
}

func (m *MemoryStore) Create(_ context.Context, o *Order, rec *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cp := *o
	cp.CreatedAt = now
	cp.UpdatedAt = now
	m.orders[cp.ID] = &cp
	o.CreatedAt = now
	o.UpdatedAt = now
	m.logAudit(rec)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, from, to Status, preDispute *Status, rec *audit.Entry) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	// Guarded update: the caller's precondition must still hold.
	if o.Status != from {
		return nil, ErrConflict
	}

	now := time.Now()
	o.Status = to
	o.UpdatedAt = now
	if preDispute != nil {
		o.PreDisputeStatus = *preDispute
	}
	stampTransition(o, to, now)
	m.logAudit(rec)

	cp := *o
	return &cp, nil
}

func (m *MemoryStore) GetShipment(_ context.Context, orderID string) (*Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.shipments[orderID]
	if !ok {
		return nil, ErrShipmentNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) SaveShipment(_ context.Context, s *Shipment, rec *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cp := *s
	if existing, ok := m.shipments[s.OrderID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.shipments[s.OrderID] = &cp
	s.CreatedAt = cp.CreatedAt
	s.UpdatedAt = now
	m.logAudit(rec)
	return nil
}

func (m *MemoryStore) logAudit(rec *audit.Entry) {
	if rec != nil && m.auditLog != nil {
		m.auditLog.Append(rec)
	}
}

// stampTransition records the per-transition timestamp for to.
func stampTransition(o *Order, to Status, now time.Time) {
	switch to {
	case StatusPaid:
		if o.PaidAt == nil {
			t := now
			o.PaidAt = &t
		}
	case StatusShipped:
		t := now
		o.ShippedAt = &t
	case StatusDelivered:
		t := now
		o.DeliveredAt = &t
	case StatusCompleted:
		t := now
		o.CompletedAt = &t
	case StatusCancelled:
		t := now
		o.CancelledAt = &t
	}
}
