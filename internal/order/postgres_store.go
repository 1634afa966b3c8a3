package order

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tradewind/settlement/internal/audit"
)

// PostgresStore implements Store with PostgreSQL. UpdateStatus is a
// guarded update keyed on the expected current status; zero rows means
// another transition won the race.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `
	id, buyer_id, supplier_id, total_amount, currency, status,
	COALESCE(pre_dispute_status, ''), paid_at, shipped_at, delivered_at,
	completed_at, cancelled_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, o *Order, rec *audit.Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO orders (id, buyer_id, supplier_id, total_amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING created_at, updated_at
	`, o.ID, o.BuyerID, o.SupplierID, o.TotalAmount, o.Currency, o.Status).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return err
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	return scanOrder(p.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, from, to Status, preDispute *Status, rec *audit.Entry) (*Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// COALESCE keeps pre_dispute_status unchanged when no override is given;
	// the per-transition timestamp columns are stamped by the CASE arms.
	var pre any
	if preDispute != nil {
		pre = string(*preDispute)
	}
	row := tx.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $3,
		    pre_dispute_status = CASE WHEN $4::text IS NULL THEN pre_dispute_status ELSE NULLIF($4::text, '') END,
		    paid_at      = CASE WHEN $3 = 'PAID'      AND paid_at IS NULL THEN NOW() ELSE paid_at END,
		    shipped_at   = CASE WHEN $3 = 'SHIPPED'   THEN NOW() ELSE shipped_at END,
		    delivered_at = CASE WHEN $3 = 'DELIVERED' THEN NOW() ELSE delivered_at END,
		    completed_at = CASE WHEN $3 = 'COMPLETED' THEN NOW() ELSE completed_at END,
		    cancelled_at = CASE WHEN $3 = 'CANCELLED' THEN NOW() ELSE cancelled_at END,
		    updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING `+orderColumns,
		id, from, to, pre)

	o, err := scanOrder(row)
	if errors.Is(err, ErrNotFound) {
		// Distinguish a lost race from a missing order.
		if _, getErr := p.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return o, nil
}

func (p *PostgresStore) GetShipment(ctx context.Context, orderID string) (*Shipment, error) {
	s := &Shipment{}
	err := p.db.QueryRowContext(ctx, `
		SELECT order_id, COALESCE(carrier, ''), COALESCE(tracking_number, ''),
		       confirmed_by_buyer, confirmed_by_ops, delivery_confirmed,
		       COALESCE(proof_of_delivery, ''), created_at, updated_at
		FROM shipments WHERE order_id = $1
	`, orderID).Scan(&s.OrderID, &s.Carrier, &s.TrackingNumber,
		&s.ConfirmedByBuyer, &s.ConfirmedByOps, &s.DeliveryConfirmed,
		&s.ProofOfDelivery, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShipmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (p *PostgresStore) SaveShipment(ctx context.Context, s *Shipment, rec *audit.Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO shipments (order_id, carrier, tracking_number, confirmed_by_buyer,
			confirmed_by_ops, delivery_confirmed, proof_of_delivery, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (order_id) DO UPDATE SET
			carrier = EXCLUDED.carrier,
			tracking_number = EXCLUDED.tracking_number,
			confirmed_by_buyer = EXCLUDED.confirmed_by_buyer,
			confirmed_by_ops = EXCLUDED.confirmed_by_ops,
			delivery_confirmed = EXCLUDED.delivery_confirmed,
			proof_of_delivery = EXCLUDED.proof_of_delivery,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`, s.OrderID, s.Carrier, s.TrackingNumber, s.ConfirmedByBuyer,
		s.ConfirmedByOps, s.DeliveryConfirmed, s.ProofOfDelivery).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return err
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func scanOrder(row *sql.Row) (*Order, error) {
	o := &Order{}
	var paidAt, shippedAt, deliveredAt, completedAt, cancelledAt sql.NullTime
	var pre string
	err := row.Scan(&o.ID, &o.BuyerID, &o.SupplierID, &o.TotalAmount, &o.Currency,
		&o.Status, &pre, &paidAt, &shippedAt, &deliveredAt, &completedAt, &cancelledAt,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	o.PreDisputeStatus = Status(pre)
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if shippedAt.Valid {
		o.ShippedAt = &shippedAt.Time
	}
	if deliveredAt.Valid {
		o.DeliveredAt = &deliveredAt.Time
	}
	if completedAt.Valid {
		o.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		o.CancelledAt = &cancelledAt.Time
	}
	return o, nil
}
