package dispute

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/tradewind/settlement/internal/audit"
)

// PostgresStore implements Store with PostgreSQL. The one-active-dispute
// invariant is a partial unique index on (order_id) WHERE status !=
// 'RESOLVED'; Claim and Resolve are guarded updates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `
	id, order_id, reason, COALESCE(details, ''), status, opened_by_id,
	COALESCE(assigned_ops_id, ''), COALESCE(resolution, ''),
	COALESCE(resolution_note, ''), refund_amount, COALESCE(resolved_by_id, ''),
	resolved_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute, rec *audit.Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO disputes (id, order_id, reason, details, status, opened_by_id, refund_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, NOW(), NOW())
		RETURNING created_at, updated_at
	`, d.ID, d.OrderID, d.Reason, d.Details, d.Status, d.OpenedByID).Scan(&d.CreatedAt, &d.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	return scanDispute(p.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id))
}

func (p *PostgresStore) GetActiveByOrder(ctx context.Context, orderID string) (*Dispute, error) {
	return scanDispute(p.db.QueryRowContext(ctx,
		`SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1 AND status != $2`,
		orderID, StatusResolved))
}

func (p *PostgresStore) Claim(ctx context.Context, id, opsID string, rec *audit.Entry) (*Dispute, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE disputes
		SET status = $2, assigned_ops_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING `+disputeColumns,
		id, StatusInReview, opsID, StatusOpen)

	d, err := scanDispute(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.classifyMiss(ctx, id, false)
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
	return d, nil
}

func (p *PostgresStore) Resolve(ctx context.Context, id string, params ResolveParams, rec *audit.Entry) (*Dispute, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE disputes
		SET status = $2, resolution = $3, resolution_note = $4, refund_amount = $5,
		    resolved_by_id = $6, resolved_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status != $2
		RETURNING `+disputeColumns,
		id, StatusResolved, params.Resolution, params.Note, params.RefundAmount, params.ResolvedByID)

	d, err := scanDispute(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.classifyMiss(ctx, id, true)
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
	return d, nil
}

func (p *PostgresStore) Reopen(ctx context.Context, id string, rec *audit.Entry) (*Dispute, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE disputes
		SET status = $2, resolution = NULL, resolution_note = NULL, refund_amount = 0,
		    resolved_by_id = NULL, resolved_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING `+disputeColumns,
		id, StatusInReview, StatusResolved)

	d, err := scanDispute(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.Get(ctx, id); getErr != nil {
			return nil, getErr
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
	return d, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, e *TimelineEvent) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO dispute_events (id, dispute_id, kind, note, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, e.ID, e.DisputeID, e.Kind, e.Note, e.ActorID).Scan(&e.CreatedAt)
}

func (p *PostgresStore) Events(ctx context.Context, disputeID string) ([]*TimelineEvent, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, dispute_id, kind, COALESCE(note, ''), actor_id, created_at
		FROM dispute_events
		WHERE dispute_id = $1
		ORDER BY created_at ASC, id ASC
	`, disputeID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*TimelineEvent
	for rows.Next() {
		e := &TimelineEvent{}
		if err := rows.Scan(&e.ID, &e.DisputeID, &e.Kind, &e.Note, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) classifyMiss(ctx context.Context, id string, resolving bool) error {
	d, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if resolving && d.Status == StatusResolved {
		return ErrAlreadyResolved
	}
	return ErrConflict
}

func scanDispute(row *sql.Row) (*Dispute, error) {
	d := &Dispute{}
	var resolvedAt sql.NullTime
	var resolution string
	err := row.Scan(&d.ID, &d.OrderID, &d.Reason, &d.Details, &d.Status, &d.OpenedByID,
		&d.AssignedOpsID, &resolution, &d.ResolutionNote, &d.RefundAmount,
		&d.ResolvedByID, &resolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Resolution = Resolution(resolution)
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return d, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
