package payout

import (
	"context"
	"database/sql"
	"errors"

	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL. Decide runs the status
// guard, the optional approval debit and the audit row in one serializable
// transaction.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed payout store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const payoutColumns = `
	id, wallet_id, requested_by_id, amount, status, COALESCE(approver_id, ''),
	COALESCE(notes, ''), decided_at, completed_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, po *Payout, rec *audit.Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO payouts (id, wallet_id, requested_by_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING created_at, updated_at
	`, po.ID, po.WalletID, po.RequestedByID, po.Amount, po.Status).Scan(&po.CreatedAt, &po.UpdatedAt)
	if err != nil {
		return err
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Payout, error) {
	return scanPayout(p.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
}

func (p *PostgresStore) ListByWallet(ctx context.Context, walletID string, limit int) ([]*Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*Payout
	for rows.Next() {
		po := &Payout{}
		var decidedAt, completedAt sql.NullTime
		if err := rows.Scan(&po.ID, &po.WalletID, &po.RequestedByID, &po.Amount, &po.Status,
			&po.ApproverID, &po.Notes, &decidedAt, &completedAt, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, err
		}
		if decidedAt.Valid {
			po.DecidedAt = &decidedAt.Time
		}
		if completedAt.Valid {
			po.CompletedAt = &completedAt.Time
		}
		out = append(out, po)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Decide(ctx context.Context, id string, to Status, approverID, notes string, posting *ledger.Posting, rec *audit.Entry) (*Payout, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE payouts
		SET status = $2, approver_id = $3, notes = $4, decided_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ($5, $6)
		RETURNING `+payoutColumns,
		id, to, approverID, notes, StatusPendingFinance, StatusOnHold)

	po, err := scanPayout(row)
	if errors.Is(err, ErrNotFound) {
		if _, getErr := p.Get(ctx, id); errors.Is(getErr, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, ErrConflict
	}
	if err != nil {
		return nil, err
	}

	if posting != nil {
		if _, err := ledger.AppendTx(ctx, tx, *posting); err != nil {
			return nil, err
		}
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return po, nil
}

func (p *PostgresStore) Complete(ctx context.Context, id string, rec *audit.Entry) (*Payout, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE payouts
		SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING `+payoutColumns,
		id, StatusCompleted, StatusApproved)

	po, err := scanPayout(row)
	if errors.Is(err, ErrNotFound) {
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
	return po, nil
}

func scanPayout(row *sql.Row) (*Payout, error) {
	po := &Payout{}
	var decidedAt, completedAt sql.NullTime
	err := row.Scan(&po.ID, &po.WalletID, &po.RequestedByID, &po.Amount, &po.Status,
		&po.ApproverID, &po.Notes, &decidedAt, &completedAt, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		po.DecidedAt = &decidedAt.Time
	}
	if completedAt.Valid {
		po.CompletedAt = &completedAt.Time
	}
	return po, nil
}
