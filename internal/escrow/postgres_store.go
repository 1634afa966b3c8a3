package escrow

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/ledger"
)

// PostgresStore implements Store with PostgreSQL. Release and Refund run
// guarded updates (WHERE status IN (...)) inside one transaction with the
// ledger posting and audit row, so the status change and the money
// movement commit or roll back together.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed escrow store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const escrowColumns = `
	id, order_id, buyer_wallet_id, beneficiary_wallet_id, total_amount,
	platform_fee_amount, refunded_amount, released_amount, status,
	funded_from_wallet, COALESCE(release_note, ''), released_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, e *Escrow, lockPosting *ledger.Posting, rec *audit.Entry) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO escrows (id, order_id, buyer_wallet_id, beneficiary_wallet_id,
			total_amount, platform_fee_amount, status, funded_from_wallet, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at
	`, e.ID, e.OrderID, e.BuyerWalletID, e.BeneficiaryWalletID,
		e.TotalAmount, e.PlatformFeeAmount, e.Status, e.FundedFromWallet).Scan(&e.CreatedAt, &e.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyLocked
	}
	if err != nil {
		return err
	}

	if lockPosting != nil {
		if _, err := ledger.AppendTx(ctx, tx, *lockPosting); err != nil {
			return err
		}
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Escrow, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
}

func (p *PostgresStore) GetByOrder(ctx context.Context, orderID string) (*Escrow, error) {
	return p.scanOne(p.db.QueryRowContext(ctx,
		`SELECT `+escrowColumns+` FROM escrows WHERE order_id = $1`, orderID))
}

func (p *PostgresStore) Release(ctx context.Context, id string, amount int64, note string, posting ledger.Posting, rec *audit.Entry) (*Escrow, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	// The WHERE clause is the double-release guard: only a row still in a
	// releasable status with an unchanged releasable remainder matches.
	row := tx.QueryRowContext(ctx, `
		UPDATE escrows
		SET status = $2, released_amount = $3, release_note = $4,
		    released_at = NOW(), updated_at = NOW()
		WHERE id = $1
		  AND status IN ($5, $6)
		  AND total_amount - platform_fee_amount - refunded_amount = $3
		RETURNING `+escrowColumns,
		id, StatusReleased, amount, note, StatusLocked, StatusPartiallyRefunded)

	e, err := p.scanOne(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.classifyMiss(ctx, id)
	}
	if err != nil {
		return nil, err
	}

	if _, err := ledger.AppendTx(ctx, tx, posting); err != nil {
		return nil, err
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (p *PostgresStore) Refund(ctx context.Context, id string, amount int64, posting ledger.Posting, rec *audit.Entry) (*Escrow, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		UPDATE escrows
		SET refunded_amount = refunded_amount + $2,
		    status = CASE WHEN refunded_amount + $2 = total_amount THEN $3 ELSE $4 END,
		    updated_at = NOW()
		WHERE id = $1
		  AND status IN ($5, $6)
		  AND refunded_amount + $2 <= total_amount
		RETURNING `+escrowColumns,
		id, amount, StatusRefunded, StatusPartiallyRefunded, StatusLocked, StatusPartiallyRefunded)

	e, err := p.scanOne(row)
	if errors.Is(err, ErrNotFound) {
		return nil, p.classifyRefundMiss(ctx, id, amount)
	}
	if err != nil {
		return nil, err
	}

	if _, err := ledger.AppendTx(ctx, tx, posting); err != nil {
		return nil, err
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

// classifyMiss turns a zero-row guarded update into the precise error.
func (p *PostgresStore) classifyMiss(ctx context.Context, id string) error {
	if _, err := p.Get(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	return ErrConflict
}

func (p *PostgresStore) classifyRefundMiss(ctx context.Context, id string, amount int64) error {
	e, err := p.Get(ctx, id)
	if err != nil {
		return err
	}
	if e.Status != StatusLocked && e.Status != StatusPartiallyRefunded {
		return ErrConflict
	}
	if e.RefundedAmount+amount > e.TotalAmount {
		return ErrRefundExceedsTotal
	}
	return ErrConflict
}

func (p *PostgresStore) scanOne(row *sql.Row) (*Escrow, error) {
	e := &Escrow{}
	var releasedAt sql.NullTime
	err := row.Scan(&e.ID, &e.OrderID, &e.BuyerWalletID, &e.BeneficiaryWalletID,
		&e.TotalAmount, &e.PlatformFeeAmount, &e.RefundedAmount, &e.ReleasedAmount,
		&e.Status, &e.FundedFromWallet, &e.ReleaseNote, &releasedAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if releasedAt.Valid {
		e.ReleasedAt = &releasedAt.Time
	}
	return e, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
