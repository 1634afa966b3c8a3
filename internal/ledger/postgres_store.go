package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/idgen"
)

// PostgresStore implements Store with PostgreSQL. Appends run at
// serializable isolation with the wallet row locked FOR UPDATE, so two
// concurrent appends against one wallet cannot both read a stale balance.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateWallet(ctx context.Context, w *Wallet) error {
	status := w.Status
	if status == "" {
		status = WalletActive
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, account_id, balance, status, frozen_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
	`, w.ID, w.AccountID, w.Balance, status, w.FrozenReason)
	if isUniqueViolation(err) {
		return ErrWalletExists
	}
	return err
}

func (p *PostgresStore) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	w := &Wallet{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, balance, status, COALESCE(frozen_reason, ''), created_at, updated_at
		FROM wallets WHERE id = $1
	`, id).Scan(&w.ID, &w.AccountID, &w.Balance, &w.Status, &w.FrozenReason, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (p *PostgresStore) SetWalletStatus(ctx context.Context, id string, status WalletStatus, reason string, rec *audit.Entry) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE wallets SET status = $2, frozen_reason = $3, updated_at = NOW()
		WHERE id = $1
	`, id, status, reason)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWalletNotFound
	}
	if err := audit.InsertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) Append(ctx context.Context, posting Posting, rec *audit.Entry) (*Entry, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := AppendTx(ctx, tx, posting)
	if err != nil {
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

// AppendTx performs the atomic read-modify-append inside the caller's
// transaction. The escrow and payout stores use it so their status changes
// and ledger postings commit together.
func AppendTx(ctx context.Context, tx *sql.Tx, p Posting) (*Entry, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	var (
		balance int64
		status  WalletStatus
	)
	err := tx.QueryRowContext(ctx, `
		SELECT balance, status FROM wallets WHERE id = $1 FOR UPDATE
	`, p.WalletID).Scan(&balance, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	if status == WalletFrozen {
		return nil, ErrWalletFrozen
	}

	after := balance + p.Amount
	if after < 0 {
		return nil, ErrInsufficientFunds
	}

	e := &Entry{
		ID:            idgen.WithPrefix(idgen.PrefixEntry),
		WalletID:      p.WalletID,
		Type:          p.Type,
		Amount:        p.Amount,
		BalanceBefore: balance,
		BalanceAfter:  after,
		Reason:        p.Reason,
		ActorID:       p.ActorID,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, wallet_id, type, amount, balance_before, balance_after, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING created_at
	`, e.ID, e.WalletID, e.Type, e.Amount, e.BalanceBefore, e.BalanceAfter, e.Reason, nullable(e.ActorID)).Scan(&e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallets SET balance = $2, updated_at = NOW() WHERE id = $1
	`, p.WalletID, after); err != nil {
		return nil, fmt.Errorf("update wallet balance: %w", err)
	}

	return e, nil
}

func (p *PostgresStore) Entries(ctx context.Context, walletID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, wallet_id, type, amount, balance_before, balance_after, reason, COALESCE(actor_id, ''), created_at
		FROM ledger_entries
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, walletID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.ID, &e.WalletID, &e.Type, &e.Amount, &e.BalanceBefore,
			&e.BalanceAfter, &e.Reason, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
