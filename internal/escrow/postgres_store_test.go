//go:build integration

package escrow

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/tradewind/settlement/internal/ledger"
	"github.com/tradewind/settlement/internal/testutil"
)

func setupPostgres(t *testing.T) (*PostgresStore, *sql.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.Truncate(t, db,
		"escrows", "shipments", "disputes", "dispute_events", "payouts",
		"ledger_entries", "audit_log", "orders", "wallets")
	seed(t, db)
	return NewPostgresStore(db), db
}

func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, q := range []string{
		`INSERT INTO wallets (id, account_id, balance) VALUES ('wal_buyer', 'acc_buyer', 50000)`,
		`INSERT INTO wallets (id, account_id, balance) VALUES ('wal_seller', 'acc_seller', 0)`,
		`INSERT INTO orders (id, buyer_id, supplier_id, total_amount, status)
		 VALUES ('ord_pg1', 'buyer1', 'sup1', 10000, 'PAID')`,
	} {
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func lockEscrow(t *testing.T, store *PostgresStore) *Escrow {
	t.Helper()
	e := &Escrow{
		ID: "esc_pg1", OrderID: "ord_pg1",
		BuyerWalletID: "wal_buyer", BeneficiaryWalletID: "wal_seller",
		TotalAmount: 10000, PlatformFeeAmount: 520, Status: StatusLocked,
	}
	if err := store.Create(context.Background(), e, nil, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return e
}

func TestPostgresCreateIsIdempotentPerOrder(t *testing.T) {
	store, _ := setupPostgres(t)
	lockEscrow(t, store)

	dup := &Escrow{
		ID: "esc_pg2", OrderID: "ord_pg1",
		BuyerWalletID: "wal_buyer", BeneficiaryWalletID: "wal_seller",
		TotalAmount: 10000, PlatformFeeAmount: 520, Status: StatusLocked,
	}
	err := store.Create(context.Background(), dup, nil, nil)
	if !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	got, err := store.GetByOrder(context.Background(), "ord_pg1")
	if err != nil {
		t.Fatalf("GetByOrder: %v", err)
	}
	if got.ID != "esc_pg1" {
		t.Fatalf("first escrow must survive, got %s", got.ID)
	}
}

func TestPostgresReleaseCreditsOnceOnly(t *testing.T) {
	store, db := setupPostgres(t)
	lockEscrow(t, store)
	ctx := context.Background()

	posting := ledger.Posting{
		WalletID: "wal_seller", Type: ledger.TypePayout, Amount: 9480, Reason: "escrow release",
	}
	released, err := store.Release(ctx, "esc_pg1", 9480, "delivery confirmed", posting, nil)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Status != StatusReleased || released.ReleasedAmount != 9480 {
		t.Fatalf("unexpected release result: %+v", released)
	}

	var balance int64
	if err := db.QueryRow(`SELECT balance FROM wallets WHERE id = 'wal_seller'`).Scan(&balance); err != nil {
		t.Fatalf("scan balance: %v", err)
	}
	if balance != 9480 {
		t.Fatalf("expected seller balance 9480, got %d", balance)
	}

	_, err = store.Release(ctx, "esc_pg1", 9480, "again", posting, nil)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second release must conflict, got %v", err)
	}
	if err := db.QueryRow(`SELECT balance FROM wallets WHERE id = 'wal_seller'`).Scan(&balance); err != nil {
		t.Fatalf("scan balance: %v", err)
	}
	if balance != 9480 {
		t.Fatalf("failed release must not credit again, got %d", balance)
	}
}

func TestPostgresRefundBoundEnforced(t *testing.T) {
	store, _ := setupPostgres(t)
	lockEscrow(t, store)
	ctx := context.Background()

	refundPosting := func(amount int64) ledger.Posting {
		return ledger.Posting{
			WalletID: "wal_buyer", Type: ledger.TypeRefund, Amount: amount, Reason: "escrow refund",
		}
	}

	partial, err := store.Refund(ctx, "esc_pg1", 3000, refundPosting(3000), nil)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if partial.Status != StatusPartiallyRefunded || partial.RefundedAmount != 3000 {
		t.Fatalf("unexpected partial refund: %+v", partial)
	}

	_, err = store.Refund(ctx, "esc_pg1", 8000, refundPosting(8000), nil)
	if !errors.Is(err, ErrRefundExceedsTotal) {
		t.Fatalf("expected ErrRefundExceedsTotal, got %v", err)
	}

	full, err := store.Refund(ctx, "esc_pg1", 7000, refundPosting(7000), nil)
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if full.Status != StatusRefunded || full.RefundedAmount != 10000 {
		t.Fatalf("unexpected full refund: %+v", full)
	}
}
