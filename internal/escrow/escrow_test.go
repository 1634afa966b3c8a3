package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tradewind/settlement/internal/actor"
	"github.com/tradewind/settlement/internal/audit"
	"github.com/tradewind/settlement/internal/events"
	"github.com/tradewind/settlement/internal/ledger"
)

type stubConfirmer struct {
	confirmed map[string]bool
}

func (s *stubConfirmer) IsDeliveryConfirmed(_ context.Context, orderID string) (bool, error) {
	return s.confirmed[orderID], nil
}

type fixture struct {
	service   *Service
	ledger    *ledger.MemoryStore
	auditLog  *audit.MemoryLog
	confirmer *stubConfirmer
	publisher *events.MemoryPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	auditLog := audit.NewMemoryLog()
	ls := ledger.NewMemoryStore(auditLog)
	store := NewMemoryStore(ls, auditLog)
	confirmer := &stubConfirmer{confirmed: make(map[string]bool)}
	publisher := events.NewMemoryPublisher()
	svc := NewService(store, confirmer, publisher, 520, true)

	for _, id := range []string{"wal_buyer", "wal_supplier"} {
		if err := ls.CreateWallet(context.Background(), &ledger.Wallet{ID: id, AccountID: "acc_" + id}); err != nil {
			t.Fatalf("CreateWallet(%s): %v", id, err)
		}
	}
	return &fixture{service: svc, ledger: ls, auditLog: auditLog, confirmer: confirmer, publisher: publisher}
}

func financeCtx() context.Context {
	return actor.WithActor(context.Background(), actor.Actor{ID: "fin1", Role: actor.RoleFinance})
}

func opsCtx() context.Context {
	return actor.WithActor(context.Background(), actor.Actor{ID: "ops1", Role: actor.RoleOps})
}

func lockParams(orderID string, total, fee int64) LockParams {
	return LockParams{
		OrderID:             orderID,
		BuyerWalletID:       "wal_buyer",
		BeneficiaryWalletID: "wal_supplier",
		TotalAmount:         total,
		PlatformFee:         fee,
	}
}

func TestLockIsIdempotentPerOrder(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()

	e, err := f.service.Lock(ctx, lockParams("ord_1", 10000, 500))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if e.Status != StatusLocked || e.PlatformFeeAmount != 500 {
		t.Fatalf("unexpected escrow: %+v", e)
	}

	if _, err := f.service.Lock(ctx, lockParams("ord_1", 10000, 500)); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
}

func TestLockComputesFeeFromBps(t *testing.T) {
	f := newFixture(t)

	e, err := f.service.Lock(financeCtx(), lockParams("ord_1", 10000, 0))
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// 520 bps of 10000.
	if e.PlatformFeeAmount != 520 {
		t.Fatalf("fee = %d, want 520", e.PlatformFeeAmount)
	}
}

func TestReleaseRequiresDeliveryConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()
	e, _ := f.service.Lock(ctx, lockParams("ord_1", 10000, 500))

	if _, err := f.service.Release(ctx, e.ID, "settled"); !errors.Is(err, ErrDeliveryNotConfirmed) {
		t.Fatalf("expected ErrDeliveryNotConfirmed, got %v", err)
	}
	got, _ := f.service.Get(ctx, e.ID)
	if got.Status != StatusLocked {
		t.Fatalf("escrow status changed on rejected release: %s", got.Status)
	}
}

func TestReleaseCreditsBeneficiaryNetOfFee(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()
	e, _ := f.service.Lock(ctx, lockParams("ord_1", 10000, 500))
	f.confirmer.confirmed["ord_1"] = true

	released, err := f.service.Release(ctx, e.ID, "delivery confirmed")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Status != StatusReleased || released.ReleasedAmount != 9500 {
		t.Fatalf("unexpected release result: %+v", released)
	}

	w, _ := f.ledger.GetWallet(ctx, "wal_supplier")
	if w.Balance != 9500 {
		t.Fatalf("supplier balance = %d, want 9500", w.Balance)
	}

	// Second release must conflict and leave the ledger untouched.
	if _, err := f.service.Release(ctx, e.ID, "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	entries, _ := f.ledger.Entries(ctx, "wal_supplier", 0)
	if len(entries) != 1 || entries[0].Type != ledger.TypePayout {
		t.Fatalf("expected exactly one PAYOUT entry, got %+v", entries)
	}
}

func TestReleaseRequiresFinanceActor(t *testing.T) {
	f := newFixture(t)
	e, _ := f.service.Lock(financeCtx(), lockParams("ord_1", 10000, 500))
	f.confirmer.confirmed["ord_1"] = true

	if _, err := f.service.Release(opsCtx(), e.ID, "note"); !errors.Is(err, actor.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestPartialThenFullRefund(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()
	e, _ := f.service.Lock(ctx, lockParams("ord_1", 10000, 500))

	first, err := f.service.Refund(ctx, e.ID, 3000, "item damaged")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if first.Status != StatusPartiallyRefunded || first.RefundedAmount != 3000 {
		t.Fatalf("unexpected partial refund: %+v", first)
	}
	w, _ := f.ledger.GetWallet(ctx, "wal_buyer")
	if w.Balance != 3000 {
		t.Fatalf("buyer balance = %d, want 3000", w.Balance)
	}

	// Refunding beyond the remainder is rejected without movement.
	if _, err := f.service.Refund(ctx, e.ID, 8000, "too much"); !errors.Is(err, ErrRefundExceedsTotal) {
		t.Fatalf("expected ErrRefundExceedsTotal, got %v", err)
	}

	second, err := f.service.Refund(ctx, e.ID, 7000, "order cancelled")
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if second.Status != StatusRefunded || second.RefundedAmount != 10000 {
		t.Fatalf("unexpected full refund: %+v", second)
	}

	// Terminal: no further refund or release.
	if _, err := f.service.Refund(ctx, e.ID, 1, "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after full refund, got %v", err)
	}
}

func TestReleaseAfterPartialRefundPaysRemainder(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()
	e, _ := f.service.Lock(ctx, lockParams("ord_1", 10000, 500))
	f.confirmer.confirmed["ord_1"] = true

	if _, err := f.service.Refund(ctx, e.ID, 3000, "partial dispute settlement"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	released, err := f.service.Release(ctx, e.ID, "remainder to supplier")
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.ReleasedAmount != 6500 {
		t.Fatalf("released = %d, want 6500", released.ReleasedAmount)
	}
	w, _ := f.ledger.GetWallet(ctx, "wal_supplier")
	if w.Balance != 6500 {
		t.Fatalf("supplier balance = %d, want 6500", w.Balance)
	}
}

func TestWalletFundedLockDebitsBuyer(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()
	if _, err := f.ledger.Append(ctx, ledger.Posting{
		WalletID: "wal_buyer", Type: ledger.TypeDeposit, Amount: 20000, Reason: "seed",
	}, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	p := lockParams("ord_1", 10000, 500)
	p.FundFromWallet = true
	e, err := f.service.Lock(ctx, p)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	w, _ := f.ledger.GetWallet(ctx, "wal_buyer")
	if w.Balance != 10000 {
		t.Fatalf("buyer balance = %d, want 10000", w.Balance)
	}

	// Refund of a wallet-funded escrow reverses the lock as ESCROW_RELEASE.
	if _, err := f.service.Refund(ctx, e.ID, 10000, "order cancelled"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	entries, _ := f.ledger.Entries(ctx, "wal_buyer", 1)
	if entries[0].Type != ledger.TypeEscrowRelease {
		t.Fatalf("expected ESCROW_RELEASE entry, got %s", entries[0].Type)
	}
	w, _ = f.ledger.GetWallet(ctx, "wal_buyer")
	if w.Balance != 20000 {
		t.Fatalf("buyer balance = %d, want 20000", w.Balance)
	}
}

func TestWalletFundedLockRejectsInsufficientFunds(t *testing.T) {
	f := newFixture(t)

	p := lockParams("ord_1", 10000, 500)
	p.FundFromWallet = true
	if _, err := f.service.Lock(financeCtx(), p); !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	// The failed lock must not leave an escrow behind.
	if _, err := f.service.GetByOrder(context.Background(), "ord_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("escrow created despite failed funding: %v", err)
	}
}

func TestConcurrentReleaseExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()
	e, _ := f.service.Lock(ctx, lockParams("ord_1", 10000, 500))
	f.confirmer.confirmed["ord_1"] = true

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := f.service.Release(ctx, e.ID, "race")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != n-1 {
		t.Fatalf("wins = %d, conflicts = %d", wins, conflicts)
	}

	entries, _ := f.ledger.Entries(ctx, "wal_supplier", 0)
	if len(entries) != 1 {
		t.Fatalf("expected one PAYOUT entry, got %d", len(entries))
	}
}

func TestResolutionPathsSkipActorChecksOnly(t *testing.T) {
	f := newFixture(t)
	ctx := actor.WithActor(context.Background(), actor.System)
	e, _ := f.service.Lock(financeCtx(), lockParams("ord_1", 10000, 500))

	// Resolution release works without delivery confirmation or finance role.
	released, err := f.service.ReleaseForResolution(ctx, e.ID, "dispute resolved for supplier")
	if err != nil {
		t.Fatalf("ReleaseForResolution: %v", err)
	}
	if released.Status != StatusReleased {
		t.Fatalf("status = %s, want RELEASED", released.Status)
	}

	// The double-release guard still applies.
	if _, err := f.service.ReleaseForResolution(ctx, e.ID, "again"); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestMutationsAreAudited(t *testing.T) {
	f := newFixture(t)
	ctx := financeCtx()
	e, _ := f.service.Lock(ctx, lockParams("ord_1", 10000, 500))
	f.confirmer.confirmed["ord_1"] = true
	if _, err := f.service.Release(ctx, e.ID, "ok"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	var actions []string
	for _, a := range f.auditLog.Entries() {
		actions = append(actions, a.Action)
	}
	if len(actions) != 2 || actions[0] != "ESCROW_LOCK" || actions[1] != "ESCROW_RELEASE" {
		t.Fatalf("audit actions = %v", actions)
	}

	if got := len(f.publisher.ByType(events.EscrowReleased)); got != 1 {
		t.Fatalf("expected 1 release event, got %d", got)
	}
}
