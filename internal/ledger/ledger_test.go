package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/tradewind/settlement/internal/audit"
)

func newTestStore(t *testing.T) (*MemoryStore, *audit.MemoryLog) {
	t.Helper()
	log := audit.NewMemoryLog()
	return NewMemoryStore(log), log
}

func mustWallet(t *testing.T, s *MemoryStore, id string, balance int64) {
	t.Helper()
	if err := s.CreateWallet(context.Background(), &Wallet{ID: id, AccountID: "acc_" + id}); err != nil {
		t.Fatalf("CreateWallet(%s): %v", id, err)
	}
	if balance > 0 {
		if _, err := s.Append(context.Background(), Posting{
			WalletID: id, Type: TypeDeposit, Amount: balance, Reason: "seed",
		}, nil); err != nil {
			t.Fatalf("seed deposit: %v", err)
		}
	}
}

func TestAppendRecordsBeforeAfter(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustWallet(t, s, "w1", 10000)

	e, err := s.Append(ctx, Posting{WalletID: "w1", Type: TypeWithdrawal, Amount: -2500, Reason: "payout pay_1"}, nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.BalanceBefore != 10000 || e.BalanceAfter != 7500 {
		t.Fatalf("before/after = %d/%d, want 10000/7500", e.BalanceBefore, e.BalanceAfter)
	}

	w, err := s.GetWallet(ctx, "w1")
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if w.Balance != 7500 {
		t.Fatalf("balance = %d, want 7500", w.Balance)
	}
}

func TestAppendRejectsOverdraft(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustWallet(t, s, "w1", 0)

	_, err := s.Append(ctx, Posting{WalletID: "w1", Type: TypeWithdrawal, Amount: -1000, Reason: "payout"}, nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	w, _ := s.GetWallet(ctx, "w1")
	if w.Balance != 0 {
		t.Fatalf("balance changed on rejected append: %d", w.Balance)
	}
	if got := len(mustEntries(t, s, "w1")); got != 0 {
		t.Fatalf("rejected append produced %d entries", got)
	}
}

func TestAppendRejectsFrozenWallet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustWallet(t, s, "w1", 5000)

	if err := s.SetWalletStatus(ctx, "w1", WalletFrozen, "chargeback review", nil); err != nil {
		t.Fatalf("SetWalletStatus: %v", err)
	}
	_, err := s.Append(ctx, Posting{WalletID: "w1", Type: TypeDeposit, Amount: 100, Reason: "deposit"}, nil)
	if !errors.Is(err, ErrWalletFrozen) {
		t.Fatalf("expected ErrWalletFrozen, got %v", err)
	}

	// Unfreeze restores appends without touching the balance.
	if err := s.SetWalletStatus(ctx, "w1", WalletActive, "", nil); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if _, err := s.Append(ctx, Posting{WalletID: "w1", Type: TypeDeposit, Amount: 100, Reason: "deposit"}, nil); err != nil {
		t.Fatalf("append after unfreeze: %v", err)
	}
}

func TestAppendValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustWallet(t, s, "w1", 100)

	for _, p := range []Posting{
		{WalletID: "", Type: TypeDeposit, Amount: 10, Reason: "r"},
		{WalletID: "w1", Type: "BOGUS", Amount: 10, Reason: "r"},
		{WalletID: "w1", Type: TypeDeposit, Amount: 0, Reason: "r"},
		{WalletID: "w1", Type: TypeDeposit, Amount: 10, Reason: ""},
	} {
		if _, err := s.Append(ctx, p, nil); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("Append(%+v): expected ErrInvalidEntry, got %v", p, err)
		}
	}

	_, err := s.Append(ctx, Posting{WalletID: "missing", Type: TypeDeposit, Amount: 10, Reason: "r"}, nil)
	if !errors.Is(err, ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestConcurrentAppendsConserveBalance(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	mustWallet(t, s, "w1", 0)

	const n = 50
	var wg sync.WaitGroup
	wg.Add(2 * n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, _ = s.Append(ctx, Posting{WalletID: "w1", Type: TypeDeposit, Amount: 100, Reason: "credit"}, nil)
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Append(ctx, Posting{WalletID: "w1", Type: TypeWithdrawal, Amount: -60, Reason: "debit"}, nil)
		}()
	}
	wg.Wait()

	w, _ := s.GetWallet(ctx, "w1")
	if sum := s.SumEntries("w1"); sum != w.Balance {
		t.Fatalf("ledger conservation violated: balance %d, sum of entries %d", w.Balance, sum)
	}
	if w.Balance < 0 {
		t.Fatalf("balance went negative: %d", w.Balance)
	}

	// Entry chain is consistent: each balance_after equals the next entry's
	// balance_before (entries are returned newest first).
	entries := mustEntries(t, s, "w1")
	for i := 0; i+1 < len(entries); i++ {
		if entries[i].BalanceBefore != entries[i+1].BalanceAfter {
			t.Fatalf("broken balance chain between entries %d and %d", i, i+1)
		}
	}
}

func TestApplyTxAllOrNothing(t *testing.T) {
	s, _ := newTestStore(t)
	mustWallet(t, s, "buyer", 1000)
	mustWallet(t, s, "supplier", 0)

	// Second posting would overdraw the supplier; nothing must be applied.
	_, err := s.ApplyTx([]Posting{
		{WalletID: "supplier", Type: TypePayout, Amount: 500, Reason: "release"},
		{WalletID: "supplier", Type: TypeWithdrawal, Amount: -600, Reason: "bad"},
		{WalletID: "buyer", Type: TypeRefund, Amount: 100, Reason: "refund"},
	}, nil)
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	w, _ := s.GetWallet(context.Background(), "supplier")
	if w.Balance != 0 {
		t.Fatalf("partial ApplyTx applied: supplier balance %d", w.Balance)
	}
	b, _ := s.GetWallet(context.Background(), "buyer")
	if b.Balance != 1000 {
		t.Fatalf("partial ApplyTx applied: buyer balance %d", b.Balance)
	}
}

func TestAuditEntryWrittenWithStatusChange(t *testing.T) {
	s, log := newTestStore(t)
	mustWallet(t, s, "w1", 0)

	err := s.SetWalletStatus(context.Background(), "w1", WalletFrozen, "fraud hold", &audit.Entry{
		ActorID: "fin1", ActorRole: "FINANCE", Action: "WALLET_FREEZE", TargetType: "WALLET", TargetID: "w1",
	})
	if err != nil {
		t.Fatalf("SetWalletStatus: %v", err)
	}
	if got := len(log.Entries()); got != 1 {
		t.Fatalf("expected 1 audit entry, got %d", got)
	}
}

func mustEntries(t *testing.T, s *MemoryStore, walletID string) []*Entry {
	t.Helper()
	entries, err := s.Entries(context.Background(), walletID, 0)
	if err != nil {
		t.Fatalf("Entries: %v", err)
	}
	return entries
}
