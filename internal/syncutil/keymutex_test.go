package syncutil

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyMutexMutualExclusion(t *testing.T) {
	m := NewKeyMutex()
	ctx := context.Background()

	var counter int
	var wg sync.WaitGroup
	const n = 100

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "ord_1")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
}

func TestKeyMutexContextCancellation(t *testing.T) {
	m := NewKeyMutex()

	unlock, err := m.Lock(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := m.Lock(ctx, "ord_1"); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}
