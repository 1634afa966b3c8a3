package health

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("empty registry should be healthy")
	}
	if len(statuses) != 0 {
		t.Fatalf("expected 0 statuses, got %d", len(statuses))
	}
}

func TestRegistryAggregates(t *testing.T) {
	r := NewRegistry()
	r.Register("postgres", func(_ context.Context) Status {
		return Status{Name: "postgres", Healthy: true}
	})
	r.Register("kafka", func(_ context.Context) Status {
		return Status{Name: "kafka", Healthy: true, Detail: "3 brokers"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if !healthy {
		t.Fatal("all-healthy registry should report healthy")
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
}

func TestRegistryOneUnhealthyFailsAggregate(t *testing.T) {
	r := NewRegistry()
	r.Register("postgres", func(_ context.Context) Status {
		return Status{Name: "postgres", Healthy: true}
	})
	r.Register("kafka", func(_ context.Context) Status {
		return Status{Name: "kafka", Healthy: false, Detail: "connection refused"}
	})

	healthy, statuses := r.CheckAll(context.Background())
	if healthy {
		t.Fatal("registry with unhealthy checker should report unhealthy")
	}
	if statuses[1].Detail != "connection refused" {
		t.Fatalf("expected detail 'connection refused', got %q", statuses[1].Detail)
	}
}

func TestDatabaseChecker(t *testing.T) {
	ok := DatabaseChecker("postgres", func(_ context.Context) error { return nil })
	s := ok(context.Background())
	if !s.Healthy || s.Name != "postgres" {
		t.Fatalf("unexpected status %+v", s)
	}

	bad := DatabaseChecker("postgres", func(_ context.Context) error {
		return errors.New("dial tcp: refused")
	})
	s = bad(context.Background())
	if s.Healthy {
		t.Fatal("failed ping should be unhealthy")
	}
	if s.Detail != "dial tcp: refused" {
		t.Fatalf("expected ping error as detail, got %q", s.Detail)
	}
}

func TestRegistryConcurrentRegisterAndCheck(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Register("checker", func(_ context.Context) Status {
				return Status{Name: "checker", Healthy: true}
			})
		}()
	}

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.CheckAll(context.Background())
		}()
	}

	wg.Wait()
}
