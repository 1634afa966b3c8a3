package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryLogAppendAndFind(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := log.Log(ctx, &Entry{
			ActorID:    "fin1",
			ActorRole:  "FINANCE",
			Action:     "ESCROW_RELEASE",
			TargetType: "ESCROW",
			TargetID:   "esc_abc",
			Before:     Snapshot(map[string]string{"status": "LOCKED"}),
			After:      Snapshot(map[string]string{"status": "RELEASED"}),
		})
		if err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	log.Append(&Entry{ActorID: "ops1", Action: "DISPUTE_RESOLVE", TargetType: "DISPUTE", TargetID: "dsp_x"})

	got, err := log.Find(ctx, Query{TargetType: "ESCROW"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 escrow entries, got %d", len(got))
	}
	// Descending order, IDs assigned sequentially.
	if got[0].ID <= got[1].ID {
		t.Fatalf("expected newest-first ordering, got ids %d, %d", got[0].ID, got[1].ID)
	}

	got, err = log.Find(ctx, Query{ActorID: "ops1"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 1 || got[0].Action != "DISPUTE_RESOLVE" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestFindTimeWindow(t *testing.T) {
	log := NewMemoryLog()
	log.Append(&Entry{ActorID: "a", Action: "X", TargetType: "T", TargetID: "1"})

	future := time.Now().Add(time.Hour)
	got, err := log.Find(context.Background(), Query{From: future})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries after %v, got %d", future, len(got))
	}
}

func TestSnapshot(t *testing.T) {
	if string(Snapshot(nil)) != "{}" {
		t.Fatal("nil snapshot should be {}")
	}

	raw := Snapshot(struct {
		Status string `json:"status"`
	}{Status: "LOCKED"})

	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if m["status"] != "LOCKED" {
		t.Fatalf("unexpected snapshot %s", raw)
	}
}
