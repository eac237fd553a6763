package memory

import (
	"context"
	"testing"
	"time"

	"live-quiz-service/internal/domain"
)

func TestGrantStoreCompletionUnique(t *testing.T) {
	store := NewGrantStore()
	ctx := context.Background()
	now := time.Now()

	first := domain.RewardGrant{ID: "g1", ParticipantID: "p1", SessionID: "s-1", SessionCode: "ABC234", Amount: 20, Source: domain.GrantCompletion, GrantedAt: now}
	stored, inserted, err := store.Record(ctx, first)
	if err != nil || !inserted || stored.ID != "g1" {
		t.Fatalf("first record: %+v %v %v", stored, inserted, err)
	}

	second := first
	second.ID = "g2"
	stored, inserted, err = store.Record(ctx, second)
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if inserted || stored.ID != "g1" {
		t.Fatalf("expected existing grant returned, got %+v inserted=%v", stored, inserted)
	}

	// same code, later session instance
	rehosted := first
	rehosted.ID = "g5"
	rehosted.SessionID = "s-2"
	if _, inserted, err := store.Record(ctx, rehosted); err != nil || !inserted {
		t.Fatalf("completion in a new session under the same code: inserted=%v err=%v", inserted, err)
	}

	wheel := domain.RewardGrant{ID: "g3", ParticipantID: "p1", Amount: 0, Source: domain.GrantWheel, GrantedAt: now}
	if _, inserted, _ := store.Record(ctx, wheel); !inserted {
		t.Fatalf("wheel grant should be recorded")
	}
	wheel.ID = "g4"
	if _, inserted, _ := store.Record(ctx, wheel); !inserted {
		t.Fatalf("every spin gets its own grant")
	}

	grants, _ := store.List(ctx, "p1")
	if len(grants) != 4 {
		t.Fatalf("expected 4 grants, got %d", len(grants))
	}
}
