package queue

import (
	"context"
	"testing"
	"time"

	"polyswarm/internal/model"
)

func event(id string) model.TradeEvent {
	return model.TradeEvent{MarketID: id, Title: "t", Timestamp: time.Now()}
}

func TestOfferTakeFIFO(t *testing.T) {
	q := New(4)
	for _, id := range []string{"a", "b", "c"} {
		if !q.Offer(event(id)) {
			t.Fatalf("offer %s should succeed", id)
		}
	}

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		ev, err := q.Take(ctx)
		if err != nil {
			t.Fatalf("take: %v", err)
		}
		if ev.MarketID != want {
			t.Fatalf("expected %s, got %s", want, ev.MarketID)
		}
	}
}

func TestOfferDropsNewestWhenFull(t *testing.T) {
	q := New(2)
	if !q.Offer(event("a")) || !q.Offer(event("b")) {
		t.Fatal("offers within capacity should succeed")
	}
	if q.Offer(event("c")) {
		t.Fatal("offer to a full queue should report a drop")
	}
	if q.Dropped() != 1 {
		t.Fatalf("expected 1 drop, got %d", q.Dropped())
	}

	ev, err := q.Take(context.Background())
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if ev.MarketID != "a" {
		t.Fatalf("oldest event should survive a drop, got %s", ev.MarketID)
	}
}

func TestTakeHonoursCancellation(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Take(ctx); err == nil {
		t.Fatal("take on an empty queue should return after cancellation")
	}
}
