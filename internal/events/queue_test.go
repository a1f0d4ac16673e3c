package events

import "testing"

func TestQueuePreservesFIFOOrder(t *testing.T) {
	queue := newQueue(3)
	first := &Event{ID: 1}
	second := &Event{ID: 2}
	third := &Event{ID: 3}

	for _, event := range []*Event{first, second, third} {
		if evicted := queue.Push(event); evicted {
			t.Fatalf("unexpected eviction pushing event %d", event.ID)
		}
	}

	for _, want := range []int64{1, 2, 3} {
		got := <-queue.Events()
		if got.ID != want {
			t.Fatalf("expected event %d, got %d", want, got.ID)
		}
	}
}

func TestQueuePushEvictsOldestWhenFull(t *testing.T) {
	queue := newQueue(2)
	queue.Push(&Event{ID: 1})
	queue.Push(&Event{ID: 2})

	if evicted := queue.Push(&Event{ID: 3}); !evicted {
		t.Fatal("expected push on full queue to evict")
	}

	drained := queue.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected 2 queued events, got %d", len(drained))
	}
	if drained[0].ID != 2 || drained[1].ID != 3 {
		t.Fatalf("expected oldest event dropped, got ids %d and %d", drained[0].ID, drained[1].ID)
	}
}

func TestQueueOfferRefusesWhenFull(t *testing.T) {
	queue := newQueue(1)
	if !queue.Offer(&Event{ID: 1}) {
		t.Fatal("expected offer on empty queue to succeed")
	}
	if queue.Offer(&Event{ID: 2}) {
		t.Fatal("expected offer on full queue to fail")
	}
	if queue.Len() != 1 {
		t.Fatalf("expected 1 queued event, got %d", queue.Len())
	}
	if remaining := queue.Drain(); len(remaining) != 1 || remaining[0].ID != 1 {
		t.Fatalf("expected the original event to survive, got %#v", remaining)
	}
}
