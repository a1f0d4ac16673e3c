package events

import (
	"testing"
	"time"
)

func testClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func TestConnectionManagerEvictsOldestAtCap(t *testing.T) {
	manager := NewConnectionManager(2, 8, testClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)))

	first, evicted := manager.Add(7, EventTypeSystemNotice)
	if evicted != "" {
		t.Fatalf("unexpected eviction on first add: %s", evicted)
	}
	second, _ := manager.Add(7, EventTypeSystemNotice)
	third, evicted := manager.Add(7, EventTypeSystemNotice)
	if evicted != first.ID() {
		t.Fatalf("expected first stream %s evicted, got %q", first.ID(), evicted)
	}

	select {
	case <-first.Done():
	default:
		t.Fatal("evicted stream must observe Done")
	}

	streams := manager.StreamsFor(7, EventTypeSystemNotice)
	if len(streams) != 2 {
		t.Fatalf("expected 2 live streams, got %d", len(streams))
	}
	for _, stream := range streams {
		if stream.ID() == first.ID() {
			t.Fatal("evicted stream still tracked")
		}
	}
	if second.ID() == third.ID() {
		t.Fatal("stream ids must be unique")
	}
}

func TestConnectionManagerRemoveIsIdempotent(t *testing.T) {
	manager := NewConnectionManager(4, 8, nil)
	stream, _ := manager.Add(1, EventTypeSystemNotice)

	if !manager.Remove(1, stream.ID()) {
		t.Fatal("expected first remove to report removal")
	}
	if manager.Remove(1, stream.ID()) {
		t.Fatal("expected second remove to be a no-op")
	}
	if manager.HasConnections(1) {
		t.Fatal("user entry must be dropped with its last connection")
	}
}

func TestConnectionManagerRemoveAllClosesEveryStream(t *testing.T) {
	manager := NewConnectionManager(4, 8, nil)
	first, _ := manager.Add(5, EventTypeSystemNotice)
	second, _ := manager.Add(5, EventTypeTaskCompleted)

	if removed := manager.RemoveAll(5); removed != 2 {
		t.Fatalf("expected 2 removed streams, got %d", removed)
	}
	for _, stream := range []*Stream{first, second} {
		select {
		case <-stream.Done():
		default:
			t.Fatalf("stream %s not closed by RemoveAll", stream.ID())
		}
	}
	if len(manager.ActiveUsers()) != 0 {
		t.Fatal("expected no active users after RemoveAll")
	}
}

func TestConnectionManagerStreamsForFiltersByType(t *testing.T) {
	manager := NewConnectionManager(4, 8, nil)
	notice, _ := manager.Add(9, EventTypeSystemNotice)
	manager.Add(9, EventTypeTaskCompleted)

	streams := manager.StreamsFor(9, EventTypeSystemNotice)
	if len(streams) != 1 || streams[0].ID() != notice.ID() {
		t.Fatalf("expected only the system-notice stream, got %d streams", len(streams))
	}
}

func TestConnectionManagerTracksUsersWithOpenType(t *testing.T) {
	manager := NewConnectionManager(4, 8, nil)
	first, _ := manager.Add(11, EventTypeSystemNotice)
	manager.Add(11, EventTypeSystemNotice)
	manager.Add(12, EventTypeTaskCompleted)

	users := manager.UsersWithOpenType(EventTypeSystemNotice)
	if len(users) != 1 || users[0] != 11 {
		t.Fatalf("expected user 11 open for system-notice, got %v", users)
	}

	// One of two same-type streams removed: the user stays subscribed.
	manager.Remove(11, first.ID())
	if users := manager.UsersWithOpenType(EventTypeSystemNotice); len(users) != 1 {
		t.Fatalf("expected user 11 still subscribed, got %v", users)
	}

	manager.RemoveAll(11)
	if users := manager.UsersWithOpenType(EventTypeSystemNotice); len(users) != 0 {
		t.Fatalf("expected no subscribers left, got %v", users)
	}
}
