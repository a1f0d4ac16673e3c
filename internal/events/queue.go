package events

// Queue is a bounded FIFO of events awaiting delivery. Push evicts the
// oldest entry when full; Offer refuses instead. Both are safe for
// concurrent use, as is draining via the exposed channel.
type Queue struct {
	entries chan *Event
}

func newQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{entries: make(chan *Event, capacity)}
}

// Push enqueues the event, evicting the oldest queued entry if the queue is
// full. It reports whether an entry was evicted.
func (q *Queue) Push(event *Event) bool {
	evicted := false
	for {
		select {
		case q.entries <- event:
			return evicted
		default:
		}
		select {
		case <-q.entries:
			evicted = true
		default:
		}
	}
}

// Offer enqueues the event only if there is room, reporting success.
func (q *Queue) Offer(event *Event) bool {
	select {
	case q.entries <- event:
		return true
	default:
		return false
	}
}

// Events exposes the receive side for select loops.
func (q *Queue) Events() <-chan *Event {
	return q.entries
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Drain removes and returns all currently queued entries.
func (q *Queue) Drain() []*Event {
	drained := make([]*Event, 0, len(q.entries))
	for {
		select {
		case event := <-q.entries:
			drained = append(drained, event)
		default:
			return drained
		}
	}
}
