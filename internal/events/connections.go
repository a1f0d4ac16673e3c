package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stream is one live connection's view of the event bus: an opaque id, the
// event type it subscribed to, a bounded delivery queue, and a Done channel
// that fires when the stream is removed or evicted.
type Stream struct {
	id          string
	userID      int64
	eventType   string
	queue       *Queue
	connectedAt time.Time
	done        chan struct{}
	closeOnce   sync.Once
}

// ID returns the opaque stream identifier.
func (s *Stream) ID() string { return s.id }

// UserID returns the owning user.
func (s *Stream) UserID() int64 { return s.userID }

// EventType returns the subscribed event type.
func (s *Stream) EventType() string { return s.eventType }

// Events exposes the stream's delivery queue for select loops.
func (s *Stream) Events() <-chan *Event { return s.queue.Events() }

// Done fires when the stream has been removed from the connection manager.
func (s *Stream) Done() <-chan struct{} { return s.done }

func (s *Stream) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// ConnectionManager tracks live per-user streams and enforces the per-user
// connection cap by evicting the oldest stream. All mutations go through a
// single mutex; reads copy snapshots out before releasing it.
type ConnectionManager struct {
	mu            sync.Mutex
	maxPerUser    int
	queueCapacity int
	clock         func() time.Time
	users         map[int64]map[string]*Stream
	typeUsers     map[string]map[int64]struct{}
}

// NewConnectionManager constructs a manager enforcing maxPerUser streams per
// user, each backed by a queue of queueCapacity events.
func NewConnectionManager(maxPerUser, queueCapacity int, clock func() time.Time) *ConnectionManager {
	if maxPerUser <= 0 {
		maxPerUser = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &ConnectionManager{
		maxPerUser:    maxPerUser,
		queueCapacity: queueCapacity,
		clock:         clock,
		users:         make(map[int64]map[string]*Stream),
		typeUsers:     make(map[string]map[int64]struct{}),
	}
}

// Add allocates a new stream for the user. When the user is already at the
// cap, the oldest stream is evicted first; eviction is a side effect, not a
// rejection. The evicted stream id is returned for logging, empty otherwise.
func (m *ConnectionManager) Add(userID int64, eventType string) (*Stream, string) {
	stream := &Stream{
		id:        uuid.NewString(),
		userID:    userID,
		eventType: eventType,
		queue:     newQueue(m.queueCapacity),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	evictedID := ""
	var evicted *Stream
	if len(m.users[userID]) >= m.maxPerUser {
		evicted = m.oldestLocked(userID)
		if evicted != nil {
			evictedID = evicted.id
			m.removeLocked(userID, evicted.id)
		}
	}
	if m.users[userID] == nil {
		m.users[userID] = make(map[string]*Stream)
	}
	stream.connectedAt = m.clock()
	m.users[userID][stream.id] = stream
	if m.typeUsers[eventType] == nil {
		m.typeUsers[eventType] = make(map[int64]struct{})
	}
	m.typeUsers[eventType][userID] = struct{}{}
	m.mu.Unlock()

	if evicted != nil {
		evicted.close()
	}
	return stream, evictedID
}

// Remove drops one stream, reporting whether it was still tracked. Removing
// an unknown or already-removed stream is a no-op, so disconnect paths may
// call it unconditionally.
func (m *ConnectionManager) Remove(userID int64, streamID string) bool {
	m.mu.Lock()
	removed := m.removeLocked(userID, streamID)
	m.mu.Unlock()
	if removed != nil {
		removed.close()
		return true
	}
	return false
}

// RemoveAll drops every stream the user holds and returns the count. Used on
// forced logout and shutdown.
func (m *ConnectionManager) RemoveAll(userID int64) int {
	m.mu.Lock()
	streams := m.users[userID]
	closing := make([]*Stream, 0, len(streams))
	for id := range streams {
		if removed := m.removeLocked(userID, id); removed != nil {
			closing = append(closing, removed)
		}
	}
	m.mu.Unlock()
	for _, stream := range closing {
		stream.close()
	}
	return len(closing)
}

// StreamsFor snapshots the user's live streams subscribed to eventType. The
// snapshot is copied out under the lock, so callers may iterate it while
// connections churn.
func (m *ConnectionManager) StreamsFor(userID int64, eventType string) []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	streams := make([]*Stream, 0, len(m.users[userID]))
	for _, stream := range m.users[userID] {
		if stream.eventType == eventType {
			streams = append(streams, stream)
		}
	}
	return streams
}

// HasConnections reports whether the user holds any live stream.
func (m *ConnectionManager) HasConnections(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users[userID]) > 0
}

// UsersWithOpenType snapshots the users holding at least one stream
// subscribed to eventType. Producers use it to skip known-offline targets.
func (m *ConnectionManager) UsersWithOpenType(eventType string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]int64, 0, len(m.typeUsers[eventType]))
	for userID := range m.typeUsers[eventType] {
		users = append(users, userID)
	}
	return users
}

// ActiveUsers snapshots every user with at least one live stream.
func (m *ConnectionManager) ActiveUsers() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]int64, 0, len(m.users))
	for userID := range m.users {
		users = append(users, userID)
	}
	return users
}

func (m *ConnectionManager) oldestLocked(userID int64) *Stream {
	var oldest *Stream
	for _, stream := range m.users[userID] {
		if oldest == nil || stream.connectedAt.Before(oldest.connectedAt) {
			oldest = stream
		}
	}
	return oldest
}

func (m *ConnectionManager) removeLocked(userID int64, streamID string) *Stream {
	streams := m.users[userID]
	stream, ok := streams[streamID]
	if !ok {
		return nil
	}
	delete(streams, streamID)
	if len(streams) == 0 {
		delete(m.users, userID)
	}
	if !m.userHasTypeLocked(userID, stream.eventType) {
		delete(m.typeUsers[stream.eventType], userID)
		if len(m.typeUsers[stream.eventType]) == 0 {
			delete(m.typeUsers, stream.eventType)
		}
	}
	return stream
}

func (m *ConnectionManager) userHasTypeLocked(userID int64, eventType string) bool {
	for _, stream := range m.users[userID] {
		if stream.eventType == eventType {
			return true
		}
	}
	return false
}
