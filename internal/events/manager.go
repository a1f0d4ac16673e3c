package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultDispatchQueueSize     = 1000
	defaultStreamQueueSize       = 100
	defaultMaxConnectionsPerUser = 10
	defaultCleanupInterval       = 30 * time.Minute
)

var (
	errMissingStore    = errors.New("events: store is required")
	errMissingRegistry = errors.New("events: registry is required")

	// ErrShuttingDown indicates the manager no longer accepts new streams.
	ErrShuttingDown = errors.New("events: manager is shutting down")
)

// ManagerConfig describes the dependencies and tuning of the event manager.
type ManagerConfig struct {
	Store                 Store
	Registry              *Registry
	Logger                *zap.Logger
	Clock                 func() time.Time
	Metrics               Recorder
	DispatchQueueSize     int
	StreamQueueSize       int
	MaxConnectionsPerUser int
	CleanupInterval       time.Duration
}

// Manager orchestrates the per-user event bus: durable creation, live
// dispatch through a central queue, recovery on connect, read
// acknowledgement, and periodic cleanup of terminal events.
type Manager struct {
	store       Store
	registry    *Registry
	connections *ConnectionManager
	logger      *zap.Logger
	clock       func() time.Time
	metrics     Recorder

	dispatch *Queue

	stop            chan struct{}
	distributorDone chan struct{}
	cleanupDone     chan struct{}
	shutdownOnce    sync.Once
}

// NewManager validates the configuration, purges stale terminal rows left by
// a previous run, and starts the distributor and cleanup workers.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopRecorder{}
	}
	dispatchSize := cfg.DispatchQueueSize
	if dispatchSize <= 0 {
		dispatchSize = defaultDispatchQueueSize
	}
	streamSize := cfg.StreamQueueSize
	if streamSize <= 0 {
		streamSize = defaultStreamQueueSize
	}
	maxPerUser := cfg.MaxConnectionsPerUser
	if maxPerUser <= 0 {
		maxPerUser = defaultMaxConnectionsPerUser
	}
	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}

	m := &Manager{
		store:           cfg.Store,
		registry:        cfg.Registry,
		connections:     NewConnectionManager(maxPerUser, streamSize, clock),
		logger:          logger,
		clock:           clock,
		metrics:         metrics,
		dispatch:        newQueue(dispatchSize),
		stop:            make(chan struct{}),
		distributorDone: make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	// Crash-recovery hygiene: rows already read or expired are deleted, never
	// re-delivered.
	if count, err := m.store.PurgeTerminal(context.Background(), m.clock().UTC()); err != nil {
		logger.Warn("startup purge of terminal events failed", zap.Error(err))
	} else if count > 0 {
		logger.Info("stale events purged on startup", zap.Int64("count", count))
	}

	go m.runDistributor()
	go m.runCleanup(cleanupInterval)

	return m, nil
}

// CreateRequest describes one event to create.
type CreateRequest struct {
	EventType    string
	TargetUserID int64
	Priority     Priority
	// ExpireAfter, when positive, sets the event's expiry relative to now.
	// Zero means the event never expires.
	ExpireAfter time.Duration
	Payload     json.RawMessage
}

// CreateEvent persists the event and, when the target user holds live
// connections, offers it to the dispatch queue. Durability precedes
// delivery: a failed save means no event. Dispatch-queue overflow is not an
// error for the producer; the stored row is recovered on next connect.
func (m *Manager) CreateEvent(ctx context.Context, req CreateRequest) (*Event, error) {
	raw := req.Payload
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}
	if _, err := m.registry.Decode(req.EventType, raw); err != nil {
		return nil, err
	}

	now := m.clock().UTC()
	event := &Event{
		EventType:    req.EventType,
		PayloadJSON:  string(raw),
		TargetUserID: req.TargetUserID,
		Priority:     req.Priority,
		CreatedAt:    now,
	}
	if req.ExpireAfter != 0 {
		expiresAt := now.Add(req.ExpireAfter)
		event.ExpiresAt = &expiresAt
	}

	if err := m.store.Save(ctx, event); err != nil {
		m.logError("create_event", "save_failed", err,
			zap.String("event_type", req.EventType),
			zap.Int64("target_user_id", req.TargetUserID))
		return nil, err
	}
	m.metrics.RecordCreated(ctx, event.EventType)

	// Best effort: a connection opened between this check and the enqueue
	// misses the live push but recovers the stored row on its next connect.
	if m.connections.HasConnections(req.TargetUserID) {
		if !m.dispatch.Offer(event) {
			m.logError("create_event", "dispatch_queue_full", nil,
				zap.Int64("event_id", event.ID),
				zap.String("event_type", event.EventType))
			m.metrics.RecordDropped(ctx, event.EventType, "dispatch-queue")
		}
	} else {
		m.logger.Debug("target offline, event stored for recovery",
			zap.Int64("event_id", event.ID),
			zap.Int64("target_user_id", event.TargetUserID))
	}

	return event, nil
}

// RegisterStream opens a new stream for the user, subject to the per-user
// cap (oldest stream evicted, never rejected), then replays the user's
// pending events of that type into the new stream's queue before live
// traffic resumes.
func (m *Manager) RegisterStream(ctx context.Context, userID int64, eventType string) (*Stream, error) {
	select {
	case <-m.stop:
		return nil, ErrShuttingDown
	default:
	}
	if !m.registry.Has(eventType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	stream, evictedID := m.connections.Add(userID, eventType)
	if evictedID != "" {
		m.logger.Info("oldest connection evicted by per-user cap",
			zap.Int64("user_id", userID),
			zap.String("evicted_stream_id", evictedID))
		// The evicted handler's own UnregisterStream is a no-op by then, so
		// the gauge is decremented here.
		m.metrics.RecordConnections(ctx, -1)
	}
	m.metrics.RecordConnections(ctx, 1)

	pending, err := m.store.FindPending(ctx, userID, eventType, m.clock().UTC())
	if err != nil {
		// The stream stays usable for live traffic; stored rows remain
		// recoverable on the next connect.
		m.logError("register_stream", "recovery_query_failed", err,
			zap.Int64("user_id", userID),
			zap.String("event_type", eventType))
		return stream, nil
	}
	recovered := int64(0)
	for i := range pending {
		event := pending[i]
		if stream.queue.Push(&event) {
			m.metrics.RecordDropped(ctx, event.EventType, "stream-queue")
		}
		recovered++
	}
	if recovered > 0 {
		m.metrics.RecordRecovered(ctx, eventType, recovered)
		m.logger.Debug("pending events recovered",
			zap.Int64("user_id", userID),
			zap.String("event_type", eventType),
			zap.Int64("count", recovered))
	}
	return stream, nil
}

// UnregisterStream removes one stream. Safe to call on every exit path,
// including more than once for the same stream.
func (m *Manager) UnregisterStream(ctx context.Context, userID int64, streamID string) {
	if m.connections.Remove(userID, streamID) {
		m.metrics.RecordConnections(ctx, -1)
	}
}

// MarkRead acknowledges one event. The false result distinguishes "already
// read or not yours" from success; neither is an error.
func (m *Manager) MarkRead(ctx context.Context, eventID, userID int64) (bool, error) {
	updated, err := m.store.MarkRead(ctx, eventID, userID)
	if err != nil {
		m.logError("mark_read", "store_failed", err,
			zap.Int64("event_id", eventID),
			zap.Int64("user_id", userID))
		return false, err
	}
	return updated, nil
}

// MarkReadBatch acknowledges the caller-owned subset of the listed events
// and returns how many rows changed.
func (m *Manager) MarkReadBatch(ctx context.Context, eventIDs []int64, userID int64) (int64, error) {
	updated, err := m.store.MarkReadBatch(ctx, eventIDs, userID)
	if err != nil {
		m.logError("mark_read_batch", "store_failed", err,
			zap.Int64("user_id", userID))
		return 0, err
	}
	return updated, nil
}

// UsersWithOpenType reports users holding at least one live stream for the
// event type, for producers that skip storing side effects for offline
// targets.
func (m *Manager) UsersWithOpenType(eventType string) []int64 {
	return m.connections.UsersWithOpenType(eventType)
}

func (m *Manager) runDistributor() {
	defer close(m.distributorDone)
	for {
		select {
		case <-m.stop:
			return
		case event := <-m.dispatch.Events():
			m.distribute(event)
		}
	}
}

func (m *Manager) distribute(event *Event) {
	// Read or expired since it was enqueued: never push terminal events.
	if event.IsTerminal(m.clock().UTC()) {
		return
	}
	streams := m.connections.StreamsFor(event.TargetUserID, event.EventType)
	delivered := int64(0)
	for _, stream := range streams {
		if stream.queue.Push(event) {
			m.logger.Debug("stream queue full, oldest event dropped",
				zap.String("stream_id", stream.ID()),
				zap.Int64("user_id", event.TargetUserID))
			m.metrics.RecordDropped(context.Background(), event.EventType, "stream-queue")
		}
		delivered++
	}
	if delivered > 0 {
		m.metrics.RecordDelivered(context.Background(), event.EventType, delivered)
	}
}

func (m *Manager) runCleanup(interval time.Duration) {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			// A failed cycle is logged and retried on the next tick.
			m.purgeTerminal(context.Background())
		}
	}
}

func (m *Manager) purgeTerminal(ctx context.Context) {
	count, err := m.store.PurgeTerminal(ctx, m.clock().UTC())
	if err != nil {
		m.logError("cleanup", "purge_failed", err)
		return
	}
	if count > 0 {
		m.logger.Info("terminal events purged", zap.Int64("count", count))
	}
	m.metrics.RecordPurged(ctx, count)
}

// Shutdown stops the workers, closes every live connection, re-persists any
// event still sitting in the dispatch queue, and runs a final cleanup. Each
// wait is bounded by ctx; persistence failures are logged, not fatal.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.logger.Info("shutting down event manager")
		close(m.stop)

		for _, userID := range m.connections.ActiveUsers() {
			closed := m.connections.RemoveAll(userID)
			m.metrics.RecordConnections(ctx, int64(-closed))
		}
		m.logger.Info("all user streams unregistered")

		now := m.clock().UTC()
		for _, event := range m.dispatch.Drain() {
			if event.IsTerminal(now) {
				continue
			}
			if err := m.store.Save(ctx, event); err != nil {
				m.logError("shutdown", "repersist_failed", err, zap.Int64("event_id", event.ID))
			}
		}
		m.logger.Info("in-flight events re-persisted")

		if !waitDone(ctx, m.distributorDone) {
			m.logger.Warn("distributor did not stop before deadline")
		}

		m.purgeTerminal(ctx)

		if !waitDone(ctx, m.cleanupDone) {
			m.logger.Warn("cleanup worker did not stop before deadline")
		}
		m.logger.Info("event manager shutdown complete")
	})
	return nil
}

func waitDone(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (m *Manager) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	m.logger.Error("event manager error", attrs...)
}
