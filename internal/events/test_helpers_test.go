package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	if err := db.AutoMigrate(&Event{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	store, err := NewGormStore(GormStoreConfig{Database: newTestDB(t)})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	registry := NewRegistry()
	if err := RegisterBuiltins(registry); err != nil {
		t.Fatalf("failed to register builtin payloads: %v", err)
	}
	return registry
}

func newTestManager(t *testing.T, cfg ManagerConfig) *Manager {
	t.Helper()
	if cfg.Store == nil {
		cfg.Store = newTestStore(t)
	}
	if cfg.Registry == nil {
		cfg.Registry = newTestRegistry(t)
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Hour
	}
	manager, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("failed to construct manager: %v", err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = manager.Shutdown(shutdownCtx)
	})
	return manager
}

func mustSave(t *testing.T, store Store, event *Event) *Event {
	t.Helper()
	if err := store.Save(context.Background(), event); err != nil {
		t.Fatalf("failed to save event: %v", err)
	}
	return event
}

func waitForEvent(t *testing.T, stream *Stream, timeout time.Duration) *Event {
	t.Helper()
	select {
	case event := <-stream.Events():
		return event
	case <-time.After(timeout):
		t.Fatal("expected event within deadline")
		return nil
	}
}

func expectNoEvent(t *testing.T, stream *Stream, wait time.Duration) {
	t.Helper()
	select {
	case event := <-stream.Events():
		t.Fatalf("did not expect event, got id=%d type=%s", event.ID, event.EventType)
	case <-time.After(wait):
	}
}
