package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/beaconworks/beacon/internal/events"
)

type sseFrame struct {
	event string
	data  string
}

func readFrame(t *testing.T, scanner *bufio.Scanner) sseFrame {
	t.Helper()
	frame := sseFrame{}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if frame.event != "" || frame.data != "" {
				return frame
			}
			continue
		}
		if strings.HasPrefix(line, "event: ") {
			frame.event = strings.TrimPrefix(line, "event: ")
		}
		if strings.HasPrefix(line, "data: ") {
			frame.data = strings.TrimPrefix(line, "data: ")
		}
	}
	t.Fatalf("stream ended before a complete frame: %v", scanner.Err())
	return frame
}

func openStream(t *testing.T, serverURL, eventType string) (*bufio.Scanner, func()) {
	t.Helper()
	request, err := http.NewRequest(http.MethodGet,
		serverURL+"/events/stream?event_type="+eventType+"&access_token=test-token", nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	if response.StatusCode != http.StatusOK {
		response.Body.Close()
		t.Fatalf("expected 200 opening stream, got %d", response.StatusCode)
	}
	if contentType := response.Header.Get("Content-Type"); contentType != "text/event-stream" {
		response.Body.Close()
		t.Fatalf("expected text/event-stream, got %q", contentType)
	}
	return bufio.NewScanner(response.Body), func() { response.Body.Close() }
}

func TestEventStreamDeliversEventThenHeartbeat(t *testing.T) {
	harness := newTestHarness(t, 42)
	server := httptest.NewServer(harness.handler)
	defer server.Close()

	scanner, closeStream := openStream(t, server.URL, events.EventTypeSystemNotice)
	defer closeStream()

	if _, err := harness.manager.CreateEvent(context.Background(), events.CreateRequest{
		EventType:    events.EventTypeSystemNotice,
		TargetUserID: 42,
		Payload:      []byte(`{"level":"info","title":"hello","message":"world"}`),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	frame := readFrame(t, scanner)
	if frame.event != events.EventTypeSystemNotice {
		t.Fatalf("expected %s frame, got %q", events.EventTypeSystemNotice, frame.event)
	}
	if !strings.Contains(frame.data, `"title":"hello"`) {
		t.Fatalf("unexpected frame data: %s", frame.data)
	}

	// Nothing else pending: the idle timeout must produce a heartbeat.
	frame = readFrame(t, scanner)
	if frame.event != "heartbeat" {
		t.Fatalf("expected heartbeat frame, got %q", frame.event)
	}
	if frame.data != `{"status":"heartbeat"}` {
		t.Fatalf("unexpected heartbeat data: %s", frame.data)
	}
}

func TestEventStreamReplaysPendingEventsOnConnect(t *testing.T) {
	harness := newTestHarness(t, 42)

	if _, err := harness.manager.CreateEvent(context.Background(), events.CreateRequest{
		EventType:    events.EventTypeSystemNotice,
		TargetUserID: 42,
		Priority:     events.PriorityCritical,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	server := httptest.NewServer(harness.handler)
	defer server.Close()

	scanner, closeStream := openStream(t, server.URL, events.EventTypeSystemNotice)
	defer closeStream()

	frame := readFrame(t, scanner)
	if frame.event != events.EventTypeSystemNotice {
		t.Fatalf("expected recovered event before any heartbeat, got %q", frame.event)
	}
}

func TestEventStreamRejectsUnknownEventType(t *testing.T) {
	harness := newTestHarness(t, 42)
	server := httptest.NewServer(harness.handler)
	defer server.Close()

	response, err := http.Get(server.URL + "/events/stream?event_type=never-registered&access_token=test-token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event type, got %d", response.StatusCode)
	}
}

func TestEventStreamClosesWhenEvictedByCap(t *testing.T) {
	harness := newTestHarness(t, 42)
	server := httptest.NewServer(harness.handler)
	defer server.Close()

	scanner, closeStream := openStream(t, server.URL, events.EventTypeSystemNotice)
	defer closeStream()

	// Consume the first heartbeat so the stream is known to be live.
	if frame := readFrame(t, scanner); frame.event != "heartbeat" {
		t.Fatalf("expected heartbeat, got %q", frame.event)
	}

	stream, err := harness.manager.RegisterStream(context.Background(), 42, events.EventTypeSystemNotice)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer harness.manager.UnregisterStream(context.Background(), 42, stream.ID())

	// Filling the per-user cap evicts the oldest connection, which is
	// observed as end-of-stream on the SSE response.
	if err := evictOldest(harness, 9); err != nil {
		t.Fatalf("failed to trigger eviction: %v", err)
	}
	deadline := time.After(2 * time.Second)
	done := make(chan struct{})
	go func() {
		for scanner.Scan() {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-deadline:
		t.Fatal("expected the evicted stream to close")
	}
}

func evictOldest(harness *testHarness, extraStreams int) error {
	for i := 0; i < extraStreams; i++ {
		stream, err := harness.manager.RegisterStream(context.Background(), 42, events.EventTypeSystemNotice)
		if err != nil {
			return err
		}
		defer harness.manager.UnregisterStream(context.Background(), 42, stream.ID())
	}
	return nil
}
