package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beaconworks/beacon/internal/events"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	heartbeatEventType = "heartbeat"
	heartbeatData      = `{"status":"heartbeat"}`
)

// handleEventStream opens an SSE connection for the caller and drains its
// stream queue: recovered events first, then live traffic, with a heartbeat
// frame whenever the idle timeout elapses. Admission is accept-and-evict —
// the connection manager drops the user's oldest stream at the cap instead
// of rejecting the new one. The stream is unregistered on every exit path:
// client disconnect, eviction, and write failure.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	userID := c.GetInt64(userIDContextKey)
	eventType := c.Query("event_type")

	stream, err := h.events.RegisterStream(c.Request.Context(), userID, eventType)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEventType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_event_type"})
			return
		}
		if errors.Is(err, events.ErrShuttingDown) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down"})
			return
		}
		h.logger.Error("failed to register stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stream_failed"})
		return
	}
	// The request context is gone by the time deferred cleanup runs.
	defer h.events.UnregisterStream(context.Background(), userID, stream.ID())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTimer(h.heartbeatInterval)
	defer heartbeat.Stop()

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case <-stream.Done():
			return
		case event := <-stream.Events():
			if err := writeFrame(c.Writer, event.EventType, event.PayloadJSON); err != nil {
				h.logger.Warn("stream write failed, closing connection",
					zap.String("stream_id", stream.ID()),
					zap.Error(err))
				return
			}
			c.Writer.Flush()
			if !heartbeat.Stop() {
				select {
				case <-heartbeat.C:
				default:
				}
			}
			heartbeat.Reset(h.heartbeatInterval)
		case <-heartbeat.C:
			if err := writeFrame(c.Writer, heartbeatEventType, heartbeatData); err != nil {
				h.logger.Warn("heartbeat write failed, closing connection",
					zap.String("stream_id", stream.ID()),
					zap.Error(err))
				return
			}
			c.Writer.Flush()
			heartbeat.Reset(h.heartbeatInterval)
		}
	}
}

func writeFrame(w io.Writer, eventType, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	return err
}
