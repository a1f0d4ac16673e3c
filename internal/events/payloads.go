package events

import (
	"encoding/json"
	"fmt"
)

const (
	// EventTypeSystemNotice carries operator-facing announcements.
	EventTypeSystemNotice = "system-notice"
	// EventTypeTaskCompleted reports a finished background task.
	EventTypeTaskCompleted = "task-completed"
	// EventTypeExportReady announces a downloadable export artifact.
	EventTypeExportReady = "export-ready"
)

// SystemNoticePayload is the payload variant for system-notice events.
type SystemNoticePayload struct {
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// EventType identifies the payload variant.
func (SystemNoticePayload) EventType() string { return EventTypeSystemNotice }

// TaskCompletedPayload is the payload variant for task-completed events.
type TaskCompletedPayload struct {
	TaskID     string `json:"task_id"`
	TaskName   string `json:"task_name"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

// EventType identifies the payload variant.
func (TaskCompletedPayload) EventType() string { return EventTypeTaskCompleted }

// ExportReadyPayload is the payload variant for export-ready events.
type ExportReadyPayload struct {
	ExportID    string `json:"export_id"`
	DownloadURL string `json:"download_url"`
	SizeBytes   int64  `json:"size_bytes"`
}

// EventType identifies the payload variant.
func (ExportReadyPayload) EventType() string { return EventTypeExportReady }

// RegisterBuiltins registers the payload variants shipped with the service.
// Called once at startup before traffic is accepted.
func RegisterBuiltins(registry *Registry) error {
	if err := registry.Register(EventTypeSystemNotice, func(raw json.RawMessage) (Payload, error) {
		var payload SystemNoticePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("events: decode %s payload: %w", EventTypeSystemNotice, err)
		}
		return payload, nil
	}); err != nil {
		return err
	}
	if err := registry.Register(EventTypeTaskCompleted, func(raw json.RawMessage) (Payload, error) {
		var payload TaskCompletedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("events: decode %s payload: %w", EventTypeTaskCompleted, err)
		}
		return payload, nil
	}); err != nil {
		return err
	}
	return registry.Register(EventTypeExportReady, func(raw json.RawMessage) (Payload, error) {
		var payload ExportReadyPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("events: decode %s payload: %w", EventTypeExportReady, err)
		}
		return payload, nil
	})
}
