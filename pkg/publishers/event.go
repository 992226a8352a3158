package publishers

import (
	"time"

	"github.com/samvad-hq/nexlink/internal/domain"
)

// EventRequestExecuted is emitted once per recorded execution.
const EventRequestExecuted = "request.executed"

// Event represents the payload published downstream.
type Event struct {
	Type           string    `json:"type"`
	OwnerID        string    `json:"owner_id"`
	HistoryID      string    `json:"history_id"`
	Method         string    `json:"method"`
	URL            string    `json:"url"`
	BaseURL        string    `json:"base_url"`
	Status         int       `json:"status"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Size           int       `json:"size"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// NewEvent constructs an Event for a recorded history entry.
func NewEvent(entry domain.HistoryEntry) Event {
	executedAt := entry.Timestamp
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	return Event{
		Type:           EventRequestExecuted,
		OwnerID:        entry.OwnerID,
		HistoryID:      entry.ID,
		Method:         entry.Request.Method,
		URL:            entry.Request.URL,
		BaseURL:        entry.Request.BaseURL,
		Status:         entry.Response.Status,
		ResponseTimeMs: entry.Response.ResponseTime,
		Size:           entry.Response.Size,
		ExecutedAt:     executedAt,
	}
}

// attributes are the message attributes attached by queue and topic sinks.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"event_type": e.Type,
		"owner_id":   e.OwnerID,
	}
}
