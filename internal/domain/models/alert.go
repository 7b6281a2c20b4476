package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertSeverity grades an alert.
type AlertSeverity string

const (
	SeverityInfo    AlertSeverity = "info"
	SeverityWarning AlertSeverity = "warning"
	SeverityError   AlertSeverity = "error"
)

// Alert is one entry of the orchestrator's bounded alert log.
type Alert struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  AlertSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewAlert builds an alert with a fresh id and the current time.
func NewAlert(typ string, severity AlertSeverity, message string, data map[string]any) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Type:      typ,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// EventType names the orchestrator's published event streams. Ordering is
// guaranteed within a single event type only.
type EventType string

const (
	EventData         EventType = "data"
	EventAlert        EventType = "alert"
	EventMetrics      EventType = "metrics"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)
