package websocket

import (
	"encoding/json"
	"time"
)

// NotificationType enumerates the event types carried over the wire.
// Unknown types are rejected at the hub boundary so clients can rely
// on a closed set.
type NotificationType string

const (
	TypeInvoiceProcessing NotificationType = "invoice_processing"
	TypeInvoiceCompleted  NotificationType = "invoice_completed"
	TypeInvoiceFailed     NotificationType = "invoice_failed"
	TypeSystemUpdate      NotificationType = "system_update"
	TypeBulkOperation     NotificationType = "bulk_operation"
	TypeAnalyticsUpdate   NotificationType = "analytics_update"
	TypeErrorNotification NotificationType = "error_notification"
)

// validTypes is the closed set accepted by Hub.Notify
var validTypes = map[NotificationType]bool{
	TypeInvoiceProcessing: true,
	TypeInvoiceCompleted:  true,
	TypeInvoiceFailed:     true,
	TypeSystemUpdate:      true,
	TypeBulkOperation:     true,
	TypeAnalyticsUpdate:   true,
	TypeErrorNotification: true,
}

// IsValid reports whether t belongs to the closed notification set
func (t NotificationType) IsValid() bool {
	return validTypes[t]
}

// Notification priorities
const (
	PriorityLow      = "low"
	PriorityNormal   = "normal"
	PriorityHigh     = "high"
	PriorityCritical = "critical"
)

// Envelope is the JSON frame delivered to clients. Timestamp is set at
// send time in RFC3339 so clients can order messages without clock
// negotiation.
type Envelope struct {
	Type      NotificationType       `json:"type"`
	Message   string                 `json:"message"`
	Priority  string                 `json:"priority"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEnvelope builds an envelope stamped with the current time
func NewEnvelope(eventType NotificationType, message, priority string, data map[string]interface{}) Envelope {
	if priority == "" {
		priority = PriorityNormal
	}
	return Envelope{
		Type:      eventType,
		Message:   message,
		Priority:  priority,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}
}

// Marshal serializes the envelope for the wire
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Target selects the delivery scope for a notification. A zero Target
// means broadcast to every connection.
type Target struct {
	UserID string
	Topic  string
}

// IsBroadcast reports whether the target addresses all connections
func (t Target) IsBroadcast() bool {
	return t.UserID == "" && t.Topic == ""
}

// UserTarget addresses every connection belonging to a user
func UserTarget(userID string) Target {
	return Target{UserID: userID}
}

// TopicTarget addresses every connection subscribed to a topic
func TopicTarget(topic string) Target {
	return Target{Topic: topic}
}
