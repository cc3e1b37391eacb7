package operations

// Event type and priority values understood by the notification layer.
// They mirror the live channel's closed enumerations so the executor can
// emit without importing the transport.
const (
	EventBulkOperation = "bulk_operation"

	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// Target selects exactly one delivery scope for an event: a specific
// user, a topic, or (zero value) broadcast to all connections.
type Target struct {
	UserID string
	Topic  string
}

// UserTarget addresses every connection owned by a user
func UserTarget(userID string) Target {
	return Target{UserID: userID}
}

// TopicTarget addresses every subscriber of a topic
func TopicTarget(topic string) Target {
	return Target{Topic: topic}
}

// EventSink is the events-out port the executor publishes through.
// Delivery is best-effort and must never block the caller.
type EventSink interface {
	Notify(eventType, message string, target Target, priority string, data map[string]interface{})
}

// NopSink discards all events. Useful in tests and as a safe default.
type NopSink struct{}

// Notify implements EventSink
func (NopSink) Notify(eventType, message string, target Target, priority string, data map[string]interface{}) {
}
