package websocket

import (
	"fmt"
	"log/slog"

	"invoiceflow/internal/infrastructure"
	"invoiceflow/internal/operations"
)

// Hub is the notification fan-out surface: it validates event types,
// wraps payloads in the wire envelope and routes them through the
// registry to user, topic or broadcast scope.
type Hub struct {
	registry *Registry
	logger   *slog.Logger
}

// NewHub creates a hub with dependency injection
func NewHub(registry *Registry, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		registry: registry,
		logger:   logger.With(slog.String("component", "websocket.hub")),
	}
}

// Registry exposes the underlying connection registry
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Notify delivers a notification to the target scope and returns how
// many connections accepted it. Event types outside the closed set are
// rejected.
func (h *Hub) Notify(eventType NotificationType, message string, target Target, priority string, data map[string]interface{}) (int, error) {
	if !eventType.IsValid() {
		return 0, fmt.Errorf("unknown notification type: %s", eventType)
	}

	payload, err := NewEnvelope(eventType, message, priority, data).Marshal()
	if err != nil {
		return 0, fmt.Errorf("failed to marshal notification: %w", err)
	}

	var delivered int
	switch {
	case target.UserID != "":
		delivered = h.registry.SendToUser(target.UserID, payload)
	case target.Topic != "":
		delivered = h.registry.BroadcastToTopic(target.Topic, payload)
	default:
		delivered = h.registry.BroadcastAll(payload)
	}

	h.logger.Debug("notification delivered",
		slog.String("type", string(eventType)),
		slog.String("user_id", target.UserID),
		slog.String("topic", target.Topic),
		slog.Int("delivered", delivered))

	return delivered, nil
}

// NotifyInvoiceProcessing tells a user one of their invoices started processing
func (h *Hub) NotifyInvoiceProcessing(userID, invoiceID, filename string) {
	h.Notify(TypeInvoiceProcessing,
		fmt.Sprintf("Processing invoice %s", filename),
		UserTarget(userID), PriorityNormal,
		map[string]interface{}{
			"invoice_id": invoiceID,
			"filename":   filename,
		})
}

// NotifyInvoiceCompleted tells a user an invoice finished processing
func (h *Hub) NotifyInvoiceCompleted(userID, invoiceID string, result map[string]interface{}) {
	h.Notify(TypeInvoiceCompleted,
		"Invoice processed successfully",
		UserTarget(userID), PriorityNormal,
		map[string]interface{}{
			"invoice_id": invoiceID,
			"result":     result,
		})
}

// NotifyInvoiceFailed tells a user an invoice failed processing
func (h *Hub) NotifyInvoiceFailed(userID, invoiceID, reason string) {
	h.Notify(TypeInvoiceFailed,
		"Invoice processing failed",
		UserTarget(userID), PriorityHigh,
		map[string]interface{}{
			"invoice_id": invoiceID,
			"reason":     reason,
		})
}

// NotifySystemUpdate broadcasts a system announcement to everyone
func (h *Hub) NotifySystemUpdate(message string, data map[string]interface{}) {
	h.Notify(TypeSystemUpdate, message, Target{}, PriorityNormal, data)
}

// OperationSink adapts the hub to the operations event port so the
// executor stays transport-agnostic.
type OperationSink struct {
	hub *Hub
}

// NewOperationSink creates the operations adapter for the hub
func NewOperationSink(hub *Hub) *OperationSink {
	return &OperationSink{hub: hub}
}

// Notify implements operations.EventSink
func (s *OperationSink) Notify(eventType, message string, target operations.Target, priority string, data map[string]interface{}) {
	if _, err := s.hub.Notify(NotificationType(eventType), message, Target{
		UserID: target.UserID,
		Topic:  target.Topic,
	}, priority, data); err != nil {
		s.hub.logger.Warn("failed to deliver operation event",
			slog.String("type", eventType),
			slog.String("error", err.Error()))
	}
}
