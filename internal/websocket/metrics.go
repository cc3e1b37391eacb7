package websocket

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics records websocket activity through OpenTelemetry
type Metrics struct {
	connections        metric.Int64Counter
	disconnections     metric.Int64Counter
	connectionDuration metric.Float64Histogram
	activeClients      metric.Int64Gauge
	messagesSent       metric.Int64Counter
	bytesSent          metric.Int64Counter
	deliveryFailures   metric.Int64Counter
}

// NewMetrics creates websocket instruments on the given meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.connections, err = meter.Int64Counter("websocket_connections_total",
		metric.WithDescription("Number of websocket connections accepted")); err != nil {
		return nil, fmt.Errorf("failed to create connections counter: %w", err)
	}
	if m.disconnections, err = meter.Int64Counter("websocket_disconnections_total",
		metric.WithDescription("Number of websocket disconnections")); err != nil {
		return nil, fmt.Errorf("failed to create disconnections counter: %w", err)
	}
	if m.connectionDuration, err = meter.Float64Histogram("websocket_connection_duration_seconds",
		metric.WithDescription("Lifetime of closed websocket connections"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}
	if m.activeClients, err = meter.Int64Gauge("websocket_active_clients",
		metric.WithDescription("Number of currently connected clients")); err != nil {
		return nil, fmt.Errorf("failed to create active clients gauge: %w", err)
	}
	if m.messagesSent, err = meter.Int64Counter("websocket_messages_sent_total",
		metric.WithDescription("Number of payloads accepted into client buffers")); err != nil {
		return nil, fmt.Errorf("failed to create messages counter: %w", err)
	}
	if m.bytesSent, err = meter.Int64Counter("websocket_bytes_sent_total",
		metric.WithDescription("Payload bytes accepted into client buffers"),
		metric.WithUnit("By")); err != nil {
		return nil, fmt.Errorf("failed to create bytes counter: %w", err)
	}
	if m.deliveryFailures, err = meter.Int64Counter("websocket_delivery_failures_total",
		metric.WithDescription("Payloads dropped because a client buffer was full")); err != nil {
		return nil, fmt.Errorf("failed to create delivery failures counter: %w", err)
	}

	return m, nil
}

// RecordConnection records an accepted connection
func (m *Metrics) RecordConnection(ctx context.Context) {
	m.connections.Add(ctx, 1)
}

// RecordDisconnection records a closed connection and its lifetime
func (m *Metrics) RecordDisconnection(ctx context.Context, duration time.Duration) {
	m.disconnections.Add(ctx, 1)
	m.connectionDuration.Record(ctx, duration.Seconds())
}

// RecordClientCount records the current number of connected clients
func (m *Metrics) RecordClientCount(ctx context.Context, count int64) {
	m.activeClients.Record(ctx, count)
}

// RecordMessageSent records a payload accepted into a client buffer
func (m *Metrics) RecordMessageSent(ctx context.Context, size int64) {
	m.messagesSent.Add(ctx, 1)
	m.bytesSent.Add(ctx, size)
}

// RecordDeliveryFailure records a payload dropped on a full buffer
func (m *Metrics) RecordDeliveryFailure(ctx context.Context) {
	m.deliveryFailures.Add(ctx, 1)
}
