package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats map[string]interface{}

func (s staticStats) Stats() map[string]interface{} { return s }

func TestHealthService_Report(t *testing.T) {
	svc := NewHealthService("1.0.0", nil)
	svc.RegisterComponent("invoices", staticStats{"invoices_stored": 3})
	svc.RegisterComponent("websocket", staticStats{"active_connections": 2})

	report := svc.Report(context.Background())

	assert.Equal(t, "healthy", report["status"])
	assert.Equal(t, "1.0.0", report["version"])
	assert.NotEmpty(t, report["timestamp"])
	assert.GreaterOrEqual(t, report["uptime_seconds"], int64(0))

	components, ok := report["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"invoices_stored": 3}, components["invoices"])
	assert.Equal(t, map[string]interface{}{"active_connections": 2}, components["websocket"])
}

func TestHealthService_ReportWithoutComponents(t *testing.T) {
	svc := NewHealthService("1.0.0", nil)

	report := svc.Report(context.Background())
	components, ok := report["components"].(map[string]interface{})
	require.True(t, ok)
	assert.Empty(t, components)
}
