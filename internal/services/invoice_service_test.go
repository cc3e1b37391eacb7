package services

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"invoiceflow/internal/operations"
)

type notifierCall struct {
	kind      string
	userID    string
	invoiceID string
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
}

func (n *recordingNotifier) record(kind, userID, invoiceID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifierCall{kind: kind, userID: userID, invoiceID: invoiceID})
}

func (n *recordingNotifier) NotifyInvoiceProcessing(userID, invoiceID, filename string) {
	n.record("processing", userID, invoiceID)
}

func (n *recordingNotifier) NotifyInvoiceCompleted(userID, invoiceID string, result map[string]interface{}) {
	n.record("completed", userID, invoiceID)
}

func (n *recordingNotifier) NotifyInvoiceFailed(userID, invoiceID, reason string) {
	n.record("failed", userID, invoiceID)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	for i, c := range n.calls {
		out[i] = c.kind
	}
	return out
}

func newTestInvoiceService(t *testing.T) (*InvoiceService, *recordingNotifier) {
	t.Helper()
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := NewInvoiceService(t.TempDir(), notifier, logger)
	require.NoError(t, err)
	return svc, notifier
}

func pdfUpload(filename string) operations.UploadInput {
	return operations.UploadInput{
		Filename:    filename,
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 test"),
	}
}

func TestInvoiceService_RequiresUploadDir(t *testing.T) {
	_, err := NewInvoiceService("", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload directory is required")
}

func TestInvoiceService_ProcessUpload(t *testing.T) {
	svc, notifier := newTestInvoiceService(t)

	result, err := svc.ProcessUpload(context.Background(), "user-1", pdfUpload("march.pdf"))
	require.NoError(t, err)

	invoiceID, ok := result["invoice_id"].(string)
	require.True(t, ok)
	assert.Equal(t, "march.pdf", result["filename"])
	assert.Equal(t, len("%PDF-1.4 test"), result["size"])

	invoice, found := svc.Get(invoiceID)
	require.True(t, found)
	assert.Equal(t, "user-1", invoice.UserID)
	assert.Equal(t, "application/pdf", invoice.ContentType)

	data, err := os.ReadFile(invoice.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4 test"), data)

	assert.Equal(t, []string{"processing", "completed"}, notifier.kinds())
}

func TestInvoiceService_ProcessUploadRejectsEmptyFile(t *testing.T) {
	svc, notifier := newTestInvoiceService(t)

	_, err := svc.ProcessUpload(context.Background(), "user-1", operations.UploadInput{
		Filename:    "empty.pdf",
		ContentType: "application/pdf",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")
	assert.Empty(t, notifier.kinds())
	assert.Equal(t, 0, svc.Count())
}

func TestInvoiceService_ProcessUploadRejectsUnsupportedContentType(t *testing.T) {
	svc, _ := newTestInvoiceService(t)

	_, err := svc.ProcessUpload(context.Background(), "user-1", operations.UploadInput{
		Filename:    "report.xlsx",
		ContentType: "application/vnd.ms-excel",
		Data:        []byte("data"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported content type")
}

func TestInvoiceService_ProcessUploadHonoursCancelledContext(t *testing.T) {
	svc, _ := newTestInvoiceService(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ProcessUpload(ctx, "user-1", pdfUpload("march.pdf"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvoiceService_DeleteInvoice(t *testing.T) {
	svc, _ := newTestInvoiceService(t)

	result, err := svc.ProcessUpload(context.Background(), "user-1", pdfUpload("march.pdf"))
	require.NoError(t, err)
	invoiceID := result["invoice_id"].(string)
	invoice, _ := svc.Get(invoiceID)

	deleted, err := svc.DeleteInvoice(context.Background(), "user-1", invoiceID)
	require.NoError(t, err)
	assert.Equal(t, invoiceID, deleted["invoice_id"])
	assert.Equal(t, true, deleted["deleted"])

	_, found := svc.Get(invoiceID)
	assert.False(t, found)
	_, err = os.Stat(invoice.StoredPath)
	assert.True(t, os.IsNotExist(err))
}

func TestInvoiceService_DeleteInvoiceNotFound(t *testing.T) {
	svc, _ := newTestInvoiceService(t)

	_, err := svc.DeleteInvoice(context.Background(), "user-1", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestInvoiceService_DeleteInvoiceEnforcesOwnership(t *testing.T) {
	svc, _ := newTestInvoiceService(t)

	result, err := svc.ProcessUpload(context.Background(), "user-1", pdfUpload("march.pdf"))
	require.NoError(t, err)
	invoiceID := result["invoice_id"].(string)

	_, err = svc.DeleteInvoice(context.Background(), "user-2", invoiceID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not belong")

	_, found := svc.Get(invoiceID)
	assert.True(t, found, "record survives a rejected delete")
}

func TestInvoiceService_Stats(t *testing.T) {
	svc, _ := newTestInvoiceService(t)
	_, err := svc.ProcessUpload(context.Background(), "user-1", pdfUpload("a.pdf"))
	require.NoError(t, err)
	_, err = svc.ProcessUpload(context.Background(), "user-1", pdfUpload("b.pdf"))
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"invoices_stored": 2}, svc.Stats())
}

func TestSanitizeExt(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"invoice.pdf", ".pdf"},
		{"scan.PNG", ".png"},
		{"photo.jpeg", ".jpeg"},
		{"photo.JPG", ".jpg"},
		{"../../etc/passwd", ".bin"},
		{"noext", ".bin"},
		{"archive.tar.gz", ".bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeExt(tt.filename), tt.filename)
	}
}
