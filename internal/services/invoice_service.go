package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"invoiceflow/internal/operations"
)

// WebSocketNotifier is the subset of the notification hub the invoice
// service needs. Keeping it an interface lets tests run without a live
// registry.
type WebSocketNotifier interface {
	NotifyInvoiceProcessing(userID, invoiceID, filename string)
	NotifyInvoiceCompleted(userID, invoiceID string, result map[string]interface{})
	NotifyInvoiceFailed(userID, invoiceID, reason string)
}

// Invoice is a stored invoice record
type Invoice struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	StoredPath  string    `json:"stored_path"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// allowedContentTypes are the upload formats accepted for processing
var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

// InvoiceService stores uploaded invoice files on disk and keeps the
// invoice index in memory. It implements operations.UploadProcessor
// and operations.RecordDeleter.
type InvoiceService struct {
	uploadDir string
	notifier  WebSocketNotifier
	logger    *slog.Logger

	mu       sync.RWMutex
	invoices map[string]*Invoice
}

// NewInvoiceService creates an invoice service with dependency
// injection. notifier may be nil when running headless.
func NewInvoiceService(uploadDir string, notifier WebSocketNotifier, logger *slog.Logger) (*InvoiceService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if uploadDir == "" {
		return nil, fmt.Errorf("upload directory is required")
	}
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	logger = logger.With(slog.String("component", "services.invoice"))
	logger.Info("invoice service initialized", slog.String("upload_dir", uploadDir))

	return &InvoiceService{
		uploadDir: uploadDir,
		notifier:  notifier,
		logger:    logger,
		invoices:  make(map[string]*Invoice),
	}, nil
}

// ProcessUpload validates, stores and indexes a single uploaded file.
// It implements operations.UploadProcessor.
func (s *InvoiceService) ProcessUpload(ctx context.Context, userID string, upload operations.UploadInput) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filename := upload.Filename
	if len(upload.Data) == 0 {
		return nil, fmt.Errorf("file %s is empty", filename)
	}
	if upload.ContentType != "" && !allowedContentTypes[upload.ContentType] {
		return nil, fmt.Errorf("unsupported content type %s for %s", upload.ContentType, filename)
	}

	invoiceID := uuid.New().String()

	if s.notifier != nil {
		s.notifier.NotifyInvoiceProcessing(userID, invoiceID, filename)
	}

	storedPath := filepath.Join(s.uploadDir, invoiceID+sanitizeExt(filename))
	if err := os.WriteFile(storedPath, upload.Data, 0644); err != nil {
		if s.notifier != nil {
			s.notifier.NotifyInvoiceFailed(userID, invoiceID, err.Error())
		}
		return nil, fmt.Errorf("failed to store %s: %w", filename, err)
	}

	invoice := &Invoice{
		ID:          invoiceID,
		UserID:      userID,
		Filename:    filename,
		ContentType: upload.ContentType,
		Size:        len(upload.Data),
		StoredPath:  storedPath,
		UploadedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	s.invoices[invoiceID] = invoice
	s.mu.Unlock()

	result := map[string]interface{}{
		"invoice_id": invoiceID,
		"filename":   filename,
		"size":       len(upload.Data),
	}

	if s.notifier != nil {
		s.notifier.NotifyInvoiceCompleted(userID, invoiceID, result)
	}

	s.logger.InfoContext(ctx, "invoice stored",
		slog.String("invoice_id", invoiceID),
		slog.String("user_id", userID),
		slog.String("filename", filename),
		slog.Int("size", len(upload.Data)))

	return result, nil
}

// DeleteInvoice removes a stored invoice and its file. It implements
// operations.RecordDeleter. Deleting another user's invoice fails.
func (s *InvoiceService) DeleteInvoice(ctx context.Context, userID, invoiceID string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	invoice, ok := s.invoices[invoiceID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("invoice %s not found", invoiceID)
	}
	if invoice.UserID != userID {
		s.mu.Unlock()
		return nil, fmt.Errorf("invoice %s does not belong to user", invoiceID)
	}
	delete(s.invoices, invoiceID)
	s.mu.Unlock()

	if err := os.Remove(invoice.StoredPath); err != nil && !os.IsNotExist(err) {
		s.logger.WarnContext(ctx, "failed to remove invoice file",
			slog.String("invoice_id", invoiceID),
			slog.String("path", invoice.StoredPath),
			slog.String("error", err.Error()))
	}

	s.logger.InfoContext(ctx, "invoice deleted",
		slog.String("invoice_id", invoiceID),
		slog.String("user_id", userID))

	return map[string]interface{}{
		"invoice_id": invoiceID,
		"deleted":    true,
	}, nil
}

// Get returns a copy of the invoice record
func (s *InvoiceService) Get(invoiceID string) (Invoice, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	invoice, ok := s.invoices[invoiceID]
	if !ok {
		return Invoice{}, false
	}
	return *invoice, true
}

// Count returns the number of stored invoices
func (s *InvoiceService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.invoices)
}

// Stats returns invoice counters for health reporting
func (s *InvoiceService) Stats() map[string]interface{} {
	return map[string]interface{}{
		"invoices_stored": s.Count(),
	}
}

// sanitizeExt returns a safe file extension for storage
func sanitizeExt(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf", ".png", ".jpg", ".jpeg":
		return ext
	default:
		return ".bin"
	}
}
