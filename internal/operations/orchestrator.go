package operations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Orchestrator is the user-facing facade over the store and executor:
// it creates operations with their items, starts and cancels them, and
// exposes the query surface. Authorization is enforced by the caller;
// the orchestrator only guarantees state consistency.
type Orchestrator struct {
	store    *Store
	executor *Executor
	config   *Config
	logger   *slog.Logger

	opsCreated metric.Int64Counter
	opsCleaned metric.Int64Counter
}

// NewOrchestrator creates an orchestrator with dependency injection.
// meter may be nil when metrics are disabled.
func NewOrchestrator(store *Store, executor *Executor, config *Config, logger *slog.Logger, meter metric.Meter) (*Orchestrator, error) {
	if config == nil {
		config = NewConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		store:    store,
		executor: executor,
		config:   config,
		logger:   logger.With(slog.String("component", "operations.orchestrator")),
	}

	if meter != nil {
		var err error
		o.opsCreated, err = meter.Int64Counter("operations_created_total",
			metric.WithDescription("Number of bulk operations created"))
		if err != nil {
			return nil, fmt.Errorf("failed to create operations counter: %w", err)
		}
		o.opsCleaned, err = meter.Int64Counter("operations_cleaned_total",
			metric.WithDescription("Number of terminal operations removed by the retention sweep"))
		if err != nil {
			return nil, fmt.Errorf("failed to create cleanup counter: %w", err)
		}
		_, err = meter.Int64ObservableGauge("operations_tracked",
			metric.WithDescription("Number of operations currently held in the store"),
			metric.WithInt64Callback(func(_ context.Context, obs metric.Int64Observer) error {
				obs.Observe(int64(store.Count()))
				return nil
			}))
		if err != nil {
			return nil, fmt.Errorf("failed to create store gauge: %w", err)
		}
	}

	return o, nil
}

// CreateUploadOperation creates a pending upload_process operation from
// the given file payloads and returns its id.
func (o *Orchestrator) CreateUploadOperation(ctx context.Context, userID string, uploads []UploadInput, metadata map[string]interface{}) (string, error) {
	if userID == "" {
		return "", NewValidationError("user id is required")
	}
	if len(uploads) == 0 {
		return "", NewValidationError("at least one file is required")
	}

	items := make([]*Item, 0, len(uploads))
	for i, upload := range uploads {
		filename := upload.Filename
		if filename == "" {
			filename = fmt.Sprintf("file_%d", i)
		}
		items = append(items, newItem(map[string]interface{}{
			"index":        i,
			"filename":     filename,
			"content_type": upload.ContentType,
			"size":         len(upload.Data),
		}))
	}

	id := o.store.Create(userID, KindUploadProcess, items, metadata)
	if err := o.store.SetUploads(id, uploads); err != nil {
		return "", err
	}

	o.recordCreated(ctx, KindUploadProcess)
	o.logger.InfoContext(ctx, "upload operation created",
		slog.String("operation_id", id),
		slog.String("user_id", userID),
		slog.Int("files", len(uploads)))

	return id, nil
}

// CreateDeleteOperation creates a pending delete operation for the given
// invoice ids and returns its id.
func (o *Orchestrator) CreateDeleteOperation(ctx context.Context, userID string, invoiceIDs []string, metadata map[string]interface{}) (string, error) {
	if userID == "" {
		return "", NewValidationError("user id is required")
	}
	if len(invoiceIDs) == 0 {
		return "", NewValidationError("at least one invoice id is required")
	}

	items := make([]*Item, 0, len(invoiceIDs))
	for _, invoiceID := range invoiceIDs {
		items = append(items, newItem(map[string]interface{}{
			"invoice_id": invoiceID,
		}))
	}

	id := o.store.Create(userID, KindDelete, items, metadata)

	o.recordCreated(ctx, KindDelete)
	o.logger.InfoContext(ctx, "delete operation created",
		slog.String("operation_id", id),
		slog.String("user_id", userID),
		slog.Int("invoices", len(invoiceIDs)))

	return id, nil
}

// Start begins executing a pending operation
func (o *Orchestrator) Start(ctx context.Context, id string) error {
	return o.executor.Start(ctx, id)
}

// Cancel requests cancellation of a running operation
func (o *Orchestrator) Cancel(ctx context.Context, id string) error {
	return o.executor.Cancel(id)
}

// Get returns a snapshot of the operation
func (o *Orchestrator) Get(ctx context.Context, id string) (Snapshot, error) {
	return o.store.Get(id)
}

// ListItems returns item copies in submission order with pagination
func (o *Orchestrator) ListItems(ctx context.Context, id string, limit, offset int) ([]Item, error) {
	if limit <= 0 {
		limit = DefaultItemsPageLimit
	}
	return o.store.ListItems(id, limit, offset)
}

// ListForUser returns snapshots of a user's operations, newest first
func (o *Orchestrator) ListForUser(ctx context.Context, userID string, limit int) []Snapshot {
	if limit <= 0 {
		limit = o.config.ListDefaultLimit
	}
	return o.store.ListForUser(userID, limit)
}

// CleanupCompleted removes terminal operations idle past the retention
// window and returns how many were removed.
func (o *Orchestrator) CleanupCompleted(ctx context.Context, olderThan time.Duration) int {
	removed := o.store.CleanupCompleted(olderThan)
	if removed > 0 {
		if o.opsCleaned != nil {
			o.opsCleaned.Add(ctx, int64(removed))
		}
		o.logger.InfoContext(ctx, "cleaned up old operations", slog.Int("removed", removed))
	}
	return removed
}

// RunCleanupLoop periodically sweeps terminal operations until the
// context is cancelled. Intended to run as a background goroutine.
func (o *Orchestrator) RunCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(o.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("cleanup loop shutting down")
			return
		case <-ticker.C:
			o.CleanupCompleted(ctx, o.config.Retention)
		}
	}
}

// Stats returns orchestrator counters for health reporting
func (o *Orchestrator) Stats() map[string]interface{} {
	return map[string]interface{}{
		"operations_tracked": o.store.Count(),
	}
}

func (o *Orchestrator) recordCreated(ctx context.Context, kind Kind) {
	if o.opsCreated != nil {
		o.opsCreated.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(kind))))
	}
}
