package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Executor runs the per-item work loop for operations. Each started
// operation gets its own goroutine; the number of concurrently running
// loops is bounded by a weighted semaphore. All state changes go through
// the store's Mutate so concurrent completions serialize correctly.
type Executor struct {
	store   *Store
	sink    EventSink
	uploads UploadProcessor
	deletes RecordDeleter
	config  *Config
	logger  *slog.Logger
	limiter *rate.Limiter
	sem     *semaphore.Weighted

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewExecutor creates an executor with dependency injection
func NewExecutor(store *Store, sink EventSink, uploads UploadProcessor, deletes RecordDeleter, config *Config, logger *slog.Logger) *Executor {
	if config == nil {
		config = NewConfig()
	}
	if sink == nil {
		sink = NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if config.InterItemRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.InterItemRate), 1)
	}

	return &Executor{
		store:   store,
		sink:    sink,
		uploads: uploads,
		deletes: deletes,
		config:  config,
		logger:  logger.With(slog.String("component", "operations.executor")),
		limiter: limiter,
		sem:     semaphore.NewWeighted(config.MaxConcurrent),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Start transitions a pending operation to running and schedules its
// processing loop as an independent goroutine, returning immediately.
// Fails with InvalidState unless the current status is pending.
func (e *Executor) Start(ctx context.Context, id string) error {
	var startErr error
	err := e.store.Mutate(id, func(op *Operation) {
		if op.Status != StatusPending {
			startErr = NewInvalidStateError(id, op.Status, StatusPending)
			return
		}
		now := time.Now().UTC()
		op.Status = StatusRunning
		op.StartedAt = &now
	})
	if err != nil {
		return err
	}
	if startErr != nil {
		return startErr
	}

	snap, err := e.store.Get(id)
	if err != nil {
		return err
	}

	// The loop outlives the request context; cancellation is driven by
	// Cancel, not by the caller disconnecting.
	opCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[id] = cancel
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(opCtx, id)

	e.logger.InfoContext(ctx, "operation started",
		slog.String("operation_id", id),
		slog.String("kind", string(snap.Kind)),
		slog.Int("total_items", snap.Progress.Total))

	e.sink.Notify(EventBulkOperation,
		fmt.Sprintf("Bulk operation started: %s", snap.Kind),
		UserTarget(snap.UserID), PriorityNormal,
		map[string]interface{}{
			"operation_id":   id,
			"operation_type": string(snap.Kind),
			"total_items":    snap.Progress.Total,
			"status":         "started",
		})

	return nil
}

// Cancel signals the cooperative cancellation flag of a running
// operation and best-effort interrupts its loop. Only the loop itself
// finalizes status, so a cancel racing a finished loop loses cleanly.
func (e *Executor) Cancel(id string) error {
	var cancelErr error
	err := e.store.Mutate(id, func(op *Operation) {
		if op.Status != StatusRunning {
			cancelErr = NewInvalidStateError(id, op.Status, StatusRunning)
			return
		}
		op.cancelRequested = true
	})
	if err != nil {
		return err
	}
	if cancelErr != nil {
		return cancelErr
	}

	e.mu.Lock()
	if cancel, ok := e.cancels[id]; ok {
		cancel()
	}
	e.mu.Unlock()

	e.logger.Info("operation cancellation requested", slog.String("operation_id", id))
	return nil
}

// Wait blocks until all running loops have finished. Used on shutdown.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// run is the processing loop for one operation
func (e *Executor) run(ctx context.Context, id string) {
	defer e.wg.Done()
	defer func() {
		e.mu.Lock()
		delete(e.cancels, id)
		e.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation loop panicked",
				slog.String("operation_id", id),
				slog.Any("panic", r))
			e.finalize(id, NewAbortError(id, fmt.Errorf("panic: %v", r)))
		}
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		// Cancelled while queued behind the concurrency bound
		e.finalize(id, nil)
		return
	}
	defer e.sem.Release(1)

	var (
		total   int
		uploads []UploadInput
	)
	if err := e.store.Mutate(id, func(op *Operation) {
		total = len(op.Items)
		uploads = op.uploads
	}); err != nil {
		return
	}

	for i := 0; i < total; i++ {
		if e.cancelled(id) {
			e.finalize(id, nil)
			return
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				e.finalize(id, nil)
				return
			}
		}

		e.processItem(ctx, id, i, uploads)
	}

	e.finalize(id, nil)
}

// processItem executes one item with failure isolation: an item error is
// recorded on the item and never aborts the loop.
func (e *Executor) processItem(ctx context.Context, id string, index int, uploads []UploadInput) {
	var (
		userID string
		kind   Kind
		label  string
		itemID string
	)

	// Mark processing and capture what the collaborator call needs
	if err := e.store.Mutate(id, func(op *Operation) {
		item := op.Items[index]
		item.Status = ItemStatusProcessing
		userID = op.UserID
		kind = op.Kind
		itemID = item.ID
		label = itemLabel(op.Kind, item)
		op.Progress.CurrentItem = label
	}); err != nil {
		return
	}

	e.notifyProgress(id, label)

	itemCtx, cancel := context.WithTimeout(ctx, e.config.ItemTimeout)
	result, procErr := e.invoke(itemCtx, kind, userID, id, index, uploads)
	cancel()

	now := time.Now().UTC()

	// Record the outcome and update counters in a single critical
	// section so near-simultaneous completions cannot lose updates.
	e.store.Mutate(id, func(op *Operation) {
		item := op.Items[index]
		item.ProcessedAt = &now
		if procErr != nil {
			item.Status = ItemStatusFailed
			item.Error = truncateError(procErr, e.config.MaxErrorLength)
			op.Progress.Failed++
		} else {
			item.Status = ItemStatusCompleted
			item.Result = result
			op.Progress.Successful++
		}
		op.Progress.Processed++
		op.Progress.Percentage = float64(op.Progress.Processed) / float64(op.Progress.Total) * 100

		if op.StartedAt != nil && op.Progress.Processed > 0 {
			elapsed := now.Sub(*op.StartedAt).Seconds()
			avg := elapsed / float64(op.Progress.Processed)
			remaining := op.Progress.Total - op.Progress.Processed
			op.Progress.RemainingSeconds = avg * float64(remaining)
		}
	})

	if procErr != nil {
		e.logger.Warn("item failed",
			slog.String("operation_id", id),
			slog.String("item_id", itemID),
			slog.String("error", procErr.Error()))
	}

	e.notifyProgress(id, label)
}

// invoke dispatches to the external collaborator for the operation kind
func (e *Executor) invoke(ctx context.Context, kind Kind, userID, id string, index int, uploads []UploadInput) (map[string]interface{}, error) {
	switch kind {
	case KindUploadProcess:
		if e.uploads == nil {
			return nil, fmt.Errorf("no upload processor configured")
		}
		if index >= len(uploads) {
			return nil, fmt.Errorf("missing payload for item %d", index)
		}
		return e.uploads.ProcessUpload(ctx, userID, uploads[index])
	case KindDelete:
		var invoiceID string
		e.store.Mutate(id, func(op *Operation) {
			if v, ok := op.Items[index].Data["invoice_id"].(string); ok {
				invoiceID = v
			}
		})
		if e.deletes == nil {
			return nil, fmt.Errorf("no record deleter configured")
		}
		return e.deletes.DeleteInvoice(ctx, userID, invoiceID)
	default:
		return nil, fmt.Errorf("unsupported operation kind: %s", kind)
	}
}

// finalize resolves the terminal status, releases buffered payloads and
// emits the summary notification. abortErr marks an operation-level
// fault, distinct from per-item failures.
func (e *Executor) finalize(id string, abortErr error) {
	var (
		userID     string
		kind       Kind
		status     Status
		successful int
		failed     int
		total      int
	)

	err := e.store.Mutate(id, func(op *Operation) {
		if op.Status.IsTerminal() {
			// The loop already finalized; nothing to do
			status = op.Status
			return
		}
		now := time.Now().UTC()
		op.CompletedAt = &now
		op.Progress.CurrentItem = ""
		op.uploads = nil

		switch {
		case abortErr != nil:
			op.Status = StatusFailed
			op.Error = abortErr.Error()
		case op.cancelRequested:
			op.Status = StatusCancelled
		case op.Progress.Failed == 0:
			op.Status = StatusCompleted
		default:
			op.Status = StatusPartial
		}

		userID = op.UserID
		kind = op.Kind
		status = op.Status
		successful = op.Progress.Successful
		failed = op.Progress.Failed
		total = op.Progress.Total
	})
	if err != nil || userID == "" {
		return
	}

	e.logger.Info("operation finished",
		slog.String("operation_id", id),
		slog.String("kind", string(kind)),
		slog.String("status", string(status)),
		slog.Int("successful", successful),
		slog.Int("failed", failed),
		slog.Int("total", total))

	message := fmt.Sprintf("Bulk %s finished: %d successful, %d failed", kind, successful, failed)
	data := map[string]interface{}{
		"operation_id": id,
		"status":       string(status),
		"successful":   successful,
		"failed":       failed,
		"total":        total,
	}
	if abortErr != nil {
		message = fmt.Sprintf("Bulk %s failed: %v", kind, abortErr)
		data["error"] = abortErr.Error()
	}

	e.sink.Notify(EventBulkOperation, message, UserTarget(userID), PriorityHigh, data)
}

// notifyProgress emits a low-priority progress event with the current
// progress snapshot. Delivery never blocks the loop.
func (e *Executor) notifyProgress(id, label string) {
	snap, err := e.store.Get(id)
	if err != nil {
		return
	}
	e.sink.Notify(EventBulkOperation,
		fmt.Sprintf("Processing %s", label),
		UserTarget(snap.UserID), PriorityLow,
		map[string]interface{}{
			"operation_id": id,
			"progress":     snap.Progress,
			"status":       "progress",
		})
}

// cancelled reads the cooperative cancellation flag
func (e *Executor) cancelled(id string) bool {
	requested := false
	e.store.Mutate(id, func(op *Operation) {
		requested = op.cancelRequested
	})
	return requested
}

// itemLabel derives the human-readable current-item label
func itemLabel(kind Kind, item *Item) string {
	switch kind {
	case KindUploadProcess:
		if name, ok := item.Data["filename"].(string); ok {
			return name
		}
	case KindDelete:
		if id, ok := item.Data["invoice_id"].(string); ok {
			return fmt.Sprintf("Invoice %s", id)
		}
	}
	return item.ID
}
