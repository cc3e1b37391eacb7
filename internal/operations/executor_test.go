package operations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures emitted events for assertions
type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
}

type sinkEvent struct {
	Type     string
	Message  string
	Target   Target
	Priority string
	Data     map[string]interface{}
}

func (s *recordingSink) Notify(eventType, message string, target Target, priority string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, sinkEvent{
		Type:     eventType,
		Message:  message,
		Target:   target,
		Priority: priority,
		Data:     data,
	})
}

func (s *recordingSink) withStatus(status string) []sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sinkEvent
	for _, ev := range s.events {
		if ev.Data["status"] == status {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) last() sinkEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return sinkEvent{}
	}
	return s.events[len(s.events)-1]
}

// stubUploads processes uploads, failing the filenames listed in failOn
type stubUploads struct {
	failOn map[string]bool
	wait   time.Duration
}

func (p *stubUploads) ProcessUpload(ctx context.Context, userID string, upload UploadInput) (map[string]interface{}, error) {
	if p.wait > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.wait):
		}
	}
	if p.failOn[upload.Filename] {
		return nil, fmt.Errorf("extraction failed for %s", upload.Filename)
	}
	return map[string]interface{}{"invoice_id": "inv-" + upload.Filename}, nil
}

// stubDeletes deletes records, failing the ids listed in failOn. When
// gate is set each call signals started and blocks until the context
// is cancelled or the gate is closed.
type stubDeletes struct {
	failOn  map[string]bool
	gate    chan struct{}
	started chan struct{}
	once    sync.Once
}

func (d *stubDeletes) DeleteInvoice(ctx context.Context, userID, invoiceID string) (map[string]interface{}, error) {
	if d.gate != nil {
		d.once.Do(func() { close(d.started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-d.gate:
		}
	}
	if d.failOn[invoiceID] {
		return nil, errors.New("record is referenced")
	}
	return map[string]interface{}{"invoice_id": invoiceID, "deleted": true}, nil
}

func testConfig() *Config {
	cfg := NewConfig()
	cfg.InterItemRate = 0 // no pacing in tests
	cfg.ItemTimeout = 5 * time.Second
	return cfg
}

func uploadItems(store *Store, userID string, names ...string) string {
	items := make([]*Item, 0, len(names))
	uploads := make([]UploadInput, 0, len(names))
	for i, name := range names {
		items = append(items, newItem(map[string]interface{}{
			"index":        i,
			"filename":     name,
			"content_type": "application/pdf",
			"size":         3,
		}))
		uploads = append(uploads, UploadInput{
			Filename:    name,
			ContentType: "application/pdf",
			Data:        []byte("pdf"),
		})
	}
	id := store.Create(userID, KindUploadProcess, items, nil)
	store.SetUploads(id, uploads)
	return id
}

func TestExecutor_UploadOperationCompletes(t *testing.T) {
	store := NewStore()
	sink := &recordingSink{}
	exec := NewExecutor(store, sink, &stubUploads{}, nil, testConfig(), nil)

	id := uploadItems(store, "user-1", "a.pdf", "b.pdf", "c.pdf")

	require.NoError(t, exec.Start(context.Background(), id))
	exec.Wait()

	snap, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, 3, snap.Progress.Processed)
	assert.Equal(t, 3, snap.Progress.Successful)
	assert.Equal(t, 0, snap.Progress.Failed)
	assert.InDelta(t, 100.0, snap.Progress.Percentage, 0.001)
	assert.Empty(t, snap.Progress.CurrentItem)
	assert.NotNil(t, snap.StartedAt)
	assert.NotNil(t, snap.CompletedAt)
	assert.Equal(t, 3, snap.ItemsSummary.Completed)

	items, err := store.ListItems(id, 0, 0)
	require.NoError(t, err)
	for _, item := range items {
		assert.Equal(t, ItemStatusCompleted, item.Status)
		assert.Equal(t, "inv-"+item.Data["filename"].(string), item.Result["invoice_id"])
		assert.NotNil(t, item.ProcessedAt)
	}

	started := sink.withStatus("started")
	require.Len(t, started, 1)
	assert.Equal(t, "user-1", started[0].Target.UserID)
	assert.Equal(t, PriorityNormal, started[0].Priority)

	final := sink.last()
	assert.Equal(t, EventBulkOperation, final.Type)
	assert.Equal(t, PriorityHigh, final.Priority)
	assert.Equal(t, string(StatusCompleted), final.Data["status"])
	assert.Equal(t, 3, final.Data["successful"])

	progress := sink.withStatus("progress")
	assert.NotEmpty(t, progress)
	for _, ev := range progress {
		assert.Equal(t, PriorityLow, ev.Priority)
		assert.Equal(t, "user-1", ev.Target.UserID)
	}
}

func TestExecutor_ItemFailureYieldsPartial(t *testing.T) {
	store := NewStore()
	sink := &recordingSink{}
	deleter := &stubDeletes{failOn: map[string]bool{"inv-2": true, "inv-4": true}}
	exec := NewExecutor(store, sink, nil, deleter, testConfig(), nil)

	id := store.Create("user-1", KindDelete,
		deleteItems("inv-1", "inv-2", "inv-3", "inv-4", "inv-5"), nil)

	require.NoError(t, exec.Start(context.Background(), id))
	exec.Wait()

	snap, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, 5, snap.Progress.Processed)
	assert.Equal(t, 3, snap.Progress.Successful)
	assert.Equal(t, 2, snap.Progress.Failed)

	items, err := store.ListItems(id, 0, 0)
	require.NoError(t, err)
	for _, item := range items {
		switch item.Data["invoice_id"] {
		case "inv-2", "inv-4":
			assert.Equal(t, ItemStatusFailed, item.Status)
			assert.Contains(t, item.Error, "referenced")
			assert.Nil(t, item.Result)
		default:
			assert.Equal(t, ItemStatusCompleted, item.Status)
			assert.NotNil(t, item.Result)
		}
	}

	final := sink.last()
	assert.Equal(t, string(StatusPartial), final.Data["status"])
	assert.Equal(t, 2, final.Data["failed"])
}

func TestExecutor_StartRequiresPending(t *testing.T) {
	store := NewStore()
	exec := NewExecutor(store, nil, &stubUploads{}, nil, testConfig(), nil)

	id := uploadItems(store, "user-1", "a.pdf")
	require.NoError(t, exec.Start(context.Background(), id))

	err := exec.Start(context.Background(), id)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))

	exec.Wait()

	// Terminal operations cannot be restarted either
	err = exec.Start(context.Background(), id)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))
}

func TestExecutor_StartUnknownOperation(t *testing.T) {
	exec := NewExecutor(NewStore(), nil, &stubUploads{}, nil, testConfig(), nil)

	err := exec.Start(context.Background(), "no-such-id")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestExecutor_CancelRequiresRunning(t *testing.T) {
	store := NewStore()
	exec := NewExecutor(store, nil, nil, &stubDeletes{}, testConfig(), nil)

	id := store.Create("user-1", KindDelete, deleteItems("inv-1"), nil)

	err := exec.Cancel(id)
	require.Error(t, err)
	assert.True(t, IsInvalidState(err))

	assert.True(t, IsNotFound(exec.Cancel("no-such-id")))
}

func TestExecutor_CancelStopsBetweenItems(t *testing.T) {
	store := NewStore()
	sink := &recordingSink{}
	deleter := &stubDeletes{
		gate:    make(chan struct{}),
		started: make(chan struct{}),
	}
	exec := NewExecutor(store, sink, nil, deleter, testConfig(), nil)

	id := store.Create("user-1", KindDelete,
		deleteItems("inv-1", "inv-2", "inv-3"), nil)

	require.NoError(t, exec.Start(context.Background(), id))

	// Wait for the first item to be in flight, then cancel
	select {
	case <-deleter.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first item never started")
	}
	require.NoError(t, exec.Cancel(id))

	exec.Wait()

	snap, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, snap.Status)
	assert.NotNil(t, snap.CompletedAt)

	// The in-flight item was interrupted; nothing after it ran
	assert.LessOrEqual(t, snap.Progress.Processed, 1)
	assert.GreaterOrEqual(t, snap.ItemsSummary.Pending, 2)

	final := sink.last()
	assert.Equal(t, string(StatusCancelled), final.Data["status"])
	assert.Equal(t, PriorityHigh, final.Priority)
}

func TestExecutor_ItemTimeoutIsolatesSlowItem(t *testing.T) {
	store := NewStore()
	cfg := testConfig()
	cfg.ItemTimeout = 50 * time.Millisecond
	uploads := &stubUploads{wait: time.Second, failOn: map[string]bool{}}
	exec := NewExecutor(store, nil, uploads, nil, cfg, nil)

	id := uploadItems(store, "user-1", "slow.pdf")

	require.NoError(t, exec.Start(context.Background(), id))
	exec.Wait()

	snap, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPartial, snap.Status)
	assert.Equal(t, 1, snap.Progress.Failed)

	items, err := store.ListItems(id, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ItemStatusFailed, items[0].Status)
	assert.Contains(t, items[0].Error, "context deadline exceeded")
}

func TestExecutor_ErrorMessagesAreTruncated(t *testing.T) {
	store := NewStore()
	cfg := testConfig()
	cfg.MaxErrorLength = 16
	long := make([]byte, 0, 128)
	for i := 0; i < 128; i++ {
		long = append(long, 'x')
	}
	uploads := &stubUploads{failOn: map[string]bool{string(long): true}}
	exec := NewExecutor(store, nil, uploads, nil, cfg, nil)

	id := uploadItems(store, "user-1", string(long))

	require.NoError(t, exec.Start(context.Background(), id))
	exec.Wait()

	items, err := store.ListItems(id, 0, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.LessOrEqual(t, len(items[0].Error), 16)
}

func TestExecutor_ConcurrentOperationsAreIndependent(t *testing.T) {
	store := NewStore()
	exec := NewExecutor(store, nil, &stubUploads{}, &stubDeletes{}, testConfig(), nil)

	var ids []string
	for i := 0; i < 4; i++ {
		ids = append(ids, uploadItems(store, fmt.Sprintf("user-%d", i), "a.pdf", "b.pdf"))
	}
	for _, id := range ids {
		require.NoError(t, exec.Start(context.Background(), id))
	}
	exec.Wait()

	for _, id := range ids {
		snap, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, snap.Status)
		assert.Equal(t, 2, snap.Progress.Successful)
	}
}
