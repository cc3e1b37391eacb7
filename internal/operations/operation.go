package operations

import (
	"time"

	"github.com/google/uuid"
)

// Kind identifies the type of bulk operation
type Kind string

const (
	KindUploadProcess Kind = "upload_process"
	KindDelete        Kind = "delete"
)

// Status represents the lifecycle status of an operation
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusPartial   Status = "partial"
)

// IsTerminal reports whether no further transitions are possible
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusPartial:
		return true
	}
	return false
}

// ItemStatus represents the status of a single work item
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// Item is one unit of work inside an operation. Items are created with
// the parent operation and mutated only by the executor that owns it.
type Item struct {
	ID          string                 `json:"id"`
	OperationID string                 `json:"operation_id"`
	Status      ItemStatus             `json:"status"`
	Data        map[string]interface{} `json:"data"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
}

// Progress tracks aggregate progress of an operation.
// Invariant: Processed == Successful + Failed and Processed <= Total.
type Progress struct {
	Total            int     `json:"total"`
	Processed        int     `json:"processed"`
	Successful       int     `json:"successful"`
	Failed           int     `json:"failed"`
	Percentage       float64 `json:"percentage"`
	CurrentItem      string  `json:"current_item,omitempty"`
	RemainingSeconds float64 `json:"estimated_remaining_time,omitempty"`
}

// UploadInput carries one file payload for an upload_process operation.
// Payloads are buffered on the operation while it runs and purged after
// execution to bound memory.
type UploadInput struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Operation is one bulk batch request tracked as a single unit.
type Operation struct {
	ID          string                 `json:"id"`
	UserID      string                 `json:"user_id"`
	Kind        Kind                   `json:"operation_type"`
	Status      Status                 `json:"status"`
	Items       []*Item                `json:"-"`
	Progress    Progress               `json:"progress"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Error       string                 `json:"error,omitempty"`

	// uploads holds not-yet-consumed input payloads, released on finalize
	uploads []UploadInput

	// cancelRequested is the cooperative cancellation flag, observed by
	// the executor between items. Guarded by the owning store record lock.
	cancelRequested bool
}

// ItemsSummary counts items by status
type ItemsSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Snapshot is an immutable value copy of an operation's observable state.
// Reads from the store never expose live references.
type Snapshot struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	Kind         Kind                   `json:"operation_type"`
	Status       Status                 `json:"status"`
	Progress     Progress               `json:"progress"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ItemsSummary ItemsSummary           `json:"items_summary"`
}

// newOperation builds a pending operation with its items
func newOperation(userID string, kind Kind, items []*Item, metadata map[string]interface{}) *Operation {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	op := &Operation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Kind:      kind,
		Status:    StatusPending,
		Items:     items,
		CreatedAt: time.Now().UTC(),
		Metadata:  metadata,
		Progress: Progress{
			Total: len(items),
		},
	}
	for _, item := range items {
		item.OperationID = op.ID
	}
	return op
}

// newItem builds a pending item from an input descriptor
func newItem(data map[string]interface{}) *Item {
	return &Item{
		ID:     uuid.New().String(),
		Status: ItemStatusPending,
		Data:   data,
	}
}

// snapshot creates a deep value copy of the observable state.
// Callers must hold the record lock.
func (o *Operation) snapshot() Snapshot {
	snap := Snapshot{
		ID:        o.ID,
		UserID:    o.UserID,
		Kind:      o.Kind,
		Status:    o.Status,
		Progress:  o.Progress,
		CreatedAt: o.CreatedAt,
		Error:     o.Error,
		Metadata:  make(map[string]interface{}, len(o.Metadata)),
	}
	for k, v := range o.Metadata {
		snap.Metadata[k] = v
	}
	if o.StartedAt != nil {
		t := *o.StartedAt
		snap.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		snap.CompletedAt = &t
	}
	snap.ItemsSummary.Total = len(o.Items)
	for _, item := range o.Items {
		switch item.Status {
		case ItemStatusPending:
			snap.ItemsSummary.Pending++
		case ItemStatusProcessing:
			snap.ItemsSummary.Processing++
		case ItemStatusCompleted:
			snap.ItemsSummary.Completed++
		case ItemStatusFailed:
			snap.ItemsSummary.Failed++
		}
	}
	return snap
}

// copyItem creates a deep value copy of an item
func copyItem(item *Item) Item {
	cp := Item{
		ID:          item.ID,
		OperationID: item.OperationID,
		Status:      item.Status,
		Error:       item.Error,
	}
	if item.Data != nil {
		cp.Data = make(map[string]interface{}, len(item.Data))
		for k, v := range item.Data {
			cp.Data[k] = v
		}
	}
	if item.Result != nil {
		cp.Result = make(map[string]interface{}, len(item.Result))
		for k, v := range item.Result {
			cp.Result[k] = v
		}
	}
	if item.ProcessedAt != nil {
		t := *item.ProcessedAt
		cp.ProcessedAt = &t
	}
	return cp
}
