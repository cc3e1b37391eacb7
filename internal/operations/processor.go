package operations

import (
	"context"
)

// UploadProcessor is the narrow interface to the excluded extraction and
// persistence pipeline: it turns one uploaded file into a stored invoice
// and returns a result payload describing what was persisted.
type UploadProcessor interface {
	ProcessUpload(ctx context.Context, userID string, upload UploadInput) (map[string]interface{}, error)
}

// RecordDeleter is the narrow interface to the excluded CRUD layer used
// by delete operations.
type RecordDeleter interface {
	DeleteInvoice(ctx context.Context, userID, invoiceID string) (map[string]interface{}, error)
}
