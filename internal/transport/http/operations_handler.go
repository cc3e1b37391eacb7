package http

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "invoiceflow/internal/errors"
	"invoiceflow/internal/operations"
)

// maxUploadBytes bounds the multipart form kept in memory per request
const maxUploadBytes = 32 << 20

// userIDHeader carries the authenticated user set by the edge proxy
const userIDHeader = "X-User-ID"

var validate = validator.New()

// OperationsHandler handles bulk operation HTTP requests
type OperationsHandler struct {
	orchestrator *operations.Orchestrator
	logger       *slog.Logger
}

// NewOperationsHandler creates a new operations handler
func NewOperationsHandler(orchestrator *operations.Orchestrator, logger *slog.Logger) *OperationsHandler {
	if orchestrator == nil {
		panic("orchestrator cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &OperationsHandler{
		orchestrator: orchestrator,
		logger:       logger.With(slog.String("handler", "operations")),
	}
}

// DeleteRequest is the body of POST /api/operations/delete
type DeleteRequest struct {
	InvoiceIDs []string               `json:"invoice_ids" validate:"required,min=1,dive,required"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Bind implements the render.Binder interface for request validation
func (r *DeleteRequest) Bind(req *http.Request) error {
	return validate.Struct(r)
}

// Routes returns a chi router for operations endpoints
func (h *OperationsHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/upload", h.CreateUploadOperation)
	r.Post("/delete", h.CreateDeleteOperation)
	r.Post("/{id}/start", h.StartOperation)
	r.Post("/{id}/cancel", h.CancelOperation)
	r.Get("/{id}", h.GetOperation)
	r.Get("/{id}/items", h.ListOperationItems)
	r.Get("/", h.ListOperations)

	return r
}

// CreateUploadOperation handles POST /api/operations/upload
func (h *OperationsHandler) CreateUploadOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		render.Render(w, r, apierrors.ErrUnauthorized)
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.logger.WarnContext(ctx, "failed to parse multipart form",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File["files"]
	}
	if len(headers) == 0 {
		render.Render(w, r, apierrors.ErrValidation("files", "at least one file is required"))
		return
	}

	uploads := make([]operations.UploadInput, 0, len(headers))
	for _, header := range headers {
		data, err := readFormFile(header)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to read uploaded file",
				slog.String("filename", header.Filename),
				slog.String("error", err.Error()))
			render.Render(w, r, apierrors.InvalidRequestWithError(err))
			return
		}
		uploads = append(uploads, operations.UploadInput{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	id, err := h.orchestrator.CreateUploadOperation(ctx, userID, uploads, nil)
	if err != nil {
		h.renderOperationError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"operation_id": id,
		"status":       string(operations.StatusPending),
		"total_items":  len(uploads),
	})
}

// CreateDeleteOperation handles POST /api/operations/delete
func (h *OperationsHandler) CreateDeleteOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		render.Render(w, r, apierrors.ErrUnauthorized)
		return
	}

	data := &DeleteRequest{}
	if err := render.Bind(r, data); err != nil {
		h.logger.WarnContext(ctx, "failed to bind delete request",
			slog.String("error", err.Error()))
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
		return
	}

	id, err := h.orchestrator.CreateDeleteOperation(ctx, userID, data.InvoiceIDs, data.Metadata)
	if err != nil {
		h.renderOperationError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"operation_id": id,
		"status":       string(operations.StatusPending),
		"total_items":  len(data.InvoiceIDs),
	})
}

// StartOperation handles POST /api/operations/{id}/start
func (h *OperationsHandler) StartOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	userID, ok := h.authorize(w, r, id)
	if !ok {
		return
	}

	if err := h.orchestrator.Start(ctx, id); err != nil {
		h.renderOperationError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "operation started",
		slog.String("operation_id", id),
		slog.String("user_id", userID))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"operation_id": id,
		"status":       string(operations.StatusRunning),
	})
}

// CancelOperation handles POST /api/operations/{id}/cancel
func (h *OperationsHandler) CancelOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	userID, ok := h.authorize(w, r, id)
	if !ok {
		return
	}

	if err := h.orchestrator.Cancel(ctx, id); err != nil {
		h.renderOperationError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "operation cancellation requested",
		slog.String("operation_id", id),
		slog.String("user_id", userID))

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, map[string]interface{}{
		"operation_id": id,
		"status":       "cancel_requested",
	})
}

// GetOperation handles GET /api/operations/{id}
func (h *OperationsHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, ok := h.authorize(w, r, id); !ok {
		return
	}

	snapshot, err := h.orchestrator.Get(ctx, id)
	if err != nil {
		h.renderOperationError(w, r, err)
		return
	}

	render.JSON(w, r, snapshot)
}

// ListOperationItems handles GET /api/operations/{id}/items
func (h *OperationsHandler) ListOperationItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if _, ok := h.authorize(w, r, id); !ok {
		return
	}

	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	items, err := h.orchestrator.ListItems(ctx, id, limit, offset)
	if err != nil {
		h.renderOperationError(w, r, err)
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"operation_id": id,
		"items":        items,
		"count":        len(items),
		"offset":       offset,
	})
}

// ListOperations handles GET /api/operations
func (h *OperationsHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		render.Render(w, r, apierrors.ErrUnauthorized)
		return
	}

	limit := queryInt(r, "limit", 0)
	snapshots := h.orchestrator.ListForUser(ctx, userID, limit)

	render.JSON(w, r, map[string]interface{}{
		"operations": snapshots,
		"count":      len(snapshots),
	})
}

// authorize resolves the requesting user and checks ownership of the
// operation. It renders the error response itself when the check fails.
func (h *OperationsHandler) authorize(w http.ResponseWriter, r *http.Request, id string) (string, bool) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		render.Render(w, r, apierrors.ErrUnauthorized)
		return "", false
	}

	snapshot, err := h.orchestrator.Get(r.Context(), id)
	if err != nil {
		h.renderOperationError(w, r, err)
		return "", false
	}
	if snapshot.UserID != userID {
		render.Render(w, r, apierrors.ErrForbidden)
		return "", false
	}
	return userID, true
}

// renderOperationError maps operations errors onto the API error surface
func (h *OperationsHandler) renderOperationError(w http.ResponseWriter, r *http.Request, err error) {
	var opErr *operations.OperationError
	switch {
	case operations.IsNotFound(err):
		render.Render(w, r, apierrors.ErrOperationNotFound)
	case operations.IsInvalidState(err):
		render.Render(w, r, apierrors.InvalidStateError(err.Error()))
	case errors.As(err, &opErr) && opErr.Type == operations.ErrorTypeValidation:
		render.Render(w, r, apierrors.InvalidRequestWithError(err))
	default:
		h.logger.Error("unexpected operation error", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.ErrInternalServer)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}

// readFormFile loads a single multipart file into memory
func readFormFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", header.Filename, err)
	}
	return data, nil
}
