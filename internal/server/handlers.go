package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/audiosync/internal/filestore"
	"github.com/maauso/audiosync/internal/task"
	"github.com/maauso/audiosync/internal/workflow"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	store     *filestore.Store
	tasks     *task.Manager
	workflows *workflow.Service
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store *filestore.Store, tasks *task.Manager, workflows *workflow.Service, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:     store,
		tasks:     tasks,
		workflows: workflows,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", Files: h.store.Len()})
}

// RegisterFiles handles POST /files requests. Registration is synchronous
// and reports one outcome per file.
func (h *Handlers) RegisterFiles(w http.ResponseWriter, r *http.Request) {
	var req RegisterFilesRequest
	if !h.decode(w, r, &req) {
		return
	}

	regs := make([]filestore.Registration, len(req.Files))
	for i, f := range req.Files {
		regs[i] = filestore.Registration{FileID: f.FileID, Path: f.Path, Kind: filestore.Kind(f.Kind)}
	}
	results := h.store.RegisterFiles(r.Context(), regs, nil)

	writeJSON(w, http.StatusOK, RegisterFilesResponse{Results: results})
}

// ListFiles handles GET /files requests.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, FileListResponse{Files: h.store.Snapshots()})
}

// GetFile handles GET /files/{id} requests.
func (h *Handlers) GetFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("id")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "file ID is required", "MISSING_FILE_ID")
		return
	}

	rec, err := h.store.Get(fileID)
	if err != nil {
		if errors.Is(err, filestore.ErrUnknownFile) {
			writeError(w, http.StatusNotFound, "file not found", "FILE_NOT_FOUND")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get file", "FILE_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, rec.Snapshot())
}

// ProbeTask handles POST /tasks/probe requests.
func (h *Handlers) ProbeTask(w http.ResponseWriter, r *http.Request) {
	var req ProbeTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, "probe", h.workflows.Probe(req.FileIDs))
}

// SegmentTask handles POST /tasks/segment requests.
func (h *Handlers) SegmentTask(w http.ResponseWriter, r *http.Request) {
	var req SegmentTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	reqs := make([]filestore.SegmentRequest, len(req.Files))
	for i, f := range req.Files {
		sr, err := f.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		reqs[i] = sr
	}
	h.submit(w, "segment", h.workflows.Segment(reqs))
}

// EncodeTask handles POST /tasks/encode requests.
func (h *Handlers) EncodeTask(w http.ResponseWriter, r *http.Request) {
	var req EncodeTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	reqs := make([]filestore.EncodeRequest, len(req.Files))
	for i, f := range req.Files {
		er, err := f.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		reqs[i] = er
	}
	h.submit(w, "encode", h.workflows.Encode(reqs))
}

// PublishTask handles POST /tasks/publish requests.
func (h *Handlers) PublishTask(w http.ResponseWriter, r *http.Request) {
	var req PublishTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, "publish", h.workflows.Publish(workflow.PublishRequest{
		FileIDs: req.FileIDs,
		Name:    req.Name,
		Upload:  req.Upload,
	}))
}

// ListTasks handles GET /tasks requests.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.tasks.List()
	resp := TaskListResponse{Tasks: make([]TaskResponse, len(tasks))}
	for i, t := range tasks {
		resp.Tasks[i] = newTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTask handles GET /tasks/{id} requests.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required", "MISSING_TASK_ID")
		return
	}

	t, err := h.tasks.Get(taskID)
	if err != nil {
		if errors.Is(err, task.ErrNoSuchTask) {
			writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get task",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get task", "TASK_FETCH_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(t))
}

// CancelTask handles DELETE /tasks/{id} requests. Unknown ids are accepted.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		writeError(w, http.StatusBadRequest, "task ID is required", "MISSING_TASK_ID")
		return
	}

	if err := h.tasks.Cancel(r.Context(), taskID); err != nil {
		h.logger.Error("task cleanup failed",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "task cleanup failed", "TASK_CLEANUP_FAILED")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) submit(w http.ResponseWriter, name string, worker task.Worker) {
	t, err := h.tasks.Submit(name, worker)
	if err != nil {
		h.logger.Error("failed to submit task",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
		switch {
		case errors.Is(err, task.ErrQueueFull), errors.Is(err, task.ErrStopped):
			writeError(w, http.StatusServiceUnavailable, err.Error(), "TASK_QUEUE_UNAVAILABLE")
		default:
			writeError(w, http.StatusInternalServerError, "failed to submit task", "TASK_SUBMIT_FAILED")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, newTaskResponse(t))
}

// decode reads and validates a JSON body, writing the error response itself
// when it fails.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
