// Package server provides the HTTP server for audiosync.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/audiosync/internal/audio"
	"github.com/maauso/audiosync/internal/encoding"
	"github.com/maauso/audiosync/internal/filestore"
	"github.com/maauso/audiosync/internal/task"
)

// RegisterFileRequest names one file to register.
type RegisterFileRequest struct {
	// FileID is the caller-chosen identifier.
	FileID string `json:"fileId" validate:"required,max=256"`
	// Path is the location of the file on the server.
	Path string `json:"path" validate:"required"`
	// Kind is "audio" (default) or "image".
	Kind string `json:"kind" validate:"omitempty,oneof=audio image"`
}

// RegisterFilesRequest is the HTTP request body for POST /files.
type RegisterFilesRequest struct {
	Files []RegisterFileRequest `json:"files" validate:"required,min=1,dive"`
}

// RegisterFilesResponse reports the per-file registration outcome.
type RegisterFilesResponse struct {
	Results []filestore.Outcome `json:"results"`
}

// FileListResponse is the HTTP response for GET /files.
type FileListResponse struct {
	Files []filestore.Snapshot `json:"files"`
}

// ProbeTaskRequest is the HTTP request body for POST /tasks/probe.
type ProbeTaskRequest struct {
	FileIDs []string `json:"fileIds" validate:"required,min=1,dive,required"`
}

// ItemRequest is a segmentation item supplied by the caller.
type ItemRequest struct {
	Start    float64 `json:"start" validate:"gte=0"`
	Duration float64 `json:"duration" validate:"gt=0"`
	Type     string  `json:"type" validate:"required,oneof=buffer dash"`
}

// SegmentFileRequest names a file to segment, optionally with known items.
type SegmentFileRequest struct {
	FileID string        `json:"fileId" validate:"required"`
	Items  []ItemRequest `json:"items" validate:"omitempty,dive"`
}

// SegmentTaskRequest is the HTTP request body for POST /tasks/segment.
type SegmentTaskRequest struct {
	Files []SegmentFileRequest `json:"files" validate:"required,min=1,dive"`
}

// EncodedItemRequest is a previously encoded item supplied by the caller.
type EncodedItemRequest struct {
	Start              float64 `json:"start" validate:"gte=0"`
	Duration           float64 `json:"duration" validate:"gt=0"`
	Type               string  `json:"type" validate:"required,oneof=buffer dash"`
	RelativePath       string  `json:"relativePath" validate:"required"`
	RelativePathSafari string  `json:"relativePathSafari"`
}

// EncodeFileRequest names a file to encode. EncodedItems with
// EncodedItemsBasePath seed a previous result; EncodedItemsBasePath alone
// selects the output directory.
type EncodeFileRequest struct {
	FileID               string               `json:"fileId" validate:"required"`
	EncodedItems         []EncodedItemRequest `json:"encodedItems" validate:"omitempty,dive"`
	EncodedItemsBasePath string               `json:"encodedItemsBasePath" validate:"required_with=EncodedItems"`
}

// EncodeTaskRequest is the HTTP request body for POST /tasks/encode.
type EncodeTaskRequest struct {
	Files []EncodeFileRequest `json:"files" validate:"required,min=1,dive"`
}

// PublishTaskRequest is the HTTP request body for POST /tasks/publish.
type PublishTaskRequest struct {
	FileIDs []string `json:"fileIds" validate:"required,min=1,dive,required"`
	// Name prefixes the bundle directory.
	Name string `json:"name" validate:"omitempty,max=64,excludesall=/"`
	// Upload pushes the bundle to S3.
	Upload bool `json:"upload"`
}

// TaskResponse is the HTTP representation of a task.
type TaskResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Completed   float64    `json:"completed"`
	Total       int        `json:"total"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TaskListResponse is the HTTP response for GET /tasks.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Files is the number of registered files.
	Files int `json:"files"`
}

func newTaskResponse(t *task.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		Name:        t.Name,
		Status:      string(t.Status),
		Completed:   t.Completed,
		Total:       t.Total,
		CurrentStep: t.CurrentStep,
		Result:      t.Result,
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
	}
	if !t.StartedAt.IsZero() {
		started := t.StartedAt
		resp.StartedAt = &started
	}
	if !t.CompletedAt.IsZero() {
		completed := t.CompletedAt
		resp.CompletedAt = &completed
	}
	return resp
}

func (r SegmentFileRequest) toDomain() (filestore.SegmentRequest, error) {
	out := filestore.SegmentRequest{FileID: r.FileID}
	for _, it := range r.Items {
		kind, err := audio.ParseKind(it.Type)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, audio.Item{Start: it.Start, Duration: it.Duration, Type: kind})
	}
	return out, nil
}

func (r EncodeFileRequest) toDomain() (filestore.EncodeRequest, error) {
	out := filestore.EncodeRequest{FileID: r.FileID, EncodedItemsBasePath: r.EncodedItemsBasePath}
	for _, it := range r.EncodedItems {
		kind, err := audio.ParseKind(it.Type)
		if err != nil {
			return out, err
		}
		out.EncodedItems = append(out.EncodedItems, encoding.EncodedItem{
			Start:              it.Start,
			Duration:           it.Duration,
			Type:               kind,
			RelativePath:       it.RelativePath,
			RelativePathSafari: it.RelativePathSafari,
		})
	}
	return out, nil
}
