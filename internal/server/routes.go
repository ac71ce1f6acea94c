package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins. "*" allows any.
	AllowedOrigins []string
}

// DefaultConfig returns a Config that allows any origin.
func DefaultConfig() Config {
	return Config{AllowedOrigins: []string{"*"}}
}

// NewRouter builds the API: file registration and inspection under /files,
// asynchronous pipeline tasks under /tasks.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.Health)
	fileRoutes(mux, h)
	taskRoutes(mux, h)

	return ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)(mux)
}

func fileRoutes(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("POST /files", h.RegisterFiles)
	mux.HandleFunc("GET /files", h.ListFiles)
	mux.HandleFunc("GET /files/{id}", h.GetFile)
}

// taskRoutes registers one submit endpoint per pipeline step plus the
// task inspection and cancellation endpoints.
func taskRoutes(mux *http.ServeMux, h *Handlers) {
	submit := map[string]http.HandlerFunc{
		"probe":   h.ProbeTask,
		"segment": h.SegmentTask,
		"encode":  h.EncodeTask,
		"publish": h.PublishTask,
	}
	for step, fn := range submit {
		mux.HandleFunc("POST /tasks/"+step, fn)
	}

	mux.HandleFunc("GET /tasks", h.ListTasks)
	mux.HandleFunc("GET /tasks/{id}", h.GetTask)
	mux.HandleFunc("DELETE /tasks/{id}", h.CancelTask)
}
