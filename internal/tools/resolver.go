// Package tools locates the external executables the pipeline shells out to.
package tools

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Well-known tool names.
const (
	FFmpeg  = "ffmpeg"
	FFprobe = "ffprobe"
)

// ErrToolNotFound is returned when a required executable cannot be located.
var ErrToolNotFound = errors.New("tools: executable not found")

// LookPathFunc matches exec.LookPath.
type LookPathFunc func(file string) (string, error)

// Resolver resolves tool names to canonical absolute paths and memoizes the
// result for its lifetime. It is safe for concurrent use.
type Resolver struct {
	mu        sync.Mutex
	resolved  map[string]string
	overrides map[string]string
	lookPath  LookPathFunc
	evalLinks func(string) (string, error)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithOverride pins a tool name to an explicit path or command.
// The override is still canonicalized on first use.
func WithOverride(name, path string) Option {
	return func(r *Resolver) {
		if strings.TrimSpace(path) != "" {
			r.overrides[name] = strings.TrimSpace(path)
		}
	}
}

// WithLookPath replaces the PATH lookup. Used by tests.
func WithLookPath(fn LookPathFunc) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.lookPath = fn
		}
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		resolved:  make(map[string]string),
		overrides: make(map[string]string),
		lookPath:  exec.LookPath,
		evalLinks: filepath.EvalSymlinks,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the absolute, symlink-free path of the named tool.
func (r *Resolver) Resolve(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.resolved[name]; ok {
		return p, nil
	}

	target := name
	if o, ok := r.overrides[name]; ok {
		target = o
	}

	found, err := r.lookPath(target)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrToolNotFound, target)
		}
		return "", fmt.Errorf("%w: lookup %s: %v", ErrToolNotFound, target, err)
	}

	abs, err := filepath.Abs(found)
	if err != nil {
		return "", fmt.Errorf("%w: absolute path for %s: %v", ErrToolNotFound, found, err)
	}
	canonical, err := r.evalLinks(abs)
	if err != nil {
		return "", fmt.Errorf("%w: resolve symlinks for %s: %v", ErrToolNotFound, abs, err)
	}

	r.resolved[name] = canonical
	return canonical, nil
}

// Encoder resolves ffmpeg.
func (r *Resolver) Encoder() (string, error) {
	return r.Resolve(FFmpeg)
}

// Prober resolves ffprobe.
func (r *Resolver) Prober() (string, error) {
	return r.Resolve(FFprobe)
}

// MustResolveAll checks every named tool up front so the process can fail fast.
func (r *Resolver) MustResolveAll(names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
