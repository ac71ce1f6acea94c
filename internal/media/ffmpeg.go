package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result is the captured outcome of one external process invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs an external process to completion and returns its captured output.
// Output is fully buffered before Run returns, so callers may parse stderr
// without racing the process.
type Runner interface {
	Run(ctx context.Context, bin string, args []string) (Result, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes bin with args. A non-zero exit status is reported as *FFmpegError
// alongside the captured output.
func (ExecRunner) Run(ctx context.Context, bin string, args []string) (Result, error) {
	// #nosec G204 - bin is resolved by the application, not user input
	cmd := exec.CommandContext(ctx, bin, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s cancelled: %w", bin, ctx.Err())
		}
		return res, &FFmpegError{
			Args:     args,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
			Err:      err,
		}
	}
	return res, nil
}

// FFmpegError represents a failed ffmpeg/ffprobe invocation, including its stderr output.
type FFmpegError struct {
	Args     []string
	Stderr   string
	ExitCode int
	Err      error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error (exit %d): %v\nargs: %v\nstderr: %s",
		e.ExitCode, e.Err, e.Args, tail(e.Stderr, 2048))
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// AsFFmpegError reports whether err carries an *FFmpegError.
func AsFFmpegError(err error) (*FFmpegError, bool) {
	var fe *FFmpegError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// tail keeps the last n bytes of s; ffmpeg prints the useful diagnostics last.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
