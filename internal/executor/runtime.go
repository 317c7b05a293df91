// Package executor handles agent CLI subprocess execution
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cloud-shuttle/foreman/pkg/types"
)

// DefaultKillGrace is how long a process gets after SIGTERM before it is killed
const DefaultKillGrace = 5 * time.Second

// Request describes one agent invocation
type Request struct {
	Prompt string
	Model  types.Model
	Dir    string

	// UseStdin feeds the prompt through the process input stream instead of -p
	UseStdin bool

	// Timeout bounds the run; zero leaves only the caller's context
	Timeout time.Duration

	// OnStdout receives output chunks as the process writes them
	OnStdout func(chunk string)
}

// Result contains the outcome of an agent invocation
type Result struct {
	ExitCode  int
	Stdout    string
	Stderr    string
	Duration  time.Duration
	TimedOut  bool
	Cancelled bool
	Err       error // nil on success, wraps types.ErrAgentFailure otherwise
}

// Success reports whether the agent exited 0 within its deadline
func (r *Result) Success() bool {
	return r.Err == nil
}

// Runtime runs the agent CLI
type Runtime struct {
	path      string
	killGrace time.Duration
	verbose   bool // Enable verbose logging
}

// NewRuntime creates a runtime for the agent binary at path
func NewRuntime(path string) *Runtime {
	return &Runtime{
		path:      path,
		killGrace: DefaultKillGrace,
	}
}

// SetVerbose enables or disables verbose logging
func (r *Runtime) SetVerbose(v bool) {
	r.verbose = v
}

// SetKillGrace sets how long to wait after SIGTERM before killing the process
func (r *Runtime) SetKillGrace(d time.Duration) {
	r.killGrace = d
}

// Path returns the agent binary path
func (r *Runtime) Path() string {
	return r.path
}

// CheckInstalled verifies the agent binary is available
func (r *Runtime) CheckInstalled() error {
	if _, err := exec.LookPath(r.path); err != nil {
		return fmt.Errorf("agent runtime %q: %w: %v", r.path, types.ErrExternalToolMissing, err)
	}
	return nil
}

// args builds the CLI arguments for a request
func (r *Runtime) args(req Request) []string {
	var args []string
	if !req.UseStdin {
		args = append(args, "-p", req.Prompt)
	} else {
		args = append(args, "-p")
	}
	if req.Model != "" {
		args = append(args, "--model", string(req.Model))
	}
	// Skip permission prompts so a headless run never hangs
	args = append(args, "--dangerously-skip-permissions")
	return args
}

// Run executes the agent and blocks until it exits, times out or ctx is cancelled.
// Termination is delivered as SIGTERM.
func (r *Runtime) Run(ctx context.Context, req Request) *Result {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	if r.verbose {
		log.Printf("🤖 Sending prompt to agent (length: %d chars, model: %s)", len(req.Prompt), req.Model)
		log.Printf("📝 Prompt preview: %s", truncateString(req.Prompt, 200))
	}

	cmd := exec.CommandContext(ctx, r.path, r.args(req)...)
	cmd.Dir = req.Dir
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.killGrace
	if req.UseStdin {
		cmd.Stdin = strings.NewReader(req.Prompt)
	}

	var outputBuf, errBuf syncBuilder
	var stdout io.Writer = &outputBuf
	if req.OnStdout != nil {
		stdout = io.MultiWriter(&outputBuf, chunkWriter(req.OnStdout))
	}
	if r.verbose {
		stdout = io.MultiWriter(stdout, os.Stdout)
	}
	cmd.Stdout = stdout
	cmd.Stderr = &errBuf

	start := time.Now()
	if r.verbose {
		log.Printf("⏱️  Agent execution started at %s", start.Format("15:04:05"))
	}
	err := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Stdout:   outputBuf.String(),
		Stderr:   errBuf.String(),
		Duration: duration,
	}

	if err == nil {
		if r.verbose {
			log.Printf("✅ Agent completed successfully in %v", duration)
		}
		return result
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.Err = fmt.Errorf("%w: timed out after %v", types.ErrAgentFailure, duration)
	case errors.Is(ctx.Err(), context.Canceled):
		result.Cancelled = true
		result.Err = fmt.Errorf("%w: cancelled after %v", types.ErrAgentFailure, duration)
	case exitErr != nil:
		result.Err = fmt.Errorf("%w: exit code %d after %v", types.ErrAgentFailure, result.ExitCode, duration)
	default:
		result.Err = fmt.Errorf("%w: %v", types.ErrAgentFailure, err)
	}

	if r.verbose {
		log.Printf("❌ Agent exited with code %d after %v", result.ExitCode, duration)
	}
	return result
}

// chunkWriter forwards each write to a callback
type chunkWriter func(chunk string)

func (w chunkWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w(string(p))
	}
	return len(p), nil
}

// syncBuilder is a strings.Builder safe for the concurrent writes os/exec
// may issue when stdout and stderr share a sink.
type syncBuilder struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *syncBuilder) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuilder) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

// truncateString truncates a string to a maximum length for logging
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
