// Package extool runs external processing binaries with structured argument
// lists. Every invocation blocks until the process exits, captures stdout and
// stderr separately, and surfaces a non-zero exit as an *ExternalToolError
// carrying the captured stderr. There are no retries and no timeouts; callers
// needing bounded latency must wrap the context themselves.
package extool

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// Command describes a single external invocation.
type Command struct {
	Name string
	Args []string
	Dir  string // working directory, empty for inherited
}

// String renders the command for logs only; it is never handed to a shell.
func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Output captures what the process wrote before exiting.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExternalToolError reports a process that exited non-zero (or could not be
// started at all, in which case ExitCode is -1).
type ExternalToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ExternalToolError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = "no diagnostic output"
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Tool, e.ExitCode, detail)
}

// Runner executes external commands. The single production implementation is
// ExecRunner; tests substitute stubs.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Output, error)
}

// ExecRunner invokes commands via os/exec.
type ExecRunner struct {
	log *slog.Logger
}

// NewExecRunner creates a runner that logs invocations through logger.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{log: logger}
}

// Run executes cmd and blocks until it exits.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Output, error) {
	r.log.Debug("running external tool", "command", cmd.String(), "dir", cmd.Dir)

	ec := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	ec.Dir = cmd.Dir

	var stdout, stderr bytes.Buffer
	ec.Stdout = &stdout
	ec.Stderr = &stderr

	err := ec.Run()
	out := Output{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		out.ExitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.ExitCode = exitErr.ExitCode()
		}
		toolErr := &ExternalToolError{
			Tool:     cmd.Name,
			Args:     cmd.Args,
			ExitCode: out.ExitCode,
			Stderr:   out.Stderr,
		}
		if out.Stderr == "" {
			// Process never started (e.g. binary missing); keep the exec
			// error text as the diagnostic.
			toolErr.Stderr = err.Error()
		}
		r.log.Error("external tool failed",
			"tool", cmd.Name,
			"exit_code", out.ExitCode,
			"stderr", strings.TrimSpace(toolErr.Stderr),
		)
		return out, toolErr
	}

	r.log.Debug("external tool completed", "tool", cmd.Name)
	return out, nil
}
