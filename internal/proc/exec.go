package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Runner executes shell commands.
type Runner interface {
	// Run executes command through the shell with dir as working directory.
	// A non-zero exit status is reported in the Result, not as a Go error.
	Run(ctx context.Context, dir, command string) Result
}

// Result is the observable outcome of one command.
type Result struct {
	Command  string
	Dir      string
	ExitCode int
	Stdout   []byte
	Stderr   []byte
	Duration time.Duration
	Err      error // set when the process could not be started or was killed
}

// Success reports whether the command started and exited with status 0.
func (r Result) Success() bool {
	return r.Err == nil && r.ExitCode == 0
}

// Describe summarizes a failed result, or returns "" on success.
func (r Result) Describe() string {
	if r.Success() {
		return ""
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Command, r.Err)
	}
	return fmt.Sprintf("%s: exit status %d", r.Command, r.ExitCode)
}

// FirstLine returns the first non-empty line of stdout, falling back to stderr.
func (r Result) FirstLine() string {
	if line := firstLine(r.Stdout); line != "" {
		return line
	}
	return firstLine(r.Stderr)
}

func firstLine(b []byte) string {
	for _, line := range strings.Split(string(b), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// ShellRunner runs commands with "sh -c". The child gets its own working
// directory, so the caller's directory is never changed.
type ShellRunner struct {
	Shell string

	// Passthrough, when set, also receives the child's stdout and stderr.
	Passthrough io.Writer
}

// NewShellRunner returns a runner using /bin/sh.
func NewShellRunner() *ShellRunner {
	return &ShellRunner{Shell: "sh"}
}

func (s *ShellRunner) Run(ctx context.Context, dir, command string) Result {
	shell := s.Shell
	if shell == "" {
		shell = "sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	if s.Passthrough != nil {
		cmd.Stdout = io.MultiWriter(&stdout, s.Passthrough)
		cmd.Stderr = io.MultiWriter(&stderr, s.Passthrough)
	} else {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		Command:  command,
		Dir:      dir,
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: elapsed,
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr) && exitErr.ExitCode() >= 0:
		res.ExitCode = exitErr.ExitCode()
	default:
		res.ExitCode = -1
		res.Err = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && res.Err == nil && res.ExitCode != 0 {
		res.Err = ctxErr
	}

	return res
}

// Echo writes "# <command>" to W before delegating to Next.
type Echo struct {
	W    io.Writer
	Next Runner
}

func (e Echo) Run(ctx context.Context, dir, command string) Result {
	fmt.Fprintln(e.W, "#", command)
	return e.Next.Run(ctx, dir, command)
}

// IsNotFound checks if the error indicates the command was not found
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return os.IsNotExist(err) || errors.Is(err, exec.ErrNotFound)
}

// IsPermissionDenied checks if the error indicates permission was denied
func IsPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	return os.IsPermission(err)
}
