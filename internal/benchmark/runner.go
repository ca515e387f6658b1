package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/kballard/go-shellquote"

	"speedtests/internal/proc"
)

// ErrRunFailed is returned when the benchmarked command exits non-zero or
// cannot be started. No record is saved in that case.
var ErrRunFailed = errors.New("benchmark run failed")

// Runner times a command and persists the result under key.
type Runner interface {
	Run(ctx context.Context, dir, key, command string) (Record, error)
}

// TimerRunner measures wall-clock time itself, through a proc.Runner.
type TimerRunner struct {
	Proc   proc.Runner
	Store  *Store
	Runs   int
	Warmup int
}

// NewTimerRunner returns a runner doing one timed run and no warmup.
func NewTimerRunner(p proc.Runner, store *Store) *TimerRunner {
	return &TimerRunner{Proc: p, Store: store, Runs: 1}
}

func (t *TimerRunner) Run(ctx context.Context, dir, key, command string) (Record, error) {
	for i := 0; i < t.Warmup; i++ {
		if res := t.Proc.Run(ctx, dir, command); !res.Success() {
			return Record{}, fmt.Errorf("%w: warmup: %s", ErrRunFailed, res.Describe())
		}
	}

	runs := t.Runs
	if runs < 1 {
		runs = 1
	}

	times := make([]float64, 0, runs)
	codes := make([]int, 0, runs)
	for i := 0; i < runs; i++ {
		res := t.Proc.Run(ctx, dir, command)
		if res.Err != nil {
			return Record{}, fmt.Errorf("%w: %s", ErrRunFailed, res.Describe())
		}
		times = append(times, res.Duration.Seconds())
		codes = append(codes, res.ExitCode)
		slog.Debug("timed run", "key", key, "run", i+1, "seconds", res.Duration.Seconds(), "exit_code", res.ExitCode)
	}

	rec := NewRecord(key, command, times, codes)
	if rec.Failed() {
		return rec, fmt.Errorf("%w: %s exited with codes %v", ErrRunFailed, command, codes)
	}
	if err := t.Store.Save(rec); err != nil {
		return rec, fmt.Errorf("failed to save benchmark record: %w", err)
	}
	return rec, nil
}

// HyperfineRunner delegates timing to the hyperfine tool, which writes the
// record files into the store directory directly.
type HyperfineRunner struct {
	Proc   proc.Runner
	Store  *Store
	Runs   int
	Warmup int
	Binary string
}

// NewHyperfineRunner returns a runner invoking "hyperfine" from PATH.
func NewHyperfineRunner(p proc.Runner, store *Store) *HyperfineRunner {
	return &HyperfineRunner{Proc: p, Store: store, Runs: 1, Binary: "hyperfine"}
}

// Command builds the hyperfine invocation for key.
func (h *HyperfineRunner) Command(key, command string) string {
	runs := h.Runs
	if runs < 1 {
		runs = 1
	}
	binary := h.Binary
	if binary == "" {
		binary = "hyperfine"
	}
	return shellquote.Join(
		binary,
		"--runs", strconv.Itoa(runs),
		"--warmup", strconv.Itoa(h.Warmup),
		"--export-json", absPath(h.Store.JSONPath(key)),
		"--export-markdown", absPath(h.Store.MarkdownPath(key)),
		command,
	)
}

func (h *HyperfineRunner) Run(ctx context.Context, dir, key, command string) (Record, error) {
	if err := os.MkdirAll(h.Store.Dir, 0755); err != nil {
		return Record{}, err
	}
	res := h.Proc.Run(ctx, dir, h.Command(key, command))
	if !res.Success() {
		return Record{}, fmt.Errorf("%w: %s", ErrRunFailed, res.Describe())
	}
	return h.Store.Load(key)
}

// absPath resolves p against the current directory, since hyperfine runs
// inside the benchmarked folder.
func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}
