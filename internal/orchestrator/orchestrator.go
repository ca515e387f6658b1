package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/kballard/go-shellquote"

	"speedtests/internal/benchmark"
	"speedtests/internal/catalog"
	"speedtests/internal/config"
	"speedtests/internal/makefile"
	"speedtests/internal/proc"
	"speedtests/internal/table"
	"speedtests/internal/version"
)

var (
	// ErrUnknownFolder is returned for a folder name not in the catalogue.
	ErrUnknownFolder = errors.New("unknown folder")

	// ErrMissingArtifact is returned when a build did not produce the
	// expected output file.
	ErrMissingArtifact = errors.New("expected build artifact not found")

	// ErrUnknownTarget is returned when a special entry names a target the
	// makefile does not define.
	ErrUnknownTarget = errors.New("unknown makefile target")

	// ErrCommandFailed is returned in strict mode when a build, strip or
	// benchmark command exits non-zero.
	ErrCommandFailed = errors.New("command failed")
)

// Orchestrator benchmarks one folder per Run and prints its report section.
type Orchestrator struct {
	settings config.Settings
	proc     proc.Runner
	bench    benchmark.Runner
	store    *benchmark.Store
	now      func() time.Time
	stdout   io.Writer
	program  string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithProcRunner replaces the shell runner used for builds, strips and
// version probes. Unless WithBenchmarkRunner is also given, the benchmark
// runner uses it too.
func WithProcRunner(r proc.Runner) Option {
	return func(o *Orchestrator) { o.proc = r }
}

// WithBenchmarkRunner replaces the timing backend.
func WithBenchmarkRunner(r benchmark.Runner) Option {
	return func(o *Orchestrator) { o.bench = r }
}

// WithClock sets the source of the report date.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithOutput sets where the report and build trail are written.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.stdout = w }
}

// WithProgram sets the command written into the tester script.
func WithProgram(program string) Option {
	return func(o *Orchestrator) { o.program = program }
}

// New creates an orchestrator for the given settings.
func New(settings config.Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		settings: settings,
		proc:     proc.NewShellRunner(),
		store:    benchmark.NewStore(settings.OutputDir),
		now:      time.Now,
		stdout:   os.Stdout,
		program:  "./speedtests",
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.bench == nil {
		if settings.Hyperfine {
			h := benchmark.NewHyperfineRunner(o.proc, o.store)
			h.Runs, h.Warmup = settings.Runs, settings.Warmup
			o.bench = h
		} else {
			t := benchmark.NewTimerRunner(o.proc, o.store)
			t.Runs, t.Warmup = settings.Runs, settings.Warmup
			o.bench = t
		}
	}
	return o
}

// Store returns the benchmark record store.
func (o *Orchestrator) Store() *benchmark.Store {
	return o.store
}

// Folders lists the folders that can be benchmarked.
func (o *Orchestrator) Folders() ([]string, error) {
	return catalog.List(o.settings.Root)
}

// Run handles one folder argument. "all" prints the tester script; any
// other name must be a listed folder, which is then benchmarked.
func (o *Orchestrator) Run(ctx context.Context, folder string) error {
	folders, err := o.Folders()
	if err != nil {
		return err
	}

	if folder == catalog.AllFolders {
		return catalog.TesterScript(o.stdout, folders, o.program, o.settings.Parallel)
	}

	if !catalog.Contains(folders, folder) {
		return fmt.Errorf("%w: %s", ErrUnknownFolder, folder)
	}

	if o.settings.Retest {
		removed, err := o.store.Clean()
		if err != nil {
			return fmt.Errorf("failed to clean %s: %w", o.store.Dir, err)
		}
		slog.Debug("cleaned benchmark output", "dir", o.store.Dir, "removed", removed)
	}

	cfg, err := config.LoadFolder(o.settings.ConfigDir, folder)
	if err != nil {
		return err
	}

	workdir := filepath.Join(o.settings.Root, filepath.FromSlash(folder))
	return o.Process(ctx, workdir, cfg)
}

// Process benchmarks every variant of the folder in workdir and writes the
// report section.
func (o *Orchestrator) Process(ctx context.Context, workdir string, cfg config.Folder) error {
	log := slog.With("folder", filepath.Base(workdir))

	versions := version.Probe(ctx, o.proc, workdir, []version.Compiler(cfg.Compilers))

	mf, err := makefile.Load(workdir)
	if err != nil {
		return err
	}
	if len(mf.VersionKeys()) == 0 {
		log.Warn("there is no v* target in the makefile", "makefile", mf.Path)
	}

	tbl := table.New()
	tbl.BuildHeaders(cfg.Headers)

	if cfg.HasSpecial {
		err = o.processSpecial(ctx, log, workdir, cfg, mf, tbl)
	} else {
		err = o.processVersions(ctx, log, workdir, cfg, mf, tbl)
	}
	if err != nil {
		return err
	}
	if err := interrupted(ctx); err != nil {
		return err
	}

	tbl.Sort()

	return WriteReport(o.stdout, Report{
		Section:  cfg.SectionName,
		Versions: versions,
		Date:     o.now(),
		Table:    tbl,
	})
}

func (o *Orchestrator) processVersions(ctx context.Context, log *slog.Logger, workdir string, cfg config.Folder, mf *makefile.Makefile, tbl *table.Table) error {
	stripCmd, hasStrip := mf.Strip()

	for _, key := range mf.VersionKeys() {
		if err := interrupted(ctx); err != nil {
			return err
		}
		recipe, _ := mf.Targets.Get(key)

		if err := o.build(ctx, log, workdir, key, cfg.OutputFile); err != nil {
			return err
		}
		size, err := o.artifactSize(log, workdir, cfg.OutputFile)
		if err != nil {
			return err
		}

		if o.settings.Retest {
			if err := o.benchmark(ctx, log, workdir, key, cfg.DefaultRunCommand()); err != nil {
				return err
			}
		}
		runtime := o.runtime(log, key)

		stripped := ""
		if hasStrip {
			if err := o.step(ctx, log, workdir, stripCmd); err != nil {
				return err
			}
			if stripped, err = o.artifactSize(log, workdir, cfg.OutputFile); err != nil {
				return err
			}
		}

		tbl.AddRow(recipe, runtime, size, stripped)
	}
	return nil
}

func (o *Orchestrator) processSpecial(ctx context.Context, log *slog.Logger, workdir string, cfg config.Folder, mf *makefile.Makefile, tbl *table.Table) error {
	for i, s := range cfg.Special {
		if err := interrupted(ctx); err != nil {
			return err
		}
		runCmd, ok := mf.Targets.Get(s.Run)
		if !ok {
			return fmt.Errorf("%w: special[%d].run '%s'", ErrUnknownTarget, i, s.Run)
		}

		label := runCmd
		size := ""
		if s.HasCompile() {
			compileCmd, ok := mf.Targets.Get(s.Compile)
			if !ok {
				return fmt.Errorf("%w: special[%d].compile '%s'", ErrUnknownTarget, i, s.Compile)
			}

			out := cfg.OutputFor(s)
			if err := o.build(ctx, log, workdir, s.Compile, out); err != nil {
				return err
			}
			var err error
			if size, err = o.artifactSize(log, workdir, out); err != nil {
				return err
			}
			label = compileCmd + " && " + runCmd
		}

		key := s.RecordKey()
		if o.settings.Retest {
			if err := o.benchmark(ctx, log, workdir, key, runCmd); err != nil {
				return err
			}
		}

		tbl.AddRow(label, o.runtime(log, key), size, "")
	}
	return nil
}

// build runs "make clean" then "make <key>" and checks the artifact exists.
// The clean step is not echoed, and a failing clean is only logged since not
// every makefile has one.
func (o *Orchestrator) build(ctx context.Context, log *slog.Logger, workdir, key, out string) error {
	if res := o.proc.Run(ctx, workdir, "make clean"); !res.Success() {
		if err := interrupted(ctx); err != nil {
			return err
		}
		log.Warn("make clean failed", "result", res.Describe())
	}

	if err := o.step(ctx, log, workdir, shellquote.Join("make", key)); err != nil {
		return err
	}

	if out == config.NoCompile {
		return nil
	}
	path := filepath.Join(workdir, out)
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s after make %s", ErrMissingArtifact, path, key)
	}
	return nil
}

// step runs a build-trail command. Non-zero exit is fatal only in strict mode;
// an interrupt or a shell that cannot be started always is.
func (o *Orchestrator) step(ctx context.Context, log *slog.Logger, workdir, command string) error {
	res := o.echo().Run(ctx, workdir, command)
	if len(res.Stdout) > 0 || len(res.Stderr) > 0 {
		log.Debug("command output", "command", command, "stdout", string(res.Stdout), "stderr", string(res.Stderr))
	}
	if res.Success() {
		return nil
	}
	if err := interrupted(ctx); err != nil {
		return err
	}
	if proc.IsNotFound(res.Err) || proc.IsPermissionDenied(res.Err) {
		return fmt.Errorf("cannot start %s: %w", command, res.Err)
	}
	if o.settings.Strict {
		return fmt.Errorf("%w: %s", ErrCommandFailed, res.Describe())
	}
	log.Warn("command failed, continuing", "result", res.Describe(), "stderr", string(res.Stderr))
	return nil
}

// benchmark times command under key. A failed run leaves no record, which
// the table shows as a placeholder; strict mode turns it into an error.
func (o *Orchestrator) benchmark(ctx context.Context, log *slog.Logger, workdir, key, command string) error {
	rec, err := o.bench.Run(ctx, workdir, key, command)
	if err != nil {
		if ierr := interrupted(ctx); ierr != nil {
			return ierr
		}
		if o.settings.Strict {
			return fmt.Errorf("%w: %w", ErrCommandFailed, err)
		}
		log.Warn("benchmark failed, continuing", "key", key, "error", err)
		return nil
	}
	log.Info("benchmarked", "key", key, "runtime", rec.Runtime())
	return nil
}

func (o *Orchestrator) runtime(log *slog.Logger, key string) string {
	runtime, err := o.store.Runtime(key)
	if err != nil {
		if !errors.Is(err, benchmark.ErrRecordNotFound) {
			log.Warn("unreadable benchmark record", "key", key, "error", err)
		}
		return table.Placeholder
	}
	return runtime
}

// artifactSize returns the artifact's size in bytes, or "" when the output
// file is the no-artifact token.
func (o *Orchestrator) artifactSize(log *slog.Logger, workdir, out string) (string, error) {
	if out == config.NoCompile {
		return "", nil
	}
	path := filepath.Join(workdir, out)
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingArtifact, path)
	}
	log.Info("artifact", "path", out, "size", humanize.Bytes(uint64(info.Size())), "bytes", info.Size())
	return table.FormatSize(info.Size()), nil
}

// interrupted returns the wrapped context error once the run was cancelled.
// It is fatal in strict and lenient mode alike.
func interrupted(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	return nil
}

func (o *Orchestrator) echo() proc.Runner {
	return proc.Echo{W: o.stdout, Next: o.proc}
}
