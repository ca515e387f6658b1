package orchestrator

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedtests/internal/benchmark"
	"speedtests/internal/config"
	"speedtests/internal/proc"
	"speedtests/internal/table"
)

// fakeShell answers commands from a handler table. Unknown commands succeed
// with no output.
type fakeShell struct {
	handlers map[string]func(dir string) proc.Result
	commands []string
}

func (f *fakeShell) Run(_ context.Context, dir, command string) proc.Result {
	f.commands = append(f.commands, command)
	if h, ok := f.handlers[command]; ok {
		res := h(dir)
		res.Command, res.Dir = command, dir
		return res
	}
	return proc.Result{Command: command, Dir: dir}
}

// fakeBench stores a record with a scripted time per key.
type fakeBench struct {
	store    *benchmark.Store
	seconds  map[string]float64
	failKeys map[string]bool
	calls    []string
	onRun    func(key string)
}

func (b *fakeBench) Run(_ context.Context, dir, key, command string) (benchmark.Record, error) {
	b.calls = append(b.calls, key+"="+command)
	if b.onRun != nil {
		b.onRun(key)
	}
	if b.failKeys[key] {
		return benchmark.Record{}, benchmark.ErrRunFailed
	}
	rec := benchmark.NewRecord(key, command, []float64{b.seconds[key]}, []int{0})
	return rec, b.store.Save(rec)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// makeArtifact returns a handler that writes an artifact of n bytes.
func makeArtifact(name string, n int) func(string) proc.Result {
	return func(dir string) proc.Result {
		if err := os.WriteFile(filepath.Join(dir, name), bytes.Repeat([]byte{'x'}, n), 0755); err != nil {
			return proc.Result{ExitCode: -1, Err: err}
		}
		return proc.Result{}
	}
}

type fixture struct {
	settings config.Settings
	shell    *fakeShell
	bench    *fakeBench
	out      *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	s := config.Settings{
		Root:      filepath.Join(base, "root"),
		ConfigDir: filepath.Join(base, "automation"),
		OutputDir: filepath.Join(base, "automation", "output"),
		Retest:    true,
		Runs:      1,
	}
	require.NoError(t, os.MkdirAll(s.Root, 0755))
	require.NoError(t, os.MkdirAll(s.ConfigDir, 0755))

	return &fixture{
		settings: s,
		shell:    &fakeShell{handlers: map[string]func(string) proc.Result{}},
		bench: &fakeBench{
			store:    benchmark.NewStore(s.OutputDir),
			seconds:  map[string]float64{},
			failKeys: map[string]bool{},
		},
		out: &bytes.Buffer{},
	}
}

func (f *fixture) orchestrator() *Orchestrator {
	return New(f.settings,
		WithProcRunner(f.shell),
		WithBenchmarkRunner(f.bench),
		WithOutput(f.out),
		WithClock(func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }),
		WithProgram("./speedtests"),
	)
}

func (f *fixture) addC(t *testing.T) {
	writeFile(t, filepath.Join(f.settings.ConfigDir, "c.json"),
		`{"compilers": {"gcc": "gcc --version"}, "output_file": "a.out", "section_name": "C"}`)
	writeFile(t, filepath.Join(f.settings.Root, "c", "Makefile"),
		"v1:\n\tgcc -O0 main.c -o a.out\n\nv2:\n\tgcc -O2 main.c -o a.out\n\nclean:\n\trm -f a.out\n")

	f.shell.handlers["gcc --version"] = func(string) proc.Result {
		return proc.Result{Stdout: []byte("gcc (GCC) 13.2.1 20230801\nCopyright (C) 2023\n")}
	}
	f.shell.handlers["make clean"] = func(dir string) proc.Result {
		os.Remove(filepath.Join(dir, "a.out"))
		return proc.Result{}
	}
	f.shell.handlers["make v1"] = makeArtifact("a.out", 2048)
	f.shell.handlers["make v2"] = makeArtifact("a.out", 1024)
	f.bench.seconds["v1"] = 1.5
	f.bench.seconds["v2"] = 0.25
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.addC(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), "c"))

	out := f.out.String()
	assert.True(t, strings.HasPrefix(out, "# make v1\n# make v2\n"), out)
	assert.NotContains(t, out, "# make clean")
	assert.Equal(t, []string{"gcc --version", "make clean", "make v1", "make clean", "make v2"}, f.shell.commands)

	idx := strings.Index(out, strings.Repeat("-", 20))
	require.GreaterOrEqual(t, idx, 0)
	report := out[idx:]

	expected := strings.Join([]string{
		strings.Repeat("-", 20),
		"### C",
		"",
		"* gcc (GCC) 13.2.1 20230801",
		"* Benchmark date: 2024-03-09 [yyyy-mm-dd]",
		"",
		"| Compilation | Runtime (sec) | Binary size (bytes) | Stripped size (bytes) |",
		"|-----|-----|-----|-----|",
		"| gcc -O2 main.c -o a.out | 0.250 | 1024 | -- |",
		"| gcc -O0 main.c -o a.out | 1.500 | 2048 | -- |",
		strings.Repeat("-", 20),
		"",
	}, "\n")
	assert.Equal(t, expected, report)

	assert.Equal(t, []string{"v1=./a.out", "v2=./a.out"}, f.bench.calls)
}

func TestRun_StripMeasuresAgain(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	writeFile(t, filepath.Join(f.settings.Root, "c", "Makefile"),
		"v1:\n\tgcc -O0 main.c -o a.out\nstrip:\n\tstrip a.out\n")
	f.shell.handlers["strip a.out"] = makeArtifact("a.out", 512)

	require.NoError(t, f.orchestrator().Run(context.Background(), "c"))

	assert.Contains(t, f.shell.commands, "strip a.out")
	assert.Contains(t, f.out.String(), "| gcc -O0 main.c -o a.out | 1.500 | 2048 | 512 |")
}

func TestRun_UnknownFolder(t *testing.T) {
	f := newFixture(t)
	f.addC(t)

	err := f.orchestrator().Run(context.Background(), "cobol")
	assert.ErrorIs(t, err, ErrUnknownFolder)
	assert.Empty(t, f.shell.commands)
}

func TestRun_AllPrintsTesterScript(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.settings.Root, "go"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(f.settings.Root, "_parallel", "rust"), 0755))

	require.NoError(t, f.orchestrator().Run(context.Background(), "all"))

	assert.Equal(t, "#!/usr/bin/env bash\n\n"+
		"./speedtests c &>results/c.txt\n"+
		"./speedtests go &>results/go.txt\n", f.out.String())
	assert.Empty(t, f.shell.commands)
}

func TestRun_RetestCleansOldRecords(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	stale := filepath.Join(f.settings.OutputDir, "old.json")
	writeFile(t, stale, `{"results":[]}`)

	require.NoError(t, f.orchestrator().Run(context.Background(), "c"))
	assert.NoFileExists(t, stale)
}

func TestRun_NoRetestUsesStoredRecords(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	f.settings.Retest = false

	store := benchmark.NewStore(f.settings.OutputDir)
	require.NoError(t, store.Save(benchmark.NewRecord("v1", "./a.out", []float64{3}, []int{0})))

	require.NoError(t, f.orchestrator().Run(context.Background(), "c"))

	assert.Empty(t, f.bench.calls)
	out := f.out.String()
	assert.Contains(t, out, "| gcc -O0 main.c -o a.out | 3.000 | 2048 | -- |")
	assert.Contains(t, out, "| gcc -O2 main.c -o a.out | -- | 1024 | -- |")
	assert.FileExists(t, store.JSONPath("v1"))
}

func TestRun_MissingArtifact(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	delete(f.shell.handlers, "make v2")

	err := f.orchestrator().Run(context.Background(), "c")
	assert.ErrorIs(t, err, ErrMissingArtifact)
}

func TestRun_LenientBuildFailure(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	f.shell.handlers["make v1"] = func(dir string) proc.Result {
		makeArtifact("a.out", 10)(dir)
		return proc.Result{ExitCode: 2, Stderr: []byte("warning treated as error")}
	}
	f.bench.failKeys["v2"] = true

	require.NoError(t, f.orchestrator().Run(context.Background(), "c"))

	out := f.out.String()
	assert.Contains(t, out, "| gcc -O0 main.c -o a.out | 1.500 | 10 | -- |")
	assert.Contains(t, out, "| gcc -O2 main.c -o a.out | -- | 1024 | -- |")
}

func TestRun_StrictBuildFailure(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	f.settings.Strict = true
	f.shell.handlers["make v1"] = func(string) proc.Result { return proc.Result{ExitCode: 2} }

	err := f.orchestrator().Run(context.Background(), "c")
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorContains(t, err, "make v1")
}

func TestRun_StrictBenchmarkFailure(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	f.settings.Strict = true
	f.bench.failKeys["v1"] = true

	err := f.orchestrator().Run(context.Background(), "c")
	assert.ErrorIs(t, err, ErrCommandFailed)
	assert.ErrorIs(t, err, benchmark.ErrRunFailed)
}

func TestRun_CleanFailureIsNeverFatal(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	f.settings.Strict = true
	f.shell.handlers["make clean"] = func(string) proc.Result { return proc.Result{ExitCode: 2} }

	assert.NoError(t, f.orchestrator().Run(context.Background(), "c"))
}

func TestRun_ShellMissingIsFatal(t *testing.T) {
	f := newFixture(t)
	f.addC(t)
	f.shell.handlers["make v1"] = func(string) proc.Result {
		return proc.Result{ExitCode: -1, Err: exec.ErrNotFound}
	}

	err := f.orchestrator().Run(context.Background(), "c")
	assert.ErrorIs(t, err, exec.ErrNotFound)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.addC(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := f.orchestrator().Run(ctx, "c")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "interrupted")
	assert.Empty(t, f.out.String())
	assert.Empty(t, f.bench.calls)
}

func TestRun_CancelledDuringBenchmarkIsFatalWhenLenient(t *testing.T) {
	f := newFixture(t)
	f.addC(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.bench.failKeys["v1"] = true
	f.bench.onRun = func(string) { cancel() }

	err := f.orchestrator().Run(ctx, "c")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"v1=./a.out"}, f.bench.calls)
	assert.NotContains(t, f.out.String(), "### C")
	assert.NotContains(t, f.shell.commands, "make v2")
}

func TestRun_CancelledShellSpecialMode(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	f := newFixture(t)
	writeFile(t, filepath.Join(f.settings.ConfigDir, "sleepy.json"), `{
	"compilers": {"sh": "echo sh"},
	"output_file": "--",
	"section_name": "Sleepy",
	"special": [{"compile": "--", "run": "a"}, {"compile": "--", "run": "b"}]
}`)
	writeFile(t, filepath.Join(f.settings.Root, "sleepy", "Makefile"), "a:\n\tsleep 0.1\nb:\n\tsleep 0.1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(f.settings, WithOutput(f.out))
	err := o.Run(ctx, "sleepy")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, f.out.String(), "| sleep 0.1 |")
}

func TestRun_LogsHumanArtifactSize(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var logs bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))

	f := newFixture(t)
	f.addC(t)

	require.NoError(t, f.orchestrator().Run(context.Background(), "c"))
	assert.Contains(t, logs.String(), `size="2.0 kB"`)
	assert.Contains(t, logs.String(), "bytes=2048")
}

func TestRun_MissingConfig(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.settings.Root, "go"), 0755))

	err := f.orchestrator().Run(context.Background(), "go")
	assert.ErrorIs(t, err, config.ErrConfigNotFound)
}

func TestRun_SpecialMode(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.settings.ConfigDir, "python.json"), `{
	"compilers": {"python3": "python3 --version", "pypy3": "pypy3 --version"},
	"output_file": "--",
	"section_name": "Python",
	"headers": {"label": "Execution"},
	"special": [
		{"compile": "--", "run": "run_cpython"},
		{"compile": "--", "run": "run_pypy"},
		{"compile": "build", "run": "run_nuitka", "output_file": "main.bin"}
	]
}`)
	writeFile(t, filepath.Join(f.settings.Root, "python", "Makefile"),
		"run_cpython:\n\tpython3 main.py\nrun_pypy:\n\tpypy3 main.py\n"+
			"build:\n\tnuitka main.py\nrun_nuitka:\n\t./main.bin\n")

	f.shell.handlers["python3 --version"] = func(string) proc.Result {
		return proc.Result{Stdout: []byte("Python 3.12.1\n")}
	}
	f.shell.handlers["pypy3 --version"] = func(string) proc.Result {
		return proc.Result{ExitCode: 127, Stderr: []byte("sh: pypy3: not found\n")}
	}
	f.shell.handlers["make build"] = makeArtifact("main.bin", 4096)
	f.bench.seconds["run_cpython"] = 9
	f.bench.seconds["run_pypy"] = 2
	f.bench.seconds["build"] = 1

	require.NoError(t, f.orchestrator().Run(context.Background(), "python"))

	assert.ElementsMatch(t, []string{
		"run_cpython=python3 main.py",
		"run_pypy=pypy3 main.py",
		"build=./main.bin",
	}, f.bench.calls)
	assert.NotContains(t, f.shell.commands, "make run_cpython")

	out := f.out.String()
	assert.Contains(t, out, "* Python 3.12.1\n* sh: pypy3: not found\n")
	assert.Contains(t, out, "| Execution | Runtime (sec) | Binary size (bytes) | Stripped size (bytes) |\n"+
		"|-----|-----|-----|-----|\n"+
		"| nuitka main.py && ./main.bin | 1.000 | 4096 | -- |\n"+
		"| pypy3 main.py | 2.000 | -- | -- |\n"+
		"| python3 main.py | 9.000 | -- | -- |\n")
}

func TestRun_SpecialUnknownTarget(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.settings.ConfigDir, "sh.json"), `{
	"compilers": {"bash": "bash --version"},
	"output_file": "--",
	"section_name": "Shell",
	"special": [{"compile": "--", "run": "missing"}]
}`)
	writeFile(t, filepath.Join(f.settings.Root, "sh", "Makefile"), "run:\n\tbash main.sh\n")

	err := f.orchestrator().Run(context.Background(), "sh")
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestProcess_NoVersionTargets(t *testing.T) {
	f := newFixture(t)
	dir := filepath.Join(f.settings.Root, "empty")
	writeFile(t, filepath.Join(dir, "Makefile"), "clean:\n\trm -f a.out\n")

	cfg := config.Folder{SectionName: "Empty", OutputFile: "a.out"}
	require.NoError(t, f.orchestrator().Process(context.Background(), dir, cfg))

	out := f.out.String()
	assert.Contains(t, out, "### Empty\n\n* Benchmark date: 2024-03-09 [yyyy-mm-dd]\n\n")
	assert.Empty(t, f.bench.calls)
}

func TestNew_DefaultBenchmarkRunner(t *testing.T) {
	s := config.Settings{OutputDir: t.TempDir(), Runs: 3, Warmup: 1}

	o := New(s)
	timer, ok := o.bench.(*benchmark.TimerRunner)
	require.True(t, ok)
	assert.Equal(t, 3, timer.Runs)
	assert.Equal(t, 1, timer.Warmup)

	s.Hyperfine = true
	o = New(s)
	hf, ok := o.bench.(*benchmark.HyperfineRunner)
	require.True(t, ok)
	assert.Equal(t, 3, hf.Runs)
	assert.Same(t, o.Store(), hf.Store)
}

func TestWriteReport(t *testing.T) {
	tbl := table.New()
	tbl.AddRow("go build", "0.100", "10", "")

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, Report{
		Section:  "Go",
		Versions: []string{"go version go1.22.0 linux/amd64"},
		Date:     time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC),
		Table:    tbl,
	}))

	assert.True(t, strings.HasPrefix(buf.String(), "--------------------\n### Go\n\n* go version go1.22.0 linux/amd64\n* Benchmark date: 2025-01-02 [yyyy-mm-dd]\n\n| Compilation"))
	assert.True(t, strings.HasSuffix(buf.String(), "| go build | 0.100 | 10 | -- |\n--------------------\n"))
}
