package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"speedtests/internal/catalog"
	"speedtests/internal/config"
	"speedtests/internal/orchestrator"
	"speedtests/internal/proc"
	"speedtests/internal/telemetry"
)

const program = "./speedtests"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	exitCode := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode)
}

// run executes the CLI and returns the process exit code: 0 on success or
// when usage was printed, 1 on any error.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	v := viper.New()
	cmd := newRootCmd(v, stdout, stderr)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

func newRootCmd(v *viper.Viper, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "speedtests [folder|all]",
		Short: "Build, benchmark and tabulate one implementation folder",
		Long: `Builds every v* target of the folder's Makefile, times the resulting
program, and prints a Markdown section with compiler versions and a table
sorted by runtime. "all" prints a bash script that runs every folder.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := config.LoadSettings(v)
			if err != nil {
				return err
			}

			closer, err := telemetry.InitLogger(stderr, settings.Debug, settings.LogFile)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer closer.Close()

			opts := []orchestrator.Option{
				orchestrator.WithOutput(stdout),
				orchestrator.WithProgram(program),
			}
			if settings.Debug {
				shell := proc.NewShellRunner()
				shell.Passthrough = stderr
				opts = append(opts, orchestrator.WithProcRunner(shell))
			}
			o := orchestrator.New(settings, opts...)

			if len(args) == 0 {
				folders, err := o.Folders()
				if err != nil {
					return err
				}
				catalog.Usage(stdout, program, folders)
				return nil
			}

			err = o.Run(cmd.Context(), args[0])
			if errors.Is(err, orchestrator.ErrUnknownFolder) {
				if folders, lerr := o.Folders(); lerr == nil {
					catalog.Usage(stderr, program, folders)
				}
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.String("root", "..", "directory holding the implementation folders")
	flags.String("config-dir", ".", "directory holding <folder>.json/.yaml configs and .env")
	flags.String("output-dir", "output", "directory for benchmark records")
	flags.Bool("retest", true, "clear old records and benchmark again")
	flags.Bool("strict", false, "fail on non-zero exit of build, strip or benchmark commands")
	flags.Int("runs", 1, "timed runs per benchmark")
	flags.Int("warmup", 0, "untimed warmup runs per benchmark")
	flags.Bool("hyperfine", false, "time with hyperfine instead of the built-in timer")
	flags.Bool("parallel", false, "include _parallel folders in the tester script")
	flags.Bool("debug", false, "enable debug logging and stream command output to stderr")
	flags.String("log-file", "", "also write JSON logs to this file")

	bindFlags(v, flags, map[string]string{
		config.KeyRoot:      "root",
		config.KeyConfigDir: "config-dir",
		config.KeyOutputDir: "output-dir",
		config.KeyRetest:    "retest",
		config.KeyStrict:    "strict",
		config.KeyRuns:      "runs",
		config.KeyWarmup:    "warmup",
		config.KeyHyperfine: "hyperfine",
		config.KeyParallel:  "parallel",
		config.KeyDebug:     "debug",
		config.KeyLogFile:   "log-file",
	})

	return cmd
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
}
