package version

import (
	"context"
	"log/slog"

	"speedtests/internal/proc"
)

// Compiler is a display name with the command that prints its version.
type Compiler struct {
	Name    string
	Command string
}

// Probe runs every compiler's version command and returns the first line of
// output for each one, in input order. A failing command yields whatever it
// printed (often nothing); failures are logged but never returned.
func Probe(ctx context.Context, runner proc.Runner, dir string, compilers []Compiler) []string {
	versions := make([]string, 0, len(compilers))
	for _, c := range compilers {
		res := runner.Run(ctx, dir, c.Command)
		if !res.Success() {
			slog.Warn("version probe failed", "compiler", c.Name, "command", c.Command, "exit_code", res.ExitCode, "error", res.Err)
		}
		versions = append(versions, res.FirstLine())
	}
	return versions
}
