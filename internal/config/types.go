package config

import (
	"speedtests/internal/table"
	"speedtests/internal/version"
)

// NoCompile marks a special entry without a compile step. The same token as
// an output file name disables the artifact check.
const NoCompile = "--"

// Folder is the per-folder benchmark configuration.
type Folder struct {
	Compilers   Compilers
	OutputFile  string
	SectionName string
	Headers     table.Headers

	// RunCommand overrides the benchmarked command in default mode.
	// Empty means "./<OutputFile>".
	RunCommand string

	// HasSpecial is set when the document declares a "special" list, even an
	// empty one; the folder then skips version-target iteration.
	HasSpecial bool
	Special    []Special
}

// Special is one custom compile/run pair.
type Special struct {
	Compile    string // target name, or NoCompile
	Run        string // target whose recipe is the benchmarked command
	OutputFile string // overrides Folder.OutputFile when set
}

// HasCompile reports whether the entry builds something before running.
func (s Special) HasCompile() bool {
	return s.Compile != NoCompile
}

// RecordKey is the key the run's benchmark record is stored under.
func (s Special) RecordKey() string {
	if s.HasCompile() {
		return s.Compile
	}
	return s.Run
}

// OutputFor returns the artifact name for the entry.
func (f Folder) OutputFor(s Special) string {
	if s.OutputFile != "" {
		return s.OutputFile
	}
	return f.OutputFile
}

// DefaultRunCommand returns the command benchmarked in default mode.
func (f Folder) DefaultRunCommand() string {
	if f.RunCommand != "" {
		return f.RunCommand
	}
	return "./" + f.OutputFile
}

// Compilers keeps compiler entries in document order.
type Compilers []version.Compiler
