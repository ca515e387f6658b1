package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// ParallelDir is the nested folder whose children are listed as
// "_parallel/<name>".
const ParallelDir = "_parallel"

// AllFolders is the folder argument that prints the tester script instead of
// running a benchmark.
const AllFolders = "all"

// List returns the benchmarkable folders under root: top-level directories
// not starting with "." or "_", sorted, followed by the directories inside
// root/_parallel.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}

	var folders []string
	for _, e := range entries {
		name := e.Name()
		if !isDir(root, e) || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		folders = append(folders, name)
	}
	sort.Strings(folders)

	parallel := filepath.Join(root, ParallelDir)
	nested, err := os.ReadDir(parallel)
	if err != nil {
		if os.IsNotExist(err) {
			return folders, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", parallel, err)
	}

	var sub []string
	for _, e := range nested {
		if isDir(parallel, e) {
			sub = append(sub, ParallelDir+"/"+e.Name())
		}
	}
	sort.Strings(sub)

	return append(folders, sub...), nil
}

// isDir follows symlinks, so linked implementation folders are listed too.
func isDir(parent string, e os.DirEntry) bool {
	if e.IsDir() {
		return true
	}
	if e.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(parent, e.Name()))
	return err == nil && info.IsDir()
}

// Contains reports whether name is one of folders.
func Contains(folders []string, name string) bool {
	for _, f := range folders {
		if f == name {
			return true
		}
	}
	return false
}

// IsParallel reports whether folder lives under the parallel directory.
func IsParallel(folder string) bool {
	return strings.HasPrefix(folder, ParallelDir+"/")
}

// TesterScript writes a bash script that benchmarks every folder, one
// invocation per line, each redirecting its report to results/<folder>.txt.
// Parallel folders are included only when parallel is set.
func TesterScript(w io.Writer, folders []string, program string, parallel bool) error {
	if _, err := fmt.Fprintf(w, "#!/usr/bin/env bash\n\n"); err != nil {
		return err
	}
	for _, f := range folders {
		if IsParallel(f) && !parallel {
			continue
		}
		line := fmt.Sprintf("%s %s &>%s\n",
			shellquote.Join(program), shellquote.Join(f), shellquote.Join("results/"+f+".txt"))
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Usage writes the accepted folder names.
func Usage(w io.Writer, program string, folders []string) {
	fmt.Fprintf(w, "Usage: %s <folder>\n\n", program)
	fmt.Fprintln(w, "Where <folder> can be one of the following:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "* %s (print tester script to stdout)\n", AllFolders)
	for _, f := range folders {
		fmt.Fprintf(w, "* %s\n", f)
	}
}
