package makefile

import "strings"

const (
	// VersionPrefix marks targets that build one benchmarked variant.
	VersionPrefix = "v"

	// StripTarget is the optional target holding the strip command.
	StripTarget = "strip"
)

// Targets is an ordered mapping of target name to recipe command.
// Iteration order is the order in which targets first appear in the file.
type Targets struct {
	keys     []string
	commands map[string]string
}

// NewTargets returns an empty target mapping.
func NewTargets() *Targets {
	return &Targets{commands: make(map[string]string)}
}

// Set adds a target or replaces its command. A replaced target keeps its
// original position.
func (t *Targets) Set(name, command string) {
	if _, ok := t.commands[name]; !ok {
		t.keys = append(t.keys, name)
	}
	t.commands[name] = command
}

// Get returns the command for a target.
func (t *Targets) Get(name string) (string, bool) {
	cmd, ok := t.commands[name]
	return cmd, ok
}

// Has reports whether the target exists.
func (t *Targets) Has(name string) bool {
	_, ok := t.commands[name]
	return ok
}

// Keys returns target names in file order.
func (t *Targets) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Len returns the number of targets.
func (t *Targets) Len() int {
	return len(t.keys)
}

// VersionKeys returns the names starting with prefix, in file order.
func (t *Targets) VersionKeys(prefix string) []string {
	var out []string
	for _, k := range t.keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out
}

// Makefile is a parsed build recipe file.
type Makefile struct {
	Path      string
	Targets   *Targets
	Variables map[string]string
}

// Strip returns the command of the strip target, if the file defines one.
func (m *Makefile) Strip() (string, bool) {
	cmd, ok := m.Targets.Get(StripTarget)
	if !ok || cmd == "" {
		return "", false
	}
	return cmd, true
}

// VersionKeys returns the benchmarked variant targets in file order.
func (m *Makefile) VersionKeys() []string {
	return m.Targets.VersionKeys(VersionPrefix)
}
