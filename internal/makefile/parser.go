package makefile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrNoMakefile is returned when a directory has no build recipe file.
var ErrNoMakefile = errors.New("no makefile found")

// fileNames lists recipe file names in the order make searches for them.
var fileNames = []string{"GNUmakefile", "makefile", "Makefile"}

// assignRegex matches NAME = value, NAME := value, NAME ?= value, NAME += value
var assignRegex = regexp.MustCompile(`^([A-Za-z0-9_.\-]+)\s*(::=|:=|\?=|\+=|=)\s*(.*)$`)

// directives are skipped; conditional bodies are read as if every branch applied.
var directives = []string{
	"include", "-include", "sinclude", "ifeq", "ifneq", "ifdef", "ifndef",
	"else", "endif", "export", "unexport", "override", "vpath",
}

// Locate returns the path of the recipe file in dir.
func Locate(dir string) (string, error) {
	for _, name := range fileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrNoMakefile, dir)
}

// Load locates and parses the recipe file in dir.
func Load(dir string) (*Makefile, error) {
	path, err := Locate(dir)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read makefile: %w", err)
	}

	mf := Parse(content)
	mf.Path = path
	return mf, nil
}

// Parse reads recipe file content into its targets and variables.
// Multi-line recipes are joined with " && ".
func Parse(content []byte) *Makefile {
	p := &parser{
		targets: NewTargets(),
		vars:    make(map[string]string),
	}

	lines := logicalLines(string(content))
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, "\t") {
			p.recipeLine(line[1:])
			continue
		}

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		p.flush()

		if firstWord(trimmed) == "define" {
			for i < len(lines) && strings.TrimSpace(lines[i]) != "endef" {
				i++
			}
			continue
		}
		if isDirective(trimmed) {
			continue
		}

		if m := assignRegex.FindStringSubmatch(trimmed); m != nil {
			p.assign(m[1], m[2], strings.TrimSpace(m[3]))
			continue
		}

		p.rule(trimmed)
	}
	p.flush()

	return &Makefile{
		Targets:   p.targets,
		Variables: p.vars,
	}
}

type parser struct {
	targets *Targets
	vars    map[string]string

	inRule bool
	names  []string
	recipe []string
}

func (p *parser) rule(line string) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return
	}

	rest := strings.TrimPrefix(line[idx+1:], ":")

	p.inRule = true
	p.names = p.names[:0]
	p.recipe = nil

	for _, name := range strings.Fields(expand(line[:idx], p.vars)) {
		if strings.HasPrefix(name, ".") || strings.Contains(name, "%") {
			continue
		}
		p.names = append(p.names, name)
	}

	if semi := strings.Index(rest, ";"); semi >= 0 {
		p.recipeLine(rest[semi+1:])
	}
}

func (p *parser) recipeLine(line string) {
	if !p.inRule {
		return
	}
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, "@-+")
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	p.recipe = append(p.recipe, line)
}

// flush records the rule being read. An existing target is only replaced
// when the new rule has a recipe, so prerequisite-only lines do not erase it.
func (p *parser) flush() {
	if !p.inRule {
		return
	}
	p.inRule = false

	cmd := expand(strings.Join(p.recipe, " && "), p.vars)
	for _, name := range p.names {
		if p.targets.Has(name) && cmd == "" {
			continue
		}
		p.targets.Set(name, cmd)
	}
	p.names = p.names[:0]
	p.recipe = nil
}

func (p *parser) assign(name, op, value string) {
	switch op {
	case "?=":
		if _, ok := p.vars[name]; !ok {
			p.vars[name] = value
		}
	case "+=":
		if prev, ok := p.vars[name]; ok && prev != "" {
			p.vars[name] = prev + " " + value
		} else {
			p.vars[name] = value
		}
	case ":=", "::=":
		p.vars[name] = expand(value, p.vars)
	default:
		p.vars[name] = value
	}
}

// logicalLines splits content into lines with backslash continuations joined.
func logicalLines(content string) []string {
	raw := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	var out []string
	var cur strings.Builder
	joining := false

	for _, line := range raw {
		if joining {
			line = strings.TrimLeft(line, " \t")
		}
		if strings.HasSuffix(line, "\\") {
			cur.WriteString(strings.TrimRight(strings.TrimSuffix(line, "\\"), " \t"))
			cur.WriteString(" ")
			joining = true
			continue
		}
		cur.WriteString(line)
		out = append(out, cur.String())
		cur.Reset()
		joining = false
	}
	if cur.Len() > 0 {
		out = append(out, strings.TrimRight(cur.String(), " "))
	}
	return out
}

// expand substitutes $(NAME) and ${NAME} references. Unknown names are kept
// verbatim and $$ becomes a single $. A variable that refers to itself,
// directly or through others, is left unexpanded at the point of recursion.
func expand(s string, vars map[string]string) string {
	return expandRefs(s, vars, make(map[string]bool))
}

func expandRefs(s string, vars map[string]string, active map[string]bool) string {
	if !strings.Contains(s, "$") {
		return s
	}

	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' || i+1 >= len(s) {
			sb.WriteByte(c)
			continue
		}

		switch next := s[i+1]; next {
		case '$':
			sb.WriteByte('$')
			i++
		case '(', '{':
			closer := byte(')')
			if next == '{' {
				closer = '}'
			}
			end := strings.IndexByte(s[i+2:], closer)
			if end < 0 {
				sb.WriteString(s[i:])
				return sb.String()
			}
			name := s[i+2 : i+2+end]
			if val, ok := vars[name]; ok && !active[name] {
				active[name] = true
				sb.WriteString(expandRefs(val, vars, active))
				delete(active, name)
			} else {
				sb.WriteString(s[i : i+3+end])
			}
			i += 2 + end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func firstWord(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func isDirective(line string) bool {
	word := firstWord(line)
	for _, d := range directives {
		if word == d {
			return true
		}
	}
	return false
}
