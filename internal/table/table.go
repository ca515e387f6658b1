package table

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Placeholder is rendered for values that were not measured.
const Placeholder = "--"

// Headers are the four column labels of the results table.
type Headers struct {
	Label        string
	Runtime      string
	Size         string
	StrippedSize string
}

// DefaultHeaders returns the labels used when the folder config sets none.
func DefaultHeaders() Headers {
	return Headers{
		Label:        "Compilation",
		Runtime:      "Runtime (sec)",
		Size:         "Binary size (bytes)",
		StrippedSize: "Stripped size (bytes)",
	}
}

// Row is one benchmarked variant.
type Row struct {
	Label    string
	Runtime  string
	Size     string
	Stripped string

	seconds float64
	parsed  bool
}

// Seconds returns the parsed runtime and whether parsing succeeded.
func (r Row) Seconds() (float64, bool) {
	return r.seconds, r.parsed
}

// Table accumulates rows and renders them as Markdown.
type Table struct {
	headers Headers
	rows    []Row
}

// New returns an empty table with the default headers.
func New() *Table {
	return &Table{headers: DefaultHeaders()}
}

// BuildHeaders sets the column labels. Empty fields keep their default.
func (t *Table) BuildHeaders(h Headers) {
	def := DefaultHeaders()
	t.headers = Headers{
		Label:        orDefault(h.Label, def.Label),
		Runtime:      orDefault(h.Runtime, def.Runtime),
		Size:         orDefault(h.Size, def.Size),
		StrippedSize: orDefault(h.StrippedSize, def.StrippedSize),
	}
}

// Headers returns the current column labels.
func (t *Table) Headers() Headers {
	return t.headers
}

// AddRow appends a row. Empty runtime, size or stripped values are rendered
// as the placeholder.
func (t *Table) AddRow(label, runtime, size, stripped string) {
	row := Row{
		Label:    label,
		Runtime:  orDefault(runtime, Placeholder),
		Size:     orDefault(size, Placeholder),
		Stripped: orDefault(stripped, Placeholder),
	}
	row.seconds, row.parsed = ParseRuntime(row.Runtime)
	t.rows = append(t.rows, row)
}

// Sort orders rows by ascending runtime. Ties keep insertion order and rows
// whose runtime does not parse go last.
func (t *Table) Sort() {
	sort.SliceStable(t.rows, func(i, j int) bool {
		a, b := t.rows[i], t.rows[j]
		if a.parsed != b.parsed {
			return a.parsed
		}
		if !a.parsed {
			return false
		}
		return a.seconds < b.seconds
	})
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns a copy of the rows in their current order.
func (t *Table) Rows() []Row {
	out := make([]Row, len(t.rows))
	copy(out, t.rows)
	return out
}

// String renders the table as Markdown: header, separator, one line per row.
func (t *Table) String() string {
	var sb strings.Builder
	writeLine(&sb, t.headers.Label, t.headers.Runtime, t.headers.Size, t.headers.StrippedSize)
	sb.WriteString("|-----|-----|-----|-----|\n")
	for _, r := range t.rows {
		writeLine(&sb, r.Label, r.Runtime, r.Size, r.Stripped)
	}
	return sb.String()
}

// ParseRuntime reads the leading number of a runtime string such as
// "1.234" or "1.234 ± 0.010". NaN does not count as a runtime.
func ParseRuntime(s string) (float64, bool) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// FormatSize renders a byte count for a size column.
func FormatSize(n int64) string {
	return strconv.FormatInt(n, 10)
}

func writeLine(sb *strings.Builder, cells ...string) {
	sb.WriteString("|")
	for _, c := range cells {
		sb.WriteString(" ")
		sb.WriteString(escapeCell(c))
		sb.WriteString(" |")
	}
	sb.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", `\|`)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
