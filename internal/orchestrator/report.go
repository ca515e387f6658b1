package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"speedtests/internal/table"
)

const dateLayout = "2006-01-02"

// Report is one folder's results section.
type Report struct {
	Section  string
	Versions []string
	Date     time.Time
	Table    *table.Table
}

// WriteReport renders the section framed by dashed lines:
// header, compiler version bullets, benchmark date, results table.
func WriteReport(w io.Writer, r Report) error {
	sep := strings.Repeat("-", 20)

	var sb strings.Builder
	sb.WriteString(sep + "\n")
	fmt.Fprintf(&sb, "### %s\n\n", r.Section)
	for _, v := range r.Versions {
		fmt.Fprintf(&sb, "* %s\n", v)
	}
	fmt.Fprintf(&sb, "* Benchmark date: %s [yyyy-mm-dd]\n\n", r.Date.Format(dateLayout))
	sb.WriteString(r.Table.String())
	sb.WriteString(sep + "\n")

	_, err := io.WriteString(w, sb.String())
	return err
}
