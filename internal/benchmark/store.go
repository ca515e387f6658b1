package benchmark

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrRecordNotFound is returned when no record exists for a key.
var ErrRecordNotFound = errors.New("benchmark record not found")

// Store keeps one record per run key in a flat directory:
// <dir>/<key>.json plus a Markdown companion <dir>/<key>.md.
type Store struct {
	Dir string
}

// NewStore creates a store with the given directory.
func NewStore(dir string) *Store {
	return &Store{Dir: dir}
}

// Save writes the record for r.Key, replacing any previous one.
func (s *Store) Save(r Record) error {
	if r.Key == "" {
		return errors.New("benchmark record has no key")
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(document{Results: []Record{r}}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.JSONPath(r.Key), data, 0644); err != nil {
		return err
	}

	return os.WriteFile(s.MarkdownPath(r.Key), []byte(FormatMarkdown(r)), 0644)
}

// Load retrieves the record for key.
func (s *Store) Load(key string) (Record, error) {
	data, err := os.ReadFile(s.JSONPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Record{}, fmt.Errorf("invalid benchmark record %s: %w", key, err)
	}
	if len(doc.Results) == 0 {
		return Record{}, fmt.Errorf("benchmark record %s has no results", key)
	}

	r := doc.Results[0]
	r.Key = key
	return r, nil
}

// Runtime loads the record for key and returns its formatted runtime.
func (s *Store) Runtime(key string) (string, error) {
	r, err := s.Load(key)
	if err != nil {
		return "", err
	}
	return r.Runtime(), nil
}

// Exists checks if a record exists.
func (s *Store) Exists(key string) bool {
	_, err := os.Stat(s.JSONPath(key))
	return err == nil
}

// Clean removes every *.md and *.json file directly inside the store
// directory and returns how many were removed. Subdirectories are untouched.
func (s *Store) Clean() (int, error) {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".md" && ext != ".json" {
			continue
		}
		if err := os.Remove(filepath.Join(s.Dir, entry.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// JSONPath returns the record file for key.
func (s *Store) JSONPath(key string) string {
	return filepath.Join(s.Dir, safeName(key)+".json")
}

// MarkdownPath returns the Markdown companion file for key.
func (s *Store) MarkdownPath(key string) string {
	return filepath.Join(s.Dir, safeName(key)+".md")
}

// safeName sanitizes a key for the filesystem.
func safeName(key string) string {
	name := strings.ReplaceAll(key, "/", "_")
	return strings.ReplaceAll(name, "\\", "_")
}

// FormatMarkdown renders a record as a one-row Markdown table.
func FormatMarkdown(r Record) string {
	var sb strings.Builder
	sb.WriteString("| Command | Mean [s] | Min [s] | Max [s] |\n")
	sb.WriteString("|:---|---:|---:|---:|\n")
	fmt.Fprintf(&sb, "| `%s` | %s | %.3f | %.3f |\n", r.Command, r.Runtime(), r.Min, r.Max)
	return sb.String()
}
