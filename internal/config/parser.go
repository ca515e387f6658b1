package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"speedtests/internal/table"
	"speedtests/internal/version"
)

// ErrConfigNotFound is returned when a folder has no config document.
var ErrConfigNotFound = errors.New("folder config not found")

// Format is the encoding of a folder config document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// extensions lists the accepted config file extensions in lookup order.
var extensions = []struct {
	ext    string
	format Format
}{
	{".json", FormatJSON},
	{".yaml", FormatYAML},
	{".yml", FormatYAML},
}

// folderFile represents the config document structure
type folderFile struct {
	Compilers   *Compilers      `json:"compilers" yaml:"compilers"`
	OutputFile  string          `json:"output_file" yaml:"output_file"`
	SectionName string          `json:"section_name" yaml:"section_name"`
	RunCommand  string          `json:"run_command,omitempty" yaml:"run_command,omitempty"`
	Headers     *headersEntry   `json:"headers,omitempty" yaml:"headers,omitempty"`
	Special     *[]specialEntry `json:"special,omitempty" yaml:"special,omitempty"`
}

// headersEntry represents the optional table header labels
type headersEntry struct {
	Label        string `json:"label" yaml:"label"`
	Runtime      string `json:"runtime" yaml:"runtime"`
	Size         string `json:"size" yaml:"size"`
	StrippedSize string `json:"stripped_size" yaml:"stripped_size"`
}

// specialEntry represents one custom compile/run pair
type specialEntry struct {
	Compile    string `json:"compile" yaml:"compile"`
	Run        string `json:"run" yaml:"run"`
	OutputFile string `json:"output_file,omitempty" yaml:"output_file,omitempty"`
}

// UnmarshalJSON decodes a name -> command object keeping key order.
func (c *Compilers) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("compilers must be an object of name to version command")
	}

	out := Compilers{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := tok.(string)

		var cmd string
		if err := dec.Decode(&cmd); err != nil {
			return fmt.Errorf("compiler '%s': %w", name, err)
		}
		out = append(out, version.Compiler{Name: name, Command: cmd})
	}

	*c = out
	return nil
}

// UnmarshalYAML decodes a name -> command mapping keeping key order.
func (c *Compilers) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: compilers must be a mapping of name to version command", node.Line)
	}

	out := make(Compilers, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var cmd string
		if err := node.Content[i+1].Decode(&cmd); err != nil {
			return fmt.Errorf("compiler '%s': %w", name, err)
		}
		out = append(out, version.Compiler{Name: name, Command: cmd})
	}

	*c = out
	return nil
}

// ParseFolder parses and validates a folder config document.
func ParseFolder(content []byte, format Format) (Folder, error) {
	var ff folderFile
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(content, &ff); err != nil {
			return Folder{}, fmt.Errorf("invalid YAML: %w", err)
		}
	default:
		if err := json.Unmarshal(content, &ff); err != nil {
			return Folder{}, fmt.Errorf("invalid JSON: %w", err)
		}
	}

	if errs := validate(ff); len(errs) > 0 {
		return Folder{}, errs
	}

	f := Folder{
		Compilers:   *ff.Compilers,
		OutputFile:  ff.OutputFile,
		SectionName: ff.SectionName,
		RunCommand:  ff.RunCommand,
	}

	if ff.Headers != nil {
		f.Headers = table.Headers{
			Label:        ff.Headers.Label,
			Runtime:      ff.Headers.Runtime,
			Size:         ff.Headers.Size,
			StrippedSize: ff.Headers.StrippedSize,
		}
	}

	if ff.Special != nil {
		f.HasSpecial = true
		f.Special = make([]Special, 0, len(*ff.Special))
		for _, s := range *ff.Special {
			f.Special = append(f.Special, Special{
				Compile:    s.Compile,
				Run:        s.Run,
				OutputFile: s.OutputFile,
			})
		}
	}

	return f, nil
}

// validate collects every problem in the document instead of stopping at
// the first one.
func validate(ff folderFile) ValidationErrors {
	var errs ValidationErrors

	if ff.Compilers == nil {
		errs = append(errs, ValidationError{Key: "compilers", Message: "missing required field"})
	} else {
		seen := make(map[string]bool)
		for _, c := range *ff.Compilers {
			key := fmt.Sprintf("compilers.%s", c.Name)
			if c.Command == "" {
				errs = append(errs, ValidationError{Key: key, Message: "empty version command"})
			}
			if seen[c.Name] {
				errs = append(errs, ValidationError{Key: key, Message: "duplicate compiler name"})
			}
			seen[c.Name] = true
		}
	}

	if ff.OutputFile == "" {
		errs = append(errs, ValidationError{Key: "output_file", Message: "missing required field"})
	}
	if ff.SectionName == "" {
		errs = append(errs, ValidationError{Key: "section_name", Message: "missing required field"})
	}

	if ff.Special != nil {
		for i, s := range *ff.Special {
			if s.Compile == "" {
				errs = append(errs, ValidationError{
					Key:     fmt.Sprintf("special[%d].compile", i),
					Message: fmt.Sprintf("missing required field (use '%s' for no compile step)", NoCompile),
				})
			}
			if s.Run == "" {
				errs = append(errs, ValidationError{Key: fmt.Sprintf("special[%d].run", i), Message: "missing required field"})
			}
		}
	}

	return errs
}

// Path returns the config document for folder in dir, trying .json, .yaml
// and .yml in that order. Nested folders such as "_parallel/c" map to
// "<dir>/_parallel/c.json".
func Path(dir, folder string) (string, Format, error) {
	for _, e := range extensions {
		path := filepath.Join(dir, filepath.FromSlash(folder)+e.ext)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, e.format, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrConfigNotFound, filepath.Join(dir, folder+".json"))
}

// LoadFolder reads and parses the config document for folder.
func LoadFolder(dir, folder string) (Folder, error) {
	path, format, err := Path(dir, folder)
	if err != nil {
		return Folder{}, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Folder{}, fmt.Errorf("failed to read config: %w", err)
	}

	f, err := ParseFolder(content, format)
	if err != nil {
		return Folder{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
