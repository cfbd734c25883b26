package roomversions

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

// Loader reads a room-version table file. With no path it reads the table
// compiled into the binary.
type Loader struct {
	filePath string
}

// NewLoader creates a loader for filePath, which may be empty.
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Source names where the table comes from.
func (l *Loader) Source() string {
	if l.filePath == "" {
		return "embedded"
	}
	return l.filePath
}

// Load reads and parses the table.
func (l *Loader) Load() (Document, error) {
	data := defaultTable
	if l.filePath != "" {
		var err error
		data, err = os.ReadFile(l.filePath)
		if err != nil {
			return Document{}, fmt.Errorf("failed to read room versions file: %w", err)
		}
	}
	return Parse(data)
}

// Parse decodes a table document. Unknown keys are rejected so typos in a
// hand-maintained file do not go unnoticed.
func Parse(data []byte) (Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to parse room versions yaml: %w", err)
	}
	return doc, nil
}
