package roomversions

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Document is the top-level structure of a room-version table file.
type Document struct {
	Updated      string                      `yaml:"updated"`
	RoomVersions []string                    `yaml:"room_versions"`
	Software     map[string]SoftwareSupport `yaml:"software"`
}

// SoftwareSupport lists what one homeserver implementation supports.
type SoftwareSupport struct {
	Latest  string                 `yaml:"latest,omitempty"`
	Minimum map[string]Requirement `yaml:"minimum"`
}

// Requirement is written either as a boolean (every release / no release)
// or as the first release supporting the room version.
type Requirement struct {
	Supported *bool
	Version   string
}

// UnmarshalYAML accepts `true`, `false` or a version scalar. Unquoted
// versions such as 0.4 are read back as written, not as numbers.
func (r *Requirement) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: requirement must be true, false or a version", node.Line)
	}
	if node.Tag == "!!bool" {
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		r.Supported = &b
		return nil
	}
	if node.Value == "" {
		return fmt.Errorf("line %d: empty requirement", node.Line)
	}
	r.Version = node.Value
	return nil
}
