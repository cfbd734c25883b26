package roomversions

import (
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/fedcheck/internal/predicate"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// Mapper converts a Document into a predicate.Table, normalizing every
// version through the family registry.
type Mapper struct {
	registry *software.Registry
}

// NewMapper creates a mapper bound to reg.
func NewMapper(reg *software.Registry) *Mapper {
	return &Mapper{registry: reg}
}

// MapTable builds the lookup table. Software names the registry does not
// know are an error: their versions could never be compared.
func (m *Mapper) MapTable(doc Document) (*predicate.Table, error) {
	if len(doc.RoomVersions) == 0 {
		return nil, fmt.Errorf("room versions table lists no room versions")
	}

	table := predicate.NewTable()
	table.Updated = doc.Updated
	table.RoomVersions = make([]string, 0, len(doc.RoomVersions))
	listed := make(map[string]bool, len(doc.RoomVersions))
	for _, rv := range doc.RoomVersions {
		rv = strings.TrimSpace(rv)
		if rv == "" || listed[rv] {
			continue
		}
		listed[rv] = true
		table.RoomVersions = append(table.RoomVersions, rv)
	}

	for name, support := range doc.Software {
		family, ok := m.registry.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown software %q in room versions table", name)
		}

		if support.Latest != "" {
			table.Latest[family] = m.version(family, support.Latest)
		}

		for rv, req := range support.Minimum {
			if !listed[rv] {
				return nil, fmt.Errorf("%s: room version %q is not listed in room_versions", name, rv)
			}
			table.Set(family, rv, m.requirement(family, req))
		}
	}

	return table, nil
}

func (m *Mapper) version(family software.Family, raw string) software.Version {
	return m.registry.Normalize(software.Raw{Software: string(family), Version: raw})
}

func (m *Mapper) requirement(family software.Family, req Requirement) predicate.Requirement {
	switch {
	case req.Supported != nil && *req.Supported:
		return predicate.Requirement{Kind: predicate.Always}
	case req.Supported != nil:
		return predicate.Requirement{Kind: predicate.Never}
	default:
		return predicate.Requirement{Kind: predicate.AtLeast, Version: m.version(family, req.Version)}
	}
}
