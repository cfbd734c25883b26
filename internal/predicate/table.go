package predicate

import (
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// RequirementKind says how a family supports a room version.
type RequirementKind int

const (
	// Never means no release of the family supports the room version.
	Never RequirementKind = iota
	// Always means every release supports it.
	Always
	// AtLeast means releases from Requirement.Version onwards support it.
	AtLeast
)

func (k RequirementKind) String() string {
	switch k {
	case Always:
		return "always"
	case AtLeast:
		return "at_least"
	default:
		return "never"
	}
}

// Requirement is the minimum version of one family for one room version.
type Requirement struct {
	Kind    RequirementKind
	Version software.Version
}

// Table maps room versions to the minimum software version of every known
// family. It is read-only once built.
type Table struct {
	// Updated is the date the data was last checked, as written by its
	// maintainer.
	Updated      string
	RoomVersions []string

	// Latest is the newest release of each family known when the table
	// was written.
	Latest  map[software.Family]software.Version
	Minimum map[software.Family]map[string]Requirement
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{
		Latest:  make(map[software.Family]software.Version),
		Minimum: make(map[software.Family]map[string]Requirement),
	}
}

// Set records the requirement of family for roomVersion.
func (t *Table) Set(family software.Family, roomVersion string, req Requirement) {
	m, ok := t.Minimum[family]
	if !ok {
		m = make(map[string]Requirement)
		t.Minimum[family] = m
	}
	m[roomVersion] = req
}

// Requirement looks up the requirement of family for roomVersion.
func (t *Table) Requirement(family software.Family, roomVersion string) (Requirement, bool) {
	if t == nil {
		return Requirement{}, false
	}
	m, ok := t.Minimum[family]
	if !ok {
		return Requirement{}, false
	}
	req, ok := m[roomVersion]
	return req, ok
}

// KnowsRoomVersion reports whether roomVersion is listed in the table.
func (t *Table) KnowsRoomVersion(roomVersion string) bool {
	if t == nil {
		return false
	}
	for _, v := range t.RoomVersions {
		if v == roomVersion {
			return true
		}
	}
	return false
}
