package predicate

import (
	"sort"

	"github.com/MrSnakeDoc/fedcheck/internal/roomcache"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// Impact partitions the servers of a room by their support for a room
// version.
type Impact struct {
	RoomVersion string   `json:"room_version"`
	Supported   []string `json:"supported"`
	LeftBehind  []string `json:"left_behind"`
	// Unknown holds servers whose software or room version is missing from
	// the table.
	Unknown []string `json:"unknown"`
	// Unreachable holds servers whose latest probe failed.
	Unreachable []string `json:"unreachable"`

	KnownRoomVersion bool `json:"known_room_version"`
	// TableMayBeStale is set when a left-behind server runs a release
	// newer than the newest one the table knows about.
	TableMayBeStale bool   `json:"table_may_be_stale"`
	TableUpdated    string `json:"table_updated,omitempty"`
}

// UpgradeImpact classifies every cached server against the requirements
// of roomVersion.
func UpgradeImpact(cache *roomcache.Cache, table *Table, roomVersion string) Impact {
	impact := Impact{
		RoomVersion:      roomVersion,
		Supported:        []string{},
		LeftBehind:       []string{},
		Unknown:          []string{},
		Unreachable:      []string{},
		KnownRoomVersion: table.KnowsRoomVersion(roomVersion),
	}
	if table != nil {
		impact.TableUpdated = table.Updated
	}

	for _, o := range cache.All() {
		if !o.OK() {
			impact.Unreachable = append(impact.Unreachable, o.Server)
			continue
		}
		v := *o.Version
		req, ok := table.Requirement(v.Family, roomVersion)
		if !ok || v.Family == software.Unknown {
			impact.Unknown = append(impact.Unknown, o.Server)
			continue
		}

		switch req.Kind {
		case Always:
			impact.Supported = append(impact.Supported, o.Server)
			continue
		case AtLeast:
			switch software.Compare(v, req.Version) {
			case software.Greater, software.Equal:
				impact.Supported = append(impact.Supported, o.Server)
				continue
			case software.Incomparable:
				impact.Unknown = append(impact.Unknown, o.Server)
				continue
			}
		}

		impact.LeftBehind = append(impact.LeftBehind, o.Server)
		if latest, ok := table.Latest[v.Family]; ok && software.Compare(v, latest) == software.Greater {
			impact.TableMayBeStale = true
		}
	}

	sort.Strings(impact.Supported)
	sort.Strings(impact.LeftBehind)
	sort.Strings(impact.Unknown)
	sort.Strings(impact.Unreachable)
	return impact
}
