// Package report aggregates the outcomes of a room into a per-software
// summary and a failure list.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/roomcache"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// FamilyOrder ranks families for display. *software.Registry implements it.
type FamilyOrder interface {
	Rank(software.Family) int
}

// VersionGroup is every server running versions that compare Equal.
type VersionGroup struct {
	// Version is the lowest-sorting raw form in the group.
	Version string   `json:"version"`
	Raw     []string `json:"raw"`
	Count   int      `json:"count"`
	Servers []string `json:"servers"`
}

// SoftwareGroup is every reachable server of one software.
type SoftwareGroup struct {
	Family   software.Family `json:"family"`
	Software string          `json:"software"`
	Count    int             `json:"count"`
	Versions []VersionGroup  `json:"versions"`
}

// Failure is a server whose latest probe did not succeed.
type Failure struct {
	Server    string        `json:"server"`
	Status    domain.Status `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// Summary is the whole-room report.
type Summary struct {
	Total      int             `json:"total"`
	Reachable  int             `json:"reachable"`
	BySoftware []SoftwareGroup `json:"by_software"`
	Failures   []Failure       `json:"failures"`
}

// SummarizeCache summarizes the current content of cache.
func SummarizeCache(cache *roomcache.Cache, order FamilyOrder) Summary {
	return Summarize(cache.All(), order)
}

// Summarize groups successful outcomes by software and version and lists
// every failure. Every input outcome appears exactly once in the result.
//
// Known families come first, highest rank first; within a family versions
// ascend. Unknown software follows, grouped by reported name and raw
// version, sorted lexically.
func Summarize(outcomes []domain.Outcome, order FamilyOrder) Summary {
	ok, failed := lo.FilterReject(outcomes, func(o domain.Outcome, _ int) bool { return o.OK() })

	s := Summary{
		Total:      len(outcomes),
		Reachable:  len(ok),
		BySoftware: []SoftwareGroup{},
		Failures:   make([]Failure, 0, len(failed)),
	}

	for _, o := range failed {
		s.Failures = append(s.Failures, Failure{
			Server:    o.Server,
			Status:    o.Status,
			Detail:    o.Detail,
			CheckedAt: o.CheckedAt,
		})
	}
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].Server < s.Failures[j].Server })

	bySoftware := lo.GroupBy(ok, softwareKey)
	keys := lo.Keys(bySoftware)
	sort.Slice(keys, func(i, j int) bool {
		return lessSoftware(bySoftware[keys[i]][0].Version, bySoftware[keys[j]][0].Version, order)
	})

	for _, key := range keys {
		group := bySoftware[key]
		first := group[0].Version
		sg := SoftwareGroup{
			Family:   first.Family,
			Software: displayName(group),
			Count:    len(group),
		}
		if first.Family == software.Unknown {
			sg.Versions = groupUnknown(group)
		} else {
			sg.Versions = groupKnown(group)
		}
		s.BySoftware = append(s.BySoftware, sg)
	}
	return s
}

// softwareKey is the family for known software and the lower-cased name
// for unknown software.
func softwareKey(o domain.Outcome) string {
	if o.Version.Family == software.Unknown {
		return string(software.Unknown) + "/" + strings.ToLower(o.Version.Software)
	}
	return string(o.Version.Family)
}

func lessSoftware(a, b *software.Version, order FamilyOrder) bool {
	au, bu := a.Family == software.Unknown, b.Family == software.Unknown
	switch {
	case au != bu:
		return bu
	case au:
		return strings.ToLower(a.Software) < strings.ToLower(b.Software)
	}
	ra, rb := order.Rank(a.Family), order.Rank(b.Family)
	if ra != rb {
		return ra > rb
	}
	return a.Family < b.Family
}

func displayName(group []domain.Outcome) string {
	if group[0].Version.Family != software.Unknown {
		return string(group[0].Version.Family)
	}
	names := lo.Uniq(lo.Map(group, func(o domain.Outcome, _ int) string { return o.Version.Software }))
	sort.Strings(names)
	return names[0]
}

func groupKnown(group []domain.Outcome) []VersionGroup {
	sorted := append([]domain.Outcome(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		switch software.Compare(*sorted[i].Version, *sorted[j].Version) {
		case software.Less:
			return true
		case software.Equal:
			return sorted[i].Version.Raw < sorted[j].Version.Raw
		}
		return false
	})

	var out []VersionGroup
	var prev *software.Version
	for _, o := range sorted {
		if prev == nil || software.Compare(*prev, *o.Version) != software.Equal {
			out = append(out, VersionGroup{Version: o.Version.Raw})
			prev = o.Version
		}
		add(&out[len(out)-1], o)
	}
	return finish(out)
}

func groupUnknown(group []domain.Outcome) []VersionGroup {
	byRaw := lo.GroupBy(group, func(o domain.Outcome) string { return o.Version.Raw })
	raws := lo.Keys(byRaw)
	sort.Strings(raws)

	out := make([]VersionGroup, 0, len(raws))
	for _, raw := range raws {
		vg := VersionGroup{Version: raw}
		for _, o := range byRaw[raw] {
			add(&vg, o)
		}
		out = append(out, vg)
	}
	return finish(out)
}

func add(vg *VersionGroup, o domain.Outcome) {
	vg.Count++
	vg.Servers = append(vg.Servers, o.Server)
	vg.Raw = append(vg.Raw, o.Version.Raw)
}

func finish(groups []VersionGroup) []VersionGroup {
	for i := range groups {
		sort.Strings(groups[i].Servers)
		groups[i].Raw = lo.Uniq(groups[i].Raw)
		sort.Strings(groups[i].Raw)
	}
	return groups
}
