package domain

import (
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// Record is the flat, serializable form of an Outcome. A room snapshot is
// a map from server name to Record.
type Record struct {
	Status     Status          `json:"status"`
	Family     software.Family `json:"family,omitempty"`
	Software   string          `json:"software,omitempty"`
	RawVersion string          `json:"raw_version,omitempty"`
	CheckedAt  time.Time       `json:"checked_at"`
	Detail     string          `json:"detail,omitempty"`
}

// Snapshot is a whole room cache in Record form.
type Snapshot map[string]Record

// ToRecord flattens o.
func ToRecord(o Outcome) Record {
	r := Record{
		Status:    o.Status,
		CheckedAt: o.CheckedAt,
		Detail:    o.Detail,
	}
	if o.Version != nil {
		r.Family = o.Version.Family
		r.Software = o.Version.Software
		r.RawVersion = o.Version.Raw
	}
	return r
}

// Outcome rebuilds the outcome for server. The version is normalized again
// through reg, so a family recorded by an older registry is re-derived from
// the reported software name.
func (r Record) Outcome(server string, reg *software.Registry) Outcome {
	o := Outcome{
		Server:    server,
		Status:    r.Status,
		Detail:    r.Detail,
		CheckedAt: r.CheckedAt,
	}
	if r.Status == StatusOK {
		v := reg.Normalize(software.Raw{Software: r.Software, Version: r.RawVersion})
		o.Version = &v
	}
	return o
}
