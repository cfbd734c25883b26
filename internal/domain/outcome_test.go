package domain

import (
	"testing"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

func TestRecordRoundTripKeepsComparableVersion(t *testing.T) {
	reg := software.NewRegistry()
	v := reg.Normalize(software.Raw{Software: "Synapse", Version: "1.65.0"})
	checked := time.Date(2022, 8, 19, 12, 0, 0, 0, time.UTC)

	o := Outcome{Server: "example.org", Status: StatusOK, Version: &v, CheckedAt: checked}
	restored := ToRecord(o).Outcome("example.org", reg)

	if !restored.OK() {
		t.Fatalf("restored outcome not OK: %+v", restored)
	}
	if software.Compare(*restored.Version, v) != software.Equal {
		t.Errorf("restored version %v does not compare equal to %v", restored.Version, v)
	}
	if !restored.CheckedAt.Equal(checked) {
		t.Errorf("CheckedAt = %v, want %v", restored.CheckedAt, checked)
	}
}

func TestRecordFailureHasNoVersion(t *testing.T) {
	reg := software.NewRegistry()
	rec := Record{Status: StatusTimeout, Software: "Synapse", RawVersion: "1.0.0", Detail: "probe timed out"}

	o := rec.Outcome("slow.example", reg)
	if o.Version != nil {
		t.Errorf("failed outcome carries version %v", o.Version)
	}
	if o.OK() {
		t.Error("timeout outcome reported OK")
	}
	if o.Detail != "probe timed out" {
		t.Errorf("Detail = %q", o.Detail)
	}
}

func TestStatusValid(t *testing.T) {
	tests := []struct {
		status   Status
		expected bool
	}{
		{StatusOK, true},
		{StatusTimeout, true},
		{StatusConnectionError, true},
		{StatusMalformedResponse, true},
		{Status("exploded"), false},
		{Status(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.expected {
			t.Errorf("Status(%q).Valid() = %v, want %v", tt.status, got, tt.expected)
		}
	}
}
