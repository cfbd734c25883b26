package roomversions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrSnakeDoc/fedcheck/internal/predicate"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

func TestLoaderLoadEmbedded(t *testing.T) {
	doc, err := NewLoader("").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.Updated != "2022-08-19" {
		t.Errorf("Updated = %q", doc.Updated)
	}
	if len(doc.RoomVersions) != 10 {
		t.Errorf("Expected 10 room versions, got %d", len(doc.RoomVersions))
	}

	synapse, ok := doc.Software["Synapse"]
	if !ok {
		t.Fatal("embedded table has no Synapse entry")
	}
	if req := synapse.Minimum["1"]; req.Supported == nil || !*req.Supported {
		t.Errorf("Synapse room version 1 = %+v, want true", req)
	}
	if req := synapse.Minimum["10"]; req.Version != "1.64.0rc1" {
		t.Errorf("Synapse room version 10 = %+v, want 1.64.0rc1", req)
	}
}

func TestLoaderLoadFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "room_versions.yaml")

	content := `updated: "2024-01-01"
room_versions: ["10", "11"]
software:
  Conduit:
    latest: 0.7
    minimum:
      "10": 0.6
      "11": false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to create test YAML file: %v", err)
	}

	loader := NewLoader(path)
	if loader.Source() != path {
		t.Errorf("Source() = %q", loader.Source())
	}
	doc, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	conduit := doc.Software["Conduit"]
	if conduit.Latest != "0.7" {
		t.Errorf("Latest = %q, want 0.7", conduit.Latest)
	}
	if req := conduit.Minimum["10"]; req.Version != "0.6" || req.Supported != nil {
		t.Errorf("room version 10 = %+v, want version 0.6", req)
	}
	if req := conduit.Minimum["11"]; req.Supported == nil || *req.Supported {
		t.Errorf("room version 11 = %+v, want false", req)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown key", "updated: x\nroom_version: [\"1\"]\n"},
		{"list requirement", "room_versions: [\"1\"]\nsoftware:\n  Synapse:\n    minimum:\n      \"1\": [a]\n"},
		{"empty document", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); err == nil {
				t.Error("Parse() accepted invalid input")
			}
		})
	}
}

func TestMapTable(t *testing.T) {
	reg := software.NewRegistry()
	doc, err := NewLoader("").Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	table, err := NewMapper(reg).MapTable(doc)
	if err != nil {
		t.Fatalf("MapTable() error = %v", err)
	}

	tests := []struct {
		family  software.Family
		room    string
		kind    predicate.RequirementKind
		version string
	}{
		{software.Synapse, "1", predicate.Always, ""},
		{software.Synapse, "9", predicate.AtLeast, "1.42.0rc2"},
		{software.Construct, "10", predicate.Never, ""},
		{software.Dendrite, "7", predicate.AtLeast, "0.4.1"},
		{software.Conduit, "6", predicate.Always, ""},
		{software.Catalyst, "1", predicate.Never, ""},
	}
	for _, tt := range tests {
		req, ok := table.Requirement(tt.family, tt.room)
		if !ok {
			t.Errorf("%s/%s missing", tt.family, tt.room)
			continue
		}
		if req.Kind != tt.kind || req.Version.Raw != tt.version {
			t.Errorf("%s/%s = %v %q, want %v %q", tt.family, tt.room, req.Kind, req.Version.Raw, tt.kind, tt.version)
		}
	}

	if latest := table.Latest[software.Dendrite]; latest.Raw != "0.9.3" || latest.Family != software.Dendrite {
		t.Errorf("Dendrite latest = %+v", latest)
	}
	if !table.KnowsRoomVersion("10") || table.KnowsRoomVersion("11") {
		t.Error("KnowsRoomVersion disagrees with the embedded table")
	}
}

func TestMapTableErrors(t *testing.T) {
	reg := software.NewRegistry()
	tests := []struct {
		name     string
		doc      Document
		contains string
	}{
		{
			name:     "no room versions",
			doc:      Document{},
			contains: "no room versions",
		},
		{
			name: "unknown software",
			doc: Document{
				RoomVersions: []string{"1"},
				Software:     map[string]SoftwareSupport{"Homegrown": {}},
			},
			contains: "unknown software",
		},
		{
			name: "unlisted room version",
			doc: Document{
				RoomVersions: []string{"1"},
				Software: map[string]SoftwareSupport{
					"Synapse": {Minimum: map[string]Requirement{"2": {Version: "1.0"}}},
				},
			},
			contains: "not listed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMapper(reg).MapTable(tt.doc)
			if err == nil || !strings.Contains(err.Error(), tt.contains) {
				t.Errorf("MapTable() error = %v, want it to mention %q", err, tt.contains)
			}
		})
	}
}

func TestProviderReloadKeepsPreviousTableOnError(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "room_versions.yaml")
	valid := "room_versions: [\"1\"]\nsoftware:\n  Synapse:\n    minimum:\n      \"1\": true\n"
	if err := os.WriteFile(path, []byte(valid), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	p, err := NewProvider(NewLoader(path), NewMapper(software.NewRegistry()))
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	first := p.Current()
	if first == nil || p.LastReload().IsZero() {
		t.Fatal("provider did not load the table")
	}

	if err := os.WriteFile(path, []byte("room_versions: [\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := p.Reload(); err == nil {
		t.Fatal("Reload() accepted a broken file")
	}
	if p.Current() != first {
		t.Error("failed reload replaced the table")
	}
}
