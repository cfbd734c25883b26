package predicate

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/roomcache"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

var reg = software.NewRegistry()

func okOutcome(server, sw, version string) domain.Outcome {
	v := reg.Normalize(software.Raw{Software: sw, Version: version})
	return domain.Outcome{Server: server, Status: domain.StatusOK, Version: &v, CheckedAt: time.Now()}
}

func newCache(outcomes ...domain.Outcome) *roomcache.Cache {
	c := roomcache.New("!room:example.org")
	for _, o := range outcomes {
		c.Upsert(o)
	}
	return c
}

func TestParseOperator(t *testing.T) {
	tests := []struct {
		in       string
		expected Operator
	}{
		{"=", EQ}, {"==", EQ}, {"===", EQ},
		{"!=", NE}, {"!==", NE}, {"≠", NE},
		{"<", LT}, {"<=", LE}, {">", GT}, {">=", GE},
		{"", ANY}, {"GE", GE},
	}
	for _, tt := range tests {
		got, err := ParseOperator(tt.in)
		if err != nil {
			t.Errorf("ParseOperator(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseOperator(%q) = %v, want %v", tt.in, got, tt.expected)
		}
	}
	if _, err := ParseOperator("~="); err == nil {
		t.Error("ParseOperator(~=) accepted an unknown operator")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name       string
		sw, op, v  string
		expectedOp Operator
		family     software.Family
	}{
		{"bare software is ANY", "synapse", "", "", ANY, software.Synapse},
		{"version without operator is EQ", "Synapse", "", "1.65.0", EQ, software.Synapse},
		{"explicit operator", "Dendrite", ">=", "0.8.6", GE, software.Dendrite},
		{"unknown software", "Homegrown", "!=", "7", NE, software.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(reg, tt.sw, tt.op, tt.v)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if p.Op != tt.expectedOp || p.Family != tt.family {
				t.Errorf("New() = %v/%v, want %v/%v", p.Op, p.Family, tt.expectedOp, tt.family)
			}
		})
	}

	if _, err := New(reg, "", ">=", "1.0"); !errors.Is(err, ErrNoSoftware) {
		t.Errorf("err = %v, want ErrNoSoftware", err)
	}
}

func TestMatch(t *testing.T) {
	down := domain.Outcome{Server: "down.example", Status: domain.StatusTimeout, CheckedAt: time.Now()}
	// down.example must never match, whatever the predicate.
	cache := newCache(
		okOutcome("a.example", "Synapse", "1.65.0"),
		okOutcome("b.example", "Synapse", "1.40.0"),
		okOutcome("c.example", "Synapse", "1.65.0rc1"),
		okOutcome("d.example", "Dendrite", "0.9.3"),
		okOutcome("e.example", "Homegrown", "7"),
		okOutcome("f.example", "Homegrown", "8"),
		down,
	)

	tests := []struct {
		name     string
		sw, op   string
		version  string
		expected []string
	}{
		{"any synapse", "Synapse", "", "", []string{"a.example", "b.example", "c.example"}},
		{"synapse at least 1.64", "Synapse", ">=", "1.64.0", []string{"a.example", "c.example"}},
		{"rc sorts before release", "Synapse", "<", "1.65.0", []string{"b.example", "c.example"}},
		{"equal", "synapse", "=", "1.65", []string{"a.example"}},
		{"not equal", "Synapse", "!=", "1.65.0", []string{"b.example", "c.example"}},
		{"dendrite", "Dendrite", ">", "0.9.0", []string{"d.example"}},
		{"unknown equality", "Homegrown", "==", "7", []string{"e.example"}},
		{"unknown inequality", "Homegrown", "!=", "7", []string{"f.example"}},
		{"unknown relational never matches", "Homegrown", ">", "1", nil},
		{"unknown >= never matches", "Homegrown", ">=", "7", nil},
		{"unknown <= never matches", "Homegrown", "<=", "7", nil},
		{"no such software", "Conduit", "", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(reg, tt.sw, tt.op, tt.version)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got := Match(cache, p)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Match() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSatisfies_CrossFamilyIsNeverAnError(t *testing.T) {
	p := MatchPredicate{
		Family:  software.Synapse,
		Op:      GE,
		Version: reg.Normalize(software.Raw{Software: "Synapse", Version: "1.0.0"}),
	}
	if p.Satisfies(okOutcome("d.example", "Dendrite", "9.9.9")) {
		t.Error("cross-family outcome satisfied a relational predicate")
	}
	p.Op = NE
	if p.Satisfies(okOutcome("d.example", "Dendrite", "9.9.9")) {
		t.Error("cross-family outcome satisfied a != predicate")
	}
}

func TestOperatorHolds(t *testing.T) {
	for _, op := range []Operator{LT, LE, GT, GE, EQ, NE, ANY} {
		if op.Holds(software.Incomparable) {
			t.Errorf("%v holds for incomparable", op)
		}
	}
	if !LE.Holds(software.Equal) || LT.Holds(software.Equal) {
		t.Error("LE/LT disagree on equal")
	}
}

func testTable(t *testing.T) *Table {
	t.Helper()
	tbl := NewTable()
	tbl.Updated = "2022-08-19"
	tbl.RoomVersions = []string{"9", "10"}
	tbl.Latest[software.Synapse] = reg.Normalize(software.Raw{Software: "Synapse", Version: "1.65.0"})
	tbl.Set(software.Synapse, "10", Requirement{Kind: AtLeast, Version: reg.Normalize(software.Raw{Software: "Synapse", Version: "1.64.0rc1"})})
	tbl.Set(software.Synapse, "9", Requirement{Kind: Always})
	tbl.Set(software.Construct, "10", Requirement{Kind: Never})
	return tbl
}

func TestUpgradeImpact(t *testing.T) {
	cache := newCache(
		okOutcome("new.example", "Synapse", "1.65.0"),
		okOutcome("rc.example", "Synapse", "1.64.0rc1"),
		okOutcome("old.example", "Synapse", "1.40.0"),
		okOutcome("cs.example", "construct", "0.9"),
		okOutcome("dendrite.example", "Dendrite", "0.9.3"),
		okOutcome("odd.example", "Homegrown", "1"),
		domain.Outcome{Server: "down.example", Status: domain.StatusConnectionError},
	)

	impact := UpgradeImpact(cache, testTable(t), "10")

	check := func(name string, got, expected []string) {
		t.Helper()
		if !reflect.DeepEqual(got, expected) {
			t.Errorf("%s = %v, want %v", name, got, expected)
		}
	}
	check("Supported", impact.Supported, []string{"new.example", "rc.example"})
	check("LeftBehind", impact.LeftBehind, []string{"cs.example", "old.example"})
	check("Unknown", impact.Unknown, []string{"dendrite.example", "odd.example"})
	check("Unreachable", impact.Unreachable, []string{"down.example"})
	if !impact.KnownRoomVersion {
		t.Error("room version 10 reported as unknown")
	}
	if impact.TableMayBeStale {
		t.Error("table flagged as stale")
	}

	unknownVersion := UpgradeImpact(cache, testTable(t), "42")
	if unknownVersion.KnownRoomVersion {
		t.Error("room version 42 reported as known")
	}
	if len(unknownVersion.Supported)+len(unknownVersion.LeftBehind) != 0 {
		t.Errorf("servers classified against an unlisted room version: %+v", unknownVersion)
	}
}

func TestUpgradeImpact_StaleTable(t *testing.T) {
	tbl := testTable(t)
	tbl.Set(software.Synapse, "11", Requirement{Kind: Never})
	cache := newCache(okOutcome("future.example", "Synapse", "1.99.0"))

	impact := UpgradeImpact(cache, tbl, "11")
	if !reflect.DeepEqual(impact.LeftBehind, []string{"future.example"}) {
		t.Fatalf("LeftBehind = %v", impact.LeftBehind)
	}
	if !impact.TableMayBeStale {
		t.Error("newer-than-latest release did not flag the table as stale")
	}
}

func TestUpgradeScenario(t *testing.T) {
	r := software.NewRegistry()
	r.Register("X", software.Semver, 0)
	ver := func(s string) software.Version { return r.Normalize(software.Raw{Software: "X", Version: s}) }
	out := func(server, s string) domain.Outcome {
		v := ver(s)
		return domain.Outcome{Server: server, Status: domain.StatusOK, Version: &v}
	}

	tbl := NewTable()
	tbl.RoomVersions = []string{"target"}
	tbl.Set("X", "target", Requirement{Kind: AtLeast, Version: ver("1.5")})

	cache := newCache(out("S1", "2.0"), out("S2", "1.0"))

	impact := UpgradeImpact(cache, tbl, "target")
	if !reflect.DeepEqual(impact.Supported, []string{"S1"}) || !reflect.DeepEqual(impact.LeftBehind, []string{"S2"}) || len(impact.Unknown) != 0 {
		t.Fatalf("impact = %+v", impact)
	}

	p, err := New(r, "X", ">=", "1.5")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := Match(cache, p); !reflect.DeepEqual(got, []string{"S1"}) {
		t.Errorf("Match() = %v, want [S1]", got)
	}

	cache.Upsert(out("S2", "2.0"))
	impact = UpgradeImpact(cache, tbl, "target")
	if !reflect.DeepEqual(impact.Supported, []string{"S1", "S2"}) || len(impact.LeftBehind) != 0 {
		t.Errorf("after retest impact = %+v", impact)
	}
}
