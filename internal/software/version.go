// Package software normalizes the (name, version) pair a homeserver reports
// about itself into a comparable value.
//
// Different homeserver implementations use unrelated versioning schemes, so
// every value carries the Family that parsed it and two values are only ever
// ordered when their families match.
package software

import (
	"strconv"
	"strings"
)

// Family identifies a homeserver implementation and therefore the grammar
// used to read its version strings.
type Family string

const (
	Synapse      Family = "Synapse"
	Dendrite     Family = "Dendrite"
	Conduit      Family = "Conduit"
	Catalyst     Family = "Catalyst"
	Conduwuit    Family = "conduwuit"
	Continuwuity Family = "continuwuity"
	Tuwunel      Family = "tuwunel"
	Construct    Family = "construct"

	// Unknown is used for any software name missing from the registry.
	// Unknown values are only ever compared for equality.
	Unknown Family = "Unknown"
)

// Raw is a version report exactly as the server sent it.
type Raw struct {
	Software string
	Version  string
}

// Component is one ordered piece of a normalized version.
type Component struct {
	Num   int64
	Str   string
	IsNum bool
}

func num(n int64) Component   { return Component{Num: n, IsNum: true} }
func text(s string) Component { return Component{Str: s} }

func (c Component) String() string {
	if c.IsNum {
		return strconv.FormatInt(c.Num, 10)
	}
	return c.Str
}

// Version is a normalized, immutable version value.
type Version struct {
	Family     Family
	Software   string // name as reported, whitespace trimmed
	Components []Component
	Raw        string
	// Lenient is set when the string did not fit the family grammar and was
	// read with Dotted instead. Lenient values sort below grammar values.
	Lenient    bool
}

// String renders the value the way the server reported it.
func (v Version) String() string {
	if v.Software == "" {
		return v.Raw
	}
	if v.Raw == "" {
		return v.Software
	}
	return v.Software + " " + v.Raw
}

// IsZero reports whether v holds no version at all.
func (v Version) IsZero() bool {
	return v.Family == "" && v.Raw == "" && v.Software == ""
}

// Ordering is the result of Compare. The zero value is Incomparable.
type Ordering int

const (
	Incomparable Ordering = iota
	Less
	Equal
	Greater
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Equal:
		return "equal"
	case Greater:
		return "greater"
	default:
		return "incomparable"
	}
}

// Compare orders a against b.
//
// Values of different families are Incomparable. Unknown values are Equal
// when they come from the same software and carry the same raw string, and
// Incomparable otherwise. Same-family values compare component by component,
// a missing trailing component counting as numeric zero. A lenient value
// always sorts below one that fit the family grammar, since the two layouts
// do not line up.
func Compare(a, b Version) Ordering {
	if a.Family != b.Family {
		return Incomparable
	}
	if a.Family == Unknown {
		if strings.EqualFold(a.Software, b.Software) && a.Raw == b.Raw {
			return Equal
		}
		return Incomparable
	}
	if a.Lenient != b.Lenient {
		if a.Lenient {
			return Less
		}
		return Greater
	}

	n := len(a.Components)
	if len(b.Components) > n {
		n = len(b.Components)
	}
	for i := 0; i < n; i++ {
		ca, cb := num(0), num(0)
		if i < len(a.Components) {
			ca = a.Components[i]
		}
		if i < len(b.Components) {
			cb = b.Components[i]
		}
		if c := compareComponent(ca, cb); c != 0 {
			if c < 0 {
				return Less
			}
			return Greater
		}
	}
	return Equal
}

// compareComponent sorts numbers before strings, numbers numerically and
// strings lexically.
func compareComponent(a, b Component) int {
	switch {
	case a.IsNum && b.IsNum:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case a.IsNum:
		return -1
	case b.IsNum:
		return 1
	default:
		return strings.Compare(a.Str, b.Str)
	}
}

// SameSoftware reports whether a and b come from the same product. For
// known families that is family identity; Unknown values also need matching
// reported names.
func SameSoftware(a, b Version) bool {
	if a.Family != b.Family {
		return false
	}
	if a.Family == Unknown {
		return strings.EqualFold(a.Software, b.Software)
	}
	return true
}
