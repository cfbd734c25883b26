package software

import (
	"sort"
	"strings"
)

type family struct {
	name    Family
	grammar Grammar
	rank    int
}

// Registry maps reported software names to families. It is built once and
// then only read, so it is safe for concurrent use after construction.
type Registry struct {
	byName   map[string]family // lower-cased reported name -> family
	families map[Family]family
}

// NewRegistry returns a registry holding the built-in families.
func NewRegistry() *Registry {
	r := &Registry{
		byName:   make(map[string]family),
		families: make(map[Family]family),
	}
	r.Register(Synapse, PEP440, 100)
	r.Register(Construct, Dotted, 50)
	r.Register(Conduit, Semver, 40)
	r.Register(Dendrite, Semver, 10)
	r.Register(Catalyst, Semver, 0)
	r.Register(Conduwuit, Semver, 0)
	r.Register(Continuwuity, Semver, 0)
	r.Register(Tuwunel, Semver, 0)
	return r
}

// Register adds a family. The family name itself and every alias are
// matched case-insensitively against reported software names. Registering
// an existing family replaces it.
func (r *Registry) Register(name Family, grammar Grammar, rank int, aliases ...string) {
	f := family{name: name, grammar: grammar, rank: rank}
	r.families[name] = f
	r.byName[strings.ToLower(string(name))] = f
	for _, alias := range aliases {
		r.byName[strings.ToLower(strings.TrimSpace(alias))] = f
	}
}

// Lookup resolves a reported software name to its family.
func (r *Registry) Lookup(software string) (Family, bool) {
	f, ok := r.byName[strings.ToLower(strings.TrimSpace(software))]
	if !ok {
		return Unknown, false
	}
	return f.name, true
}

// Rank is the display weight of a family; higher ranks are listed first.
// Unknown and unregistered families rank below everything.
func (r *Registry) Rank(name Family) int {
	if f, ok := r.families[name]; ok {
		return f.rank
	}
	return -1
}

// Families lists the registered families, highest rank first.
func (r *Registry) Families() []Family {
	out := make([]Family, 0, len(r.families))
	for name := range r.families {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := r.families[out[i]].rank, r.families[out[j]].rank
		if ri != rj {
			return ri > rj
		}
		return out[i] < out[j]
	})
	return out
}

// Normalize turns a raw report into a Version. Unregistered software yields
// an Unknown value. A known family whose string does not fit its grammar is
// read with the Dotted grammar and marked Lenient so it stays in its family.
func (r *Registry) Normalize(raw Raw) Version {
	v := Version{
		Software: strings.TrimSpace(raw.Software),
		Raw:      strings.TrimSpace(raw.Version),
	}

	f, ok := r.byName[strings.ToLower(v.Software)]
	if !ok {
		v.Family = Unknown
		return v
	}
	v.Family = f.name

	if components, ok := f.grammar(v.Raw); ok {
		v.Components = components
		return v
	}
	v.Components, _ = Dotted(v.Raw)
	v.Lenient = true
	return v
}
