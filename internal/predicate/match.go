// Package predicate answers questions about the cached outcomes of a room:
// which servers match a software/version filter and which would be left
// behind by a room version upgrade.
package predicate

import (
	"errors"
	"sort"
	"strings"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/roomcache"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

var ErrNoSoftware = errors.New("software name is required")

// MatchPredicate selects servers running one software, optionally
// constrained by a version relation.
type MatchPredicate struct {
	Family   software.Family
	Software string
	Op       Operator
	Version  software.Version
}

// New builds a predicate from its textual parts. An empty version means
// ANY; an empty operator with a version means EQ.
func New(reg *software.Registry, name, op, version string) (MatchPredicate, error) {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return MatchPredicate{}, ErrNoSoftware
	}

	family, _ := reg.Lookup(name)
	p := MatchPredicate{Family: family, Software: name, Op: ANY}
	if version == "" {
		return p, nil
	}

	parsed, err := ParseOperator(op)
	if err != nil {
		return MatchPredicate{}, err
	}
	if parsed == ANY {
		parsed = EQ
	}
	p.Op = parsed
	p.Version = reg.Normalize(software.Raw{Software: name, Version: version})
	return p, nil
}

// Satisfies reports whether o matches p. Failed outcomes never match, and
// neither do versions that cannot be ordered against p.Version.
func (p MatchPredicate) Satisfies(o domain.Outcome) bool {
	if !o.OK() {
		return false
	}
	v := *o.Version
	if !software.SameSoftware(v, software.Version{Family: p.Family, Software: p.Software}) {
		return false
	}
	if p.Op == ANY {
		return true
	}
	if p.Family == software.Unknown {
		// Unknown versions only support equality on the raw string.
		switch p.Op {
		case EQ:
			return v.Raw == p.Version.Raw
		case NE:
			return v.Raw != p.Version.Raw
		default:
			return false
		}
	}
	return p.Op.Holds(software.Compare(v, p.Version))
}

// Match returns the servers in cache whose outcome satisfies p, sorted.
func Match(cache *roomcache.Cache, p MatchPredicate) []string {
	var servers []string
	for _, o := range cache.All() {
		if p.Satisfies(o) {
			servers = append(servers, o.Server)
		}
	}
	sort.Strings(servers)
	return servers
}
