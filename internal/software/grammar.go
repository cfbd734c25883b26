package software

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/mod/semver"
)

// Grammar turns a raw version string into ordered components. It reports
// false when the string does not follow the grammar.
type Grammar func(raw string) ([]Component, bool)

// firstToken keeps the part before the first whitespace. Synapse for
// instance appends build details like "1.98.0 (b=matrix-org-hotfixes,...)".
func firstToken(raw string) string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Semver reads semantic versions ("0.9.3", "v1.2", "0.7.0-alpha.2+abc").
//
// Layout: major, minor, patch, release flag (1 for releases, 0 for
// pre-releases), then each pre-release identifier. Numeric identifiers are
// shifted by one so that a missing identifier sorts before any present one.
// Build metadata is ignored.
func Semver(raw string) ([]Component, bool) {
	token := strings.TrimPrefix(firstToken(raw), "v")
	if token == "" {
		return nil, false
	}
	canonical := semver.Canonical("v" + token)
	if canonical == "" {
		return nil, false
	}

	core := strings.TrimPrefix(canonical, "v")
	pre := semver.Prerelease(canonical)
	core = strings.TrimSuffix(core, pre)

	parts := strings.Split(core, ".")
	components := make([]Component, 0, len(parts)+2)
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		components = append(components, num(n))
	}

	if pre == "" {
		return append(components, num(1)), true
	}
	components = append(components, num(0))
	for _, id := range strings.Split(strings.TrimPrefix(pre, "-"), ".") {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			components = append(components, num(n+1))
			continue
		}
		components = append(components, text(id))
	}
	return components, true
}

var pep440Pattern = regexp.MustCompile(`(?i)^v?(\d+(?:\.\d+)*)` +
	`(?:[-_.]?(a|alpha|b|beta|c|rc|pre|preview)[-_.]?(\d*))?` +
	`(?:[-_.]?(post|rev|r)[-_.]?(\d*))?` +
	`(?:[-_.]?(dev)[-_.]?(\d*))?` +
	`(?:\+[a-z0-9._]+)?$`)

const pep440ReleaseWidth = 4

// pre-release phase ranks; a final release ranks above every pre-release.
const (
	phaseDev = iota
	phaseAlpha
	phaseBeta
	phaseCandidate
	phaseFinal
)

// PEP440 reads Python-style release strings as used by Synapse
// ("1.65.0", "0.99.0rc1", "1.64.0rc1", "1.2.post1", "1.3.0.dev2").
//
// Layout: release padded to four numbers, phase, phase number, post number
// plus one (zero when absent), dev flag (0 for dev builds, 1 otherwise), dev
// number. A bare ".devN" release sorts below every pre-release of the same
// release.
func PEP440(raw string) ([]Component, bool) {
	m := pep440Pattern.FindStringSubmatch(firstToken(raw))
	if m == nil {
		return nil, false
	}
	release := strings.Split(m[1], ".")
	if len(release) > pep440ReleaseWidth {
		return nil, false
	}

	components := make([]Component, 0, pep440ReleaseWidth+5)
	for _, p := range release {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, false
		}
		components = append(components, num(n))
	}
	for len(components) < pep440ReleaseWidth {
		components = append(components, num(0))
	}

	phase, phaseNum := int64(phaseFinal), int64(0)
	if m[2] != "" {
		switch strings.ToLower(m[2]) {
		case "a", "alpha":
			phase = phaseAlpha
		case "b", "beta":
			phase = phaseBeta
		default:
			phase = phaseCandidate
		}
		phaseNum = atoiOrZero(m[3])
	}

	post := int64(0)
	if m[4] != "" {
		post = atoiOrZero(m[5]) + 1
	}

	devFlag, devNum := int64(1), int64(0)
	if m[6] != "" {
		devFlag, devNum = 0, atoiOrZero(m[7])
		if m[2] == "" && m[4] == "" {
			phase = phaseDev
		}
	}

	components = append(components, num(phase), num(phaseNum), num(post), num(devFlag), num(devNum))
	return components, true
}

// Dotted is the lenient grammar: separators split the string, and runs of
// digits and letters become separate components ("0rc1" -> 0, "rc", 1).
// It accepts any non-empty string and is the fallback for known families
// whose strings do not fit their own grammar.
func Dotted(raw string) ([]Component, bool) {
	token := strings.TrimPrefix(firstToken(raw), "v")
	if token == "" {
		return nil, false
	}
	var components []Component
	var run strings.Builder
	runIsDigit := false

	flush := func() {
		if run.Len() == 0 {
			return
		}
		s := run.String()
		run.Reset()
		if runIsDigit {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				components = append(components, num(n))
				return
			}
		}
		components = append(components, text(strings.ToLower(s)))
	}

	for _, r := range token {
		switch {
		case r == '.' || r == '-' || r == '_' || r == '+':
			flush()
		case unicode.IsDigit(r):
			if run.Len() > 0 && !runIsDigit {
				flush()
			}
			runIsDigit = true
			run.WriteRune(r)
		default:
			if run.Len() > 0 && runIsDigit {
				flush()
			}
			runIsDigit = false
			run.WriteRune(r)
		}
	}
	flush()
	return components, len(components) > 0
}

func atoiOrZero(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
