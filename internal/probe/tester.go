package probe

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

// testerReport is the subset of a federation tester report we read.
type testerReport struct {
	FederationOK      bool                        `json:"FederationOK"`
	Version           *testerVersion              `json:"Version"`
	ConnectionErrors  map[string]json.RawMessage  `json:"ConnectionErrors"`
	ConnectionReports map[string]connectionReport `json:"ConnectionReports"`
}

type testerVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type connectionReport struct {
	Checks *struct {
		AllChecksOK        bool `json:"AllChecksOK"`
		MatchingServerName bool `json:"MatchingServerName"`
		ValidCertificates  bool `json:"ValidCertificates"`
	} `json:"Checks"`
	Keys *struct {
		ServerName string `json:"server_name"`
	} `json:"Keys"`
}

func parseTesterReport(body []byte, server string) (software.Raw, domain.Status, string) {
	var report testerReport
	if err := json.Unmarshal(body, &report); err != nil {
		return software.Raw{}, domain.StatusMalformedResponse, "unreadable federation tester report"
	}

	if !report.FederationOK {
		detail := describeFederationFailure(server, report)
		if v := report.Version; v != nil && v.Name != "" && v.Version != "" {
			detail = fmt.Sprintf("%s // %s %s", detail, v.Name, v.Version)
		}
		return software.Raw{}, domain.StatusConnectionError, detail
	}

	if report.Version == nil || strings.TrimSpace(report.Version.Name) == "" || report.Version.Version == "" {
		return software.Raw{}, domain.StatusMalformedResponse, "server not responding to version requests"
	}
	return software.Raw{Software: report.Version.Name, Version: report.Version.Version}, domain.StatusOK, ""
}

func isIPv6(addr string) bool {
	return strings.HasPrefix(addr, "[") || strings.Count(addr, ":") > 1
}

type addrCount struct {
	failed, reached, ok int
}

func (c addrCount) total() int { return c.failed + c.reached }

// describeFederationFailure summarises why the tester marked a server as
// not federating: unreachable addresses per IP family and failed checks on
// the reachable ones.
func describeFederationFailure(server string, report testerReport) string {
	var v4, v6 addrCount
	for addr := range report.ConnectionErrors {
		if isIPv6(addr) {
			v6.failed++
		} else {
			v4.failed++
		}
	}

	addrs := make([]string, 0, len(report.ConnectionReports))
	for addr := range report.ConnectionReports {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var problems []string
	seen := make(map[string]bool)
	failedChecks := 0
	for _, addr := range addrs {
		counter := &v4
		if isIPv6(addr) {
			counter = &v6
		}
		counter.reached++

		var problem string
		data := report.ConnectionReports[addr]
		switch {
		case data.Checks == nil || !data.Checks.MatchingServerName:
			got := "undefined"
			if data.Keys != nil && data.Keys.ServerName != "" {
				got = data.Keys.ServerName
			}
			problem = fmt.Sprintf("mismatching server name, tested: %s, got: %s", server, got)
		case !data.Checks.ValidCertificates:
			problem = "invalid TLS certificates"
		case !data.Checks.AllChecksOK:
			problem = "some checks failed"
		default:
			counter.ok++
			continue
		}
		failedChecks++
		if !seen[problem] {
			seen[problem] = true
			problems = append(problems, fmt.Sprintf("%s: %s", addr, problem))
		}
	}

	total := v4.total() + v6.total()
	if total == 0 {
		return "no server addresses found"
	}

	var msgs []string
	if v4.failed+v6.failed == total {
		if total == 1 {
			msgs = append(msgs, "server couldn't be reached")
		} else {
			msgs = append(msgs, "server couldn't be reached on any address")
		}
	} else {
		msgs = appendUnreachable(msgs, "IPv4", v4)
		msgs = appendUnreachable(msgs, "IPv6", v6)
	}

	if len(problems) > 0 {
		listed := strings.Join(problems, ", ")
		if len(problems) == 1 {
			listed = problems[0][strings.Index(problems[0], ": ")+2:]
		}
		noun := "address"
		if failedChecks > 1 {
			noun = "addresses"
		}
		msgs = append(msgs, fmt.Sprintf("%d/%d %s failed the test: %s", failedChecks, total, noun, listed))
	}

	if len(msgs) == 0 {
		return "federation not OK (unknown error)"
	}
	return joinAnd(msgs) + okSuffix(v4, v6)
}

func appendUnreachable(msgs []string, family string, c addrCount) []string {
	if c.failed == 0 {
		return msgs
	}
	if c.total() > 1 {
		return append(msgs, fmt.Sprintf("%d/%d %s addresses couldn't be reached", c.failed, c.total(), family))
	}
	return append(msgs, fmt.Sprintf("%s address couldn't be reached", family))
}

func okSuffix(v4, v6 addrCount) string {
	var parts []string
	for _, f := range []struct {
		name string
		c    addrCount
	}{{"IPv4", v4}, {"IPv6", v6}} {
		switch {
		case f.c.ok == 0:
		case f.c.total() == 1:
			parts = append(parts, f.name+" is OK")
		default:
			parts = append(parts, fmt.Sprintf("%d/%d %s addresses are OK", f.c.ok, f.c.total(), f.name))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, " and ") + ")"
}

func joinAnd(msgs []string) string {
	if len(msgs) == 1 {
		return msgs[0]
	}
	return strings.Join(msgs[:len(msgs)-1], ", ") + " and " + msgs[len(msgs)-1]
}
