package probe

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
)

const testEndpoint = "http://{server}/_matrix/federation/v1/version"

func newTestProber(t *testing.T, tester bool, endpoint string) *Prober {
	t.Helper()
	p, err := New(Options{Endpoint: endpoint, FederationTester: tester})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func serverName(ts *httptest.Server) string {
	return strings.TrimPrefix(ts.URL, "http://")
}

func TestNewRejectsEndpointWithoutPlaceholder(t *testing.T) {
	if _, err := New(Options{Endpoint: "https://example.org/version"}); err == nil {
		t.Error("New() accepted an endpoint without {server}")
	}
}

func TestProbe(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		expectedStatus domain.Status
		expectedFamily software.Family
		expectedRaw    string
	}{
		{
			name:           "synapse",
			status:         http.StatusOK,
			body:           `{"server":{"name":"Synapse","version":"1.65.0"}}`,
			expectedStatus: domain.StatusOK,
			expectedFamily: software.Synapse,
			expectedRaw:    "1.65.0",
		},
		{
			name:           "unknown software",
			status:         http.StatusOK,
			body:           `{"server":{"name":"Homegrown","version":"7"}}`,
			expectedStatus: domain.StatusOK,
			expectedFamily: software.Unknown,
			expectedRaw:    "7",
		},
		{
			name:           "missing version",
			status:         http.StatusOK,
			body:           `{"server":{"name":"Synapse"}}`,
			expectedStatus: domain.StatusMalformedResponse,
		},
		{
			name:           "missing server key",
			status:         http.StatusOK,
			body:           `{"name":"Synapse","version":"1.0"}`,
			expectedStatus: domain.StatusMalformedResponse,
		},
		{
			name:           "not json",
			status:         http.StatusOK,
			body:           `<html>hello</html>`,
			expectedStatus: domain.StatusMalformedResponse,
		},
		{
			name:           "not found",
			status:         http.StatusNotFound,
			body:           `{"errcode":"M_UNRECOGNIZED"}`,
			expectedStatus: domain.StatusMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/_matrix/federation/v1/version" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			p := newTestProber(t, false, testEndpoint)
			o := p.Probe(context.Background(), serverName(ts), time.Second)

			if o.Status != tt.expectedStatus {
				t.Fatalf("Status = %v (%s), want %v", o.Status, o.Detail, tt.expectedStatus)
			}
			if o.Server != serverName(ts) {
				t.Errorf("Server = %q", o.Server)
			}
			if o.CheckedAt.IsZero() {
				t.Error("CheckedAt not set")
			}
			if tt.expectedStatus != domain.StatusOK {
				if o.Version != nil {
					t.Errorf("failed probe carries version %v", o.Version)
				}
				return
			}
			if o.Version.Family != tt.expectedFamily || o.Version.Raw != tt.expectedRaw {
				t.Errorf("Version = %+v, want %v %s", o.Version, tt.expectedFamily, tt.expectedRaw)
			}
		})
	}
}

func TestProbeTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer ts.Close()

	p := newTestProber(t, false, testEndpoint)
	start := time.Now()
	o := p.Probe(context.Background(), serverName(ts), 50*time.Millisecond)

	if o.Status != domain.StatusTimeout {
		t.Errorf("Status = %v (%s), want timeout", o.Status, o.Detail)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("probe took %v, timeout not honoured", elapsed)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	p := newTestProber(t, false, testEndpoint)
	o := p.Probe(context.Background(), addr, time.Second)

	if o.Status != domain.StatusConnectionError {
		t.Errorf("Status = %v (%s), want connection_error", o.Status, o.Detail)
	}
}

func TestProbeInvalidServerName(t *testing.T) {
	p := newTestProber(t, false, testEndpoint)
	o := p.Probe(context.Background(), "evil.example/path?x=", time.Second)
	if o.Status != domain.StatusConnectionError {
		t.Errorf("Status = %v, want connection_error", o.Status)
	}
}

func TestProbeFederationTester(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		expectedStatus domain.Status
		detailContains string
	}{
		{
			name:           "federation ok",
			body:           `{"FederationOK":true,"Version":{"name":"Dendrite","version":"0.9.3"}}`,
			expectedStatus: domain.StatusOK,
		},
		{
			name:           "unreachable",
			body:           `{"FederationOK":false,"ConnectionErrors":{"1.2.3.4:8448":{"Message":"refused"}}}`,
			expectedStatus: domain.StatusConnectionError,
			detailContains: "server couldn't be reached",
		},
		{
			name: "bad certificate with version",
			body: `{"FederationOK":false,"Version":{"name":"Synapse","version":"1.2.0"},
				"ConnectionReports":{"1.2.3.4:8448":{"Checks":{"AllChecksOK":false,"MatchingServerName":true,"ValidCertificates":false}}}}`,
			expectedStatus: domain.StatusConnectionError,
			detailContains: "invalid TLS certificates // Synapse 1.2.0",
		},
		{
			name:           "no version block",
			body:           `{"FederationOK":true}`,
			expectedStatus: domain.StatusMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get("server_name"); got != "example.org" {
					t.Errorf("server_name = %q", got)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer ts.Close()

			p := newTestProber(t, true, ts.URL+"/api/report?server_name={server}")
			o := p.Probe(context.Background(), "example.org", time.Second)

			if o.Status != tt.expectedStatus {
				t.Fatalf("Status = %v (%s), want %v", o.Status, o.Detail, tt.expectedStatus)
			}
			if tt.detailContains != "" && !strings.Contains(o.Detail, tt.detailContains) {
				t.Errorf("Detail = %q, want it to contain %q", o.Detail, tt.detailContains)
			}
		})
	}
}

func TestDescribeFederationFailure(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "no addresses",
			body:     `{"FederationOK":false}`,
			expected: "no server addresses found",
		},
		{
			name: "partial ipv6 failure",
			body: `{"FederationOK":false,
				"ConnectionErrors":{"[2001:db8::1]:8448":{}},
				"ConnectionReports":{"1.2.3.4:8448":{"Checks":{"AllChecksOK":true,"MatchingServerName":true,"ValidCertificates":true}}}}`,
			expected: "IPv6 address couldn't be reached (IPv4 is OK)",
		},
		{
			name: "server name mismatch on every address",
			body: `{"FederationOK":false,
				"ConnectionReports":{
					"1.2.3.4:8448":{"Checks":{"MatchingServerName":false},"Keys":{"server_name":"other.org"}},
					"[2001:db8::1]:8448":{"Checks":{"MatchingServerName":false},"Keys":{"server_name":"other.org"}}}}`,
			expected: "2/2 addresses failed the test: mismatching server name, tested: example.org, got: other.org",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var report testerReport
			if err := json.Unmarshal([]byte(tt.body), &report); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := describeFederationFailure("example.org", report); got != tt.expected {
				t.Errorf("describeFederationFailure() = %q, want %q", got, tt.expected)
			}
		})
	}
}
