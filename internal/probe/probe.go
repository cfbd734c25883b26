// Package probe reads the software name and version a homeserver reports
// about itself.
package probe

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/software"
	"github.com/MrSnakeDoc/fedcheck/internal/utils"
	"github.com/MrSnakeDoc/fedcheck/internal/version"
)

const (
	// DefaultEndpoint is the federation version endpoint of the server itself.
	DefaultEndpoint = "https://{server}/_matrix/federation/v1/version"

	serverPlaceholder = "{server}"
	maxBodyBytes      = 1 << 20
)

// Options configures a Prober.
type Options struct {
	// Endpoint is a URL template; {server} is replaced by the escaped
	// server name.
	Endpoint string

	// FederationTester marks Endpoint as a federation tester report URL
	// rather than the server's own version endpoint.
	FederationTester bool

	SkipTLSValidation bool

	// HTTPClient overrides the client built from the options above.
	HTTPClient *http.Client

	Registry *software.Registry
	Now      func() time.Time
}

// Prober performs one request per call and never retries.
type Prober struct {
	endpoint string
	tester   bool
	client   *http.Client
	registry *software.Registry
	now      func() time.Time
}

// New builds a Prober.
func New(opts Options) (*Prober, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if !strings.Contains(endpoint, serverPlaceholder) {
		return nil, fmt.Errorf("probe endpoint %q must contain %s", endpoint, serverPlaceholder)
	}
	if _, err := url.Parse(strings.ReplaceAll(endpoint, serverPlaceholder, "example.org")); err != nil {
		return nil, fmt.Errorf("invalid probe endpoint %q: %w", endpoint, err)
	}

	client := opts.HTTPClient
	if client == nil {
		var err error
		client, err = newHTTPClient(opts.SkipTLSValidation)
		if err != nil {
			return nil, err
		}
	}

	reg := opts.Registry
	if reg == nil {
		reg = software.NewRegistry()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Prober{
		endpoint: endpoint,
		tester:   opts.FederationTester,
		client:   client,
		registry: reg,
		now:      now,
	}, nil
}

// newHTTPClient returns a client with HTTP/2 enabled on a TLS transport.
// Redirects are not followed: a version endpoint answers directly.
func newHTTPClient(skipTLSValidation bool) (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: skipTLSValidation, //nolint:gosec // opt-in for test deployments
		},
		MaxIdleConnsPerHost: 1,
		IdleConnTimeout:     90 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("failed to enable http2: %w", err)
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// URL returns the request URL for server. In tester mode the name is
// query-escaped; otherwise it is used as the URL host.
func (p *Prober) URL(server string) string {
	if p.tester {
		return strings.ReplaceAll(p.endpoint, serverPlaceholder, url.QueryEscape(server))
	}
	return strings.ReplaceAll(p.endpoint, serverPlaceholder, server)
}

// validServerName rejects names that would change the URL structure when
// substituted into the host position.
func validServerName(server string) bool {
	return server != "" && !strings.ContainsAny(server, "/?#@ \t\r\n")
}

// Probe queries server once. Failures are reported through the outcome
// status, never as an error.
func (p *Prober) Probe(ctx context.Context, server string, timeout time.Duration) domain.Outcome {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := domain.Outcome{Server: server}
	fail := func(status domain.Status, detail string) domain.Outcome {
		outcome.Status = status
		outcome.Detail = detail
		outcome.CheckedAt = p.now()
		return outcome
	}

	if !validServerName(server) {
		return fail(domain.StatusConnectionError, fmt.Sprintf("invalid server name %q", server))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(server), http.NoBody)
	if err != nil {
		return fail(domain.StatusConnectionError, fmt.Sprintf("invalid request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := p.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return fail(domain.StatusTimeout, "probe timed out")
		}
		return fail(domain.StatusConnectionError, describeNetError(err))
	}
	defer utils.Close(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		if isTimeout(ctx, err) {
			return fail(domain.StatusTimeout, "probe timed out while reading the response")
		}
		return fail(domain.StatusMalformedResponse, fmt.Sprintf("failed to read response: %v", err))
	}
	if len(body) > maxBodyBytes {
		return fail(domain.StatusMalformedResponse, "response body too large")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(domain.StatusMalformedResponse, fmt.Sprintf("unexpected HTTP status %d", resp.StatusCode))
	}

	var raw software.Raw
	if p.tester {
		var status domain.Status
		var detail string
		raw, status, detail = parseTesterReport(body, server)
		if status != domain.StatusOK {
			return fail(status, detail)
		}
	} else {
		var ok bool
		raw, ok = parseVersionResponse(body)
		if !ok {
			return fail(domain.StatusMalformedResponse, "server not responding to version requests")
		}
	}

	v := p.registry.Normalize(raw)
	outcome.Status = domain.StatusOK
	outcome.Version = &v
	outcome.CheckedAt = p.now()
	return outcome
}

// versionResponse is the body of /_matrix/federation/v1/version.
type versionResponse struct {
	Server *struct {
		Name    *string `json:"name"`
		Version *string `json:"version"`
	} `json:"server"`
}

func parseVersionResponse(body []byte) (software.Raw, bool) {
	var resp versionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return software.Raw{}, false
	}
	if resp.Server == nil || resp.Server.Name == nil || resp.Server.Version == nil {
		return software.Raw{}, false
	}
	if strings.TrimSpace(*resp.Server.Name) == "" {
		return software.Raw{}, false
	}
	return software.Raw{Software: *resp.Server.Name, Version: *resp.Server.Version}, true
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func describeNetError(err error) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("could not resolve %s", dnsErr.Name)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return "server couldn't be reached"
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return "invalid TLS certificates"
	}
	return err.Error()
}
