// Package membership lists the homeservers present in a room through the
// Matrix client-server API.
package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/utils"
	"github.com/MrSnakeDoc/fedcheck/internal/version"
)

const maxResponseBytes = 32 << 20

var ErrInvalidUserID = errors.New("invalid user ID")

// Client talks to one homeserver as one user.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a client for the homeserver at baseURL.
func NewClient(baseURL, accessToken string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("membership: invalid homeserver URL %q", baseURL)
	}
	if accessToken == "" {
		return nil, errors.New("membership: access token is required")
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

// Servers maps every homeserver with a joined member in the room to the
// sorted list of its joined users.
type Servers map[string][]string

// Names returns the server names, sorted.
func (s Servers) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Counts returns the number of joined users per server.
func (s Servers) Counts() map[string]int {
	counts := make(map[string]int, len(s))
	for name, users := range s {
		counts[name] = len(users)
	}
	return counts
}

type joinedMembersResponse struct {
	Joined map[string]json.RawMessage `json:"joined"`
}

// JoinedServers returns the homeservers of the joined members of roomID.
func (c *Client) JoinedServers(ctx context.Context, roomID string) (Servers, error) {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/joined_members", url.PathEscape(roomID))
	body, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, fmt.Errorf("membership: joined members of %q: %w", roomID, err)
	}

	var resp joinedMembersResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("membership: failed to parse joined members: %w", err)
	}

	servers := make(Servers)
	for userID := range resp.Joined {
		server, err := ServerName(userID)
		if err != nil {
			continue
		}
		servers[server] = append(servers[server], userID)
	}
	for _, users := range servers {
		sort.Strings(users)
	}
	return servers, nil
}

// ServerName extracts the server part of a user ID such as
// @alice:example.org:8448.
func ServerName(userID string) (string, error) {
	if !strings.HasPrefix(userID, "@") {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	_, server, ok := strings.Cut(userID, ":")
	if !ok || server == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidUserID, userID)
	}
	return server, nil
}

// doRequest returns the body of a 2xx response and a *MatrixError for
// anything else.
func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer utils.Close(resp.Body)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	var matrixErr MatrixError
	if jsonErr := json.Unmarshal(body, &matrixErr); jsonErr != nil || matrixErr.Code == "" {
		return nil, fmt.Errorf("unexpected %d response from %s %s", resp.StatusCode, method, path)
	}
	matrixErr.StatusCode = resp.StatusCode
	return nil, &matrixErr
}
