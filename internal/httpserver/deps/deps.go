package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/checker"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
	"github.com/MrSnakeDoc/fedcheck/internal/sources/roomversions"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Logger          logger.Logger
	StartTime       time.Time
	Version         string
	Commit          string
	BuildDate       string
	GoVersion       string
	TimeNow         func() time.Time       // for testing, defaults to time.Now
	AllowedHosts    []string               // Host headers allowed to access the server
	AllowedCIDRS    []string               // IPs allowed to access the API
	TrustProxy      bool                   // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateLimitBurst  int                    // probe-starting requests allowed at once per client
	RateLimitPerMin int                    // sustained probe-starting requests per minute per client
	Checker         *checker.Service       // Room sessions and operations
	Tables          *roomversions.Provider // Room-version table
	Store           Pinger                 // Redis store (nil if persistence is disabled)
	Membership      bool                   // true if room membership lookup is configured
	ReloadTrigger   chan struct{}          // Channel to trigger a manual table reload
}
