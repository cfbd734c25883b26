package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const serverPlaceholder = "{server}"

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // upper bound for one HTTP request, room tests included

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Probing
	ProbeConcurrency  int           // max probes in flight per room test
	ProbeTimeout      time.Duration // per-probe timeout
	ProbeRetries      int           // extra attempts after a connection error
	ProbeRetryBackoff time.Duration // initial wait between attempts, doubles each time
	ProbeEndpoint     string        // URL template containing {server}
	FederationTester  string        // optional tester URL template; replaces ProbeEndpoint when set
	SkipTLSValidation bool          // skip TLS validation (useful for dev/local)

	// Room-version table
	RoomVersionsFile string        // optional, empty = embedded table
	ReloadInterval   time.Duration // interval to reload the table (default: 24h)

	// Room membership (optional, empty URL = servers must be given per request)
	HomeserverURL string
	AccessToken   string

	// Redis (optional, empty address = no persistence)
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	// Room lifetime
	GCInterval  time.Duration // interval to look for idle rooms (default: 1h)
	RoomIdleTTL time.Duration // rooms unused for longer are forgotten (default: 7 days)

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict access to specific IP (e.g. "1.2.3.4, 5.6.7.8")
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)

	RateLimitBurst  int // probe-starting requests allowed at once per client
	RateLimitPerMin int // sustained probe-starting requests per minute per client
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("FEDCHECK_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("FEDCHECK_SHUTDOWN_TIMEOUT", 5*time.Second),
		RequestTimeout:  mustDuration("FEDCHECK_REQUEST_TIMEOUT", 3*time.Minute),

		// Logging
		LogLevel:  getenv("FEDCHECK_LOG_LEVEL", "info"),
		PrettyLog: mustBool("FEDCHECK_PRETTY_LOG", true),

		// Probing
		ProbeConcurrency:  getenvInt("FEDCHECK_PROBE_CONCURRENCY", 16),
		ProbeTimeout:      mustDuration("FEDCHECK_PROBE_TIMEOUT", 30*time.Second),
		ProbeRetries:      getenvInt("FEDCHECK_PROBE_RETRIES", 0),
		ProbeRetryBackoff: mustDuration("FEDCHECK_PROBE_RETRY_BACKOFF", time.Second),
		ProbeEndpoint:     getenv("FEDCHECK_PROBE_ENDPOINT", "https://{server}/_matrix/federation/v1/version"),
		FederationTester:  getenv("FEDCHECK_FEDERATION_TESTER", ""),
		SkipTLSValidation: mustBool("FEDCHECK_SKIP_TLS_VALIDATION", false),

		// Room-version table
		RoomVersionsFile: getenv("FEDCHECK_ROOM_VERSIONS_FILE", ""),
		ReloadInterval:   mustDuration("FEDCHECK_RELOAD_INTERVAL", 24*time.Hour),

		// Membership
		HomeserverURL: getenv("FEDCHECK_HOMESERVER_URL", ""),

		// Redis settings
		RedisAddr:             getenv("FEDCHECK_REDIS_ADDR", ""),
		RedisUser:             getenv("FEDCHECK_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("FEDCHECK_REDIS_PASSWORD_REQUIRED", false),
		RedisPassword:         getenv("FEDCHECK_REDIS_PASSWORD", ""),
		RedisDB:               getenvInt("FEDCHECK_REDIS_DB", 0),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Room lifetime
		GCInterval:  mustDuration("FEDCHECK_GC_INTERVAL", time.Hour),
		RoomIdleTTL: mustDuration("FEDCHECK_ROOM_IDLE_TTL", 7*24*time.Hour),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("FEDCHECK_ALLOWED_HOSTS", "")),
		AllowedCIDRS: parseAllowedIPs(getenv("FEDCHECK_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("FEDCHECK_TRUST_PROXY", false),

		RateLimitBurst:  getenvInt("FEDCHECK_RATE_LIMIT_BURST", 5),
		RateLimitPerMin: getenvInt("FEDCHECK_RATE_LIMIT_PER_MIN", 10),
	}

	if cfg.HomeserverURL != "" {
		cfg.AccessToken = requireEnv("FEDCHECK_ACCESS_TOKEN")
	}

	// Validate Redis password configuration
	if cfg.RedisAddr != "" && cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: FEDCHECK_REDIS_PASSWORD is required when FEDCHECK_REDIS_PASSWORD_REQUIRED=true")
	}

	cfg.validate()

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		cfgCopy.RedisPassword = "***REDACTED***"
		cfgCopy.AccessToken = "***REDACTED***"
		if cfg.RedisUser != "" {
			cfgCopy.RedisUser = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// ProbeURL is the URL template probes use, and whether it points at a
// federation tester.
func (c *Config) ProbeURL() (string, bool) {
	if c.FederationTester != "" {
		return c.FederationTester, true
	}
	return c.ProbeEndpoint, false
}

// validate panics on values no component can run with.
func (c *Config) validate() {
	if c.ProbeConcurrency <= 0 {
		panic(fmt.Sprintf("❌ FATAL: FEDCHECK_PROBE_CONCURRENCY must be > 0, got %d", c.ProbeConcurrency))
	}
	if c.ProbeTimeout <= 0 {
		panic(fmt.Sprintf("❌ FATAL: FEDCHECK_PROBE_TIMEOUT must be > 0, got %v", c.ProbeTimeout))
	}
	if c.ProbeRetries < 0 {
		panic(fmt.Sprintf("❌ FATAL: FEDCHECK_PROBE_RETRIES must be >= 0, got %d", c.ProbeRetries))
	}
	if url, _ := c.ProbeURL(); !strings.Contains(url, serverPlaceholder) {
		panic(fmt.Sprintf("❌ FATAL: probe URL %q must contain %s", url, serverPlaceholder))
	}
	if c.RateLimitBurst <= 0 || c.RateLimitPerMin <= 0 {
		panic("❌ FATAL: FEDCHECK_RATE_LIMIT_BURST and FEDCHECK_RATE_LIMIT_PER_MIN must be > 0")
	}
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
