package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/utils"
)

// RateLimitConfig bounds how often one client may start room tests.
type RateLimitConfig struct {
	Burst             int
	RefillPerIPPerMin int
	MaxEntries        int           // client table size that triggers an early eviction pass
	SweepInterval     time.Duration // time between routine eviction passes
	IdleTTL           time.Duration // clients silent this long are forgotten
	TrustProxy        bool
}

func (c RateLimitConfig) withDefaults() RateLimitConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 15 * time.Minute
	}
	c.Burst = max(c.Burst, 1)
	c.RefillPerIPPerMin = max(c.RefillPerIPPerMin, 1)
	return c
}

// tokens refill continuously at perSec up to capacity.
type tokens struct {
	mu      sync.Mutex
	level   float64
	updated time.Time
	used    time.Time
}

// take spends one token. When none is left it returns how long until one is.
func (t *tokens) take(now time.Time, perSec, capacity float64) (left int, wait time.Duration, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dt := now.Sub(t.updated); dt > 0 {
		t.level = math.Min(capacity, t.level+dt.Seconds()*perSec)
		t.updated = now
	}
	if t.level < 1 {
		return 0, time.Duration((1 - t.level) / perSec * float64(time.Second)), false
	}
	t.level--
	t.used = now
	return int(t.level), 0, true
}

func (t *tokens) idleSince() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

type clientTable struct {
	cfg     RateLimitConfig
	perSec  float64
	mu      sync.Mutex
	clients map[string]*tokens
	swept   time.Time
}

func newClientTable(cfg RateLimitConfig) *clientTable {
	cfg = cfg.withDefaults()
	return &clientTable{
		cfg:     cfg,
		perSec:  float64(cfg.RefillPerIPPerMin) / 60,
		clients: make(map[string]*tokens),
		swept:   time.Now(),
	}
}

// bucketFor returns the client's bucket, evicting idle clients when a pass is
// due or the table is full.
func (ct *clientTable) bucketFor(client string, now time.Time) *tokens {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	full := ct.cfg.MaxEntries > 0 && len(ct.clients) >= ct.cfg.MaxEntries
	if full || now.Sub(ct.swept) >= ct.cfg.SweepInterval {
		for key, b := range ct.clients {
			if now.Sub(b.idleSince()) > ct.cfg.IdleTTL {
				delete(ct.clients, key)
			}
		}
		ct.swept = now
	}

	b, ok := ct.clients[client]
	if !ok {
		b = &tokens{level: float64(ct.cfg.Burst), updated: now, used: now}
		ct.clients[client] = b
	}
	return b
}

// RateLimit gives every client a token bucket of cfg.Burst tokens refilled
// at cfg.RefillPerIPPerMin. Requests without a token get a JSON 429 with
// Retry-After.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	table := newClientTable(cfg)
	limit := strconv.Itoa(table.cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			b := table.bucketFor(utils.ClientIP(r, table.cfg.TrustProxy), now)
			left, wait, ok := b.take(now, table.perSec, float64(table.cfg.Burst))

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(left))
			if !ok {
				retry := max(int(math.Ceil(wait.Seconds())), 1)
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many room tests from this client, retry later","code":"rate_limited"}` + "\n"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
