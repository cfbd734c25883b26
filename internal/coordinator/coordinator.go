// Package coordinator fans version probes out over the servers of a room
// and streams every outcome into the room cache as soon as it is known.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"

	"github.com/MrSnakeDoc/fedcheck/internal/domain"
	"github.com/MrSnakeDoc/fedcheck/internal/logger"
	"github.com/MrSnakeDoc/fedcheck/internal/roomcache"
)

var (
	ErrNoServers          = errors.New("no servers to probe")
	ErrEmptyServer        = errors.New("empty server name")
	ErrInvalidConcurrency = errors.New("concurrency limit must be > 0")
	ErrInvalidTimeout     = errors.New("probe timeout must be > 0")
	ErrNilCache           = errors.New("nil room cache")
)

const persistTimeout = 5 * time.Second

// Prober queries one server once.
type Prober interface {
	Probe(ctx context.Context, server string, timeout time.Duration) domain.Outcome
}

// Sink receives every outcome written to a room cache.
type Sink interface {
	SaveOutcome(ctx context.Context, room string, o domain.Outcome) error
}

// Options tunes retries and write-through.
type Options struct {
	// Retries is the number of extra attempts for a server that could not
	// be connected to. Timeouts and malformed answers are not retried.
	Retries      int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// Sink is optional.
	Sink   Sink
	Logger logger.Logger
}

// Coordinator owns the retry policy and the concurrency bound.
type Coordinator struct {
	prober     Prober
	retries    int
	backoff    time.Duration
	maxBackoff time.Duration
	sink       Sink
	log        logger.Logger
}

// New builds a Coordinator around p.
func New(p Prober, opts Options) *Coordinator {
	c := &Coordinator{
		prober:     p,
		retries:    opts.Retries,
		backoff:    opts.RetryBackoff,
		maxBackoff: opts.MaxBackoff,
		sink:       opts.Sink,
		log:        opts.Logger,
	}
	if c.retries < 0 {
		c.retries = 0
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	if c.maxBackoff < c.backoff {
		c.maxBackoff = 8 * c.backoff
	}
	if c.log == nil {
		c.log = logger.Nop()
	}
	return c
}

// Validate checks the preconditions of ProbeAll without probing anything.
func Validate(servers []string, limit int, timeout time.Duration) error {
	if len(servers) == 0 {
		return ErrNoServers
	}
	for _, s := range servers {
		if strings.TrimSpace(s) == "" {
			return ErrEmptyServer
		}
	}
	if limit <= 0 {
		return fmt.Errorf("%w, got %d", ErrInvalidConcurrency, limit)
	}
	if timeout <= 0 {
		return fmt.Errorf("%w, got %v", ErrInvalidTimeout, timeout)
	}
	return nil
}

// ProbeAll probes every server with at most limit probes in flight and
// returns one outcome per server, sorted by server name.
//
// Each outcome is written to cache the moment it completes. When ctx is
// cancelled no further probes are started; probes already running finish
// under their own timeout and are still recorded. The outcomes collected so
// far are returned together with an error wrapping ctx.Err().
func (c *Coordinator) ProbeAll(ctx context.Context, servers []string, cache *roomcache.Cache, limit int, timeout time.Duration) ([]domain.Outcome, error) {
	if cache == nil {
		return nil, ErrNilCache
	}
	if err := Validate(servers, limit, timeout); err != nil {
		return nil, err
	}
	servers = lo.Uniq(lo.Map(servers, func(s string, _ int) string { return strings.TrimSpace(s) }))

	log := c.log.With(logger.String("room", cache.Room()))
	log.Info("probing servers",
		logger.Int("servers", len(servers)),
		logger.Int("concurrency", limit),
		logger.Duration("timeout", timeout))
	start := time.Now()

	sem := semaphore.NewWeighted(int64(limit))
	probeCtx := context.WithoutCancel(ctx)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = make([]domain.Outcome, 0, len(servers))
		stopErr  error
	)

	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			stopErr = err
			break
		}
		if err := ctx.Err(); err != nil {
			sem.Release(1)
			stopErr = err
			break
		}

		wg.Add(1)
		go func(server string) {
			defer wg.Done()
			defer sem.Release(1)

			o := c.probe(ctx, probeCtx, server, timeout)
			c.store(probeCtx, cache, o)

			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		}(server)
	}
	wg.Wait()

	sortByServer(outcomes)

	if stopErr != nil {
		log.Warn("probe batch cancelled",
			logger.Int("completed", len(outcomes)),
			logger.Int("servers", len(servers)),
			logger.Error(stopErr))
		return outcomes, fmt.Errorf("probe batch stopped after %d of %d servers: %w", len(outcomes), len(servers), stopErr)
	}

	failed := lo.CountBy(outcomes, func(o domain.Outcome) bool { return !o.OK() })
	log.Info("probe batch done",
		logger.Int("servers", len(outcomes)),
		logger.Int("failed", failed),
		logger.Duration("elapsed", time.Since(start)))
	return outcomes, nil
}

// ProbeOne re-probes a single server and overwrites its cache entry. It is
// independent of any batch running on the same cache.
func (c *Coordinator) ProbeOne(ctx context.Context, server string, cache *roomcache.Cache, timeout time.Duration) (domain.Outcome, error) {
	if cache == nil {
		return domain.Outcome{}, ErrNilCache
	}
	o, err := c.Check(ctx, server, timeout)
	if err != nil {
		return o, err
	}
	c.store(context.WithoutCancel(ctx), cache, o)
	return o, nil
}

// Check probes a server without recording the result anywhere.
func (c *Coordinator) Check(ctx context.Context, server string, timeout time.Duration) (domain.Outcome, error) {
	if err := Validate([]string{server}, 1, timeout); err != nil {
		return domain.Outcome{}, err
	}
	return c.probe(ctx, context.WithoutCancel(ctx), strings.TrimSpace(server), timeout), nil
}

// probe runs the prober under probeCtx and retries connection errors while
// ctx is still live.
func (c *Coordinator) probe(ctx, probeCtx context.Context, server string, timeout time.Duration) domain.Outcome {
	wait := c.backoff
	o := c.prober.Probe(probeCtx, server, timeout)
	for attempt := 1; attempt <= c.retries && o.Status == domain.StatusConnectionError; attempt++ {
		c.log.Debug("retrying server",
			logger.String("server", server),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.String("detail", o.Detail))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return o
		case <-timer.C:
		}
		wait *= 2
		if wait > c.maxBackoff {
			wait = c.maxBackoff
		}
		o = c.prober.Probe(probeCtx, server, timeout)
	}

	fields := []logger.Field{
		logger.String("server", server),
		logger.String("status", string(o.Status)),
	}
	if o.Version != nil {
		fields = append(fields, logger.String("version", o.Version.String()))
	}
	if o.Detail != "" {
		fields = append(fields, logger.String("detail", o.Detail))
	}
	c.log.Debug("probe finished", fields...)
	return o
}

func (c *Coordinator) store(ctx context.Context, cache *roomcache.Cache, o domain.Outcome) {
	cache.Upsert(o)
	if c.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := c.sink.SaveOutcome(ctx, cache.Room(), o); err != nil {
		c.log.Warn("failed to persist outcome",
			logger.String("room", cache.Room()),
			logger.String("server", o.Server),
			logger.Error(err))
	}
}

func sortByServer(outcomes []domain.Outcome) {
	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].Server < outcomes[j].Server })
}
