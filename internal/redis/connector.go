package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrSnakeDoc/fedcheck/internal/logger"
	"github.com/redis/go-redis/v9"
)

// ErrInvalidOptions is wrapped by every ConnectOptions validation failure.
var ErrInvalidOptions = errors.New("invalid redis connect options")

// ConnectOptions configures the snapshot store client and how long New keeps
// knocking before giving up.
type ConnectOptions struct {
	Addr         string
	User         string
	Password     string
	RedisDB      int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	ConnectTimeout time.Duration // budget for the whole startup handshake
	RetryInterval  time.Duration // first pause between pings, doubled each time
	MaxWait        time.Duration // ceiling for that pause
	PingTimeout    time.Duration
	WarnThreshold  int // failed pings logged as warnings before escalating to errors
}

func (o ConnectOptions) validate() error {
	positive := []struct {
		name  string
		value time.Duration
	}{
		{"ConnectTimeout", o.ConnectTimeout},
		{"RetryInterval", o.RetryInterval},
		{"MaxWait", o.MaxWait},
		{"PingTimeout", o.PingTimeout},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %v", ErrInvalidOptions, p.name, p.value)
		}
	}
	if o.WarnThreshold < 0 {
		return fmt.Errorf("%w: WarnThreshold must not be negative, got %d", ErrInvalidOptions, o.WarnThreshold)
	}
	return nil
}

func (o ConnectOptions) client() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.User,
		Password:     o.Password,
		DB:           o.RedisDB,
		DialTimeout:  o.DialTimeout,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
		PoolSize:     o.PoolSize,
	})
}

// backoff doubles the pause after every failed ping, capped at ceiling.
type backoff struct {
	pause   time.Duration
	ceiling time.Duration
}

func (b *backoff) next() time.Duration {
	cur := b.pause
	b.pause = min(b.pause*2, b.ceiling)
	return cur
}

// New builds the client and blocks until Redis answers a ping. It fails once
// ConnectTimeout is spent or ctx ends, and the client is closed on failure.
// Persisted room snapshots are only restored after New returns.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.validate(); err != nil {
		log.Error("refusing to connect to redis", logger.Error(err))
		return nil, err
	}

	client := opts.client()
	if err := waitReady(ctx, client, opts, log); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func waitReady(parent context.Context, client *redis.Client, opts ConnectOptions, log logger.Logger) error {
	ctx, cancel := context.WithTimeout(parent, opts.ConnectTimeout)
	defer cancel()

	start := time.Now()
	wait := backoff{pause: opts.RetryInterval, ceiling: opts.MaxWait}
	log.Info("waiting for snapshot store",
		logger.String("addr", opts.Addr),
		logger.Duration("budget", opts.ConnectTimeout))

	for attempt := 1; ; attempt++ {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		err := client.Ping(pingCtx).Err()
		pingCancel()

		if err == nil {
			fields := []logger.Field{logger.String("addr", opts.Addr), logger.Int("attempts", attempt)}
			if attempt == 1 {
				log.Info("snapshot store ready", fields...)
			} else {
				log.Warn("snapshot store ready after retries", append(fields, logger.Duration("elapsed", time.Since(start)))...)
			}
			return nil
		}

		pause := wait.next()
		select {
		case <-ctx.Done():
			log.Error("snapshot store unreachable, room results stay in memory only",
				logger.String("addr", opts.Addr),
				logger.Int("attempts", attempt),
				logger.Error(err))
			return fmt.Errorf("redis at %s did not answer within %v (%d attempts): %w",
				opts.Addr, opts.ConnectTimeout, attempt, err)
		case <-time.After(pause):
		}

		fields := []logger.Field{
			logger.String("addr", opts.Addr),
			logger.Int("attempt", attempt),
			logger.Duration("slept", pause),
			logger.Error(err),
		}
		if attempt <= opts.WarnThreshold {
			log.Warn("snapshot store ping failed", fields...)
		} else {
			log.Error("snapshot store still failing pings", fields...)
		}
	}
}
