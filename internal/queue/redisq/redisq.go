// Package redisq implements the queue contract on Redis lists:
// RPUSH appends to the tail, BLPOP blocks on the head.
package redisq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"github.com/sakif/snippet-manager/internal/queue"
)

var _ queue.Queue = (*Queue)(nil)

type Config struct {
	Addr     string
	DB       int
	Password string
}

type Queue struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Queue {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &Queue{rdb: rdb, logger: logger}
}

// ConnectWithRetry creates a Queue and pings Redis with exponential backoff
// until it answers or maxElapsed passes. Useful at startup when Redis may
// come up after the application.
func ConnectWithRetry(ctx context.Context, cfg Config, maxElapsed time.Duration, logger *slog.Logger) (*Queue, error) {
	q := New(cfg, logger)

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = maxElapsed

	operation := func() error {
		err := q.Ping(ctx)
		if err != nil {
			logger.Warn("redis not reachable yet", slog.String("addr", cfg.Addr), slog.String("error", err.Error()))
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		q.Close()
		return nil, fmt.Errorf("redisq: connecting to %s: %w", cfg.Addr, err)
	}
	return q, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Push appends payload to the tail of the named list.
func (q *Queue) Push(ctx context.Context, name string, payload []byte) error {
	if err := q.rdb.RPush(ctx, name, payload).Err(); err != nil {
		return fmt.Errorf("redisq: pushing to %s: %w", name, err)
	}
	return nil
}

// Pop blocks on the head of the named list for up to timeout.
// It returns queue.ErrEmpty if nothing arrived.
func (q *Queue) Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	res, err := q.rdb.BLPop(ctx, timeout, name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, queue.ErrEmpty
		}
		return nil, fmt.Errorf("redisq: popping from %s: %w", name, err)
	}
	// BLPOP answers [list, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("redisq: unexpected BLPOP reply of length %d", len(res))
	}
	return []byte(res[1]), nil
}

