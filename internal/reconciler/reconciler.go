// Package reconciler applies analysis verdicts from the status queue.
//
// HOW A VERDICT ARRIVES:
//
//	worker ──RPUSH──▶ snippet_sca_status ──BLPOP──▶ Reconciler ──▶ snippet_statuses
//
// The worker publishes {"id", "status", "ownerEmail"} and may echo the
// job's "correlationId"; messages without one get a fresh ID for logging.
// The reconciler pops one message at a time, validates it and writes the
// status row for that (snippet, user) pair. It is the only component that writes COMPLIANT or
// NOT_COMPLIANT; the HTTP status endpoint calls ApplyUpdate on the same
// Reconciler instead of touching the repository itself.
//
// DELIVERY:
// A pop removes the message before it is applied, so a crash between the
// two loses that verdict (at-most-once). Messages that cannot be applied
// are logged and dropped; nothing is ever pushed back. The next rule
// change re-queues analysis anyway.
//
// LIFECYCLE:
// Start launches a single goroutine. Stop closes the done channel, cancels
// the blocking receive and waits for the goroutine to exit.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sakif/snippet-manager/internal/apperror"
	"github.com/sakif/snippet-manager/internal/correlation"
	"github.com/sakif/snippet-manager/internal/metrics"
	"github.com/sakif/snippet-manager/internal/model"
	"github.com/sakif/snippet-manager/internal/queue"
	"github.com/sakif/snippet-manager/internal/repository"
)

const (
	DefaultPollTimeout = 5 * time.Second
	DefaultBatch       = 1
)

type Config struct {
	Queue       string
	PollTimeout time.Duration
	Batch       int // messages handled before the loop re-checks for shutdown
}

type Reconciler struct {
	statuses repository.StatusRepository
	consumer queue.Consumer
	config   Config
	metrics  *metrics.Metrics
	logger   *slog.Logger

	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(statuses repository.StatusRepository, consumer queue.Consumer, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if cfg.Queue == "" {
		cfg.Queue = queue.DefaultStatusQueue
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	if cfg.Batch <= 0 {
		cfg.Batch = DefaultBatch
	}
	return &Reconciler{
		statuses: statuses,
		consumer: consumer,
		config:   cfg,
		metrics:  m,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start begins consuming in the background. Calling it twice is a no-op.
func (r *Reconciler) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		r.logger.Info("starting status reconciler",
			slog.String("queue", r.config.Queue),
			slog.Duration("poll_timeout", r.config.PollTimeout),
		)
		r.wg.Add(1)
		go r.run(ctx)
	})
}

// Stop signals the loop to exit and waits for it. A message being applied
// when Stop is called is finished first.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("stopping status reconciler")
		close(r.done)
		if r.cancel != nil {
			r.cancel()
		}
		r.wg.Wait()
	})
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 200 * time.Millisecond
	retry.MaxInterval = 10 * time.Second
	retry.MaxElapsedTime = 0 // never give up

	for {
		select {
		case <-r.done:
			return
		default:
		}

		for i := 0; i < r.config.Batch; i++ {
			payload, err := r.consumer.Pop(ctx, r.config.Queue, r.config.PollTimeout)
			if errors.Is(err, queue.ErrEmpty) {
				retry.Reset()
				break
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				wait := retry.NextBackOff()
				r.metrics.QueueError()
				r.logger.Error("status queue receive failed",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", wait),
				)
				select {
				case <-time.After(wait):
				case <-r.done:
					return
				}
				break
			}

			retry.Reset()
			r.Apply(context.WithoutCancel(ctx), payload)
		}
	}
}

// Apply decodes and applies one raw queue message and returns the outcome
// recorded for it. It never panics and never returns an error: every
// failure is logged and counted.
func (r *Reconciler) Apply(ctx context.Context, payload []byte) (outcome string) {
	var update model.StatusUpdate
	decodeErr := json.Unmarshal(payload, &update)
	if update.CorrelationID != "" {
		ctx = correlation.WithID(ctx, update.CorrelationID)
	}
	ctx = correlation.Ensure(ctx)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("panic while applying status message",
				slog.Any("panic", rec),
				slog.String("payload", truncate(payload)),
				correlation.Attr(ctx),
			)
			outcome = metrics.OutcomeFailed
		}
		r.metrics.StatusMessage(outcome)
	}()

	if decodeErr != nil {
		r.logger.Warn("dropping malformed status message",
			slog.String("error", decodeErr.Error()),
			slog.String("payload", truncate(payload)),
			correlation.Attr(ctx),
		)
		return metrics.OutcomeDroppedMalformed
	}

	err := r.apply(ctx, update)
	switch {
	case err == nil:
		return metrics.OutcomeApplied
	case errors.Is(err, apperror.ErrMalformed):
		r.logger.Warn("dropping malformed status message",
			slog.String("error", err.Error()),
			slog.String("payload", truncate(payload)),
			correlation.Attr(ctx),
		)
		return metrics.OutcomeDroppedMalformed
	case errors.Is(err, apperror.ErrNotFound):
		r.logger.Info("dropping status for missing snippet",
			slog.Int64("snippet_id", update.ID),
			slog.String("owner", update.OwnerEmail),
			correlation.Attr(ctx),
		)
		return metrics.OutcomeDroppedMissing
	default:
		r.logger.Error("failed to apply status message",
			slog.Int64("snippet_id", update.ID),
			slog.String("owner", update.OwnerEmail),
			slog.String("error", err.Error()),
			correlation.Attr(ctx),
		)
		return metrics.OutcomeFailed
	}
}

// ApplyUpdate applies a verdict received outside the queue (the HTTP
// status endpoint). Errors are returned to the caller.
func (r *Reconciler) ApplyUpdate(ctx context.Context, update model.StatusUpdate) error {
	err := r.apply(ctx, update)
	switch {
	case err == nil:
		r.metrics.StatusMessage(metrics.OutcomeApplied)
	case errors.Is(err, apperror.ErrMalformed):
		r.metrics.StatusMessage(metrics.OutcomeDroppedMalformed)
	case errors.Is(err, apperror.ErrNotFound):
		r.metrics.StatusMessage(metrics.OutcomeDroppedMissing)
	default:
		r.metrics.StatusMessage(metrics.OutcomeFailed)
	}
	return err
}

func (r *Reconciler) apply(ctx context.Context, update model.StatusUpdate) error {
	if update.ID <= 0 {
		return apperror.Malformed("status message needs a positive snippet id")
	}
	owner := strings.TrimSpace(update.OwnerEmail)
	if owner == "" {
		return apperror.Malformed("status message needs an owner email")
	}
	status, err := model.ParseStatus(update.Status)
	if err != nil {
		return apperror.Malformed(err.Error())
	}

	if err := r.statuses.SetStatus(ctx, update.ID, owner, status); err != nil {
		return fmt.Errorf("setting status: %w", err)
	}

	r.logger.Info("status applied",
		slog.Int64("snippet_id", update.ID),
		slog.String("owner", owner),
		slog.String("status", status.String()),
		correlation.Attr(ctx),
	)
	return nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
