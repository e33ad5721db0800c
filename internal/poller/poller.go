// Package poller drives a remote run to a terminal state within a bounded
// time budget.
//
// Each call to Wait is an independent poll session: it owns its deadline
// and backoff interval, shares nothing with other sessions and takes no
// locks. Waiting between queries blocks only the calling goroutine and
// ends early when the context is cancelled.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/insight-gateway/internal/domain"
)

// StatusGetter fetches the current snapshot of a run.
type StatusGetter interface {
	GetStatus(ctx context.Context, handle domain.RunHandle) (*domain.RunStatus, error)
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(clock Clock) Option {
	return func(p *Poller) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithLogger sets the logger for session diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Poller waits for runs to finish. A single Poller serves any number of
// concurrent sessions.
type Poller struct {
	client StatusGetter
	cfg    Config
	clock  Clock
	logger *slog.Logger
}

// New creates a Poller. Zero fields in cfg take their defaults.
func New(client StatusGetter, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		client: client,
		cfg:    cfg.Normalize(),
		clock:  realClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the normalized configuration in use.
func (p *Poller) Config() Config {
	return p.cfg
}

// Wait polls handle until it is DONE, FAILED, the time budget runs out or
// ctx is cancelled. The budget starts now.
func (p *Poller) Wait(ctx context.Context, handle domain.RunHandle) (*domain.Result, error) {
	return p.WaitSince(ctx, handle, p.clock.Now())
}

// WaitSince is Wait with the session's budget measured from start.
//
// Transient status failures and non-terminal states both advance the
// backoff and loop; a DONE or FAILED report ends the session at once. The
// deadline is checked before every query, the first included.
func (p *Poller) WaitSince(ctx context.Context, handle domain.RunHandle, start time.Time) (*domain.Result, error) {
	logger := p.logger.With(slog.String("run_id", string(handle)))
	backoff := NewBackoff(p.cfg)

	var lastErr error
	for attempt := 1; ; attempt++ {
		elapsed := p.clock.Now().Sub(start)
		if elapsed > p.cfg.MaxWait {
			err := domain.PollTimeoutError(handle, elapsed, lastErr)
			logger.ErrorContext(ctx, "run did not finish in time",
				slog.Int("queries", attempt-1),
				slog.Duration("elapsed", elapsed),
			)
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("poll run %s: %w", handle, err)
		}

		status, err := p.client.GetStatus(ctx, handle)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("poll run %s: %w", handle, ctx.Err())
			}
			lastErr = err
			logger.WarnContext(ctx, "status query failed, will retry",
				slog.Int("attempt", attempt),
				slog.Duration("next_wait", backoff.Current()),
				slog.String("error", err.Error()),
			)

		case status.State == domain.RunStateDone:
			result := domain.NewResult(status)
			logger.InfoContext(ctx, "run finished",
				slog.Int("queries", attempt),
				slog.Duration("elapsed", p.clock.Now().Sub(start)),
			)
			return result, nil

		case status.State == domain.RunStateFailed:
			logger.ErrorContext(ctx, "run failed",
				slog.Int("queries", attempt),
				slog.String("raw_state", status.RawState),
			)
			return nil, domain.PipelineFailedError(handle)

		default:
			logger.DebugContext(ctx, "run not finished",
				slog.Int("attempt", attempt),
				slog.String("state", string(status.State)),
				slog.Duration("next_wait", backoff.Current()),
			)
		}

		if err := p.clock.Sleep(ctx, backoff.Current()); err != nil {
			return nil, fmt.Errorf("poll run %s: %w", handle, err)
		}
		backoff.Advance()
	}
}
