package poller

import (
	"context"
	"math"
	"time"

	"github.com/tjfontaine/insight-gateway/internal/config"
)

const (
	DefaultInitialInterval = 2 * time.Second
	DefaultGrowthFactor    = 1.5
	DefaultIntervalCap     = 10 * time.Second
	DefaultMaxWait         = 600 * time.Second
)

// Config controls the backoff and time budget of a poll session.
type Config struct {
	InitialInterval time.Duration
	GrowthFactor    float64
	IntervalCap     time.Duration
	MaxWait         time.Duration
}

// DefaultConfig returns the stock polling parameters.
func DefaultConfig() Config {
	return Config{
		InitialInterval: DefaultInitialInterval,
		GrowthFactor:    DefaultGrowthFactor,
		IntervalCap:     DefaultIntervalCap,
		MaxWait:         DefaultMaxWait,
	}
}

// ConfigFrom converts the polling section of the service configuration.
func ConfigFrom(c config.PollingConfig) Config {
	return Config{
		InitialInterval: c.InitialInterval,
		GrowthFactor:    c.GrowthFactor,
		IntervalCap:     c.IntervalCap,
		MaxWait:         c.MaxWait,
	}
}

// Normalize fills unset fields with defaults and keeps the backoff
// non-decreasing: GrowthFactor >= 1 and IntervalCap >= InitialInterval.
func (c Config) Normalize() Config {
	out := c
	if out.InitialInterval <= 0 {
		out.InitialInterval = DefaultInitialInterval
	}
	if out.GrowthFactor < 1 {
		out.GrowthFactor = DefaultGrowthFactor
	}
	if out.IntervalCap <= 0 {
		out.IntervalCap = DefaultIntervalCap
	}
	if out.IntervalCap < out.InitialInterval {
		out.IntervalCap = out.InitialInterval
	}
	if out.MaxWait <= 0 {
		out.MaxWait = DefaultMaxWait
	}
	return out
}

// Backoff is the per-session wait interval. It never decreases and never
// exceeds its cap.
type Backoff struct {
	current time.Duration
	factor  float64
	cap     time.Duration
}

// NewBackoff starts a backoff at cfg's initial interval.
func NewBackoff(cfg Config) *Backoff {
	cfg = cfg.Normalize()
	return &Backoff{
		current: cfg.InitialInterval,
		factor:  cfg.GrowthFactor,
		cap:     cfg.IntervalCap,
	}
}

// Current returns the interval to wait before the next query.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Advance grows the interval: min(current*factor, cap).
func (b *Backoff) Advance() time.Duration {
	next := time.Duration(math.Round(float64(b.current) * b.factor))
	if next > b.cap || next < 0 {
		next = b.cap
	}
	if next < b.current {
		next = b.current
	}
	b.current = next
	return b.current
}

// Clock abstracts time for poll sessions.
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
