package poller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tjfontaine/insight-gateway/internal/config"
)

func TestBackoff_Sequence(t *testing.T) {
	tests := []struct {
		name   string
		factor float64
		want   []time.Duration
	}{
		{
			name:   "growth 1.5",
			factor: 1.5,
			want:   []time.Duration{2 * time.Second, 3 * time.Second, 4500 * time.Millisecond, 6750 * time.Millisecond, 10 * time.Second, 10 * time.Second},
		},
		{
			name:   "growth 1.2",
			factor: 1.2,
			want:   []time.Duration{2 * time.Second, 2400 * time.Millisecond, 2880 * time.Millisecond, 3456 * time.Millisecond},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(Config{InitialInterval: 2 * time.Second, GrowthFactor: tt.factor, IntervalCap: 10 * time.Second})
			for i, want := range tt.want {
				assert.Equal(t, want, b.Current(), "step %d", i)
				b.Advance()
			}
		})
	}
}

func TestBackoff_NeverDecreasesNorExceedsCap(t *testing.T) {
	configs := []Config{
		{InitialInterval: time.Second, GrowthFactor: 1, IntervalCap: time.Second},
		{InitialInterval: 3 * time.Second, GrowthFactor: 2.7, IntervalCap: 7 * time.Second},
		{InitialInterval: 20 * time.Second, GrowthFactor: 1.5, IntervalCap: 10 * time.Second},
		{InitialInterval: time.Millisecond, GrowthFactor: 0.5, IntervalCap: time.Second},
	}

	for _, cfg := range configs {
		b := NewBackoff(cfg)
		limit := cfg.Normalize().IntervalCap
		prev := b.Current()
		for i := 0; i < 100; i++ {
			next := b.Advance()
			assert.GreaterOrEqual(t, next, prev)
			assert.LessOrEqual(t, next, limit)
			prev = next
		}
	}
}

func TestConfig_Normalize(t *testing.T) {
	got := Config{}.Normalize()
	assert.Equal(t, DefaultConfig(), got)

	got = Config{InitialInterval: 30 * time.Second, GrowthFactor: 0.9, IntervalCap: 10 * time.Second, MaxWait: time.Minute}.Normalize()
	assert.Equal(t, 30*time.Second, got.IntervalCap, "cap is raised to the initial interval")
	assert.Equal(t, DefaultGrowthFactor, got.GrowthFactor)
	assert.Equal(t, time.Minute, got.MaxWait)
}

func TestConfigFrom(t *testing.T) {
	got := ConfigFrom(config.PollingConfig{
		InitialInterval: 3 * time.Second,
		GrowthFactor:    1.2,
		IntervalCap:     10 * time.Second,
		MaxWait:         600 * time.Second,
	})
	assert.Equal(t, Config{
		InitialInterval: 3 * time.Second,
		GrowthFactor:    1.2,
		IntervalCap:     10 * time.Second,
		MaxWait:         600 * time.Second,
	}, got)
}
