// Package storage defines the run journal: a diagnostic history of the
// pipeline runs this service has started and how each one ended.
//
// The journal is never consulted to resume polling. A run whose session
// was lost to a restart simply stays "running" in the history.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/insight-gateway/internal/domain"
)

// ErrNotFound is returned when a journal entry does not exist.
var ErrNotFound = errors.New("run record not found")

// Journal statuses. A run ended by a domain.Error is recorded under its
// ErrorKind instead.
const (
	StatusSubmitting = "submitting"
	StatusRunning    = "running"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
	StatusError      = "error"
)

const DefaultListLimit = 20

// RunRecord is one journal entry.
type RunRecord struct {
	ID        string              `json:"id"`
	Kind      domain.PipelineKind `json:"kind"`
	InputURL  string              `json:"url"`
	RunHandle domain.RunHandle    `json:"run_id,omitempty"`
	// Status is StatusSubmitting, StatusRunning, StatusDone or the
	// domain.ErrorKind that ended the run.
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed_ns,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ListOptions bounds a journal listing.
type ListOptions struct {
	Limit int
}

// RunJournal persists RunRecords. SaveRun upserts by ID.
type RunJournal interface {
	SaveRun(ctx context.Context, rec *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	// ListRuns returns the most recently created records first.
	ListRuns(ctx context.Context, opts ListOptions) ([]*RunRecord, error)
	Close() error
}

// EffectiveLimit returns Limit, or DefaultListLimit when unset.
func (o ListOptions) EffectiveLimit() int {
	if o.Limit <= 0 {
		return DefaultListLimit
	}
	return o.Limit
}

// Touch stamps rec's timestamps before a save.
func Touch(rec *RunRecord, now time.Time) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
}
